package jobs

import (
	"context"
	"fmt"

	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store"
)

type Generator interface {
	Generate(ctx context.Context, problemID int64) error
	RegeneratePreservingEngagement(ctx context.Context, problemID int64) error
}

type Judge interface {
	JudgeAuthorBundle(ctx context.Context, problemID int64, author models.Author) error
	JudgeSingleExplanation(ctx context.Context, explanationID int64) error
	JudgeAllExplanations(ctx context.Context, problemID int64) error
}

// RegisterHandlers binds every task op to the service that performs it.
// A successful first generation queues a review of everything the problem
// now has.
func RegisterHandlers(p *Pool, sched *Scheduler, q store.Queries, gen Generator, judge Judge) {
	p.Register(models.TaskGenerate, func(ctx context.Context, t models.Task) error {
		if err := gen.Generate(ctx, t.ProblemID); err != nil {
			return err
		}
		if err := sched.Enqueue(ctx, q, JudgeAllTask(t.ProblemID)); err != nil {
			return err
		}
		sched.Wake()
		return nil
	})
	p.Register(models.TaskRegenerate, func(ctx context.Context, t models.Task) error {
		return gen.RegeneratePreservingEngagement(ctx, t.ProblemID)
	})
	p.Register(models.TaskJudgeBundle, func(ctx context.Context, t models.Task) error {
		return judge.JudgeAuthorBundle(ctx, t.ProblemID, t.Author)
	})
	p.Register(models.TaskJudgeExplanation, func(ctx context.Context, t models.Task) error {
		if t.ExplanationID == nil {
			return fmt.Errorf("judge_explanation task %d has no explanation id", t.ID)
		}
		return judge.JudgeSingleExplanation(ctx, *t.ExplanationID)
	})
	p.Register(models.TaskJudgeAll, func(ctx context.Context, t models.Task) error {
		return judge.JudgeAllExplanations(ctx, t.ProblemID)
	})
}
