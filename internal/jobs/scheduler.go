package jobs

import (
	"context"
	"fmt"

	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store"
)

type Waker interface {
	Wake()
}

// Scheduler is the producer side of the queue. Foreground writes enqueue in
// their own transaction and call Wake after commit. A disabled scheduler
// enqueues nothing, which is how background work goes inert without a
// completion client.
type Scheduler struct {
	enabled bool
	waker   Waker
}

func NewScheduler(enabled bool, w Waker) *Scheduler {
	return &Scheduler{enabled: enabled, waker: w}
}

func (s *Scheduler) Enabled() bool {
	return s != nil && s.enabled
}

func (s *Scheduler) Enqueue(ctx context.Context, q store.Queries, tasks ...models.Task) error {
	if !s.Enabled() {
		return nil
	}
	for _, t := range tasks {
		if _, err := q.EnqueueTask(ctx, t); err != nil {
			return fmt.Errorf("enqueue %s for problem %d: %w", t.Op, t.ProblemID, err)
		}
	}
	return nil
}

func (s *Scheduler) Wake() {
	if s.Enabled() && s.waker != nil {
		s.waker.Wake()
	}
}

// ── Task constructors ───────────────────────────────────

func GenerateTask(problemID int64) models.Task {
	return models.Task{Op: models.TaskGenerate, ProblemID: problemID}
}

func RegenerateTask(problemID int64) models.Task {
	return models.Task{Op: models.TaskRegenerate, ProblemID: problemID}
}

func JudgeBundleTask(problemID int64, author models.Author) models.Task {
	return models.Task{Op: models.TaskJudgeBundle, ProblemID: problemID, Author: author}
}

func JudgeExplanationTask(problemID, explanationID int64) models.Task {
	return models.Task{Op: models.TaskJudgeExplanation, ProblemID: problemID, ExplanationID: &explanationID}
}

func JudgeAllTask(problemID int64) models.Task {
	return models.Task{Op: models.TaskJudgeAll, ProblemID: problemID}
}
