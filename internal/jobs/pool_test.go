package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/studyhub/backend/internal/config"
	"github.com/studyhub/backend/internal/logger"
	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Concurrency:  2,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
		StaleAfter:   time.Minute,
	}
}

func seedProblem(t *testing.T, st *memory.Store) int64 {
	t.Helper()
	ctx := context.Background()
	u := &models.User{Email: "owner@example.com", Name: "Owner", Username: "owner"}
	require.NoError(t, st.CreateUser(ctx, u))
	p := &models.Problem{Title: "t", Body: "b", Type: models.QuestionFreeResponse, CreatedBy: u.ID}
	require.NoError(t, st.CreateProblem(ctx, p))
	return p.ID
}

// runPool starts the pool and returns a stop function that waits for Run.
func runPool(t *testing.T, p *Pool) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("pool did not stop")
		}
	}
}

func taskStatus(st *memory.Store, id int64) models.TaskStatus {
	for _, t := range st.Tasks() {
		if t.ID == id {
			return t.Status
		}
	}
	return ""
}

func TestPool_RunsTaskToCompletion(t *testing.T) {
	st := memory.New()
	pid := seedProblem(t, st)
	p := NewPool(st, testConfig(), logger.Wrap(zaptest.NewLogger(t)), nil)

	var got atomic.Int64
	p.Register(models.TaskRegenerate, func(ctx context.Context, task models.Task) error {
		got.Store(task.ProblemID)
		return nil
	})

	sched := NewScheduler(true, p)
	require.NoError(t, sched.Enqueue(context.Background(), st, RegenerateTask(pid)))
	stop := runPool(t, p)
	sched.Wake()

	require.Eventually(t, func() bool {
		return taskStatus(st, st.Tasks()[0].ID) == models.TaskDone
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, pid, got.Load())
}

func TestPool_RetriesWithBackoffThenSucceeds(t *testing.T) {
	st := memory.New()
	pid := seedProblem(t, st)
	p := NewPool(st, testConfig(), logger.NewNop(), nil)

	var calls atomic.Int32
	p.Register(models.TaskJudgeAll, func(ctx context.Context, task models.Task) error {
		if calls.Add(1) == 1 {
			return errors.New("upstream timeout")
		}
		return nil
	})

	_, err := st.EnqueueTask(context.Background(), JudgeAllTask(pid))
	require.NoError(t, err)
	stop := runPool(t, p)

	require.Eventually(t, func() bool {
		return st.Tasks()[0].Status == models.TaskDone
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	task := st.Tasks()[0]
	assert.Equal(t, 2, task.Attempts)
	assert.Nil(t, task.LastError)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPool_RecoversPanicAndGivesUp(t *testing.T) {
	st := memory.New()
	pid := seedProblem(t, st)
	cfg := testConfig()
	cfg.MaxAttempts = 2
	p := NewPool(st, cfg, logger.NewNop(), nil)

	var calls atomic.Int32
	p.Register(models.TaskGenerate, func(ctx context.Context, task models.Task) error {
		calls.Add(1)
		panic("nil map write")
	})

	_, err := st.EnqueueTask(context.Background(), GenerateTask(pid))
	require.NoError(t, err)
	stop := runPool(t, p)

	require.Eventually(t, func() bool {
		return st.Tasks()[0].Status == models.TaskFailed
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	task := st.Tasks()[0]
	require.NotNil(t, task.LastError)
	assert.Contains(t, *task.LastError, "panic: nil map write")
	assert.Equal(t, int32(2), calls.Load())
}

func TestPool_UnknownOpFails(t *testing.T) {
	st := memory.New()
	pid := seedProblem(t, st)
	p := NewPool(st, testConfig(), logger.NewNop(), nil)

	_, err := st.EnqueueTask(context.Background(), JudgeBundleTask(pid, models.UserAuthor(1)))
	require.NoError(t, err)
	stop := runPool(t, p)

	require.Eventually(t, func() bool {
		return st.Tasks()[0].Status == models.TaskFailed
	}, 2*time.Second, 5*time.Millisecond)
	stop()
}

func TestPool_Backoff(t *testing.T) {
	p := NewPool(memory.New(), config.WorkerConfig{RetryBackoff: 5 * time.Second}, logger.NewNop(), nil)
	assert.Equal(t, 5*time.Second, p.backoff(1))
	assert.Equal(t, 10*time.Second, p.backoff(2))
	assert.Equal(t, 20*time.Second, p.backoff(3))
}

func TestScheduler_DisabledEnqueuesNothing(t *testing.T) {
	st := memory.New()
	pid := seedProblem(t, st)

	require.NoError(t, NewScheduler(false, nil).Enqueue(context.Background(), st, GenerateTask(pid)))
	assert.Empty(t, st.Tasks())
	NewScheduler(false, nil).Wake()
}

func TestScheduler_CoalescesPendingDuplicates(t *testing.T) {
	st := memory.New()
	pid := seedProblem(t, st)
	sched := NewScheduler(true, nil)

	ctx := context.Background()
	require.NoError(t, sched.Enqueue(ctx, st, JudgeExplanationTask(pid, 7), JudgeExplanationTask(pid, 7)))
	require.NoError(t, sched.Enqueue(ctx, st, JudgeExplanationTask(pid, 8)))

	assert.Len(t, st.Tasks(), 2)
}

func TestRegisterHandlers_GenerateQueuesJudgeAll(t *testing.T) {
	st := memory.New()
	pid := seedProblem(t, st)
	p := NewPool(st, testConfig(), logger.NewNop(), nil)
	sched := NewScheduler(true, p)
	gen := &fakeGenerator{}
	RegisterHandlers(p, sched, st, gen, &fakeJudge{})

	require.NoError(t, p.handlers[models.TaskGenerate](context.Background(), GenerateTask(pid)))

	tasks := st.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskJudgeAll, tasks[0].Op)
	assert.Equal(t, int32(1), gen.generated.Load())

	err := p.handlers[models.TaskJudgeExplanation](context.Background(), models.Task{Op: models.TaskJudgeExplanation, ProblemID: pid})
	assert.Error(t, err)
}

type fakeGenerator struct {
	generated atomic.Int32
}

func (f *fakeGenerator) Generate(ctx context.Context, problemID int64) error {
	f.generated.Add(1)
	return nil
}

func (f *fakeGenerator) RegeneratePreservingEngagement(ctx context.Context, problemID int64) error {
	return nil
}

type fakeJudge struct{}

func (fakeJudge) JudgeAuthorBundle(ctx context.Context, problemID int64, author models.Author) error {
	return nil
}

func (fakeJudge) JudgeSingleExplanation(ctx context.Context, explanationID int64) error {
	return nil
}

func (fakeJudge) JudgeAllExplanations(ctx context.Context, problemID int64) error {
	return nil
}
