// Package jobs runs background generation and judgement tasks from the
// persistent task queue.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/studyhub/backend/internal/config"
	"github.com/studyhub/backend/internal/logger"
	"github.com/studyhub/backend/internal/metrics"
	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store"
)

// Handler does the work for one task. It must be idempotent.
type Handler func(ctx context.Context, t models.Task) error

type Pool struct {
	queue    store.TaskQueue
	cfg      config.WorkerConfig
	log      *logger.Logger
	metrics  *metrics.Metrics
	handlers map[models.TaskOp]Handler
	wake     chan struct{}
	now      func() time.Time
}

func NewPool(queue store.TaskQueue, cfg config.WorkerConfig, log *logger.Logger, m *metrics.Metrics) *Pool {
	return &Pool{
		queue:    queue,
		cfg:      cfg,
		log:      log.With("component", "jobs"),
		metrics:  m,
		handlers: map[models.TaskOp]Handler{},
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Register must be called before Run.
func (p *Pool) Register(op models.TaskOp, h Handler) {
	p.handlers[op] = h
}

// Wake nudges an idle worker to poll immediately.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled and every in-flight task has finished.
func (p *Pool) Run(ctx context.Context) error {
	concurrency := max(p.cfg.Concurrency, 1)
	p.log.Info("starting worker pool", "concurrency", concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.runLoop(ctx, workerID)
		}(i + 1)
	}
	wg.Wait()
	p.log.Info("worker pool stopped")
	return nil
}

func (p *Pool) runLoop(ctx context.Context, workerID int) {
	interval := p.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
		p.drain(ctx, workerID)
	}
}

// drain processes tasks until the queue has nothing runnable.
func (p *Pool) drain(ctx context.Context, workerID int) {
	for ctx.Err() == nil {
		t, err := p.queue.ClaimTask(ctx, p.cfg.StaleAfter)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Warn("claim task failed", "worker_id", workerID, "error", err)
			}
			return
		}
		if t == nil {
			return
		}
		p.process(ctx, workerID, t)
	}
}

func (p *Pool) process(ctx context.Context, workerID int, t *models.Task) {
	// In-flight work and its bookkeeping outlive shutdown; Run waits for it.
	bg := context.WithoutCancel(ctx)
	log := p.log.With("worker_id", workerID, "task_id", t.ID, "op", t.Op, "problem_id", t.ProblemID, "attempt", t.Attempts)
	start := p.now()

	h, ok := p.handlers[t.Op]
	if !ok {
		log.Error("no handler registered")
		p.finish(log, t, "failed", p.queue.FailTask(bg, t.ID, "no handler registered for op "+string(t.Op)), start)
		return
	}

	hctx, cancel := p.handlerContext(bg)
	err := invoke(hctx, h, *t)
	cancel()

	switch {
	case err == nil:
		p.finish(log, t, "done", p.queue.CompleteTask(bg, t.ID), start)
	case t.Attempts >= p.cfg.MaxAttempts:
		log.Error("task failed permanently", "error", err)
		p.finish(log, t, "failed", p.queue.FailTask(bg, t.ID, err.Error()), start)
	default:
		delay := p.backoff(t.Attempts)
		log.Warn("task failed, will retry", "error", err, "in", delay)
		p.finish(log, t, "retry", p.queue.RetryTask(bg, t.ID, err.Error(), p.now().Add(delay)), start)
	}
}

func (p *Pool) finish(log *logger.Logger, t *models.Task, outcome string, bookErr error, start time.Time) {
	if bookErr != nil {
		log.Error("recording task outcome failed", "outcome", outcome, "error", bookErr)
	}
	p.metrics.TaskFinished(string(t.Op), outcome, p.now().Sub(start))
}

// handlerContext bounds a handler by the stale window, after which another
// worker may reclaim the task anyway.
func (p *Pool) handlerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.StaleAfter > 0 {
		return context.WithTimeout(ctx, p.cfg.StaleAfter)
	}
	return context.WithCancel(ctx)
}

// backoff doubles RetryBackoff for every attempt after the first.
func (p *Pool) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.cfg.RetryBackoff << uint(attempt-1)
}

func invoke(ctx context.Context, h Handler, t models.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, t)
}
