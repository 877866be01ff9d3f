package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/studyhub/backend/internal/models"
)

// ── Background task queue ───────────────────────────────

const taskColumns = `id, op, problem_id, author_id, explanation_id, status, attempts,
	last_error, run_after, claimed_at, created_at, updated_at`

func scanTask(s scanner) (*models.Task, error) {
	var (
		t           models.Task
		author      sql.NullInt64
		explanation sql.NullInt64
		lastError   sql.NullString
		claimedAt   sql.NullTime
	)
	err := s.Scan(&t.ID, &t.Op, &t.ProblemID, &author, &explanation, &t.Status, &t.Attempts,
		&lastError, &t.RunAfter, &claimedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Author = models.AuthorFromNullable(author.Int64, author.Valid)
	t.ExplanationID = nullInt64(explanation)
	t.LastError = nullString(lastError)
	if claimedAt.Valid {
		c := claimedAt.Time
		t.ClaimedAt = &c
	}
	return &t, nil
}

// EnqueueTask skips the insert when an identical task is still pending, so a
// burst of edits to one problem collapses into one run.
func (q *Queries) EnqueueTask(ctx context.Context, t models.Task) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO background_tasks (op, problem_id, author_id, explanation_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (op, problem_id, author_key, explanation_key) WHERE status = 'pending'
		 DO NOTHING`,
		t.Op, t.ProblemID, t.Author.Ref(), t.ExplanationID,
	)
	if err != nil {
		return false, fmt.Errorf("enqueue task: %w", err)
	}
	n, err := affected(res)
	return n > 0, err
}

func (q *Queries) ClaimTask(ctx context.Context, staleAfter time.Duration) (*models.Task, error) {
	t, err := scanTask(q.db.QueryRowContext(ctx,
		`UPDATE background_tasks
		 SET status = 'running', attempts = attempts + 1, claimed_at = NOW(), updated_at = NOW()
		 WHERE id = (
		     SELECT id FROM background_tasks
		     WHERE (status = 'pending' AND run_after <= NOW())
		        OR (status = 'running' AND claimed_at < NOW() - make_interval(secs => $1))
		     ORDER BY run_after, id
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+taskColumns,
		staleAfter.Seconds(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return t, nil
}

func (q *Queries) CompleteTask(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE background_tasks SET status = 'done', last_error = NULL, updated_at = NOW() WHERE id = $1`,
		id,
	)
	return err
}

// RetryTask puts the task back in the queue. When an identical task has been
// enqueued meanwhile, this one is marked superseded instead.
func (q *Queries) RetryTask(ctx context.Context, id int64, errMsg string, runAfter time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE background_tasks t
		 SET status = 'pending', last_error = $2, run_after = $3, updated_at = NOW()
		 WHERE t.id = $1 AND NOT EXISTS (
		     SELECT 1 FROM background_tasks o
		     WHERE o.status = 'pending' AND o.op = t.op AND o.problem_id = t.problem_id
		       AND o.author_key = t.author_key AND o.explanation_key = t.explanation_key
		 )`,
		id, errMsg, runAfter,
	)
	if err != nil {
		return fmt.Errorf("retry task: %w", err)
	}
	if n, err := affected(res); err != nil || n > 0 {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`UPDATE background_tasks SET status = 'superseded', last_error = $2, updated_at = NOW() WHERE id = $1`,
		id, errMsg,
	)
	return err
}

func (q *Queries) FailTask(ctx context.Context, id int64, errMsg string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE background_tasks SET status = 'failed', last_error = $2, updated_at = NOW() WHERE id = $1`,
		id, errMsg,
	)
	return err
}
