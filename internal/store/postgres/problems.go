package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store"
)

// ── Users ───────────────────────────────────────────────

func (q *Queries) CreateUser(ctx context.Context, u *models.User) error {
	var username *string
	if u.Username != "" {
		username = &u.Username
	}
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO users (email, name, username)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		u.Email, u.Name, username,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (q *Queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	var username sql.NullString
	err := q.db.QueryRowContext(ctx,
		`SELECT id, email, name, username, created_at, updated_at FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.Name, &username, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	u.Username = username.String
	return &u, nil
}

// ── Problems ────────────────────────────────────────────

func (q *Queries) CreateProblem(ctx context.Context, p *models.Problem) error {
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO problems (title, body, qtype, created_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, like_count, created_at, updated_at`,
		p.Title, p.Body, p.Type, p.CreatedBy,
	).Scan(&p.ID, &p.LikeCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create problem: %w", err)
	}

	if err := q.insertOptions(ctx, p); err != nil {
		return err
	}
	return q.insertProblemImages(ctx, p.ID, p.Images)
}

func (q *Queries) insertOptions(ctx context.Context, p *models.Problem) error {
	for i := range p.Options {
		o := &p.Options[i]
		o.ProblemID = p.ID
		o.Position = i
		err := q.db.QueryRowContext(ctx,
			`INSERT INTO problem_options (problem_id, position, content, is_correct)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id`,
			o.ProblemID, o.Position, o.Content, o.IsCorrect,
		).Scan(&o.ID)
		if err != nil {
			return fmt.Errorf("insert option %d: %w", i, err)
		}
	}
	return nil
}

func (q *Queries) insertProblemImages(ctx context.Context, problemID int64, refs []string) error {
	for _, ref := range refs {
		if _, err := q.db.ExecContext(ctx,
			`INSERT INTO problem_images (problem_id, ref) VALUES ($1, $2)`,
			problemID, ref,
		); err != nil {
			return fmt.Errorf("insert problem image: %w", err)
		}
	}
	return nil
}

func (q *Queries) GetProblem(ctx context.Context, id int64) (*models.Problem, error) {
	var p models.Problem
	err := q.db.QueryRowContext(ctx,
		`SELECT id, title, body, qtype, created_by, like_count, created_at, updated_at
		 FROM problems WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Title, &p.Body, &p.Type, &p.CreatedBy, &p.LikeCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT id, problem_id, position, content, is_correct
		 FROM problem_options WHERE problem_id = $1 ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("get options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o models.Option
		if err := rows.Scan(&o.ID, &o.ProblemID, &o.Position, &o.Content, &o.IsCorrect); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		p.Options = append(p.Options, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	p.Images, err = q.refs(ctx, `SELECT ref FROM problem_images WHERE problem_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get problem images: %w", err)
	}
	return &p, nil
}

func (q *Queries) refs(ctx context.Context, query string, id int64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (q *Queries) LockProblem(ctx context.Context, id int64) error {
	var locked int64
	err := q.db.QueryRowContext(ctx, `SELECT id FROM problems WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	return notFound(err)
}

func (q *Queries) UpdateProblem(ctx context.Context, p *models.Problem) error {
	err := q.db.QueryRowContext(ctx,
		`UPDATE problems SET title = $2, body = $3, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		p.ID, p.Title, p.Body,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return notFound(err)
	}

	if _, err := q.db.ExecContext(ctx, `DELETE FROM problem_options WHERE problem_id = $1`, p.ID); err != nil {
		return fmt.Errorf("clear options: %w", err)
	}
	if err := q.insertOptions(ctx, p); err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM problem_images WHERE problem_id = $1`, p.ID); err != nil {
		return fmt.Errorf("clear problem images: %w", err)
	}
	return q.insertProblemImages(ctx, p.ID, p.Images)
}

func (q *Queries) DeleteProblem(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM problems WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete problem: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *Queries) AddProblemLike(ctx context.Context, problemID, userID int64) (bool, int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT like_count FROM problems WHERE id = $1 FOR UPDATE`, problemID,
	).Scan(&count)
	if err != nil {
		return false, 0, notFound(err)
	}

	res, err := q.db.ExecContext(ctx,
		`INSERT INTO problem_likes (problem_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		problemID, userID,
	)
	if err != nil {
		return false, 0, fmt.Errorf("insert problem like: %w", err)
	}
	if n, err := affected(res); err != nil || n == 0 {
		return false, count, err
	}

	err = q.db.QueryRowContext(ctx,
		`UPDATE problems SET like_count = like_count + 1 WHERE id = $1 RETURNING like_count`,
		problemID,
	).Scan(&count)
	return true, count, err
}

func (q *Queries) RemoveProblemLike(ctx context.Context, problemID, userID int64) (bool, int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT like_count FROM problems WHERE id = $1 FOR UPDATE`, problemID,
	).Scan(&count)
	if err != nil {
		return false, 0, notFound(err)
	}

	res, err := q.db.ExecContext(ctx,
		`DELETE FROM problem_likes WHERE problem_id = $1 AND user_id = $2`,
		problemID, userID,
	)
	if err != nil {
		return false, 0, fmt.Errorf("delete problem like: %w", err)
	}
	if n, err := affected(res); err != nil || n == 0 {
		return false, count, err
	}

	err = q.db.QueryRowContext(ctx,
		`UPDATE problems SET like_count = GREATEST(like_count - 1, 0) WHERE id = $1 RETURNING like_count`,
		problemID,
	).Scan(&count)
	return true, count, err
}

// ── Answers ─────────────────────────────────────────────

func (q *Queries) RecordAnswer(ctx context.Context, a *models.Answer) error {
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO answers (problem_id, user_id, selected_option, free_text, is_correct)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		a.ProblemID, a.UserID, a.SelectedOption, a.FreeText, a.IsCorrect,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("record answer: %w", err)
	}
	return nil
}

func (q *Queries) SolverCount(ctx context.Context, problemID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM answers WHERE problem_id = $1`, problemID,
	).Scan(&n)
	return n, err
}
