package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store"
)

const explanationColumns = `id, problem_id, author_id, option_index, content, like_count,
	ai_is_wrong, ai_score, ai_reason, ai_reviewed_at, created_at, updated_at`

func scanExplanation(s scanner) (models.Explanation, error) {
	var (
		e          models.Explanation
		author     sql.NullInt64
		option     sql.NullInt64
		isWrong    sql.NullBool
		score      sql.NullInt64
		reason     sql.NullString
		reviewedAt sql.NullTime
	)
	err := s.Scan(&e.ID, &e.ProblemID, &author, &option, &e.Content, &e.LikeCount,
		&isWrong, &score, &reason, &reviewedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, err
	}
	e.Author = models.AuthorFromNullable(author.Int64, author.Valid)
	e.Slot = models.SlotFromNullable(option.Int64, option.Valid)
	e.Review = models.Verdict{IsWrong: nullBool(isWrong), Confidence: nullInt(score), Reason: nullString(reason)}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		e.ReviewedAt = &t
	}
	return e, nil
}

func (q *Queries) GetExplanation(ctx context.Context, id int64) (*models.Explanation, error) {
	e, err := scanExplanation(q.db.QueryRowContext(ctx,
		`SELECT `+explanationColumns+` FROM explanations WHERE id = $1`, id,
	))
	if err != nil {
		return nil, notFound(err)
	}
	e.Images, err = q.refs(ctx, `SELECT ref FROM explanation_images WHERE explanation_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get explanation images: %w", err)
	}
	return &e, nil
}

func (q *Queries) LockExplanation(ctx context.Context, id int64) (*models.Explanation, error) {
	e, err := scanExplanation(q.db.QueryRowContext(ctx,
		`SELECT `+explanationColumns+` FROM explanations WHERE id = $1 FOR UPDATE`, id,
	))
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (q *Queries) ListExplanations(ctx context.Context, problemID int64) ([]models.Explanation, error) {
	return q.listExplanations(ctx,
		`SELECT `+explanationColumns+` FROM explanations
		 WHERE problem_id = $1
		 ORDER BY author_key, slot_key`,
		problemID,
	)
}

func (q *Queries) AuthorExplanations(ctx context.Context, problemID int64, author models.Author) ([]models.Explanation, error) {
	return q.listExplanations(ctx,
		`SELECT `+explanationColumns+` FROM explanations
		 WHERE problem_id = $1 AND author_key = $2
		 ORDER BY slot_key`,
		problemID, author.UserID,
	)
}

func (q *Queries) listExplanations(ctx context.Context, query string, args ...any) ([]models.Explanation, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list explanations: %w", err)
	}
	defer rows.Close()

	var (
		out   []models.Explanation
		ids   []int64
		index = map[int64]int{}
	)
	for rows.Next() {
		e, err := scanExplanation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan explanation: %w", err)
		}
		index[e.ID] = len(out)
		ids = append(ids, e.ID)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	imgRows, err := q.db.QueryContext(ctx,
		`SELECT explanation_id, ref FROM explanation_images
		 WHERE explanation_id = ANY($1) ORDER BY id`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("list explanation images: %w", err)
	}
	defer imgRows.Close()
	for imgRows.Next() {
		var id int64
		var ref string
		if err := imgRows.Scan(&id, &ref); err != nil {
			return nil, fmt.Errorf("scan explanation image: %w", err)
		}
		out[index[id]].Images = append(out[index[id]].Images, ref)
	}
	return out, imgRows.Err()
}

func (q *Queries) SnapshotSlots(ctx context.Context, problemID int64, author models.Author) (map[models.SlotKey]models.SlotSnapshot, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, slot_key, like_count FROM explanations
		 WHERE problem_id = $1 AND author_key = $2
		 FOR UPDATE`,
		problemID, author.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot slots: %w", err)
	}
	defer rows.Close()

	snap := map[models.SlotKey]models.SlotSnapshot{}
	slotOf := map[int64]models.SlotKey{}
	var ids []int64
	for rows.Next() {
		var id int64
		var slot, likes int
		if err := rows.Scan(&id, &slot, &likes); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		key := models.SlotKey(slot)
		snap[key] = models.SlotSnapshot{LikeCount: likes}
		slotOf[id] = key
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return snap, nil
	}

	likeRows, err := q.db.QueryContext(ctx,
		`SELECT explanation_id, user_id FROM explanation_likes
		 WHERE explanation_id = ANY($1) ORDER BY user_id`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot likers: %w", err)
	}
	defer likeRows.Close()
	for likeRows.Next() {
		var id, userID int64
		if err := likeRows.Scan(&id, &userID); err != nil {
			return nil, fmt.Errorf("scan liker: %w", err)
		}
		key := slotOf[id]
		s := snap[key]
		s.Likers = append(s.Likers, userID)
		snap[key] = s
	}
	return snap, likeRows.Err()
}

func (q *Queries) DeleteAuthorExplanations(ctx context.Context, problemID int64, author models.Author, group store.SlotGroup) (int, error) {
	query := `DELETE FROM explanations WHERE problem_id = $1 AND author_key = $2`
	switch group {
	case store.GroupOverall:
		query += ` AND option_index IS NULL`
	case store.GroupOptions:
		query += ` AND option_index IS NOT NULL`
	}
	res, err := q.db.ExecContext(ctx, query, problemID, author.UserID)
	if err != nil {
		return 0, fmt.Errorf("delete explanations: %w", err)
	}
	return affected(res)
}

func (q *Queries) DeleteOptionSlotsFrom(ctx context.Context, problemID int64, first int) (int, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM explanations WHERE problem_id = $1 AND option_index >= $2`,
		problemID, first,
	)
	if err != nil {
		return 0, fmt.Errorf("delete trailing option slots: %w", err)
	}
	return affected(res)
}

func (q *Queries) SaveExplanation(ctx context.Context, e *models.Explanation) error {
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO explanations (problem_id, author_id, option_index, content, like_count)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (problem_id, author_key, slot_key)
		 DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
		 RETURNING id, like_count, created_at, updated_at`,
		e.ProblemID, e.Author.Ref(), e.Slot.Ref(), e.Content, e.LikeCount,
	).Scan(&e.ID, &e.LikeCount, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save explanation: %w", err)
	}

	if _, err := q.db.ExecContext(ctx, `DELETE FROM explanation_images WHERE explanation_id = $1`, e.ID); err != nil {
		return fmt.Errorf("clear explanation images: %w", err)
	}
	for _, ref := range e.Images {
		if _, err := q.db.ExecContext(ctx,
			`INSERT INTO explanation_images (explanation_id, ref) VALUES ($1, $2)`,
			e.ID, ref,
		); err != nil {
			return fmt.Errorf("insert explanation image: %w", err)
		}
	}
	return nil
}

func (q *Queries) RestoreExplanationLikers(ctx context.Context, explanationID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO explanation_likes (explanation_id, user_id)
		 SELECT $1, u.id FROM users u WHERE u.id = ANY($2)
		 ON CONFLICT DO NOTHING`,
		explanationID, pq.Array(userIDs),
	)
	if err != nil {
		return fmt.Errorf("restore likers: %w", err)
	}
	return nil
}

func (q *Queries) AddExplanationLike(ctx context.Context, explanationID, userID int64) (bool, int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT like_count FROM explanations WHERE id = $1 FOR UPDATE`, explanationID,
	).Scan(&count)
	if err != nil {
		return false, 0, notFound(err)
	}

	res, err := q.db.ExecContext(ctx,
		`INSERT INTO explanation_likes (explanation_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		explanationID, userID,
	)
	if err != nil {
		return false, 0, fmt.Errorf("insert explanation like: %w", err)
	}
	if n, err := affected(res); err != nil || n == 0 {
		return false, count, err
	}

	err = q.db.QueryRowContext(ctx,
		`UPDATE explanations SET like_count = like_count + 1 WHERE id = $1 RETURNING like_count`,
		explanationID,
	).Scan(&count)
	return true, count, err
}

func (q *Queries) RemoveExplanationLike(ctx context.Context, explanationID, userID int64) (bool, int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT like_count FROM explanations WHERE id = $1 FOR UPDATE`, explanationID,
	).Scan(&count)
	if err != nil {
		return false, 0, notFound(err)
	}

	res, err := q.db.ExecContext(ctx,
		`DELETE FROM explanation_likes WHERE explanation_id = $1 AND user_id = $2`,
		explanationID, userID,
	)
	if err != nil {
		return false, 0, fmt.Errorf("delete explanation like: %w", err)
	}
	if n, err := affected(res); err != nil || n == 0 {
		return false, count, err
	}

	err = q.db.QueryRowContext(ctx,
		`UPDATE explanations SET like_count = GREATEST(like_count - 1, 0) WHERE id = $1 RETURNING like_count`,
		explanationID,
	).Scan(&count)
	return true, count, err
}

func (q *Queries) SetExplanationReview(ctx context.Context, explanationID int64, v models.Verdict) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE explanations
		 SET ai_is_wrong = COALESCE($2, ai_is_wrong),
		     ai_score = COALESCE($3, ai_score),
		     ai_reason = COALESCE($4, ai_reason),
		     ai_reviewed_at = NOW()
		 WHERE id = $1`,
		explanationID, v.IsWrong, v.Confidence, v.Reason,
	)
	if err != nil {
		return fmt.Errorf("set explanation review: %w", err)
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

// ── Model answers ───────────────────────────────────────

func (q *Queries) GetModelAnswer(ctx context.Context, problemID int64, author models.Author) (*models.ModelAnswer, error) {
	var m models.ModelAnswer
	var authorID sql.NullInt64
	err := q.db.QueryRowContext(ctx,
		`SELECT id, problem_id, author_id, content, created_at, updated_at
		 FROM model_answers WHERE problem_id = $1 AND author_key = $2`,
		problemID, author.UserID,
	).Scan(&m.ID, &m.ProblemID, &authorID, &m.Content, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	m.Author = models.AuthorFromNullable(authorID.Int64, authorID.Valid)
	return &m, nil
}

func (q *Queries) UpsertModelAnswer(ctx context.Context, m *models.ModelAnswer) error {
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO model_answers (problem_id, author_id, content)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (problem_id, author_key)
		 DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
		 RETURNING id, created_at, updated_at`,
		m.ProblemID, m.Author.Ref(), m.Content,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert model answer: %w", err)
	}
	return nil
}

func (q *Queries) DeleteModelAnswer(ctx context.Context, problemID int64, author models.Author) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM model_answers WHERE problem_id = $1 AND author_key = $2`,
		problemID, author.UserID,
	)
	if err != nil {
		return fmt.Errorf("delete model answer: %w", err)
	}
	return nil
}
