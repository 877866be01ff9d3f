package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/studyhub/backend/internal/models"
)

// ── Wrong flags ─────────────────────────────────────────

func (q *Queries) AddWrongFlag(ctx context.Context, explanationID, userID int64) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO explanation_wrong_flags (explanation_id, user_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		explanationID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("add wrong flag: %w", err)
	}
	n, err := affected(res)
	return n > 0, err
}

func (q *Queries) RemoveWrongFlag(ctx context.Context, explanationID, userID int64) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM explanation_wrong_flags WHERE explanation_id = $1 AND user_id = $2`,
		explanationID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("remove wrong flag: %w", err)
	}
	n, err := affected(res)
	return n > 0, err
}

func (q *Queries) CountWrongFlags(ctx context.Context, explanationID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM explanation_wrong_flags WHERE explanation_id = $1`, explanationID,
	).Scan(&n)
	return n, err
}

func (q *Queries) HasWrongFlag(ctx context.Context, explanationID, userID int64) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM explanation_wrong_flags WHERE explanation_id = $1 AND user_id = $2
		 )`,
		explanationID, userID,
	).Scan(&exists)
	return exists, err
}

// ── Judgements ──────────────────────────────────────────

func scanJudgement(s scanner) (*models.Judgement, error) {
	var (
		j          models.Judgement
		author     sql.NullInt64
		isWrong    sql.NullBool
		confidence sql.NullInt64
		reason     sql.NullString
	)
	if err := s.Scan(&j.ProblemID, &author, &isWrong, &confidence, &reason, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Author = models.AuthorFromNullable(author.Int64, author.Valid)
	j.Verdict = models.Verdict{IsWrong: nullBool(isWrong), Confidence: nullInt(confidence), Reason: nullString(reason)}
	return &j, nil
}

func (q *Queries) GetJudgement(ctx context.Context, problemID int64, author models.Author) (*models.Judgement, error) {
	j, err := scanJudgement(q.db.QueryRowContext(ctx,
		`SELECT problem_id, author_id, is_wrong, confidence, reason, created_at, updated_at
		 FROM judgements WHERE problem_id = $1 AND author_key = $2`,
		problemID, author.UserID,
	))
	if err != nil {
		return nil, notFound(err)
	}
	return j, nil
}

func (q *Queries) MergeJudgement(ctx context.Context, problemID int64, author models.Author, v models.Verdict) (*models.Judgement, error) {
	j, err := scanJudgement(q.db.QueryRowContext(ctx,
		`INSERT INTO judgements (problem_id, author_id, is_wrong, confidence, reason)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (problem_id, author_key) DO UPDATE SET
		     is_wrong   = COALESCE(EXCLUDED.is_wrong, judgements.is_wrong),
		     confidence = COALESCE(EXCLUDED.confidence, judgements.confidence),
		     reason     = COALESCE(EXCLUDED.reason, judgements.reason),
		     updated_at = NOW()
		 RETURNING problem_id, author_id, is_wrong, confidence, reason, created_at, updated_at`,
		problemID, author.Ref(), v.IsWrong, v.Confidence, v.Reason,
	))
	if err != nil {
		return nil, fmt.Errorf("merge judgement: %w", err)
	}
	return j, nil
}

// ── Notifications ───────────────────────────────────────

const notificationColumns = `id, recipient_id, type, problem_id, actor_id, ai_flag, crowd_flag, seen, created_at`

func scanNotification(s scanner, extra ...any) (*models.Notification, error) {
	var (
		n     models.Notification
		actor sql.NullInt64
		ai    sql.NullBool
		crowd sql.NullBool
	)
	dest := append([]any{&n.ID, &n.RecipientID, &n.Type, &n.ProblemID, &actor, &ai, &crowd, &n.Seen, &n.CreatedAt}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	n.ActorID = nullInt64(actor)
	n.AIFlag = nullBool(ai)
	n.CrowdFlag = nullBool(crowd)
	return &n, nil
}

func (q *Queries) FindNotification(ctx context.Context, ev models.Event) (*models.Notification, error) {
	key := ev.Key()
	var actorKey int64
	if key.ActorID != nil {
		actorKey = *key.ActorID
	}
	n, err := scanNotification(q.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE recipient_id = $1 AND type = $2 AND problem_id = $3 AND actor_key = $4
		 FOR UPDATE`,
		key.RecipientID, key.Type, key.ProblemID, actorKey,
	))
	if err != nil {
		return nil, notFound(err)
	}
	return n, nil
}

func (q *Queries) InsertNotification(ctx context.Context, n *models.Notification) (bool, error) {
	err := q.db.QueryRowContext(ctx,
		`INSERT INTO notifications (recipient_id, type, problem_id, actor_id, ai_flag, crowd_flag, seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (recipient_id, type, problem_id, actor_key) DO NOTHING
		 RETURNING id, created_at`,
		n.RecipientID, n.Type, n.ProblemID, n.ActorID, n.AIFlag, n.CrowdFlag, n.Seen,
	).Scan(&n.ID, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return true, nil
}

func (q *Queries) UpdateNotification(ctx context.Context, n *models.Notification) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE notifications SET ai_flag = $2, crowd_flag = $3, seen = $4 WHERE id = $1`,
		n.ID, n.AIFlag, n.CrowdFlag, n.Seen,
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	return nil
}

func (q *Queries) ListNotifications(ctx context.Context, recipientID int64, unseenOnly bool, limit int) ([]models.Notification, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT n.id, n.recipient_id, n.type, n.problem_id, n.actor_id, n.ai_flag, n.crowd_flag,
		        n.seen, n.created_at, p.title, u.name, u.username
		 FROM notifications n
		 JOIN problems p ON p.id = n.problem_id
		 LEFT JOIN users u ON u.id = n.actor_id
		 WHERE n.recipient_id = $1 AND (NOT $2::boolean OR n.seen = FALSE)
		 ORDER BY n.created_at DESC, n.id DESC
		 LIMIT $3`,
		recipientID, unseenOnly, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var title string
		var name, username sql.NullString
		n, err := scanNotification(rows, &title, &name, &username)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.ProblemTitle = title
		if n.ActorID != nil && (name.Valid || username.Valid) {
			display := models.User{Name: name.String, Username: username.String}.DisplayName()
			n.ActorName = &display
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (q *Queries) MarkNotificationsSeen(ctx context.Context, recipientID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE notifications SET seen = TRUE WHERE recipient_id = $1 AND id = ANY($2)`,
		recipientID, pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("mark notifications seen: %w", err)
	}
	return affected(res)
}
