package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store"
)

// ── Wrong flags ─────────────────────────────────────────

func (q *Queries) AddWrongFlag(ctx context.Context, explanationID, userID int64) (bool, error) {
	defer q.lock()()
	s := q.st()
	if _, ok := s.explanations[explanationID]; !ok {
		return false, fmt.Errorf("add wrong flag: unknown explanation %d: %w", explanationID, store.ErrInvalid)
	}
	k := pair{explanationID, userID}
	if _, ok := s.wrongFlags[k]; ok {
		return false, nil
	}
	s.wrongFlags[k] = struct{}{}
	return true, nil
}

func (q *Queries) RemoveWrongFlag(ctx context.Context, explanationID, userID int64) (bool, error) {
	defer q.lock()()
	s := q.st()
	k := pair{explanationID, userID}
	if _, ok := s.wrongFlags[k]; !ok {
		return false, nil
	}
	delete(s.wrongFlags, k)
	return true, nil
}

func (q *Queries) CountWrongFlags(ctx context.Context, explanationID int64) (int, error) {
	defer q.lock()()
	n := 0
	for k := range q.st().wrongFlags {
		if k.a == explanationID {
			n++
		}
	}
	return n, nil
}

func (q *Queries) HasWrongFlag(ctx context.Context, explanationID, userID int64) (bool, error) {
	defer q.lock()()
	_, ok := q.st().wrongFlags[pair{explanationID, userID}]
	return ok, nil
}

// ── Judgements ──────────────────────────────────────────

func (q *Queries) GetJudgement(ctx context.Context, problemID int64, author models.Author) (*models.Judgement, error) {
	defer q.lock()()
	j, ok := q.st().judgements[pair{problemID, author.UserID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &j, nil
}

func (q *Queries) MergeJudgement(ctx context.Context, problemID int64, author models.Author, v models.Verdict) (*models.Judgement, error) {
	defer q.lock()()
	s := q.st()
	if _, ok := s.problems[problemID]; !ok {
		return nil, fmt.Errorf("merge judgement: unknown problem %d: %w", problemID, store.ErrInvalid)
	}
	k := pair{problemID, author.UserID}
	now := q.db.now()
	j, ok := s.judgements[k]
	if !ok {
		j = models.Judgement{ProblemID: problemID, Author: author, CreatedAt: now}
	}
	j.Verdict = j.Verdict.Merge(v)
	j.UpdatedAt = now
	s.judgements[k] = j
	return &j, nil
}

// ── Notifications ───────────────────────────────────────

func actorKey(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func (s *state) findNotification(key models.Event) (models.Notification, bool) {
	for _, n := range s.notifications {
		if n.RecipientID == key.RecipientID && n.Type == key.Type && n.ProblemID == key.ProblemID &&
			actorKey(n.ActorID) == actorKey(key.ActorID) {
			return n, true
		}
	}
	return models.Notification{}, false
}

func (q *Queries) FindNotification(ctx context.Context, ev models.Event) (*models.Notification, error) {
	defer q.lock()()
	n, ok := q.st().findNotification(ev.Key())
	if !ok {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func (q *Queries) InsertNotification(ctx context.Context, n *models.Notification) (bool, error) {
	defer q.lock()()
	s := q.st()
	if _, ok := s.problems[n.ProblemID]; !ok {
		return false, fmt.Errorf("insert notification: unknown problem %d: %w", n.ProblemID, store.ErrInvalid)
	}
	key := models.Event{RecipientID: n.RecipientID, Type: n.Type, ProblemID: n.ProblemID, ActorID: n.ActorID}
	if _, exists := s.findNotification(key); exists {
		return false, nil
	}
	n.ID = s.id()
	n.CreatedAt = q.db.now()
	stored := *n
	stored.ProblemTitle = ""
	stored.ActorName = nil
	s.notifications[n.ID] = stored
	return true, nil
}

func (q *Queries) UpdateNotification(ctx context.Context, n *models.Notification) error {
	defer q.lock()()
	s := q.st()
	stored, ok := s.notifications[n.ID]
	if !ok {
		return nil
	}
	stored.AIFlag = n.AIFlag
	stored.CrowdFlag = n.CrowdFlag
	stored.Seen = n.Seen
	s.notifications[n.ID] = stored
	return nil
}

func (q *Queries) ListNotifications(ctx context.Context, recipientID int64, unseenOnly bool, limit int) ([]models.Notification, error) {
	defer q.lock()()
	s := q.st()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.RecipientID != recipientID || (unseenOnly && n.Seen) {
			continue
		}
		n.ProblemTitle = s.problems[n.ProblemID].Title
		if n.ActorID != nil {
			if u, ok := s.users[*n.ActorID]; ok {
				name := u.DisplayName()
				n.ActorName = &name
			}
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *Queries) MarkNotificationsSeen(ctx context.Context, recipientID int64, ids []int64) (int, error) {
	defer q.lock()()
	s := q.st()
	n := 0
	for _, id := range ids {
		stored, ok := s.notifications[id]
		if !ok || stored.RecipientID != recipientID {
			continue
		}
		stored.Seen = true
		s.notifications[id] = stored
		n++
	}
	return n, nil
}

// ── Background task queue ───────────────────────────────

func (s *state) pendingLike(t models.Task, except int64) bool {
	for id, o := range s.tasks {
		if id != except && o.Status == models.TaskPending && o.SameWork(t) {
			return true
		}
	}
	return false
}

func (q *Queries) EnqueueTask(ctx context.Context, t models.Task) (bool, error) {
	defer q.lock()()
	s := q.st()
	if s.pendingLike(t, 0) {
		return false, nil
	}
	now := q.db.now()
	t.ID = s.id()
	t.Status = models.TaskPending
	t.Attempts = 0
	t.LastError = nil
	t.ClaimedAt = nil
	t.RunAfter = now
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tasks[t.ID] = t
	return true, nil
}

func (q *Queries) ClaimTask(ctx context.Context, staleAfter time.Duration) (*models.Task, error) {
	defer q.lock()()
	s := q.st()
	now := q.db.now()

	var best *models.Task
	for _, t := range s.tasks {
		runnable := t.Status == models.TaskPending && !t.RunAfter.After(now)
		stale := t.Status == models.TaskRunning && t.ClaimedAt != nil && t.ClaimedAt.Before(now.Add(-staleAfter))
		if !runnable && !stale {
			continue
		}
		if best == nil || t.RunAfter.Before(best.RunAfter) || (t.RunAfter.Equal(best.RunAfter) && t.ID < best.ID) {
			c := t
			best = &c
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = models.TaskRunning
	best.Attempts++
	best.ClaimedAt = &now
	best.UpdatedAt = now
	s.tasks[best.ID] = *best
	return best, nil
}

func (q *Queries) setTask(id int64, fn func(t *models.Task)) error {
	defer q.lock()()
	s := q.st()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	fn(&t)
	t.UpdatedAt = q.db.now()
	s.tasks[id] = t
	return nil
}

func (q *Queries) CompleteTask(ctx context.Context, id int64) error {
	return q.setTask(id, func(t *models.Task) {
		t.Status = models.TaskDone
		t.LastError = nil
	})
}

func (q *Queries) RetryTask(ctx context.Context, id int64, errMsg string, runAfter time.Time) error {
	return q.setTask(id, func(t *models.Task) {
		t.LastError = models.String(errMsg)
		if q.st().pendingLike(*t, id) {
			t.Status = models.TaskSuperseded
			return
		}
		t.Status = models.TaskPending
		t.RunAfter = runAfter
	})
}

func (q *Queries) FailTask(ctx context.Context, id int64, errMsg string) error {
	return q.setTask(id, func(t *models.Task) {
		t.Status = models.TaskFailed
		t.LastError = models.String(errMsg)
	})
}
