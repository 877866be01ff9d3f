package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store"
)

func (q *Queries) CreateUser(ctx context.Context, u *models.User) error {
	defer q.lock()()
	s := q.st()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return fmt.Errorf("create user: email %q taken: %w", u.Email, store.ErrInvalid)
		}
	}
	u.ID = s.id()
	u.CreatedAt = q.db.now()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = *u
	return nil
}

func (q *Queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	defer q.lock()()
	u, ok := q.st().users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *state) hasUser(id int64) bool {
	_, ok := s.users[id]
	return ok
}

func (s *state) authorExists(a models.Author) bool {
	return a.IsMachine() || s.hasUser(a.UserID)
}

// ── Problems ────────────────────────────────────────────

func (q *Queries) CreateProblem(ctx context.Context, p *models.Problem) error {
	defer q.lock()()
	s := q.st()
	if !s.hasUser(p.CreatedBy) {
		return fmt.Errorf("create problem: unknown creator %d: %w", p.CreatedBy, store.ErrInvalid)
	}
	p.ID = s.id()
	p.LikeCount = 0
	p.CreatedAt = q.db.now()
	p.UpdatedAt = p.CreatedAt
	p.Options = s.numberOptions(p.ID, p.Options)
	p.Images = slices.Clone(p.Images)
	s.problems[p.ID] = *p
	return nil
}

func (s *state) numberOptions(problemID int64, opts []models.Option) []models.Option {
	out := make([]models.Option, len(opts))
	for i, o := range opts {
		o.ID = s.id()
		o.ProblemID = problemID
		o.Position = i
		out[i] = o
	}
	return out
}

func (q *Queries) GetProblem(ctx context.Context, id int64) (*models.Problem, error) {
	defer q.lock()()
	p, ok := q.st().problems[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p.Options = slices.Clone(p.Options)
	p.Images = slices.Clone(p.Images)
	return &p, nil
}

func (q *Queries) LockProblem(ctx context.Context, id int64) error {
	defer q.lock()()
	if _, ok := q.st().problems[id]; !ok {
		return store.ErrNotFound
	}
	return nil
}

func (q *Queries) UpdateProblem(ctx context.Context, p *models.Problem) error {
	defer q.lock()()
	s := q.st()
	stored, ok := s.problems[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	stored.Title = p.Title
	stored.Body = p.Body
	stored.Options = s.numberOptions(p.ID, p.Options)
	stored.Images = slices.Clone(p.Images)
	stored.UpdatedAt = q.db.now()
	s.problems[p.ID] = stored

	p.Options = slices.Clone(stored.Options)
	p.UpdatedAt = stored.UpdatedAt
	return nil
}

func (q *Queries) DeleteProblem(ctx context.Context, id int64) error {
	defer q.lock()()
	s := q.st()
	if _, ok := s.problems[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.problems, id)
	for eid, e := range s.explanations {
		if e.ProblemID == id {
			s.deleteExplanation(eid)
		}
	}
	for k := range s.problemLikes {
		if k.a == id {
			delete(s.problemLikes, k)
		}
	}
	for k := range s.modelAnswers {
		if k.a == id {
			delete(s.modelAnswers, k)
		}
	}
	for k := range s.judgements {
		if k.a == id {
			delete(s.judgements, k)
		}
	}
	for nid, n := range s.notifications {
		if n.ProblemID == id {
			delete(s.notifications, nid)
		}
	}
	for tid, t := range s.tasks {
		if t.ProblemID == id {
			delete(s.tasks, tid)
		}
	}
	s.answers = slices.DeleteFunc(slices.Clone(s.answers), func(a models.Answer) bool {
		return a.ProblemID == id
	})
	return nil
}

func (q *Queries) AddProblemLike(ctx context.Context, problemID, userID int64) (bool, int, error) {
	defer q.lock()()
	s := q.st()
	p, ok := s.problems[problemID]
	if !ok {
		return false, 0, store.ErrNotFound
	}
	k := pair{problemID, userID}
	if _, liked := s.problemLikes[k]; liked {
		return false, p.LikeCount, nil
	}
	s.problemLikes[k] = struct{}{}
	p.LikeCount++
	s.problems[problemID] = p
	return true, p.LikeCount, nil
}

func (q *Queries) RemoveProblemLike(ctx context.Context, problemID, userID int64) (bool, int, error) {
	defer q.lock()()
	s := q.st()
	p, ok := s.problems[problemID]
	if !ok {
		return false, 0, store.ErrNotFound
	}
	k := pair{problemID, userID}
	if _, liked := s.problemLikes[k]; !liked {
		return false, p.LikeCount, nil
	}
	delete(s.problemLikes, k)
	p.LikeCount = max(p.LikeCount-1, 0)
	s.problems[problemID] = p
	return true, p.LikeCount, nil
}

// ── Explanations ────────────────────────────────────────

func (s *state) deleteExplanation(id int64) {
	delete(s.explanations, id)
	for k := range s.explLikes {
		if k.a == id {
			delete(s.explLikes, k)
		}
	}
	for k := range s.wrongFlags {
		if k.a == id {
			delete(s.wrongFlags, k)
		}
	}
}

func copyExplanation(e models.Explanation) *models.Explanation {
	e.Images = slices.Clone(e.Images)
	return &e
}

func (q *Queries) GetExplanation(ctx context.Context, id int64) (*models.Explanation, error) {
	defer q.lock()()
	e, ok := q.st().explanations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyExplanation(e), nil
}

func (q *Queries) LockExplanation(ctx context.Context, id int64) (*models.Explanation, error) {
	return q.GetExplanation(ctx, id)
}

func (s *state) filterExplanations(keep func(models.Explanation) bool) []models.Explanation {
	var out []models.Explanation
	for _, e := range s.explanations {
		if keep(e) {
			out = append(out, *copyExplanation(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Author.UserID != out[j].Author.UserID {
			return out[i].Author.UserID < out[j].Author.UserID
		}
		return out[i].Slot < out[j].Slot
	})
	return out
}

func (q *Queries) ListExplanations(ctx context.Context, problemID int64) ([]models.Explanation, error) {
	defer q.lock()()
	return q.st().filterExplanations(func(e models.Explanation) bool {
		return e.ProblemID == problemID
	}), nil
}

func (q *Queries) AuthorExplanations(ctx context.Context, problemID int64, author models.Author) ([]models.Explanation, error) {
	defer q.lock()()
	return q.st().filterExplanations(func(e models.Explanation) bool {
		return e.ProblemID == problemID && e.Author == author
	}), nil
}

func (q *Queries) SnapshotSlots(ctx context.Context, problemID int64, author models.Author) (map[models.SlotKey]models.SlotSnapshot, error) {
	defer q.lock()()
	s := q.st()
	snap := map[models.SlotKey]models.SlotSnapshot{}
	for _, e := range s.explanations {
		if e.ProblemID != problemID || e.Author != author {
			continue
		}
		var likers []int64
		for k := range s.explLikes {
			if k.a == e.ID {
				likers = append(likers, k.b)
			}
		}
		slices.Sort(likers)
		snap[e.Slot] = models.SlotSnapshot{LikeCount: e.LikeCount, Likers: likers}
	}
	return snap, nil
}

func (q *Queries) DeleteAuthorExplanations(ctx context.Context, problemID int64, author models.Author, group store.SlotGroup) (int, error) {
	defer q.lock()()
	s := q.st()
	n := 0
	for id, e := range s.explanations {
		if e.ProblemID == problemID && e.Author == author && group.Contains(e.Slot) {
			s.deleteExplanation(id)
			n++
		}
	}
	return n, nil
}

func (q *Queries) DeleteOptionSlotsFrom(ctx context.Context, problemID int64, first int) (int, error) {
	defer q.lock()()
	s := q.st()
	n := 0
	for id, e := range s.explanations {
		if e.ProblemID == problemID && !e.Slot.IsOverall() && int(e.Slot) >= first {
			s.deleteExplanation(id)
			n++
		}
	}
	return n, nil
}

func (q *Queries) SaveExplanation(ctx context.Context, e *models.Explanation) error {
	defer q.lock()()
	s := q.st()
	if _, ok := s.problems[e.ProblemID]; !ok {
		return fmt.Errorf("save explanation: unknown problem %d: %w", e.ProblemID, store.ErrInvalid)
	}
	if !s.authorExists(e.Author) {
		return fmt.Errorf("save explanation: unknown author %s: %w", e.Author, store.ErrInvalid)
	}
	if e.Slot.IsOverall() {
		e.Slot = models.OverallSlot
	}
	now := q.db.now()
	for id, existing := range s.explanations {
		if existing.ProblemID == e.ProblemID && existing.Author == e.Author && existing.Slot == e.Slot {
			existing.Content = e.Content
			existing.Images = slices.Clone(e.Images)
			existing.UpdatedAt = now
			s.explanations[id] = existing
			e.ID = id
			e.LikeCount = existing.LikeCount
			e.CreatedAt = existing.CreatedAt
			e.UpdatedAt = now
			return nil
		}
	}

	e.ID = s.id()
	e.LikeCount = max(e.LikeCount, 0)
	e.CreatedAt = now
	e.UpdatedAt = now
	stored := *e
	stored.Review = models.Verdict{}
	stored.ReviewedAt = nil
	stored.Images = slices.Clone(e.Images)
	s.explanations[e.ID] = stored
	return nil
}

func (q *Queries) RestoreExplanationLikers(ctx context.Context, explanationID int64, userIDs []int64) error {
	defer q.lock()()
	s := q.st()
	if _, ok := s.explanations[explanationID]; !ok {
		return store.ErrNotFound
	}
	for _, uid := range userIDs {
		if s.hasUser(uid) {
			s.explLikes[pair{explanationID, uid}] = struct{}{}
		}
	}
	return nil
}

func (q *Queries) AddExplanationLike(ctx context.Context, explanationID, userID int64) (bool, int, error) {
	defer q.lock()()
	s := q.st()
	e, ok := s.explanations[explanationID]
	if !ok {
		return false, 0, store.ErrNotFound
	}
	k := pair{explanationID, userID}
	if _, liked := s.explLikes[k]; liked {
		return false, e.LikeCount, nil
	}
	s.explLikes[k] = struct{}{}
	e.LikeCount++
	s.explanations[explanationID] = e
	return true, e.LikeCount, nil
}

func (q *Queries) RemoveExplanationLike(ctx context.Context, explanationID, userID int64) (bool, int, error) {
	defer q.lock()()
	s := q.st()
	e, ok := s.explanations[explanationID]
	if !ok {
		return false, 0, store.ErrNotFound
	}
	k := pair{explanationID, userID}
	if _, liked := s.explLikes[k]; !liked {
		return false, e.LikeCount, nil
	}
	delete(s.explLikes, k)
	e.LikeCount = max(e.LikeCount-1, 0)
	s.explanations[explanationID] = e
	return true, e.LikeCount, nil
}

func (q *Queries) SetExplanationReview(ctx context.Context, explanationID int64, v models.Verdict) error {
	defer q.lock()()
	s := q.st()
	e, ok := s.explanations[explanationID]
	if !ok {
		return store.ErrNotFound
	}
	e.Review = e.Review.Merge(v)
	now := q.db.now()
	e.ReviewedAt = &now
	s.explanations[explanationID] = e
	return nil
}

// ── Model answers ───────────────────────────────────────

func (q *Queries) GetModelAnswer(ctx context.Context, problemID int64, author models.Author) (*models.ModelAnswer, error) {
	defer q.lock()()
	m, ok := q.st().modelAnswers[pair{problemID, author.UserID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (q *Queries) UpsertModelAnswer(ctx context.Context, m *models.ModelAnswer) error {
	defer q.lock()()
	s := q.st()
	if _, ok := s.problems[m.ProblemID]; !ok {
		return fmt.Errorf("upsert model answer: unknown problem %d: %w", m.ProblemID, store.ErrInvalid)
	}
	k := pair{m.ProblemID, m.Author.UserID}
	now := q.db.now()
	if existing, ok := s.modelAnswers[k]; ok {
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
	} else {
		m.ID = s.id()
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.modelAnswers[k] = *m
	return nil
}

func (q *Queries) DeleteModelAnswer(ctx context.Context, problemID int64, author models.Author) error {
	defer q.lock()()
	delete(q.st().modelAnswers, pair{problemID, author.UserID})
	return nil
}

// ── Answers ─────────────────────────────────────────────

func (q *Queries) RecordAnswer(ctx context.Context, a *models.Answer) error {
	defer q.lock()()
	s := q.st()
	if _, ok := s.problems[a.ProblemID]; !ok {
		return fmt.Errorf("record answer: unknown problem %d: %w", a.ProblemID, store.ErrInvalid)
	}
	a.ID = s.id()
	a.CreatedAt = q.db.now()
	s.answers = append(slices.Clone(s.answers), *a)
	return nil
}

func (q *Queries) SolverCount(ctx context.Context, problemID int64) (int, error) {
	defer q.lock()()
	seen := map[int64]struct{}{}
	for _, a := range q.st().answers {
		if a.ProblemID == problemID {
			seen[a.UserID] = struct{}{}
		}
	}
	return len(seen), nil
}
