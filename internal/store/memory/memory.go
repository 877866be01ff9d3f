// Package memory implements store.Store in process memory. Transactions are
// serialized by one mutex and roll back by restoring a snapshot, which gives
// the same observable semantics as the postgres store for a single process.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store"
)

type pair struct {
	a, b int64
}

// Slices inside stored values are never mutated in place, only replaced, so
// a shallow map copy is a consistent snapshot.
type state struct {
	nextID        int64
	users         map[int64]models.User
	problems      map[int64]models.Problem
	problemLikes  map[pair]struct{}
	explanations  map[int64]models.Explanation
	explLikes     map[pair]struct{}
	wrongFlags    map[pair]struct{}
	modelAnswers  map[pair]models.ModelAnswer
	answers       []models.Answer
	judgements    map[pair]models.Judgement
	notifications map[int64]models.Notification
	tasks         map[int64]models.Task
}

func newState() *state {
	return &state{
		users:         map[int64]models.User{},
		problems:      map[int64]models.Problem{},
		problemLikes:  map[pair]struct{}{},
		explanations:  map[int64]models.Explanation{},
		explLikes:     map[pair]struct{}{},
		wrongFlags:    map[pair]struct{}{},
		modelAnswers:  map[pair]models.ModelAnswer{},
		judgements:    map[pair]models.Judgement{},
		notifications: map[int64]models.Notification{},
		tasks:         map[int64]models.Task{},
	}
}

func (s *state) clone() *state {
	return &state{
		nextID:        s.nextID,
		users:         maps.Clone(s.users),
		problems:      maps.Clone(s.problems),
		problemLikes:  maps.Clone(s.problemLikes),
		explanations:  maps.Clone(s.explanations),
		explLikes:     maps.Clone(s.explLikes),
		wrongFlags:    maps.Clone(s.wrongFlags),
		modelAnswers:  maps.Clone(s.modelAnswers),
		answers:       slices.Clone(s.answers),
		judgements:    maps.Clone(s.judgements),
		notifications: maps.Clone(s.notifications),
		tasks:         maps.Clone(s.tasks),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

type db struct {
	mu   sync.Mutex
	data *state
	now  func() time.Time
}

// Queries operates on the shared state. Outside a transaction every call
// takes the lock itself; inside InTx the transaction already holds it.
type Queries struct {
	db   *db
	inTx bool
}

type Store struct {
	*Queries
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{Queries: &Queries{db: &db{data: newState(), now: time.Now}}}
}

// SetClock replaces the time source, for tests that exercise task backoff.
func (s *Store) SetClock(now func() time.Time) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.now = now
}

func (s *Store) InTx(ctx context.Context, fn func(q store.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	saved := s.db.data.clone()
	if err := fn(&Queries{db: s.db, inTx: true}); err != nil {
		s.db.data = saved
		return err
	}
	return nil
}

func (q *Queries) lock() func() {
	if q.inTx {
		return func() {}
	}
	q.db.mu.Lock()
	return q.db.mu.Unlock
}

func (q *Queries) st() *state {
	return q.db.data
}

// Tasks returns every queued task ordered by id, for inspection in tests.
func (s *Store) Tasks() []models.Task {
	defer s.lock()()
	out := slices.Collect(maps.Values(s.st().tasks))
	slices.SortFunc(out, func(a, b models.Task) int {
		return int(a.ID - b.ID)
	})
	return out
}
