package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/backend/internal/logger"
	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store"
	"github.com/studyhub/backend/internal/store/memory"
)

type fixture struct {
	st      *memory.Store
	d       *Dispatcher
	author  *models.User
	alice   *models.User
	bob     *models.User
	problem *models.Problem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	f := &fixture{st: st, d: NewDispatcher(st, logger.NewNop(), nil)}

	f.author = &models.User{Email: "a@example.com", Name: "Ann Author", Username: "ann"}
	f.alice = &models.User{Email: "alice@example.com", Name: "Alice Liddell", Username: "alice"}
	f.bob = &models.User{Email: "bob@example.com", Username: "bob"}
	for _, u := range []*models.User{f.author, f.alice, f.bob} {
		require.NoError(t, st.CreateUser(ctx, u))
	}
	f.problem = &models.Problem{Title: "Photosynthesis", Body: "Explain.", Type: models.QuestionFreeResponse, CreatedBy: f.author.ID}
	require.NoError(t, st.CreateProblem(ctx, f.problem))
	return f
}

func (f *fixture) upsert(t *testing.T, ev models.Event) {
	t.Helper()
	err := f.st.InTx(context.Background(), func(q store.Queries) error {
		return f.d.UpsertEvent(context.Background(), q, ev)
	})
	require.NoError(t, err)
}

func (f *fixture) all(t *testing.T) []models.Notification {
	t.Helper()
	items, err := f.d.List(context.Background(), f.author.ID, false, MaxListLimit)
	require.NoError(t, err)
	return items
}

func TestUpsertEvent_LikeDedupPerActor(t *testing.T) {
	f := newFixture(t)
	like := func(actor int64) models.Event {
		return models.Event{RecipientID: f.author.ID, Type: models.NotifyExplanationLike, ProblemID: f.problem.ID, ActorID: &actor}
	}

	f.upsert(t, like(f.alice.ID))
	f.upsert(t, like(f.alice.ID))
	require.Len(t, f.all(t), 1)

	f.upsert(t, like(f.bob.ID))
	items := f.all(t)
	require.Len(t, items, 2)
	assert.NotEqual(t, *items[0].ActorID, *items[1].ActorID)
}

func TestUpsertEvent_WrongEventMergesFlags(t *testing.T) {
	f := newFixture(t)
	wrong := models.Event{RecipientID: f.author.ID, Type: models.NotifyExplanationWrong, ProblemID: f.problem.ID}

	crowd := wrong
	crowd.CrowdFlag = models.Bool(true)
	f.upsert(t, crowd)

	items := f.all(t)
	require.Len(t, items, 1)
	n, err := f.d.MarkSeen(context.Background(), f.author.ID, []int64{items[0].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ai := wrong
	ai.AIFlag = models.Bool(true)
	f.upsert(t, ai)

	items = f.all(t)
	require.Len(t, items, 1)
	got := items[0]
	require.NotNil(t, got.AIFlag)
	require.NotNil(t, got.CrowdFlag)
	assert.True(t, *got.AIFlag)
	assert.True(t, *got.CrowdFlag)
	assert.Nil(t, got.ActorID)
	assert.False(t, got.Seen, "a refined event resurfaces")
}

func TestUpsertEvent_UnknownNeverOverwritesKnown(t *testing.T) {
	f := newFixture(t)
	ev := models.Event{RecipientID: f.author.ID, Type: models.NotifyExplanationWrong, ProblemID: f.problem.ID, AIFlag: models.Bool(true)}
	f.upsert(t, ev)
	_, err := f.d.MarkSeen(context.Background(), f.author.ID, []int64{f.all(t)[0].ID})
	require.NoError(t, err)

	ev.AIFlag = nil
	f.upsert(t, ev)
	ev.AIFlag = models.Bool(true)
	f.upsert(t, ev)

	got := f.all(t)[0]
	require.NotNil(t, got.AIFlag)
	assert.True(t, *got.AIFlag)
	assert.Nil(t, got.CrowdFlag)
	assert.True(t, got.Seen, "no flag changed, so the row stays seen")
}

func TestUpsertEvent_WrongEventIgnoresActor(t *testing.T) {
	f := newFixture(t)
	for _, actor := range []int64{f.alice.ID, f.bob.ID} {
		f.upsert(t, models.Event{
			RecipientID: f.author.ID, Type: models.NotifyExplanationWrong, ProblemID: f.problem.ID,
			ActorID: models.Int64(actor), CrowdFlag: models.Bool(true),
		})
	}
	items := f.all(t)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].ActorID)
}

func TestUpsertEvent_RejectsSelf(t *testing.T) {
	f := newFixture(t)
	err := f.st.InTx(context.Background(), func(q store.Queries) error {
		return f.d.UpsertEvent(context.Background(), q, models.Event{
			RecipientID: f.author.ID, Type: models.NotifyProblemLike, ProblemID: f.problem.ID, ActorID: &f.author.ID,
		})
	})
	assert.ErrorIs(t, err, ErrSelfNotification)
}

func TestNotify_DropsSelfAndMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := models.Event{Type: models.NotifyExplanationLike, ProblemID: f.problem.ID, ActorID: &f.author.ID}

	require.NoError(t, f.d.Notify(ctx, f.st, models.UserAuthor(f.author.ID), ev))
	require.NoError(t, f.d.Notify(ctx, f.st, models.MachineAuthor(), ev))
	assert.Empty(t, f.all(t))

	ev.ActorID = &f.alice.ID
	require.NoError(t, f.d.Notify(ctx, f.st, models.UserAuthor(f.author.ID), ev))
	assert.Len(t, f.all(t), 1)
}

func TestList_OrderEnrichmentAndClamp(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	f.st.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	f.upsert(t, models.Event{RecipientID: f.author.ID, Type: models.NotifyProblemLike, ProblemID: f.problem.ID, ActorID: &f.alice.ID})
	f.upsert(t, models.Event{RecipientID: f.author.ID, Type: models.NotifyProblemLike, ProblemID: f.problem.ID, ActorID: &f.bob.ID})

	items, err := f.d.List(context.Background(), f.author.ID, false, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, f.bob.ID, *items[0].ActorID, "newest first")
	assert.Equal(t, "Photosynthesis", items[0].ProblemTitle)
	require.NotNil(t, items[0].ActorName)
	assert.Equal(t, f.bob.DisplayName(), *items[0].ActorName)
	assert.Equal(t, f.alice.DisplayName(), *items[1].ActorName)

	items, err = f.d.List(context.Background(), f.author.ID, false, 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = f.d.List(context.Background(), f.alice.ID, false, 10_000)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestMarkSeen_OnlyOwnRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upsert(t, models.Event{RecipientID: f.author.ID, Type: models.NotifyProblemLike, ProblemID: f.problem.ID, ActorID: &f.alice.ID})
	id := f.all(t)[0].ID

	n, err := f.d.MarkSeen(ctx, f.bob.ID, []int64{id})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.d.MarkSeen(ctx, f.author.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	unseen, err := f.d.List(ctx, f.author.ID, true, 0)
	require.NoError(t, err)
	assert.Len(t, unseen, 1)

	n, err = f.d.MarkSeen(ctx, f.author.ID, []int64{id, id + 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	unseen, err = f.d.List(ctx, f.author.ID, true, 0)
	require.NoError(t, err)
	assert.Empty(t, unseen)
}
