// Package storetest holds the behavioural suite every store.Store
// implementation must pass. Each case gets a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store"
)

// Run executes the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	cases := []struct {
		name string
		fn   func(t *testing.T, st store.Store)
	}{
		{"Problems", testProblems},
		{"ProblemLikes", testProblemLikes},
		{"ExplanationUpsert", testExplanationUpsert},
		{"ExplanationGroups", testExplanationGroups},
		{"DeleteOptionSlotsFrom", testDeleteOptionSlotsFrom},
		{"SnapshotAndRestore", testSnapshotAndRestore},
		{"ModelAnswers", testModelAnswers},
		{"WrongFlagsAndSolvers", testWrongFlagsAndSolvers},
		{"Judgements", testJudgements},
		{"Notifications", testNotifications},
		{"TaskQueue", testTaskQueue},
		{"TransactionRollback", testTransactionRollback},
		{"DeleteProblemCascades", testDeleteProblemCascades},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			c.fn(t, newStore(t))
		})
	}
}

type seed struct {
	users   []int64
	problem *models.Problem
}

func newUser(t *testing.T, st store.Store, name string) int64 {
	t.Helper()
	tag := uuid.NewString()[:8]
	u := &models.User{Email: name + "-" + tag + "@example.com", Username: name + "-" + tag, Name: name + " Tester"}
	require.NoError(t, st.CreateUser(context.Background(), u))
	require.NotZero(t, u.ID)
	return u.ID
}

func seedProblem(t *testing.T, st store.Store, users int) seed {
	t.Helper()
	s := seed{}
	for i := 0; i < users; i++ {
		s.users = append(s.users, newUser(t, st, "user"))
	}
	p := &models.Problem{
		Title:     "Capitals",
		Body:      "Which city is the capital of France?",
		Type:      models.QuestionMultipleChoice,
		CreatedBy: s.users[0],
		Options: []models.Option{
			{Content: "Lyon"},
			{Content: "Paris", IsCorrect: true},
			{Content: "Nice"},
		},
		Images: []string{"problems/map.png"},
	}
	require.NoError(t, st.CreateProblem(context.Background(), p))
	s.problem = p
	return s
}

func saveSlot(t *testing.T, st store.Store, problemID int64, author models.Author, slot models.SlotKey, content string) *models.Explanation {
	t.Helper()
	e := &models.Explanation{ProblemID: problemID, Author: author, Slot: slot, Content: content}
	require.NoError(t, st.SaveExplanation(context.Background(), e))
	return e
}

// ── Problems ────────────────────────────────────────────

func testProblems(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := seedProblem(t, st, 1)

	got, err := st.GetProblem(ctx, s.problem.ID)
	require.NoError(t, err)
	assert.Equal(t, "Capitals", got.Title)
	assert.Equal(t, models.QuestionMultipleChoice, got.Type)
	require.Len(t, got.Options, 3)
	for i, o := range got.Options {
		assert.Equal(t, i, o.Position)
	}
	assert.Equal(t, []int{1}, got.CorrectIndexes())
	assert.Equal(t, []string{"problems/map.png"}, got.Images)

	got.Title = "Capital cities"
	got.Options = []models.Option{{Content: "Paris", IsCorrect: true}, {Content: "Marseille"}}
	got.Images = nil
	require.NoError(t, st.UpdateProblem(ctx, got))

	got, err = st.GetProblem(ctx, s.problem.ID)
	require.NoError(t, err)
	assert.Equal(t, "Capital cities", got.Title)
	require.Len(t, got.Options, 2)
	assert.Equal(t, "Marseille", got.Options[1].Content)
	assert.Empty(t, got.Images)

	_, err = st.GetProblem(ctx, s.problem.ID+1000)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, st.LockProblem(ctx, s.problem.ID+1000), store.ErrNotFound)
}

func testProblemLikes(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := seedProblem(t, st, 2)
	pid, fan := s.problem.ID, s.users[1]

	added, n, err := st.AddProblemLike(ctx, pid, fan)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, n)

	added, n, err = st.AddProblemLike(ctx, pid, fan)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, n)

	removed, n, err := st.RemoveProblemLike(ctx, pid, fan)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, n)

	removed, n, err = st.RemoveProblemLike(ctx, pid, fan)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 0, n)

	_, _, err = st.AddProblemLike(ctx, pid+1000, fan)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// ── Explanations ────────────────────────────────────────

func testExplanationUpsert(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := seedProblem(t, st, 2)
	pid, author, fan := s.problem.ID, models.UserAuthor(s.users[0]), s.users[1]

	first := saveSlot(t, st, pid, author, models.OverallSlot, "first draft")
	_, n, err := st.AddExplanationLike(ctx, first.ID, fan)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	second := saveSlot(t, st, pid, author, models.OverallSlot, "second draft")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, second.LikeCount)

	got, err := st.GetExplanation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "second draft", got.Content)
	assert.Equal(t, author, got.Author)
	assert.True(t, got.Slot.IsOverall())

	saveSlot(t, st, pid, models.MachineAuthor(), models.OptionSlot(0), "machine A")
	saveSlot(t, st, pid, models.MachineAuthor(), models.OverallSlot, "machine overall")

	all, err := st.ListExplanations(ctx, pid)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Author.IsMachine())
	assert.True(t, all[0].Slot.IsOverall())
	assert.Equal(t, models.OptionSlot(0), all[1].Slot)
	assert.Equal(t, author, all[2].Author)

	mine, err := st.AuthorExplanations(ctx, pid, models.MachineAuthor())
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	require.NoError(t, st.SetExplanationReview(ctx, first.ID, models.Verdict{IsWrong: models.Bool(true), Confidence: models.Int(80)}))
	require.NoError(t, st.SetExplanationReview(ctx, first.ID, models.Verdict{Reason: models.String("wrong city")}))
	got, err = st.GetExplanation(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Review.Wrong())
	assert.Equal(t, 80, *got.Review.Confidence)
	assert.Equal(t, "wrong city", *got.Review.Reason)
	assert.NotNil(t, got.ReviewedAt)

	_, _, err = st.AddExplanationLike(ctx, first.ID+1000, fan)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testExplanationGroups(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := seedProblem(t, st, 2)
	pid, author := s.problem.ID, models.UserAuthor(s.users[0])

	saveSlot(t, st, pid, author, models.OverallSlot, "overall")
	opt := saveSlot(t, st, pid, author, models.OptionSlot(1), "B is right")
	saveSlot(t, st, pid, author, models.OptionSlot(2), "C is wrong")
	_, err := st.AddWrongFlag(ctx, opt.ID, s.users[1])
	require.NoError(t, err)

	n, err := st.DeleteAuthorExplanations(ctx, pid, author, store.GroupOptions)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := st.AuthorExplanations(ctx, pid, author)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.True(t, left[0].Slot.IsOverall())

	count, err := st.CountWrongFlags(ctx, opt.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	n, err = st.DeleteAuthorExplanations(ctx, pid, author, store.GroupAll)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testDeleteOptionSlotsFrom(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := seedProblem(t, st, 2)
	pid, author, machine := s.problem.ID, models.UserAuthor(s.users[0]), models.MachineAuthor()

	saveSlot(t, st, pid, author, models.OverallSlot, "overall")
	saveSlot(t, st, pid, author, models.OptionSlot(0), "A is wrong")
	saveSlot(t, st, pid, author, models.OptionSlot(2), "C is wrong")
	saveSlot(t, st, pid, machine, models.OptionSlot(2), "Nice is wrong.")

	n, err := st.DeleteOptionSlotsFrom(ctx, pid, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := st.AuthorExplanations(ctx, pid, author)
	require.NoError(t, err)
	var slots []models.SlotKey
	for _, e := range left {
		slots = append(slots, e.Slot)
	}
	assert.ElementsMatch(t, []models.SlotKey{models.OverallSlot, models.OptionSlot(0)}, slots)

	left, err = st.AuthorExplanations(ctx, pid, machine)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func testSnapshotAndRestore(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := seedProblem(t, st, 3)
	pid, machine := s.problem.ID, models.MachineAuthor()

	overall := saveSlot(t, st, pid, machine, models.OverallSlot, "v1")
	for _, u := range s.users[1:] {
		_, _, err := st.AddExplanationLike(ctx, overall.ID, u)
		require.NoError(t, err)
	}

	snap, err := st.SnapshotSlots(ctx, pid, machine)
	require.NoError(t, err)
	require.Contains(t, snap, models.OverallSlot)
	assert.Equal(t, 2, snap[models.OverallSlot].LikeCount)
	assert.ElementsMatch(t, s.users[1:], snap[models.OverallSlot].Likers)

	_, err = st.DeleteAuthorExplanations(ctx, pid, machine, store.GroupAll)
	require.NoError(t, err)

	next := &models.Explanation{ProblemID: pid, Author: machine, Slot: models.OverallSlot, Content: "v2", LikeCount: snap[models.OverallSlot].LikeCount}
	require.NoError(t, st.SaveExplanation(ctx, next))
	require.NoError(t, st.RestoreExplanationLikers(ctx, next.ID, snap[models.OverallSlot].Likers))
	assert.Equal(t, 2, next.LikeCount)

	added, n, err := st.AddExplanationLike(ctx, next.ID, s.users[1])
	require.NoError(t, err)
	assert.False(t, added, "restored liker cannot like twice")
	assert.Equal(t, 2, n)
}

// ── Model answers, answers, flags ───────────────────────

func testModelAnswers(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := seedProblem(t, st, 1)
	pid, author := s.problem.ID, models.UserAuthor(s.users[0])

	_, err := st.GetModelAnswer(ctx, pid, author)
	assert.ErrorIs(t, err, store.ErrNotFound)

	m := &models.ModelAnswer{ProblemID: pid, Author: author, Content: "B"}
	require.NoError(t, st.UpsertModelAnswer(ctx, m))
	first := m.ID
	m = &models.ModelAnswer{ProblemID: pid, Author: author, Content: "B, Paris"}
	require.NoError(t, st.UpsertModelAnswer(ctx, m))
	assert.Equal(t, first, m.ID)

	got, err := st.GetModelAnswer(ctx, pid, author)
	require.NoError(t, err)
	assert.Equal(t, "B, Paris", got.Content)

	require.NoError(t, st.UpsertModelAnswer(ctx, &models.ModelAnswer{ProblemID: pid, Author: models.MachineAuthor(), Content: "B"}))
	require.NoError(t, st.DeleteModelAnswer(ctx, pid, author))
	_, err = st.GetModelAnswer(ctx, pid, author)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetModelAnswer(ctx, pid, models.MachineAuthor())
	assert.NoError(t, err)
}

func testWrongFlagsAndSolvers(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := seedProblem(t, st, 3)
	pid := s.problem.ID
	e := saveSlot(t, st, pid, models.UserAuthor(s.users[0]), models.OverallSlot, "Lyon")

	for _, u := range []int64{s.users[1], s.users[1], s.users[2]} {
		require.NoError(t, st.RecordAnswer(ctx, &models.Answer{ProblemID: pid, UserID: u, SelectedOption: models.Int(1), IsCorrect: models.Bool(true)}))
	}
	solvers, err := st.SolverCount(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, 2, solvers)

	added, err := st.AddWrongFlag(ctx, e.ID, s.users[1])
	require.NoError(t, err)
	assert.True(t, added)
	added, err = st.AddWrongFlag(ctx, e.ID, s.users[1])
	require.NoError(t, err)
	assert.False(t, added)

	has, err := st.HasWrongFlag(ctx, e.ID, s.users[1])
	require.NoError(t, err)
	assert.True(t, has)

	removed, err := st.RemoveWrongFlag(ctx, e.ID, s.users[1])
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = st.RemoveWrongFlag(ctx, e.ID, s.users[1])
	require.NoError(t, err)
	assert.False(t, removed)

	count, err := st.CountWrongFlags(ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

// ── Judgements & notifications ──────────────────────────

func testJudgements(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := seedProblem(t, st, 1)
	pid := s.problem.ID

	_, err := st.GetJudgement(ctx, pid, models.MachineAuthor())
	assert.ErrorIs(t, err, store.ErrNotFound)

	j, err := st.MergeJudgement(ctx, pid, models.MachineAuthor(), models.Verdict{IsWrong: models.Bool(true), Confidence: models.Int(70)})
	require.NoError(t, err)
	assert.True(t, j.Wrong())
	assert.True(t, j.Author.IsMachine())

	j, err = st.MergeJudgement(ctx, pid, models.MachineAuthor(), models.Verdict{Reason: models.String("Lyon is not the capital")})
	require.NoError(t, err)
	assert.True(t, j.Wrong())
	assert.Equal(t, 70, *j.Confidence)
	assert.Equal(t, "Lyon is not the capital", *j.Reason)

	_, err = st.GetJudgement(ctx, pid, models.UserAuthor(s.users[0]))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testNotifications(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := seedProblem(t, st, 3)
	pid, owner := s.problem.ID, s.users[0]

	like := func(actor int64) *models.Notification {
		return &models.Notification{RecipientID: owner, Type: models.NotifyProblemLike, ProblemID: pid, ActorID: models.Int64(actor)}
	}
	n := like(s.users[1])
	inserted, err := st.InsertNotification(ctx, n)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, n.ID)

	inserted, err = st.InsertNotification(ctx, like(s.users[1]))
	require.NoError(t, err)
	assert.False(t, inserted, "same creation key")

	inserted, err = st.InsertNotification(ctx, like(s.users[2]))
	require.NoError(t, err)
	assert.True(t, inserted, "different actor")

	wrong := &models.Notification{RecipientID: owner, Type: models.NotifyExplanationWrong, ProblemID: pid, CrowdFlag: models.Bool(true)}
	inserted, err = st.InsertNotification(ctx, wrong)
	require.NoError(t, err)
	require.True(t, inserted)

	found, err := st.FindNotification(ctx, models.Event{RecipientID: owner, Type: models.NotifyExplanationWrong, ProblemID: pid, ActorID: models.Int64(s.users[2])})
	require.NoError(t, err, "wrong-content events ignore the actor")
	assert.Equal(t, wrong.ID, found.ID)

	found.AIFlag = models.Bool(true)
	require.NoError(t, st.UpdateNotification(ctx, found))
	found, err = st.FindNotification(ctx, models.Event{RecipientID: owner, Type: models.NotifyExplanationWrong, ProblemID: pid})
	require.NoError(t, err)
	require.NotNil(t, found.AIFlag)
	assert.True(t, *found.AIFlag)
	assert.True(t, *found.CrowdFlag)

	_, err = st.FindNotification(ctx, models.Event{RecipientID: s.users[1], Type: models.NotifyProblemLike, ProblemID: pid, ActorID: models.Int64(owner)})
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := st.ListNotifications(ctx, owner, false, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for _, item := range list {
		assert.Equal(t, "Capitals", item.ProblemTitle)
		if item.Type == models.NotifyProblemLike {
			require.NotNil(t, item.ActorName)
			assert.Equal(t, "user T.", *item.ActorName)
		}
	}

	list, err = st.ListNotifications(ctx, owner, false, 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	marked, err := st.MarkNotificationsSeen(ctx, s.users[1], []int64{n.ID})
	require.NoError(t, err)
	assert.Zero(t, marked, "not the recipient")
	marked, err = st.MarkNotificationsSeen(ctx, owner, []int64{n.ID, wrong.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	list, err = st.ListNotifications(ctx, owner, true, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// ── Task queue ──────────────────────────────────────────

func testTaskQueue(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := seedProblem(t, st, 1)
	pid, author := s.problem.ID, models.UserAuthor(s.users[0])

	none, err := st.ClaimTask(ctx, time.Hour)
	require.NoError(t, err)
	assert.Nil(t, none)

	bundle := models.Task{Op: models.TaskJudgeBundle, ProblemID: pid, Author: author}
	added, err := st.EnqueueTask(ctx, bundle)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = st.EnqueueTask(ctx, bundle)
	require.NoError(t, err)
	assert.False(t, added, "identical pending work coalesces")

	added, err = st.EnqueueTask(ctx, models.Task{Op: models.TaskJudgeBundle, ProblemID: pid})
	require.NoError(t, err)
	assert.True(t, added, "machine author is different work")

	claimed, err := st.ClaimTask(ctx, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, models.TaskRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	assert.Equal(t, author, claimed.Author)

	added, err = st.EnqueueTask(ctx, bundle)
	require.NoError(t, err)
	assert.True(t, added, "a running task does not block new work")

	// The retried task finds identical pending work and steps aside.
	require.NoError(t, st.RetryTask(ctx, claimed.ID, "boom", time.Now().Add(-time.Minute)))

	machine, err := st.ClaimTask(ctx, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, machine)
	assert.True(t, machine.Author.IsMachine())
	require.NoError(t, st.CompleteTask(ctx, machine.ID))

	again, err := st.ClaimTask(ctx, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.NotEqual(t, claimed.ID, again.ID)
	assert.Equal(t, author, again.Author)
	require.NoError(t, st.RetryTask(ctx, again.ID, "transient", time.Now().Add(-time.Minute)))

	retried, err := st.ClaimTask(ctx, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, again.ID, retried.ID)
	assert.Equal(t, 2, retried.Attempts)
	require.NoError(t, st.FailTask(ctx, retried.ID, "permanent"))

	none, err = st.ClaimTask(ctx, time.Hour)
	require.NoError(t, err)
	assert.Nil(t, none)
}

// ── Transactions ────────────────────────────────────────

var errAbort = errors.New("abort")

func testTransactionRollback(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := seedProblem(t, st, 2)
	pid := s.problem.ID

	err := st.InTx(ctx, func(q store.Queries) error {
		require.NoError(t, q.LockProblem(ctx, pid))
		if _, _, err := q.AddProblemLike(ctx, pid, s.users[1]); err != nil {
			return err
		}
		e := &models.Explanation{ProblemID: pid, Author: models.MachineAuthor(), Slot: models.OverallSlot, Content: "draft"}
		if err := q.SaveExplanation(ctx, e); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	p, err := st.GetProblem(ctx, pid)
	require.NoError(t, err)
	assert.Zero(t, p.LikeCount)
	expls, err := st.ListExplanations(ctx, pid)
	require.NoError(t, err)
	assert.Empty(t, expls)

	require.NoError(t, st.InTx(ctx, func(q store.Queries) error {
		_, _, err := q.AddProblemLike(ctx, pid, s.users[1])
		return err
	}))
	p, err = st.GetProblem(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, 1, p.LikeCount)
}

func testDeleteProblemCascades(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := seedProblem(t, st, 2)
	pid := s.problem.ID

	e := saveSlot(t, st, pid, models.UserAuthor(s.users[0]), models.OverallSlot, "text")
	_, _, err := st.AddExplanationLike(ctx, e.ID, s.users[1])
	require.NoError(t, err)
	_, err = st.MergeJudgement(ctx, pid, models.MachineAuthor(), models.Verdict{IsWrong: models.Bool(false)})
	require.NoError(t, err)
	_, err = st.InsertNotification(ctx, &models.Notification{RecipientID: s.users[0], Type: models.NotifyProblemLike, ProblemID: pid, ActorID: models.Int64(s.users[1])})
	require.NoError(t, err)
	_, err = st.EnqueueTask(ctx, models.Task{Op: models.TaskGenerate, ProblemID: pid})
	require.NoError(t, err)

	require.NoError(t, st.DeleteProblem(ctx, pid))
	assert.ErrorIs(t, st.DeleteProblem(ctx, pid), store.ErrNotFound)

	_, err = st.GetExplanation(ctx, e.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetJudgement(ctx, pid, models.MachineAuthor())
	assert.ErrorIs(t, err, store.ErrNotFound)
	list, err := st.ListNotifications(ctx, s.users[0], false, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	task, err := st.ClaimTask(ctx, time.Hour)
	require.NoError(t, err)
	assert.Nil(t, task)
}
