package judge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/backend/internal/llm"
	"github.com/studyhub/backend/internal/llm/llmtest"
	"github.com/studyhub/backend/internal/logger"
	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/notify"
	"github.com/studyhub/backend/internal/store"
	"github.com/studyhub/backend/internal/store/memory"
)

type fixture struct {
	st      *memory.Store
	script  *llmtest.Scripted
	svc     *Service
	notify  *notify.Dispatcher
	author  models.Author
	problem *models.Problem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	script := llmtest.New()
	d := notify.NewDispatcher(st, logger.NewNop(), nil)

	u := &models.User{Email: "author@example.com", Username: "author"}
	require.NoError(t, st.CreateUser(ctx, u))
	p := &models.Problem{
		Title:     "Capitals",
		Body:      "Which city is the capital of France?",
		Type:      models.QuestionMultipleChoice,
		CreatedBy: u.ID,
		Options: []models.Option{
			{Content: "Lyon"},
			{Content: "Paris", IsCorrect: true},
			{Content: "Nice"},
		},
	}
	require.NoError(t, st.CreateProblem(ctx, p))

	return &fixture{
		st:      st,
		script:  script,
		svc:     NewService(st, script, nil, d, logger.NewNop(), nil),
		notify:  d,
		author:  models.UserAuthor(u.ID),
		problem: p,
	}
}

func (f *fixture) explanation(t *testing.T, author models.Author, slot models.SlotKey, content string) *models.Explanation {
	t.Helper()
	e := &models.Explanation{ProblemID: f.problem.ID, Author: author, Slot: slot, Content: content}
	require.NoError(t, f.st.SaveExplanation(context.Background(), e))
	return e
}

func (f *fixture) notifications(t *testing.T) []models.Notification {
	t.Helper()
	items, err := f.notify.List(context.Background(), f.author.UserID, false, 0)
	require.NoError(t, err)
	return items
}

func TestJudgeAuthorBundle_MergesAcrossRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.explanation(t, f.author, models.OverallSlot, "Lyon is the capital.")
	f.script.
		Reply(llm.PurposeJudge, `{"is_wrong": true, "score": 95}`).
		Reply(llm.PurposeJudge, `{"reason": "Paris is the capital, not Lyon."}`)

	require.NoError(t, f.svc.JudgeAuthorBundle(ctx, f.problem.ID, f.author))
	require.NoError(t, f.svc.JudgeAuthorBundle(ctx, f.problem.ID, f.author))

	j, err := f.svc.Judgement(ctx, f.problem.ID, f.author)
	require.NoError(t, err)
	require.NotNil(t, j.IsWrong)
	assert.True(t, *j.IsWrong)
	require.NotNil(t, j.Confidence)
	assert.Equal(t, 95, *j.Confidence)
	require.NotNil(t, j.Reason)
	assert.Equal(t, "Paris is the capital, not Lyon.", *j.Reason)

	items := f.notifications(t)
	require.Len(t, items, 1)
	assert.Equal(t, models.NotifyExplanationWrong, items[0].Type)
	require.NotNil(t, items[0].AIFlag)
	assert.True(t, *items[0].AIFlag)

	req := f.script.Requests()[0]
	assert.Equal(t, float64(0), req.Temperature)
	assert.Equal(t, 400, req.MaxTokens)
	assert.Contains(t, req.Prompt, "B) Paris")
}

func TestJudgeAuthorBundle_UpgradesCrowdNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.explanation(t, f.author, models.OverallSlot, "Lyon.")

	err := f.st.InTx(ctx, func(q store.Queries) error {
		return f.notify.Notify(ctx, q, f.author, models.Event{
			Type: models.NotifyExplanationWrong, ProblemID: f.problem.ID, CrowdFlag: models.Bool(true),
		})
	})
	require.NoError(t, err)

	f.script.Reply(llm.PurposeJudge, `{"is_wrong": "true"}`)
	require.NoError(t, f.svc.JudgeAuthorBundle(ctx, f.problem.ID, f.author))

	items := f.notifications(t)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].AIFlag)
	require.NotNil(t, items[0].CrowdFlag)
	assert.True(t, *items[0].AIFlag)
	assert.True(t, *items[0].CrowdFlag)
}

func TestJudgeAuthorBundle_UnparsedLeavesJudgementUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.explanation(t, f.author, models.OverallSlot, "Paris.")
	f.script.Reply(llm.PurposeJudge, "I'd rather not say.")

	require.NoError(t, f.svc.JudgeAuthorBundle(ctx, f.problem.ID, f.author))

	_, err := f.svc.Judgement(ctx, f.problem.ID, f.author)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, f.notifications(t))
}

func TestJudgeAuthorBundle_TransportErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	f.explanation(t, f.author, models.OverallSlot, "Paris.")
	f.script.Fail(llm.PurposeJudge, errors.New("connection reset"))

	err := f.svc.JudgeAuthorBundle(context.Background(), f.problem.ID, f.author)
	assert.Error(t, err)
}

func TestJudgeAuthorBundle_RewritesOptionNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.st.UpsertModelAnswer(ctx, &models.ModelAnswer{ProblemID: f.problem.ID, Author: f.author, Content: "2"}))
	f.script.Reply(llm.PurposeJudge, `{"is_wrong": false}`)

	require.NoError(t, f.svc.JudgeAuthorBundle(ctx, f.problem.ID, f.author))

	prompt := f.script.Requests()[0].Prompt
	assert.Contains(t, prompt, "[Author's model answer]\nB\n")
	assert.Empty(t, f.notifications(t))
}

func TestJudgeAuthorBundle_NothingAuthoredSkipsCompletion(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.JudgeAuthorBundle(context.Background(), f.problem.ID, f.author))
	require.NoError(t, f.svc.JudgeAuthorBundle(context.Background(), 9999, f.author))
	assert.Empty(t, f.script.Requests())
}

func TestJudgeSingleExplanation_NotWrongOnlyReviews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.explanation(t, f.author, models.OptionSlot(1), "Paris is the capital.")
	f.script.Reply(llm.PurposeJudge, `{"is_wrong": false, "score": 70, "reason": "Correct."}`)

	require.NoError(t, f.svc.JudgeSingleExplanation(ctx, e.ID))

	got, err := f.st.GetExplanation(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Review.IsWrong)
	assert.False(t, *got.Review.IsWrong)
	assert.Equal(t, 70, *got.Review.Confidence)
	assert.NotNil(t, got.ReviewedAt)

	_, err = f.svc.Judgement(ctx, f.problem.ID, f.author)
	assert.ErrorIs(t, err, store.ErrNotFound)

	prompt := f.script.Requests()[0].Prompt
	assert.Contains(t, prompt, "[Correct option]\nB")
	assert.Contains(t, prompt, "[Explanation is about option]\nB")
}

func TestJudgeSingleExplanation_WrongEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.explanation(t, f.author, models.OverallSlot, "Lyon is the capital.")

	f.script.Reply(llm.PurposeJudge, `{"is_wrong": false}`)
	require.NoError(t, f.svc.JudgeAuthorBundle(ctx, f.problem.ID, f.author))

	f.script.Reply(llm.PurposeJudge, `{"is_wrong": true, "reason": "Wrong city."}`)
	require.NoError(t, f.svc.JudgeSingleExplanation(ctx, e.ID))

	j, err := f.svc.Judgement(ctx, f.problem.ID, f.author)
	require.NoError(t, err)
	assert.True(t, j.Wrong())
	assert.Equal(t, "Wrong city.", *j.Reason)
	assert.Len(t, f.notifications(t), 1)

	f.script.Reply(llm.PurposeJudge, `{"is_wrong": false}`)
	require.NoError(t, f.svc.JudgeSingleExplanation(ctx, e.ID))
	j, err = f.svc.Judgement(ctx, f.problem.ID, f.author)
	require.NoError(t, err)
	assert.True(t, j.Wrong(), "a per-item pass never clears the bundle verdict")
}

func TestJudgeSingleExplanation_MachineAuthorNotNotified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.explanation(t, models.MachineAuthor(), models.OverallSlot, "Nice.")
	f.script.Reply(llm.PurposeJudge, `{"is_wrong": true}`)

	require.NoError(t, f.svc.JudgeSingleExplanation(ctx, e.ID))

	j, err := f.svc.Judgement(ctx, f.problem.ID, models.MachineAuthor())
	require.NoError(t, err)
	assert.True(t, j.Wrong())
	assert.Empty(t, f.notifications(t))
}

func TestJudgeAllExplanations_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.explanation(t, models.MachineAuthor(), models.OverallSlot, "AI overall.")
	second := f.explanation(t, f.author, models.OverallSlot, "Human overall.")
	f.script.
		Fail(llm.PurposeJudge, errors.New("timeout")).
		Reply(llm.PurposeJudge, `{"is_wrong": false, "score": 60}`)

	require.NoError(t, f.svc.JudgeAllExplanations(ctx, f.problem.ID))

	got, err := f.st.GetExplanation(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ReviewedAt)

	got, err = f.st.GetExplanation(ctx, second.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ReviewedAt)
}

func TestInertWithoutClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.explanation(t, f.author, models.OverallSlot, "Paris.")
	svc := NewService(f.st, nil, nil, f.notify, logger.NewNop(), nil)

	require.NoError(t, svc.JudgeAuthorBundle(ctx, f.problem.ID, f.author))
	require.NoError(t, svc.JudgeSingleExplanation(ctx, e.ID))
	require.NoError(t, svc.JudgeAllExplanations(ctx, f.problem.ID))

	_, err := svc.Judgement(ctx, f.problem.ID, f.author)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLabelOptionNumbers(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"2", 4, "B"},
		{"Answer: 1 and 3", 3, "Answer: A and C"},
		{"12 apples, choose 4", 5, "12 apples, choose D"},
		{"0", 4, "0"},
		{"v2.5", 4, "v2.5"},
	}
	for _, tt := range tests {
		if got := LabelOptionNumbers(tt.in, tt.n); got != tt.want {
			t.Errorf("LabelOptionNumbers(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestSystemPromptsCarryPolicy(t *testing.T) {
	for _, p := range []string{BundleSystemPrompt(), ExplanationSystemPrompt()} {
		for _, want := range []string{"is_wrong", "score", "reason", "not wrong"} {
			if !strings.Contains(p, want) {
				t.Errorf("system prompt missing %q", want)
			}
		}
	}
}
