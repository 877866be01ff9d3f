package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/backend/internal/auth"
	"github.com/studyhub/backend/internal/consensus"
	"github.com/studyhub/backend/internal/content"
	"github.com/studyhub/backend/internal/jobs"
	"github.com/studyhub/backend/internal/judge"
	"github.com/studyhub/backend/internal/logger"
	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/notify"
	"github.com/studyhub/backend/internal/store/memory"
)

const secret = "api-test-secret"

type server struct {
	t      *testing.T
	st     *memory.Store
	router http.Handler
	users  map[string]int64
}

func newServer(t *testing.T) *server {
	t.Helper()
	st := memory.New()
	log := logger.NewNop()
	d := notify.NewDispatcher(st, log, nil)
	h := NewHandler(
		content.NewService(st, jobs.NewScheduler(false, nil), d, log),
		consensus.NewService(st, d, log),
		judge.NewService(st, nil, nil, d, log, nil),
		d,
		log,
	)
	s := &server{
		t:      t,
		st:     st,
		router: NewRouter(h, auth.NewHandler(st), auth.NewVerifier(secret), log),
		users:  map[string]int64{},
	}
	for _, name := range []string{"ann", "ben", "cat"} {
		u := &models.User{Email: name + "@example.com", Username: name}
		require.NoError(t, st.CreateUser(context.Background(), u))
		s.users[name] = u.ID
	}
	return s
}

func (s *server) token(user string) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": s.users[user]}).SignedString([]byte(secret))
	require.NoError(s.t, err)
	return tok
}

// do sends body as JSON on behalf of user ("" for anonymous) and decodes the
// response into out when out is non-nil.
func (s *server) do(user, method, path string, body, out interface{}) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(user))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 && rec.Code != http.StatusNoContent {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func (s *server) createProblem(user string) models.Problem {
	s.t.Helper()
	var p models.Problem
	code := s.do(user, http.MethodPost, "/api/v1/problems", models.CreateProblemRequest{
		Title: "Capitals",
		Body:  "Which city is the capital of France?",
		Type:  models.QuestionMultipleChoice,
		Options: []models.OptionInput{
			{Content: "Lyon"},
			{Content: "Paris", IsCorrect: true},
		},
	}, &p)
	require.Equal(s.t, http.StatusCreated, code)
	return p
}

func TestHealthIsPublic(t *testing.T) {
	s := newServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, "trace-123", rec.Header().Get(requestIDHeader))
}

func TestAPIRequiresToken(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do("", http.MethodGet, "/api/v1/notifications", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do("", http.MethodPost, "/api/v1/problems", models.CreateProblemRequest{}, nil))
}

func TestCurrentUser(t *testing.T) {
	s := newServer(t)
	var u models.User
	require.Equal(t, http.StatusOK, s.do("ann", http.MethodGet, "/api/v1/auth/me", nil, &u))
	assert.Equal(t, "ann", u.Username)
}

func TestProblemLifecycle(t *testing.T) {
	s := newServer(t)
	p := s.createProblem("ann")
	path := fmt.Sprintf("/api/v1/problems/%d", p.ID)

	var got models.Problem
	require.Equal(t, http.StatusOK, s.do("ben", http.MethodGet, path, nil, &got))
	assert.Equal(t, "Capitals", got.Title)
	assert.Len(t, got.Options, 2)

	title := "Capital cities"
	assert.Equal(t, http.StatusForbidden, s.do("ben", http.MethodPut, path, models.UpdateProblemRequest{Title: &title}, nil))
	require.Equal(t, http.StatusOK, s.do("ann", http.MethodPut, path, models.UpdateProblemRequest{Title: &title}, &got))
	assert.Equal(t, title, got.Title)

	assert.Equal(t, http.StatusForbidden, s.do("ben", http.MethodDelete, path, nil, nil))
	assert.Equal(t, http.StatusNoContent, s.do("ann", http.MethodDelete, path, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do("ann", http.MethodGet, path, nil, nil))
}

func TestCreateProblemValidation(t *testing.T) {
	s := newServer(t)
	code := s.do("ann", http.MethodPost, "/api/v1/problems", models.CreateProblemRequest{
		Title:   "One option",
		Body:    "?",
		Type:    models.QuestionMultipleChoice,
		Options: []models.OptionInput{{Content: "only", IsCorrect: true}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/problems", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+s.token("ann"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExplanationsAndLikes(t *testing.T) {
	s := newServer(t)
	p := s.createProblem("ann")
	base := fmt.Sprintf("/api/v1/problems/%d", p.ID)

	var saved []models.Explanation
	require.Equal(t, http.StatusOK, s.do("ann", http.MethodPut, base+"/explanations", models.SaveExplanationsRequest{
		Overall: &models.ExplanationInput{Content: "Paris has been the capital since 987."},
	}, &saved))
	require.Len(t, saved, 1)

	var like models.LikeResponse
	likePath := fmt.Sprintf("/api/v1/explanations/%d/like", saved[0].ID)
	require.Equal(t, http.StatusOK, s.do("ben", http.MethodPost, likePath, nil, &like))
	assert.Equal(t, models.LikeResponse{Liked: true, LikeCount: 1}, like)
	require.Equal(t, http.StatusOK, s.do("ben", http.MethodDelete, likePath, nil, &like))
	assert.Equal(t, models.LikeResponse{Liked: false, LikeCount: 0}, like)

	var list []models.Explanation
	require.Equal(t, http.StatusOK, s.do("cat", http.MethodGet, base+"/explanations", nil, &list))
	assert.Len(t, list, 1)

	var notes []models.Notification
	require.Equal(t, http.StatusOK, s.do("ann", http.MethodGet, "/api/v1/notifications", nil, &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotifyExplanationLike, notes[0].Type)
}

func TestModelAnswer(t *testing.T) {
	s := newServer(t)
	p := s.createProblem("ann")
	path := fmt.Sprintf("/api/v1/problems/%d/model-answer", p.ID)

	var m models.ModelAnswer
	require.Equal(t, http.StatusOK, s.do("ann", http.MethodPut, path, models.ModelAnswerRequest{Content: "B"}, &m))
	assert.Equal(t, "B", m.Content)
	assert.Equal(t, http.StatusNoContent, s.do("ann", http.MethodPut, path, models.ModelAnswerRequest{Content: "  "}, nil))
}

func TestWrongFlags(t *testing.T) {
	s := newServer(t)
	p := s.createProblem("ann")

	var saved []models.Explanation
	require.Equal(t, http.StatusOK, s.do("ann", http.MethodPut, fmt.Sprintf("/api/v1/problems/%d/explanations", p.ID),
		models.SaveExplanationsRequest{Overall: &models.ExplanationInput{Content: "Lyon, obviously."}}, &saved))
	path := fmt.Sprintf("/api/v1/explanations/%d/wrong-flags", saved[0].ID)

	var status models.CrowdStatus
	require.Equal(t, http.StatusOK, s.do("ben", http.MethodPost, path, nil, &status))
	assert.Equal(t, 1, status.FlagCount)
	assert.True(t, status.FlaggedByMe)

	require.Equal(t, http.StatusOK, s.do("ben", http.MethodPost, path, nil, &status))
	assert.Equal(t, 1, status.FlagCount)

	require.Equal(t, http.StatusOK, s.do("cat", http.MethodGet, path, nil, &status))
	assert.Equal(t, 1, status.FlagCount)
	assert.False(t, status.FlaggedByMe)

	require.Equal(t, http.StatusOK, s.do("ben", http.MethodDelete, path, nil, &status))
	assert.Equal(t, 0, status.FlagCount)

	assert.Equal(t, http.StatusNotFound, s.do("ben", http.MethodGet, "/api/v1/explanations/9999/wrong-flags", nil, nil))
}

func TestAnswersAndJudgements(t *testing.T) {
	s := newServer(t)
	p := s.createProblem("ann")
	base := fmt.Sprintf("/api/v1/problems/%d", p.ID)

	var a models.Answer
	require.Equal(t, http.StatusCreated, s.do("ben", http.MethodPost, base+"/answers", models.SubmitAnswerRequest{SelectedOption: models.Int(1)}, &a))
	require.NotNil(t, a.IsCorrect)
	assert.True(t, *a.IsCorrect)
	assert.Equal(t, http.StatusBadRequest, s.do("ben", http.MethodPost, base+"/answers", models.SubmitAnswerRequest{SelectedOption: models.Int(5)}, nil))

	assert.Equal(t, http.StatusNotFound, s.do("ben", http.MethodGet, base+"/judgements/machine", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do("ben", http.MethodGet, fmt.Sprintf("%s/judgements/%d", base, s.users["ann"]), nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do("ben", http.MethodGet, base+"/judgements/someone", nil, nil))

	_, err := s.st.MergeJudgement(context.Background(), p.ID, models.MachineAuthor(), models.Verdict{IsWrong: models.Bool(true)})
	require.NoError(t, err)
	var j models.Judgement
	require.Equal(t, http.StatusOK, s.do("ben", http.MethodGet, base+"/judgements/machine", nil, &j))
	assert.True(t, j.Wrong())
}

func TestNotificationsMarkSeen(t *testing.T) {
	s := newServer(t)
	p := s.createProblem("ann")
	require.Equal(t, http.StatusOK, s.do("ben", http.MethodPost, fmt.Sprintf("/api/v1/problems/%d/like", p.ID), nil, nil))
	require.Equal(t, http.StatusOK, s.do("cat", http.MethodPost, fmt.Sprintf("/api/v1/problems/%d/like", p.ID), nil, nil))

	var notes []models.Notification
	require.Equal(t, http.StatusOK, s.do("ann", http.MethodGet, "/api/v1/notifications?unseen_only=true&limit=1", nil, &notes))
	require.Len(t, notes, 1)

	var count models.CountResponse
	require.Equal(t, http.StatusOK, s.do("ann", http.MethodPost, "/api/v1/notifications/seen", models.MarkSeenRequest{IDs: []int64{notes[0].ID}}, &count))
	assert.Equal(t, 1, count.Count)

	// Someone else's ids are ignored.
	require.Equal(t, http.StatusOK, s.do("ben", http.MethodPost, "/api/v1/notifications/seen", models.MarkSeenRequest{IDs: []int64{notes[0].ID}}, &count))
	assert.Equal(t, 0, count.Count)

	require.Equal(t, http.StatusOK, s.do("ann", http.MethodGet, "/api/v1/notifications?unseen_only=true", nil, &notes))
	assert.Len(t, notes, 1)
	require.Equal(t, http.StatusOK, s.do("ann", http.MethodGet, "/api/v1/notifications", nil, &notes))
	assert.Len(t, notes, 2)
}
