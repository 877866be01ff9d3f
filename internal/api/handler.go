// Package api serves the HTTP surface of the explanation engine.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/studyhub/backend/internal/auth"
	"github.com/studyhub/backend/internal/consensus"
	"github.com/studyhub/backend/internal/content"
	"github.com/studyhub/backend/internal/judge"
	"github.com/studyhub/backend/internal/logger"
	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/notify"
	"github.com/studyhub/backend/internal/store"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	content   *content.Service
	consensus *consensus.Service
	judge     *judge.Service
	notify    *notify.Dispatcher
	log       *logger.Logger
}

func NewHandler(c *content.Service, cs *consensus.Service, j *judge.Service, n *notify.Dispatcher, log *logger.Logger) *Handler {
	return &Handler{
		content:   c,
		consensus: cs,
		judge:     j,
		notify:    n,
		log:       log.With("component", "api"),
	}
}

// ── Problems ────────────────────────────────────────────

func (h *Handler) CreateProblem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req models.CreateProblemRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.content.CreateProblem(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetProblem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.content.GetProblem(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateProblem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdateProblemRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.content.UpdateProblem(r.Context(), userID, id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteProblem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.content.DeleteProblem(r.Context(), userID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LikeProblem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var resp models.LikeResponse
	var err error
	if r.Method == http.MethodDelete {
		resp, err = h.content.UnlikeProblem(r.Context(), userID, id)
	} else {
		resp, err = h.content.LikeProblem(r.Context(), userID, id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.SubmitAnswerRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := h.content.RecordAnswer(r.Context(), userID, id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ── Explanations & model answers ────────────────────────

func (h *Handler) ListExplanations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	expls, err := h.content.ListExplanations(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expls)
}

func (h *Handler) SaveExplanations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.SaveExplanationsRequest
	if !decode(w, r, &req) {
		return
	}

	expls, err := h.content.SaveExplanations(r.Context(), userID, id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expls)
}

func (h *Handler) SetModelAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.ModelAnswerRequest
	if !decode(w, r, &req) {
		return
	}

	m, err := h.content.SetModelAnswer(r.Context(), userID, id, req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if m == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) LikeExplanation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var resp models.LikeResponse
	var err error
	if r.Method == http.MethodDelete {
		resp, err = h.content.UnlikeExplanation(r.Context(), userID, id)
	} else {
		resp, err = h.content.LikeExplanation(r.Context(), userID, id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── Crowd consensus ─────────────────────────────────────

// WrongFlags serves GET, POST and DELETE on an explanation's wrong flags.
// Every method answers with the current crowd status for the caller.
func (h *Handler) WrongFlags(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var err error
	switch r.Method {
	case http.MethodPost:
		_, err = h.consensus.AddWrongFlag(r.Context(), id, userID)
	case http.MethodDelete:
		_, err = h.consensus.RemoveWrongFlag(r.Context(), id, userID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status, err := h.consensus.Status(r.Context(), id, &userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ── Judgements ──────────────────────────────────────────

func (h *Handler) GetJudgement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	author, err := parseAuthor(mux.Vars(r)["author"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "author must be a user id or 'machine'"})
		return
	}

	j, err := h.judge.Judgement(r.Context(), id, author)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func parseAuthor(s string) (models.Author, error) {
	if s == "machine" {
		return models.MachineAuthor(), nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return models.Author{}, errors.New("invalid author")
	}
	return models.UserAuthor(id), nil
}

// ── Notifications ───────────────────────────────────────

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	unseenOnly, _ := strconv.ParseBool(query.Get("unseen_only"))
	limit := intQueryParam(query, "limit", notify.DefaultListLimit)

	items, err := h.notify.List(r.Context(), userID, unseenOnly, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) MarkNotificationsSeen(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req models.MarkSeenRequest
	if !decode(w, r, &req) {
		return
	}

	n, err := h.notify.MarkSeen(r.Context(), userID, req.IDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.CountResponse{Count: n})
}

// ── Helpers ─────────────────────────────────────────────

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
	}
	return id, ok
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Not found"})
	case errors.Is(err, store.ErrForbidden):
		writeJSON(w, http.StatusForbidden, models.ErrorResponse{Error: "Forbidden"})
	case errors.Is(err, store.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	default:
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error"})
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid " + name})
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func intQueryParam(query url.Values, key string, defaultVal int) int {
	s := query.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
