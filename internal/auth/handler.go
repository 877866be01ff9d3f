package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/studyhub/backend/internal/models"
	"github.com/studyhub/backend/internal/store"
)

// UserReader is the slice of the content store the handler needs.
type UserReader interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

type Handler struct {
	users UserReader
}

func NewHandler(users UserReader) *Handler {
	return &Handler{users: users}
}

func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "User not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
