package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/studyhub/backend/internal/auth"
	"github.com/studyhub/backend/internal/logger"
)

// NewRouter mounts every /api/v1 route behind token verification, plus an
// unauthenticated /health.
func NewRouter(h *Handler, users *auth.Handler, v *auth.Verifier, log *logger.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestLogger(log))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(v.Middleware)

	api.HandleFunc("/auth/me", users.GetCurrentUser).Methods("GET")

	// Problems
	api.HandleFunc("/problems", h.CreateProblem).Methods("POST")
	api.HandleFunc("/problems/{id:[0-9]+}", h.GetProblem).Methods("GET")
	api.HandleFunc("/problems/{id:[0-9]+}", h.UpdateProblem).Methods("PUT")
	api.HandleFunc("/problems/{id:[0-9]+}", h.DeleteProblem).Methods("DELETE")
	api.HandleFunc("/problems/{id:[0-9]+}/like", h.LikeProblem).Methods("POST", "DELETE")
	api.HandleFunc("/problems/{id:[0-9]+}/answers", h.SubmitAnswer).Methods("POST")

	// Explanations, model answers and judgements
	api.HandleFunc("/problems/{id:[0-9]+}/explanations", h.ListExplanations).Methods("GET")
	api.HandleFunc("/problems/{id:[0-9]+}/explanations", h.SaveExplanations).Methods("PUT")
	api.HandleFunc("/problems/{id:[0-9]+}/model-answer", h.SetModelAnswer).Methods("PUT")
	api.HandleFunc("/problems/{id:[0-9]+}/judgements/{author}", h.GetJudgement).Methods("GET")
	api.HandleFunc("/explanations/{id:[0-9]+}/like", h.LikeExplanation).Methods("POST", "DELETE")
	api.HandleFunc("/explanations/{id:[0-9]+}/wrong-flags", h.WrongFlags).Methods("GET", "POST", "DELETE")

	// Notifications
	api.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
	api.HandleFunc("/notifications/seen", h.MarkNotificationsSeen).Methods("POST")

	return r
}
