package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"quizlive-service/internal/app"
	"quizlive-service/internal/domain"
)

// SessionHandler serves the plain-HTTP session endpoints: opening a session
// and reading a report.
type SessionHandler struct {
	registry *app.SessionRegistry
	store    app.SessionStore
}

func NewSessionHandler(registry *app.SessionRegistry, store app.SessionStore) *SessionHandler {
	return &SessionHandler{registry: registry, store: store}
}

type createSessionRequest struct {
	QuizPublicID string `json:"quiz_public_id"`
}

type createSessionResponse struct {
	Code string `json:"code"`
}

// CreateSession handles POST /sessions. The acting instructor comes from
// query parameters; authentication happens upstream.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuizPublicID == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	userID, _ := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	instructor := domain.User{
		ID:       userID,
		PublicID: r.URL.Query().Get("userPublicId"),
		Name:     r.URL.Query().Get("name"),
	}
	if instructor.PublicID == "" {
		http.Error(w, "missing userPublicId", http.StatusBadRequest)
		return
	}

	code, err := h.registry.Create(r.Context(), instructor, req.QuizPublicID)
	switch {
	case errors.Is(err, domain.ErrQuizNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrQuizEmpty):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		log.Printf("create session: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, createSessionResponse{Code: code})
}

// Report handles GET /sessions/report?publicId=...
func (h *SessionHandler) Report(w http.ResponseWriter, r *http.Request) {
	publicID := r.URL.Query().Get("publicId")
	if publicID == "" {
		http.Error(w, "missing publicId", http.StatusBadRequest)
		return
	}
	report, err := h.store.SessionReport(r.Context(), publicID)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		log.Printf("session report: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
