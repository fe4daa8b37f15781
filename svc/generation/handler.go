package generation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mbrainaly/flashcard-backend/pkg/credits"
)

// Handler exposes the generation endpoints. Authentication is handled
// upstream; routes take the user id as a path parameter.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if svc == nil {
		panic("generation: Service is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Router returns the generation routes, to be mounted by the caller:
//
//	r.Mount("/v1/generate", handler.Router())
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Post("/flashcards", h.flashcards)
		r.Post("/quiz", h.quiz)
		r.Post("/notes", h.notes)
		r.Post("/assist", h.assist)
	})
	return r
}

type topicRequest struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

func (h *Handler) flashcards(w http.ResponseWriter, r *http.Request) {
	userID, req, ok := h.topicRequest(w, r)
	if !ok {
		return
	}

	cards, err := h.svc.GenerateFlashcards(r.Context(), userID, req.Topic, req.Count)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"flashcards": cards})
}

func (h *Handler) quiz(w http.ResponseWriter, r *http.Request) {
	userID, req, ok := h.topicRequest(w, r)
	if !ok {
		return
	}

	questions, err := h.svc.GenerateQuiz(r.Context(), userID, req.Topic, req.Count)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

func (h *Handler) notes(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Source == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source is required"})
		return
	}

	notes, err := h.svc.GenerateNotes(r.Context(), userID, req.Source)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"notes": notes})
}

func (h *Handler) assist(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	answer, err := h.svc.Assist(r.Context(), userID, req.Question)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (h *Handler) topicRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, topicRequest, bool) {
	userID, ok := h.userID(w, r)
	if !ok {
		return uuid.Nil, topicRequest{}, false
	}

	var req topicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Topic == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "topic is required"})
		return uuid.Nil, topicRequest{}, false
	}
	if req.Count <= 0 {
		req.Count = 10
	}
	return userID, req, true
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, credits.ErrUserNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.log.ErrorContext(r.Context(), "generation request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		h.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "generation failed"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("failed to encode response", slog.Any("error", err))
	}
}
