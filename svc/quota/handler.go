package quota

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mbrainaly/flashcard-backend/pkg/credits"
)

// Handler exposes the credit subsystem over HTTP for the dashboard and
// for internal callers. Authentication is handled upstream; routes take
// the user id as a path parameter.
type Handler struct {
	ledger  *credits.Ledger
	gate    *credits.Gate
	tracker *credits.ActivityTracker
	log     *slog.Logger
}

// NewHandler creates a Handler. tracker may be nil when monthly activity
// reporting is not wired.
func NewHandler(ledger *credits.Ledger, gate *credits.Gate, tracker *credits.ActivityTracker, log *slog.Logger) *Handler {
	if ledger == nil {
		panic("quota: Ledger is required")
	}
	if gate == nil {
		panic("quota: Gate is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledger: ledger, gate: gate, tracker: tracker, log: log}
}

// Router returns the quota routes, to be mounted by the caller:
//
//	r.Mount("/v1/quota", handler.Router())
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/usage", h.allUsage)
		r.Get("/usage/{feature}", h.featureUsage)
		r.Post("/evaluate", h.evaluate)
		r.Post("/release", h.release)
	})
	return r
}

type usageResponse struct {
	Credits  map[credits.Feature]credits.FeatureCredits `json:"credits"`
	Activity map[credits.ActivityKind]int64             `json:"activity,omitempty"`
}

func (h *Handler) allUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	all, err := h.ledger.AllUsage(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := usageResponse{Credits: all}
	if h.tracker != nil {
		resp.Activity = make(map[credits.ActivityKind]int64, 2)
		for _, kind := range []credits.ActivityKind{credits.ActivityQuizzesGenerated, credits.ActivityNotesGenerated} {
			n, err := h.tracker.MonthToDate(r.Context(), userID, kind)
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			resp.Activity[kind] = n
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) featureUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	feature := credits.Feature(chi.URLParam(r, "feature"))
	fc, err := h.ledger.CurrentUsage(r.Context(), userID, feature)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, fc)
}

type evaluateRequest struct {
	Feature credits.Feature `json:"feature"`
	Cost    int64           `json:"cost"`
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Cost == 0 {
		req.Cost = 1
	}

	dec, err := h.gate.Evaluate(r.Context(), userID, req.Feature, req.Cost)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !dec.Allowed {
		h.writeJSON(w, http.StatusForbidden, dec)
		return
	}
	h.writeJSON(w, http.StatusOK, dec)
}

type releaseRequest struct {
	Feature credits.Feature `json:"feature"`
	Amount  int64           `json:"amount"`
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if err := h.ledger.Release(r.Context(), userID, req.Feature, req.Amount); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors to HTTP statuses: lookups that found
// nothing are 404, caller mistakes are 400, everything else is a 500.
// Quota denials never reach here; they are decisions, not errors.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, credits.ErrUserNotFound), errors.Is(err, credits.ErrPlanNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, credits.ErrInvalidFeature),
		errors.Is(err, credits.ErrNonPositiveCost),
		errors.Is(err, credits.ErrNoCounterRegistered):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		h.log.ErrorContext(r.Context(), "quota request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("failed to encode response", slog.Any("error", err))
	}
}
