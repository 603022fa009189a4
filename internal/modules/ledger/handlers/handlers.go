// Package handlers exposes the read-only ledger query surface plus the one
// mutation the dashboard is allowed: attaching an exit outcome.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/signald/internal/domain"
	"github.com/aristath/signald/internal/modules/ledger"
)

// Handler handles ledger HTTP requests.
type Handler struct {
	repo     *ledger.Repository
	recorder *ledger.Recorder
	pending  *ledger.PendingRepository
	log      zerolog.Logger
}

// NewHandler creates a ledger handler.
func NewHandler(repo *ledger.Repository, recorder *ledger.Recorder, pending *ledger.PendingRepository, log zerolog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		recorder: recorder,
		pending:  pending,
		log:      log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleQuery handles GET /api/ledger.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.repo.Query(filters)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query ledger")
		h.writeError(w, http.StatusInternalServerError, "failed to query ledger")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// HandleGet handles GET /api/ledger/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")

	entry, err := h.repo.Get(entryID)
	if errors.Is(err, domain.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("entry_id", entryID).Msg("Failed to load entry")
		h.writeError(w, http.StatusInternalServerError, "failed to load entry")
		return
	}

	h.writeJSON(w, http.StatusOK, entry)
}

// exitRequest is the amend payload.
type exitRequest struct {
	OutcomeID   string  `json:"outcome_id"`
	FillPrice   float64 `json:"fill_price"`
	PnL         float64 `json:"pnl"`
	CloseReason string  `json:"close_reason"`
	ClosedAt    string  `json:"closed_at,omitempty"`
}

// HandleExit handles POST /api/ledger/{id}/exit.
func (h *Handler) HandleExit(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")

	var req exitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OutcomeID == "" {
		h.writeError(w, http.StatusBadRequest, "outcome_id is required")
		return
	}

	closedAt := time.Now().UTC()
	if req.ClosedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ClosedAt)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "closed_at must be RFC3339")
			return
		}
		closedAt = parsed.UTC()
	}

	outcome := ledger.ExitOutcome{
		OutcomeID:   req.OutcomeID,
		FillPrice:   req.FillPrice,
		PnL:         req.PnL,
		CloseReason: req.CloseReason,
		ClosedAt:    closedAt,
	}

	err := h.recorder.AmendExit(entryID, outcome)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "entry not found")
	case errors.Is(err, domain.ErrOutcomeConflict):
		h.writeError(w, http.StatusConflict, "entry already closed by a different outcome")
	case err != nil:
		h.log.Error().Err(err).Str("entry_id", entryID).Msg("Failed to amend entry")
		h.writeError(w, http.StatusInternalServerError, "failed to record exit outcome")
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{
			"status":     "recorded",
			"entry_id":   entryID,
			"outcome_id": outcome.OutcomeID,
		})
	}
}

// HandlePending handles GET /api/ledger/pending. Operator visibility into
// the append retry queue.
func (h *Handler) HandlePending(w http.ResponseWriter, r *http.Request) {
	counts, err := h.pending.CountByStatus()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to count retry queue")
		h.writeError(w, http.StatusInternalServerError, "failed to read retry queue")
		return
	}

	h.writeJSON(w, http.StatusOK, counts)
}

func parseFilters(r *http.Request) (ledger.QueryFilters, error) {
	var filters ledger.QueryFilters
	q := r.URL.Query()

	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, errors.New("since must be RFC3339")
		}
		filters.Since = ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, errors.New("until must be RFC3339")
		}
		filters.Until = ts
	}
	filters.Ticker = q.Get("ticker")
	if v := q.Get("decision"); v != "" {
		kind := domain.DecisionKind(strings.ToUpper(v))
		if !kind.Valid() {
			return filters, errors.New("decision must be one of ACT_LONG, ACT_SHORT, WAIT, SKIP")
		}
		filters.Decision = kind
	}
	if v := q.Get("timeframe"); v != "" {
		tf, ok := domain.ParseTimeframe(v)
		if !ok {
			return filters, errors.New("unrecognized timeframe")
		}
		filters.Timeframe = tf
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return filters, errors.New("limit must be a positive integer")
		}
		filters.Limit = limit
	}

	return filters, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
