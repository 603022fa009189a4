package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/signald/internal/domain"
	"github.com/aristath/signald/internal/events"
	"github.com/aristath/signald/internal/metrics"
	"github.com/aristath/signald/internal/modules/signals"
)

// handleIngest handles POST /api/signals/{sender}: normalize, route to the
// sender's engine version, decide, record. The response tells the sender
// what was decided and whether it reached durable storage.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	sender := chi.URLParam(r, "sender")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.rejectIngest(w, r, http.StatusBadRequest, "unreadable_body", "failed to read request body")
		return
	}

	raw := signals.RawEvent{
		Sender:     sender,
		ReceivedAt: time.Now().UTC(),
		Payload:    body,
	}

	s.bus.Emit(events.SignalReceived, "server", map[string]interface{}{
		"sender": sender,
		"bytes":  len(body),
	})

	sig, err := s.normalizer.Normalize(raw)
	if err != nil {
		var malformed *domain.MalformedSignalError
		if errors.As(err, &malformed) {
			metrics.IngestRejectedTotal.WithLabelValues("malformed").Inc()
			s.bus.Emit(events.SignalRejected, "server", map[string]interface{}{
				"sender": sender,
				"reason": "malformed",
				"field":  malformed.Field,
			})
			s.writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": malformed.Error(),
				"field": malformed.Field,
			})
			return
		}
		s.log.Error().Err(err).Str("sender", sender).Msg("Normalization failed")
		s.writeError(w, http.StatusBadRequest, "unprocessable payload")
		return
	}

	eng, err := s.engines.Route(sender)
	if err != nil {
		s.log.Error().Err(err).Str("sender", sender).Msg("No engine for sender")
		s.writeError(w, http.StatusInternalServerError, "no engine available")
		return
	}

	decision, err := eng.Decide(r.Context(), sig)
	if err != nil {
		s.log.Error().Err(err).Str("sender", sender).Str("ticker", sig.Ticker).Msg("Decision failed")
		s.writeError(w, http.StatusInternalServerError, "decision failed")
		return
	}

	entry, recordErr := s.recorder.Record(sig, decision)

	response := map[string]interface{}{
		"entry_id":         entry.ID,
		"ticker":           sig.Ticker,
		"decision":         string(decision.Kind),
		"reason":           decision.Reason,
		"confluence_score": decision.ConfluenceScore,
		"engine_version":   decision.EngineVersion,
		"persisted":        recordErr == nil,
	}

	switch {
	case recordErr == nil:
		s.writeJSON(w, http.StatusAccepted, response)

	case errors.Is(recordErr, domain.ErrSchemaMismatch):
		// The decision was computed but cannot be stored until an operator
		// migrates the ledger. The payload goes back to the sender so it is
		// not lost, and the status says "retry later, loudly".
		response["error"] = "ledger schema mismatch, decision not stored"
		s.writeJSON(w, http.StatusServiceUnavailable, response)

	case errors.Is(recordErr, domain.ErrNotDurable):
		// Append and the retry queue both failed; the decision exists only
		// in the server log. The sender must retry.
		response["error"] = "decision could not be stored or queued"
		s.writeJSON(w, http.StatusServiceUnavailable, response)

	default:
		// Parked in the durable retry queue; the decision is accepted.
		response["queued"] = true
		s.writeJSON(w, http.StatusAccepted, response)
	}
}
