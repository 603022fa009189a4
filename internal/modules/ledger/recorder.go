package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/signald/internal/domain"
	"github.com/aristath/signald/internal/events"
	"github.com/aristath/signald/internal/metrics"
	"github.com/aristath/signald/internal/modules/engine"
	"github.com/aristath/signald/internal/modules/signals"
)

// Recorder is the write side of the persistence contract: every computed
// decision either lands in the ledger, lands in the durable retry queue, or
// surfaces a loud error. There is no code path where a decision vanishes.
type Recorder struct {
	repo    *Repository
	pending *PendingRepository
	bus     *events.Bus
	log     zerolog.Logger
}

// NewRecorder creates a decision recorder.
func NewRecorder(repo *Repository, pending *PendingRepository, bus *events.Bus, log zerolog.Logger) *Recorder {
	return &Recorder{
		repo:    repo,
		pending: pending,
		bus:     bus,
		log:     log.With().Str("component", "decision_recorder").Logger(),
	}
}

// Record persists one decided signal. The returned entry is always non-nil
// when the decision was computed; the error reports the persistence state:
//   - nil: appended durably.
//   - retryable persistence error: the entry is parked in the retry queue
//     and the caller may treat the decision as accepted.
//   - schema mismatch: writes are blocked, nothing was queued, the caller
//     must surface the payload; retrying cannot succeed until an operator
//     migrates the store.
func (r *Recorder) Record(sig *signals.Signal, d *engine.Decision) (*Entry, error) {
	entry := NewEntry(uuid.NewString(), time.Now().UTC(), sig, d)

	r.observe(d)

	err := r.repo.Append(entry)
	if err == nil {
		r.bus.Emit(events.DecisionMade, "ledger", map[string]interface{}{
			"entry_id":         entry.ID,
			"ticker":           sig.Ticker,
			"decision":         string(d.Kind),
			"confluence_score": d.ConfluenceScore,
			"timeframe":        string(sig.Timeframe),
		})
		return entry, nil
	}

	if errors.Is(err, domain.ErrSchemaMismatch) {
		metrics.AppendFailuresTotal.WithLabelValues("schema_mismatch").Inc()
		r.log.Error().Err(err).
			Str("entry_id", entry.ID).
			Msg("Ledger schema mismatch, decision NOT stored and NOT queued")
		return entry, err
	}

	metrics.AppendFailuresTotal.WithLabelValues("retryable").Inc()
	if queueErr := r.pending.Enqueue(entry, err.Error()); queueErr != nil {
		// Both the append and the fallback failed. This is the loudest
		// failure the recorder can produce; the entry payload is in the
		// log so an operator can replay it by hand, and the sentinel lets
		// the boundary tell the sender the decision was NOT stored.
		r.log.Error().
			Err(queueErr).
			Str("entry_id", entry.ID).
			Interface("entry", entry).
			Msg("Append AND retry enqueue failed, decision only preserved in log")
		return entry, fmt.Errorf("entry %s: %w: %w", entry.ID, domain.ErrNotDurable, queueErr)
	}

	metrics.RetryQueueDepth.Inc()
	r.bus.Emit(events.RetryQueued, "ledger", map[string]interface{}{
		"entry_id": entry.ID,
		"failure":  err.Error(),
	})
	return entry, err
}

// AmendExit attaches an exit outcome to a stored entry.
func (r *Recorder) AmendExit(entryID string, outcome ExitOutcome) error {
	if err := r.repo.Amend(entryID, outcome); err != nil {
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrOutcomeConflict) {
			metrics.AmendFailuresTotal.Inc()
		}
		return err
	}

	r.bus.Emit(events.DecisionAmended, "ledger", map[string]interface{}{
		"entry_id":   entryID,
		"outcome_id": outcome.OutcomeID,
		"pnl":        outcome.PnL,
	})
	return nil
}

// observe updates the decision metrics. Counted at record time so the
// counters reflect exactly what the ledger was asked to store.
func (r *Recorder) observe(d *engine.Decision) {
	metrics.DecisionsTotal.WithLabelValues(string(d.Kind)).Inc()

	degraded := false
	for _, gr := range d.GateResults {
		if !gr.Passed {
			metrics.GateFailuresTotal.WithLabelValues(gr.Name).Inc()
		}
		if gr.Degraded {
			degraded = true
		}
	}
	if degraded {
		metrics.SnapshotDegradedTotal.Inc()
	}
}
