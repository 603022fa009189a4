package scheduler

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/signald/internal/domain"
	"github.com/aristath/signald/internal/metrics"
	"github.com/aristath/signald/internal/modules/ledger"
)

const (
	// drainBatchSize bounds how many parked decisions one pass replays.
	drainBatchSize = 50
	// drainMaxAttempts is the retry budget before a row goes exhausted.
	drainMaxAttempts = 10
)

// RetryDrainJob replays decisions parked in the pending_appends queue back
// into the ledger. Runs every few minutes; a pass stops immediately on a
// schema mismatch because replaying against a wrong schema can never succeed.
type RetryDrainJob struct {
	log     zerolog.Logger
	repo    *ledger.Repository
	pending *ledger.PendingRepository
}

// NewRetryDrainJob creates a retry drain job
func NewRetryDrainJob(repo *ledger.Repository, pending *ledger.PendingRepository, log zerolog.Logger) *RetryDrainJob {
	return &RetryDrainJob{
		log:     log.With().Str("job", "retry_drain").Logger(),
		repo:    repo,
		pending: pending,
	}
}

// Name returns the job name
func (j *RetryDrainJob) Name() string {
	return "retry_drain"
}

// Run executes one drain pass
func (j *RetryDrainJob) Run() error {
	due, err := j.pending.Due(drainBatchSize)
	if err != nil {
		return fmt.Errorf("failed to read retry queue: %w", err)
	}
	if len(due) == 0 {
		j.updateDepthGauge()
		return nil
	}

	drained := 0
	for _, pa := range due {
		entry, err := pa.Entry()
		if err != nil {
			// Undecodable payload cannot ever replay; burn its attempts so
			// it surfaces as exhausted for an operator.
			j.log.Error().Err(err).Str("entry_id", pa.EntryID).Msg("Pending append payload is undecodable")
			if markErr := j.pending.MarkFailed(pa.ID, "undecodable payload: "+err.Error(), 1); markErr != nil {
				j.log.Error().Err(markErr).Int64("pending_id", pa.ID).Msg("Failed to mark pending append")
			}
			continue
		}

		appendErr := j.repo.Append(entry)
		switch {
		case appendErr == nil:
			if err := j.pending.MarkDone(pa.ID); err != nil {
				j.log.Error().Err(err).Str("entry_id", entry.ID).Msg("Replayed entry but failed to mark done")
			}
			drained++

		case errors.Is(appendErr, domain.ErrSchemaMismatch):
			// Nothing else in this batch can succeed either.
			j.updateDepthGauge()
			return fmt.Errorf("retry drain aborted, ledger schema mismatch: %w", appendErr)

		default:
			if err := j.pending.MarkFailed(pa.ID, appendErr.Error(), drainMaxAttempts); err != nil {
				j.log.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to record retry failure")
			}
		}
	}

	j.log.Info().
		Int("due", len(due)).
		Int("drained", drained).
		Msg("Retry queue drain pass finished")

	j.updateDepthGauge()
	return nil
}

func (j *RetryDrainJob) updateDepthGauge() {
	counts, err := j.pending.CountByStatus()
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to measure retry queue depth")
		return
	}
	metrics.RetryQueueDepth.Set(float64(counts[ledger.PendingStatusPending]))
}
