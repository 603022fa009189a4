// Package ledger is the durable record of every computed decision. Entries
// are appended exactly once at decision time and amended at most once when
// the position's outcome is known; nothing in an entry is ever recomputed
// after the append.
package ledger

import (
	"time"

	"github.com/aristath/signald/internal/domain"
	"github.com/aristath/signald/internal/market_regime"
	"github.com/aristath/signald/internal/modules/engine"
	"github.com/aristath/signald/internal/modules/gates"
	"github.com/aristath/signald/internal/modules/signals"
)

// Entry is the persisted form of one decision together with the signal and
// gate evidence that produced it.
type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Signal *signals.Signal `json:"signal"`

	Decision        domain.DecisionKind    `json:"decision"`
	Reason          string                 `json:"reason"`
	ConfluenceScore float64                `json:"confluence_score"`
	Breakdown       []engine.BreakdownRow  `json:"breakdown"`
	GateResults     gates.GateResults      `json:"gate_results"`
	Regime          market_regime.Snapshot `json:"regime"`
	EngineVersion   string                 `json:"engine_version"`

	Plan         *engine.ExecutionPlan `json:"plan,omitempty"`
	Hypothetical *engine.ExecutionPlan `json:"hypothetical,omitempty"`

	// Exit is nil until the position closes and an amend records it.
	Exit *ExitOutcome `json:"exit,omitempty"`
}

// ExitOutcome is the trade-closing amendment attached to an entry.
// OutcomeID is the idempotency key: re-amending with the same id is a no-op.
type ExitOutcome struct {
	OutcomeID   string    `json:"outcome_id"`
	FillPrice   float64   `json:"fill_price"`
	PnL         float64   `json:"pnl"`
	CloseReason string    `json:"close_reason"`
	ClosedAt    time.Time `json:"closed_at"`
}

// QueryFilters narrows a ledger query. Zero values mean "no filter".
type QueryFilters struct {
	Since     time.Time
	Until     time.Time
	Ticker    string
	Decision  domain.DecisionKind
	Timeframe domain.Timeframe
	Limit     int
}

// NewEntry builds the ledger entry for one decided signal.
func NewEntry(id string, createdAt time.Time, sig *signals.Signal, d *engine.Decision) *Entry {
	return &Entry{
		ID:              id,
		CreatedAt:       createdAt.UTC(),
		Signal:          sig,
		Decision:        d.Kind,
		Reason:          d.Reason,
		ConfluenceScore: d.ConfluenceScore,
		Breakdown:       d.Breakdown,
		GateResults:     d.GateResults,
		Regime:          d.Regime,
		EngineVersion:   d.EngineVersion,
		Plan:            d.Plan,
		Hypothetical:    d.Hypothetical,
	}
}
