package ledger

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signald/internal/domain"
	"github.com/aristath/signald/internal/market_regime"
	"github.com/aristath/signald/internal/modules/engine"
	"github.com/aristath/signald/internal/modules/gates"
	"github.com/aristath/signald/internal/modules/signals"
)

const testDecisionsDDL = `
CREATE TABLE decisions (
    id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    source TEXT NOT NULL,
    ticker TEXT NOT NULL,
    direction TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    decision TEXT NOT NULL,
    decision_reason TEXT NOT NULL,
    confluence_score REAL NOT NULL,
    engine_version TEXT NOT NULL,
    signal_json TEXT NOT NULL,
    breakdown_json TEXT NOT NULL,
    gate_results_json TEXT NOT NULL,
    regime_json TEXT NOT NULL,
    plan_json TEXT,
    hypothetical_json TEXT,
    exit_outcome_id TEXT,
    exit_outcome_json TEXT,
    closed_at TIMESTAMP
);
CREATE TABLE pending_appends (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entry_id TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    failure TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP NOT NULL,
    last_attempt_at TIMESTAMP
);
`

func setupLedgerDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(testDecisionsDDL)
	require.NoError(t, err)

	return db
}

func testSignal() *signals.Signal {
	return &signals.Signal{
		Source:      "tradingview",
		Ticker:      "SPY",
		Direction:   domain.DirectionLong,
		Timeframe:   domain.Timeframe15,
		Quality:     domain.QualityHigh,
		AIScore:     8.5,
		Price:       450.25,
		Entry:       450.25,
		Stop:        448.0,
		Target:      455.0,
		RiskPercent: 0.01,
		BarTime:     time.Date(2024, 3, 12, 14, 30, 0, 0, time.UTC),
		ReceivedAt:  time.Date(2024, 3, 12, 14, 30, 5, 0, time.UTC),
	}
}

func testDecision() *engine.Decision {
	return &engine.Decision{
		Kind:            domain.DecisionActLong,
		Reason:          "confluence 96.2 clears action threshold 70.0",
		ConfluenceScore: 96.25,
		Breakdown: []engine.BreakdownRow{
			{Gate: gates.GateMarketConditions, Weight: 0.30, Score: 100, Weighted: 30},
			{Gate: gates.GateRegime, Weight: 0.25, Score: 100, Weighted: 25},
		},
		GateResults: gates.GateResults{
			{Name: gates.GateMarketConditions, Passed: true, Score: 100},
			{Name: gates.GateRegime, Passed: true, Score: 100},
		},
		Regime: market_regime.Snapshot{
			Trend:      market_regime.TrendBullish,
			VolState:   market_regime.VolNormal,
			Confidence: 1,
		},
		Plan: &engine.ExecutionPlan{
			Direction:    domain.DirectionLong,
			Entry:        450.25,
			Stop:         448.0,
			QualityBoost: 1.25,
			PositionPct:  0.0625,
		},
		EngineVersion: "default/v1",
		DecidedAt:     time.Date(2024, 3, 12, 14, 30, 5, 0, time.UTC),
	}
}

func testEntry(id string) *Entry {
	return NewEntry(id, time.Date(2024, 3, 12, 14, 30, 6, 0, time.UTC), testSignal(), testDecision())
}

func TestRepository_AppendGetRoundTrip(t *testing.T) {
	repo := NewRepository(setupLedgerDB(t), zerolog.Nop())

	entry := testEntry("entry-1")
	require.NoError(t, repo.Append(entry))

	got, err := repo.Get("entry-1")
	require.NoError(t, err)

	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, entry.Signal, got.Signal)
	assert.Equal(t, entry.Decision, got.Decision)
	assert.Equal(t, entry.Reason, got.Reason)
	assert.Equal(t, entry.ConfluenceScore, got.ConfluenceScore)
	assert.Equal(t, entry.EngineVersion, got.EngineVersion)
	assert.Equal(t, entry.Breakdown, got.Breakdown)
	assert.Equal(t, entry.GateResults, got.GateResults)
	assert.Equal(t, entry.Regime, got.Regime)
	assert.Equal(t, entry.Plan, got.Plan)
	assert.Nil(t, got.Exit)
}

func TestRepository_GetUnknownIsNotFound(t *testing.T) {
	repo := NewRepository(setupLedgerDB(t), zerolog.Nop())

	_, err := repo.Get("ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepository_AppendReplayIsNoop(t *testing.T) {
	repo := NewRepository(setupLedgerDB(t), zerolog.Nop())

	require.NoError(t, repo.Append(testEntry("dup")))

	// A replayed append (a parked retry row whose original write committed)
	// succeeds quietly and never overwrites the stored row.
	replay := testEntry("dup")
	replay.Reason = "replayed with different content"
	require.NoError(t, repo.Append(replay))

	got, err := repo.Get("dup")
	require.NoError(t, err)
	assert.Equal(t, testEntry("dup").Reason, got.Reason)

	n, err := repo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRepository_SchemaMismatchBlocksWrites(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// A live table from before confluence_score and gate_results_json existed.
	_, err = db.Exec(`
		CREATE TABLE decisions (
		    id TEXT PRIMARY KEY,
		    created_at TIMESTAMP NOT NULL,
		    source TEXT NOT NULL,
		    ticker TEXT NOT NULL,
		    direction TEXT NOT NULL,
		    timeframe TEXT NOT NULL,
		    decision TEXT NOT NULL,
		    decision_reason TEXT NOT NULL,
		    signal_json TEXT NOT NULL,
		    breakdown_json TEXT NOT NULL,
		    regime_json TEXT NOT NULL,
		    plan_json TEXT,
		    hypothetical_json TEXT,
		    exit_outcome_id TEXT,
		    exit_outcome_json TEXT,
		    closed_at TIMESTAMP
		)
	`)
	require.NoError(t, err)

	repo := NewRepository(db, zerolog.Nop())

	appendErr := repo.Append(testEntry("entry-1"))
	require.Error(t, appendErr)
	assert.ErrorIs(t, appendErr, domain.ErrSchemaMismatch)
	assert.ErrorIs(t, appendErr, domain.ErrPersistence)
	assert.False(t, domain.IsRetryablePersistence(appendErr))

	var mismatch *domain.SchemaMismatchError
	require.ErrorAs(t, appendErr, &mismatch)
	assert.Equal(t, "decisions", mismatch.Table)
	assert.Contains(t, mismatch.Missing, "confluence_score")
	assert.Contains(t, mismatch.Missing, "engine_version")
	assert.Contains(t, mismatch.Missing, "gate_results_json")

	// Nothing was written.
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM decisions").Scan(&count))
	assert.Equal(t, 0, count)

	// Amend is blocked by the same poison.
	assert.ErrorIs(t, repo.Amend("entry-1", ExitOutcome{OutcomeID: "x"}), domain.ErrSchemaMismatch)
}

func TestRepository_AmendIdempotent(t *testing.T) {
	repo := NewRepository(setupLedgerDB(t), zerolog.Nop())
	require.NoError(t, repo.Append(testEntry("entry-1")))

	outcome := ExitOutcome{
		OutcomeID:   "fill-99",
		FillPrice:   454.10,
		PnL:         3.85,
		CloseReason: "target",
		ClosedAt:    time.Date(2024, 3, 12, 19, 45, 0, 0, time.UTC),
	}

	require.NoError(t, repo.Amend("entry-1", outcome))

	// Same outcome again is a no-op.
	require.NoError(t, repo.Amend("entry-1", outcome))

	got, err := repo.Get("entry-1")
	require.NoError(t, err)
	require.NotNil(t, got.Exit)
	assert.Equal(t, outcome, *got.Exit)

	// A different outcome against the closed entry is a conflict.
	err = repo.Amend("entry-1", ExitOutcome{OutcomeID: "fill-100", FillPrice: 440})
	assert.ErrorIs(t, err, domain.ErrOutcomeConflict)

	// The stored outcome is untouched.
	got, err = repo.Get("entry-1")
	require.NoError(t, err)
	assert.Equal(t, "fill-99", got.Exit.OutcomeID)
}

func TestRepository_AmendUnknownEntry(t *testing.T) {
	repo := NewRepository(setupLedgerDB(t), zerolog.Nop())

	err := repo.Amend("ghost", ExitOutcome{OutcomeID: "fill-1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepository_QueryFiltersAndOrder(t *testing.T) {
	repo := NewRepository(setupLedgerDB(t), zerolog.Nop())

	base := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)
	for i, spec := range []struct {
		id       string
		ticker   string
		decision domain.DecisionKind
	}{
		{"e1", "SPY", domain.DecisionActLong},
		{"e2", "QQQ", domain.DecisionWait},
		{"e3", "SPY", domain.DecisionSkip},
	} {
		entry := testEntry(spec.id)
		entry.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		entry.Signal.Ticker = spec.ticker
		entry.Decision = spec.decision
		require.NoError(t, repo.Append(entry))
	}

	// Default query: newest first.
	all, err := repo.Query(QueryFilters{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e3", all[0].ID)
	assert.Equal(t, "e1", all[2].ID)

	// Ticker filter.
	spy, err := repo.Query(QueryFilters{Ticker: "spy"})
	require.NoError(t, err)
	assert.Len(t, spy, 2)

	// Decision filter.
	waits, err := repo.Query(QueryFilters{Decision: domain.DecisionWait})
	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.Equal(t, "e2", waits[0].ID)

	// Time range.
	ranged, err := repo.Query(QueryFilters{Since: base.Add(30 * time.Minute), Until: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "e2", ranged[0].ID)

	// Timeframe filter and limit.
	tf, err := repo.Query(QueryFilters{Timeframe: domain.Timeframe15, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, tf, 2)

	n, err := repo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
