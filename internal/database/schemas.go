package database

// Schema bundles the DDL for one database with its version stamp.
// Bumping Version signals that repositories expecting the new shape
// must refuse to write against an unmigrated file.
type Schema struct {
	Version int
	SQL     string
}

// schemaForDatabase maps database names to their embedded schema.
// Applying a schema is idempotent; ALTERs for later versions are appended
// below the base DDL and tolerated when already applied.
var schemaForDatabase = map[string]Schema{
	"decisions":   {Version: decisionsSchemaVersion, SQL: decisionsSchema},
	"marketcache": {Version: marketCacheSchemaVersion, SQL: marketCacheSchema},
}

const decisionsSchemaVersion = 3

// decisionsSchema is the append-then-amend decision ledger.
// One row per computed decision; exit_* columns are written at most once
// by a later amend. Structured evidence is stored as JSON text columns.
const decisionsSchema = `
CREATE TABLE IF NOT EXISTS decisions (
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

CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_ticker ON decisions(ticker);
CREATE INDEX IF NOT EXISTS idx_decisions_decision ON decisions(decision);
CREATE INDEX IF NOT EXISTS idx_decisions_timeframe ON decisions(timeframe);

CREATE TABLE IF NOT EXISTS pending_appends (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entry_id TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    failure TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP NOT NULL,
    last_attempt_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pending_appends_status ON pending_appends(status);
`

const marketCacheSchemaVersion = 1

// marketCacheSchema holds ephemeral market data. Snapshots are msgpack blobs
// keyed by ticker; quotes and candles feed indicator derivation.
const marketCacheSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
    ticker TEXT PRIMARY KEY,
    captured_at TIMESTAMP NOT NULL,
    payload BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS quotes (
    ticker TEXT PRIMARY KEY,
    price REAL NOT NULL,
    bid REAL,
    ask REAL,
    volume REAL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS candles (
    ticker TEXT NOT NULL,
    ts TIMESTAMP NOT NULL,
    open REAL NOT NULL,
    high REAL NOT NULL,
    low REAL NOT NULL,
    close REAL NOT NULL,
    volume REAL NOT NULL,
    PRIMARY KEY (ticker, ts)
);

CREATE INDEX IF NOT EXISTS idx_candles_ticker_ts ON candles(ticker, ts DESC);
`
