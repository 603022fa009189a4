package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/signald/internal/database"
	"github.com/aristath/signald/internal/domain"
	"github.com/aristath/signald/internal/modules/engine"
)

// decisionColumns is the full column list the repository writes and reads.
// Kept explicit instead of SELECT * so schema drift surfaces as a loud
// SchemaMismatchError instead of silently dropping fields.
const decisionColumns = `id, created_at, source, ticker, direction, timeframe, decision, decision_reason, confluence_score, engine_version, signal_json, breakdown_json, gate_results_json, regime_json, plan_json, hypothetical_json, exit_outcome_id, exit_outcome_json, closed_at`

// Repository persists decision entries in the ledger database.
type Repository struct {
	db        *sql.DB
	schemaErr error
	log       zerolog.Logger
}

// NewRepository creates a ledger repository and verifies the live table
// shape against the columns the code writes. A mismatch does not fail
// construction; it poisons every subsequent write with a SchemaMismatchError
// so the failure is observable exactly where a decision would be lost.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	r := &Repository{
		db:  db,
		log: log.With().Str("repo", "ledger").Logger(),
	}
	r.schemaErr = r.verifySchema()
	if r.schemaErr != nil {
		r.log.Error().Err(r.schemaErr).Msg("Ledger schema does not match expected shape, writes are blocked")
	}
	return r
}

// verifySchema compares the live decisions table against the column list the
// repository writes.
func (r *Repository) verifySchema() error {
	rows, err := r.db.Query(`PRAGMA table_info("decisions")`)
	if err != nil {
		return &domain.PersistenceError{Op: "schema check", Err: err}
	}
	defer rows.Close()

	live := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return &domain.PersistenceError{Op: "schema check", Err: err}
		}
		live[name] = true
	}
	if err := rows.Err(); err != nil {
		return &domain.PersistenceError{Op: "schema check", Err: err}
	}

	var missing []string
	for _, col := range strings.Split(decisionColumns, ", ") {
		if !live[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &domain.SchemaMismatchError{Table: "decisions", Missing: missing}
	}
	return nil
}

// Append durably stores one entry. The write is atomic: either the full row
// commits or the call fails with a typed persistence error and nothing is
// observable. A schema mismatch is surfaced as its non-retryable kind.
// Idempotent by entry id: replaying an append whose original write actually
// committed (a parked retry row, a redelivered message) is a quiet no-op,
// and the stored row is never overwritten.
func (r *Repository) Append(entry *Entry) error {
	if r.schemaErr != nil {
		return r.schemaErr
	}
	if entry.ID == "" {
		return &domain.PersistenceError{Op: "append", Err: errors.New("entry has no id")}
	}

	signalJSON, err := json.Marshal(entry.Signal)
	if err != nil {
		return &domain.PersistenceError{Op: "append", Err: fmt.Errorf("failed to encode signal: %w", err)}
	}
	breakdownJSON, err := json.Marshal(entry.Breakdown)
	if err != nil {
		return &domain.PersistenceError{Op: "append", Err: fmt.Errorf("failed to encode breakdown: %w", err)}
	}
	gatesJSON, err := json.Marshal(entry.GateResults)
	if err != nil {
		return &domain.PersistenceError{Op: "append", Err: fmt.Errorf("failed to encode gate results: %w", err)}
	}
	regimeJSON, err := json.Marshal(entry.Regime)
	if err != nil {
		return &domain.PersistenceError{Op: "append", Err: fmt.Errorf("failed to encode regime: %w", err)}
	}
	planJSON, err := marshalOptional(entry.Plan)
	if err != nil {
		return &domain.PersistenceError{Op: "append", Err: fmt.Errorf("failed to encode plan: %w", err)}
	}
	hypoJSON, err := marshalOptional(entry.Hypothetical)
	if err != nil {
		return &domain.PersistenceError{Op: "append", Err: fmt.Errorf("failed to encode hypothetical plan: %w", err)}
	}

	var replayed bool
	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO decisions
			(id, created_at, source, ticker, direction, timeframe, decision, decision_reason,
			 confluence_score, engine_version, signal_json, breakdown_json, gate_results_json,
			 regime_json, plan_json, hypothetical_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			entry.ID,
			entry.CreatedAt.UTC(),
			entry.Signal.Source,
			entry.Signal.Ticker,
			string(entry.Signal.Direction),
			string(entry.Signal.Timeframe),
			string(entry.Decision),
			entry.Reason,
			entry.ConfluenceScore,
			entry.EngineVersion,
			string(signalJSON),
			string(breakdownJSON),
			string(gatesJSON),
			string(regimeJSON),
			planJSON,
			hypoJSON,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		replayed = affected == 0
		return nil
	})
	if err != nil {
		if isSchemaError(err) {
			return &domain.SchemaMismatchError{Table: "decisions", Missing: []string{schemaErrorDetail(err)}}
		}
		return &domain.PersistenceError{Op: "append", Err: err}
	}

	if replayed {
		r.log.Debug().Str("entry_id", entry.ID).Msg("Entry already in ledger, replay ignored")
		return nil
	}

	r.log.Info().
		Str("entry_id", entry.ID).
		Str("ticker", entry.Signal.Ticker).
		Str("decision", string(entry.Decision)).
		Float64("confluence", entry.ConfluenceScore).
		Msg("Decision appended to ledger")

	return nil
}

// Amend attaches an exit outcome to an entry. Idempotent by outcome id:
// re-applying the same outcome is a no-op, a different outcome against an
// already-closed entry is ErrOutcomeConflict, an unknown id is ErrNotFound.
// Concurrent amends are serialized by the conditional UPDATE on the open
// state, so a duplicate exit notification can never clobber the original.
func (r *Repository) Amend(entryID string, outcome ExitOutcome) error {
	if r.schemaErr != nil {
		return r.schemaErr
	}
	if outcome.OutcomeID == "" {
		return &domain.PersistenceError{Op: "amend", Err: errors.New("exit outcome has no id")}
	}

	existing, err := r.storedOutcomeID(entryID)
	if err != nil {
		return err
	}
	if existing.Valid {
		if existing.String == outcome.OutcomeID {
			return nil
		}
		return fmt.Errorf("entry %s already closed by outcome %s: %w", entryID, existing.String, domain.ErrOutcomeConflict)
	}

	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return &domain.PersistenceError{Op: "amend", Err: fmt.Errorf("failed to encode exit outcome: %w", err)}
	}

	res, err := r.db.Exec(`
		UPDATE decisions
		SET exit_outcome_id = ?, exit_outcome_json = ?, closed_at = ?
		WHERE id = ? AND exit_outcome_id IS NULL
	`, outcome.OutcomeID, string(outcomeJSON), outcome.ClosedAt.UTC(), entryID)
	if err != nil {
		if isSchemaError(err) {
			return &domain.SchemaMismatchError{Table: "decisions", Missing: []string{schemaErrorDetail(err)}}
		}
		return &domain.PersistenceError{Op: "amend", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return &domain.PersistenceError{Op: "amend", Err: err}
	}
	if affected == 0 {
		// Lost the race to a concurrent amend. Re-read to distinguish the
		// duplicate-delivery no-op from a genuine conflict.
		current, err := r.storedOutcomeID(entryID)
		if err != nil {
			return err
		}
		if current.Valid && current.String == outcome.OutcomeID {
			return nil
		}
		return fmt.Errorf("entry %s closed concurrently by outcome %s: %w", entryID, current.String, domain.ErrOutcomeConflict)
	}

	r.log.Info().
		Str("entry_id", entryID).
		Str("outcome_id", outcome.OutcomeID).
		Float64("pnl", outcome.PnL).
		Msg("Exit outcome recorded")

	return nil
}

// storedOutcomeID reads the current exit outcome id for an entry.
func (r *Repository) storedOutcomeID(entryID string) (sql.NullString, error) {
	var id sql.NullString
	err := r.db.QueryRow("SELECT exit_outcome_id FROM decisions WHERE id = ?", entryID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return id, fmt.Errorf("entry %s: %w", entryID, domain.ErrNotFound)
	}
	if err != nil {
		return id, &domain.PersistenceError{Op: "amend", Err: err}
	}
	return id, nil
}

// Get returns one entry by id, or ErrNotFound.
func (r *Repository) Get(entryID string) (*Entry, error) {
	row := r.db.QueryRow("SELECT "+decisionColumns+" FROM decisions WHERE id = ?", entryID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", entryID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get", Err: err}
	}
	return entry, nil
}

// Query returns entries matching the filters, newest first.
func (r *Repository) Query(filters QueryFilters) ([]*Entry, error) {
	query := "SELECT " + decisionColumns + " FROM decisions WHERE 1=1"
	args := []interface{}{}

	if !filters.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filters.Since.UTC())
	}
	if !filters.Until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, filters.Until.UTC())
	}
	if filters.Ticker != "" {
		query += " AND ticker = ?"
		args = append(args, strings.ToUpper(strings.TrimSpace(filters.Ticker)))
	}
	if filters.Decision != "" {
		query += " AND decision = ?"
		args = append(args, string(filters.Decision))
	}
	if filters.Timeframe != "" {
		query += " AND timeframe = ?"
		args = append(args, string(filters.Timeframe))
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "query", Err: err}
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "query", Err: err}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries. Used by the query surface and
// the system status endpoint.
func (r *Repository) Count() (int64, error) {
	var n int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM decisions").Scan(&n); err != nil {
		return 0, &domain.PersistenceError{Op: "count", Err: err}
	}
	return n, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry                                           Entry
		source, ticker, direction, timeframe            string
		signalJSON, breakdownJSON, gatesJSON, regimeJSON string
		planJSON, hypoJSON, outcomeID, outcomeJSON      sql.NullString
		closedAt                                        sql.NullTime
	)

	err := row.Scan(
		&entry.ID,
		&entry.CreatedAt,
		&source,
		&ticker,
		&direction,
		&timeframe,
		&entry.Decision,
		&entry.Reason,
		&entry.ConfluenceScore,
		&entry.EngineVersion,
		&signalJSON,
		&breakdownJSON,
		&gatesJSON,
		&regimeJSON,
		&planJSON,
		&hypoJSON,
		&outcomeID,
		&outcomeJSON,
		&closedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(signalJSON), &entry.Signal); err != nil {
		return nil, fmt.Errorf("failed to decode signal for entry %s: %w", entry.ID, err)
	}
	if err := json.Unmarshal([]byte(breakdownJSON), &entry.Breakdown); err != nil {
		return nil, fmt.Errorf("failed to decode breakdown for entry %s: %w", entry.ID, err)
	}
	if err := json.Unmarshal([]byte(gatesJSON), &entry.GateResults); err != nil {
		return nil, fmt.Errorf("failed to decode gate results for entry %s: %w", entry.ID, err)
	}
	if err := json.Unmarshal([]byte(regimeJSON), &entry.Regime); err != nil {
		return nil, fmt.Errorf("failed to decode regime for entry %s: %w", entry.ID, err)
	}
	if planJSON.Valid && planJSON.String != "" {
		if err := json.Unmarshal([]byte(planJSON.String), &entry.Plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan for entry %s: %w", entry.ID, err)
		}
	}
	if hypoJSON.Valid && hypoJSON.String != "" {
		if err := json.Unmarshal([]byte(hypoJSON.String), &entry.Hypothetical); err != nil {
			return nil, fmt.Errorf("failed to decode hypothetical plan for entry %s: %w", entry.ID, err)
		}
	}
	if outcomeJSON.Valid && outcomeJSON.String != "" {
		if err := json.Unmarshal([]byte(outcomeJSON.String), &entry.Exit); err != nil {
			return nil, fmt.Errorf("failed to decode exit outcome for entry %s: %w", entry.ID, err)
		}
	}

	return &entry, nil
}

// marshalOptional encodes a nullable JSON column.
func marshalOptional(plan *engine.ExecutionPlan) (interface{}, error) {
	if plan == nil {
		return nil, nil
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// isSchemaError recognizes SQLite's complaints about a table shape that no
// longer matches the statement. Both drivers phrase it the same way.
func isSchemaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "has no column named") ||
		strings.Contains(msg, "no such table")
}

func schemaErrorDetail(err error) string {
	return strings.TrimSpace(err.Error())
}
