package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signald/internal/domain"
)

// Pending append statuses.
const (
	PendingStatusPending   = "pending"
	PendingStatusDone      = "done"
	PendingStatusExhausted = "exhausted"
)

// PendingAppend is one decision whose ledger append failed and is waiting
// for a retry. The full entry payload rides along so nothing about the
// decision depends on in-memory state surviving.
type PendingAppend struct {
	ID            int64
	EntryID       string
	Payload       []byte
	Failure       string
	Attempts      int
	Status        string
	CreatedAt     time.Time
	LastAttemptAt time.Time
}

// Entry decodes the stored entry payload.
func (p *PendingAppend) Entry() (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(p.Payload, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode pending entry %s: %w", p.EntryID, err)
	}
	return &entry, nil
}

// PendingRepository is the durable retry queue for failed appends. It lives
// in the same ledger database so a decision that could not reach the
// decisions table still reaches disk in the same fsync discipline.
type PendingRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPendingRepository creates a pending-append repository.
func NewPendingRepository(db *sql.DB, log zerolog.Logger) *PendingRepository {
	return &PendingRepository{
		db:  db,
		log: log.With().Str("repo", "pending_appends").Logger(),
	}
}

// Enqueue stores a failed append with its full entry payload.
func (r *PendingRepository) Enqueue(entry *Entry, failure string) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return &domain.PersistenceError{Op: "enqueue retry", Err: fmt.Errorf("failed to encode entry: %w", err)}
	}

	_, err = r.db.Exec(`
		INSERT INTO pending_appends (entry_id, payload_json, failure, attempts, status, created_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, entry.ID, string(payload), failure, PendingStatusPending, time.Now().UTC())
	if err != nil {
		return &domain.PersistenceError{Op: "enqueue retry", Err: err}
	}

	r.log.Warn().
		Str("entry_id", entry.ID).
		Str("failure", failure).
		Msg("Decision parked in retry queue")

	return nil
}

// Due returns pending appends oldest first, up to limit.
func (r *PendingRepository) Due(limit int) ([]*PendingAppend, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(`
		SELECT id, entry_id, payload_json, failure, attempts, status, created_at, COALESCE(last_attempt_at, created_at)
		FROM pending_appends
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, PendingStatusPending, limit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "read retry queue", Err: err}
	}
	defer rows.Close()

	var due []*PendingAppend
	for rows.Next() {
		var (
			p       PendingAppend
			payload string
		)
		if err := rows.Scan(&p.ID, &p.EntryID, &payload, &p.Failure, &p.Attempts, &p.Status, &p.CreatedAt, &p.LastAttemptAt); err != nil {
			return nil, &domain.PersistenceError{Op: "read retry queue", Err: err}
		}
		p.Payload = []byte(payload)
		due = append(due, &p)
	}
	return due, rows.Err()
}

// MarkDone records a successful retry.
func (r *PendingRepository) MarkDone(id int64) error {
	_, err := r.db.Exec(`
		UPDATE pending_appends SET status = ?, last_attempt_at = ? WHERE id = ?
	`, PendingStatusDone, time.Now().UTC(), id)
	if err != nil {
		return &domain.PersistenceError{Op: "mark retry done", Err: err}
	}
	return nil
}

// MarkFailed records a failed retry attempt. Once attempts reach maxAttempts
// the row moves to exhausted, which is the operator-visible "this needs a
// human" state; the payload stays intact for manual recovery.
func (r *PendingRepository) MarkFailed(id int64, failure string, maxAttempts int) error {
	res, err := r.db.Exec(`
		UPDATE pending_appends
		SET attempts = attempts + 1,
		    failure = ?,
		    last_attempt_at = ?,
		    status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END
		WHERE id = ?
	`, failure, time.Now().UTC(), maxAttempts, PendingStatusExhausted, PendingStatusPending, id)
	if err != nil {
		return &domain.PersistenceError{Op: "mark retry failed", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("pending append %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CountByStatus returns the queue depth per status.
func (r *PendingRepository) CountByStatus() (map[string]int64, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM pending_appends GROUP BY status")
	if err != nil {
		return nil, &domain.PersistenceError{Op: "count retry queue", Err: err}
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, &domain.PersistenceError{Op: "count retry queue", Err: err}
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
