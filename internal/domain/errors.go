package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the pipeline. The sentinel values support errors.Is
// classification across package boundaries; the struct types below carry
// field-level detail and unwrap to these sentinels.
var (
	// ErrMalformedSignal rejects an inbound event before any gate runs.
	ErrMalformedSignal = errors.New("malformed signal")

	// ErrAuthenticationFailed rejects a request at the transport boundary,
	// before normalization.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrDegradedMarketData marks a best-effort snapshot miss. Non-fatal:
	// market-dependent gates fall back to their configured neutral score.
	ErrDegradedMarketData = errors.New("degraded market data")

	// ErrPersistence marks a failed ledger write. Retryable unless the
	// failure is also a schema mismatch.
	ErrPersistence = errors.New("persistence error")

	// ErrNotDurable means both the ledger append and the retry-queue
	// fallback failed. The decision survives only in the process log; the
	// caller must not report it as stored or queued.
	ErrNotDurable = errors.New("decision not durably stored")

	// ErrSchemaMismatch means the live store shape no longer matches the
	// entry shape the engine writes. Non-retryable; writes must stop loudly
	// instead of retrying against a store that cannot accept the payload.
	ErrSchemaMismatch = errors.New("ledger schema mismatch")

	// ErrNotFound means the requested ledger entry does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrOutcomeConflict means an amend carried a different exit outcome
	// than the one already recorded. The stored outcome wins; the caller
	// must reconcile upstream.
	ErrOutcomeConflict = errors.New("exit outcome conflict")
)

// PersistenceError wraps a failed ledger write with the operation that
// produced it. Retryable unless the cause is also a schema mismatch.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// MalformedSignalError names the event field that failed normalization
type MalformedSignalError struct {
	Field  string
	Reason string
}

func (e *MalformedSignalError) Error() string {
	return fmt.Sprintf("malformed signal: field %q %s", e.Field, e.Reason)
}

func (e *MalformedSignalError) Unwrap() error { return ErrMalformedSignal }

// SchemaMismatchError reports which expected columns the live ledger schema lacks
type SchemaMismatchError struct {
	Table   string
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on table %q: missing columns %v", e.Table, e.Missing)
}

// Unwrap places the error in both taxonomies: it is a persistence error,
// and it is the schema-mismatch kind.
func (e *SchemaMismatchError) Unwrap() []error {
	return []error{ErrSchemaMismatch, ErrPersistence}
}

// DegradedMarketDataError records why a snapshot could not be served
type DegradedMarketDataError struct {
	Ticker string
	Cause  error
}

func (e *DegradedMarketDataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("degraded market data for %s: %v", e.Ticker, e.Cause)
	}
	return fmt.Sprintf("degraded market data for %s", e.Ticker)
}

func (e *DegradedMarketDataError) Unwrap() []error {
	errs := []error{ErrDegradedMarketData}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// IsRetryablePersistence reports whether a failed write may be retried.
// Schema mismatches are permanent until an operator migrates the store.
func IsRetryablePersistence(err error) bool {
	return errors.Is(err, ErrPersistence) && !errors.Is(err, ErrSchemaMismatch)
}
