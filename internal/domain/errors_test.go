package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMalformedSignalError(t *testing.T) {
	err := &MalformedSignalError{Field: "ticker", Reason: "is required"}

	assert.True(t, errors.Is(err, ErrMalformedSignal))
	assert.Contains(t, err.Error(), "ticker")

	// Wrapping keeps the classification
	wrapped := fmt.Errorf("normalize event: %w", err)
	assert.True(t, errors.Is(wrapped, ErrMalformedSignal))

	var target *MalformedSignalError
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "ticker", target.Field)
}

func TestSchemaMismatchError_IsBothKinds(t *testing.T) {
	err := &SchemaMismatchError{Table: "decisions", Missing: []string{"regime_snapshot"}}

	// A schema mismatch is a persistence error AND the mismatch kind
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
	assert.Contains(t, err.Error(), "regime_snapshot")
}

func TestDegradedMarketDataError(t *testing.T) {
	cause := errors.New("fetch timeout")
	err := &DegradedMarketDataError{Ticker: "SPY", Cause: cause}

	assert.True(t, errors.Is(err, ErrDegradedMarketData))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "SPY")

	// Without a cause the classification still holds
	bare := &DegradedMarketDataError{Ticker: "QQQ"}
	assert.True(t, errors.Is(bare, ErrDegradedMarketData))
}

func TestIsRetryablePersistence(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "plain persistence error",
			err:       fmt.Errorf("append entry: %w", ErrPersistence),
			retryable: true,
		},
		{
			name:      "schema mismatch is permanent",
			err:       &SchemaMismatchError{Table: "decisions", Missing: []string{"exit_outcome"}},
			retryable: false,
		},
		{
			name:      "unrelated error",
			err:       errors.New("boom"),
			retryable: false,
		},
		{
			name:      "not found is not a persistence failure",
			err:       ErrNotFound,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryablePersistence(tt.err))
		})
	}
}
