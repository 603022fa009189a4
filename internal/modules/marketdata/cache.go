package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/signald/internal/database"
)

// CacheRepository persists snapshots, quotes and candles in the market cache
// database so restarts and feed outages degrade to recent data instead of
// nothing.
//
// Database: marketcache.db (snapshots, quotes, candles tables)
type CacheRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewCacheRepository creates a new market cache repository.
func NewCacheRepository(db *database.DB, log zerolog.Logger) *CacheRepository {
	return &CacheRepository{
		db:  db,
		log: log.With().Str("component", "market_cache").Logger(),
	}
}

// SaveSnapshot upserts the msgpack-encoded snapshot row for a ticker.
func (r *CacheRepository) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %s: %w", snap.Ticker, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshots (ticker, captured_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			captured_at = excluded.captured_at,
			payload = excluded.payload
	`, snap.Ticker, snap.AsOf.UTC().Format(time.RFC3339Nano), payload)
	if err != nil {
		return fmt.Errorf("failed to store snapshot for %s: %w", snap.Ticker, err)
	}
	return nil
}

// GetSnapshot returns the cached snapshot for ticker if it is younger than
// ttl. A miss (no row, or an expired one) returns (nil, nil).
func (r *CacheRepository) GetSnapshot(ctx context.Context, ticker string, ttl time.Duration) (*Snapshot, error) {
	var capturedAt string
	var payload []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT captured_at, payload FROM snapshots WHERE ticker = ?
	`, ticker).Scan(&capturedAt, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for %s: %w", ticker, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, capturedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt captured_at for %s: %w", ticker, err)
	}
	if time.Since(ts) > ttl {
		return nil, nil
	}

	var snap Snapshot
	if err := msgpack.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", ticker, err)
	}
	snap.Source = SourceCache
	return &snap, nil
}

// SaveQuote upserts the latest quote row for a ticker.
func (r *CacheRepository) SaveQuote(ctx context.Context, q *Quote) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO quotes (ticker, price, bid, ask, volume, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			price = excluded.price,
			bid = excluded.bid,
			ask = excluded.ask,
			volume = excluded.volume,
			updated_at = excluded.updated_at
	`, q.Ticker, q.Price, q.Bid, q.Ask, q.Volume, q.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store quote for %s: %w", q.Ticker, err)
	}
	return nil
}

// LatestQuote returns the stored quote for ticker, or nil when none exists.
func (r *CacheRepository) LatestQuote(ctx context.Context, ticker string) (*Quote, error) {
	var q Quote
	var updatedAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT ticker, price, bid, ask, volume, updated_at FROM quotes WHERE ticker = ?
	`, ticker).Scan(&q.Ticker, &q.Price, &q.Bid, &q.Ask, &q.Volume, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read quote for %s: %w", ticker, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt updated_at for %s: %w", ticker, err)
	}
	q.UpdatedAt = ts
	return &q, nil
}

// SaveCandle upserts one candle row keyed by (ticker, ts).
func (r *CacheRepository) SaveCandle(ctx context.Context, ticker string, c Candle) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO candles (ticker, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, ts) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume
	`, ticker, c.Ts.UTC().Format(time.RFC3339Nano), c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return fmt.Errorf("failed to store candle for %s: %w", ticker, err)
	}
	return nil
}

// RecentCandles returns up to limit candles for ticker, oldest first, which
// is the order the indicator math expects.
func (r *CacheRepository) RecentCandles(ctx context.Context, ticker string, limit int) ([]Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM candles
		WHERE ticker = ?
		ORDER BY ts DESC
		LIMIT ?
	`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read candles for %s: %w", ticker, err)
	}
	defer rows.Close()

	var reversed []Candle
	for rows.Next() {
		var c Candle
		var ts string
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle for %s: %w", ticker, err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("corrupt candle ts for %s: %w", ticker, err)
		}
		c.Ts = parsed
		reversed = append(reversed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candles for %s: %w", ticker, err)
	}

	// Query returned newest first; flip to oldest first.
	candles := make([]Candle, len(reversed))
	for i, c := range reversed {
		candles[len(reversed)-1-i] = c
	}
	return candles, nil
}

// CleanupExpired deletes snapshots and candles older than the retention
// window. Returns the number of rows removed for job logging.
func (r *CacheRepository) CleanupExpired(ctx context.Context, retain time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retain).UTC().Format(time.RFC3339Nano)

	var removed int64
	res, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE captured_at < ?`, cutoff)
	if err != nil {
		return removed, fmt.Errorf("failed to clean up snapshots: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	res, err = r.db.ExecContext(ctx, `DELETE FROM candles WHERE ts < ?`, cutoff)
	if err != nil {
		return removed, fmt.Errorf("failed to clean up candles: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	r.log.Debug().Int64("rows", removed).Msg("Market cache cleanup complete")
	return removed, nil
}
