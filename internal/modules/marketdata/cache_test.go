package marketdata

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signald/internal/database"
)

// setupCacheTestDB creates a temporary market cache database with the
// embedded schema applied.
func setupCacheTestDB(t *testing.T) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_marketcache_*.db")
	require.NoError(t, err)
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileCache,
		Name:    "marketcache",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	cleanup := func() {
		_ = db.Close()
		_ = os.Remove(tmpPath)
	}

	return db, cleanup
}

func testSnapshot(ticker string, asOf time.Time) *Snapshot {
	return &Snapshot{
		Ticker:         ticker,
		AsOf:           asOf,
		Source:         SourceLive,
		Price:          450.25,
		Bid:            449.8,
		Ask:            450.25,
		SpreadBps:      10,
		Volume:         120000,
		DollarVolume:   450.25 * 120000,
		RelativeVolume: 1.4,
		RSI14:          61.2,
		ATR14:          1.8,
		SMA20:          448.9,
		SMA50:          445.1,
		RealizedVol:    0.21,
	}
}

func TestCacheRepository_SnapshotRoundTrip(t *testing.T) {
	db, cleanup := setupCacheTestDB(t)
	defer cleanup()

	repo := NewCacheRepository(db, zerolog.Nop())
	ctx := context.Background()
	asOf := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.SaveSnapshot(ctx, testSnapshot("SPY", asOf)))

	got, err := repo.GetSnapshot(ctx, "SPY", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, got)

	// A cached read is marked as such regardless of how it was stored.
	assert.Equal(t, SourceCache, got.Source)
	assert.Equal(t, "SPY", got.Ticker)
	assert.Equal(t, 450.25, got.Price)
	assert.Equal(t, 61.2, got.RSI14)
	assert.InDelta(t, 0.21, got.RealizedVol, 0.0001)
	assert.True(t, got.AsOf.Equal(asOf))
}

func TestCacheRepository_GetSnapshotMissReturnsNil(t *testing.T) {
	db, cleanup := setupCacheTestDB(t)
	defer cleanup()

	repo := NewCacheRepository(db, zerolog.Nop())

	got, err := repo.GetSnapshot(context.Background(), "NVDA", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheRepository_GetSnapshotExpiredReturnsNil(t *testing.T) {
	db, cleanup := setupCacheTestDB(t)
	defer cleanup()

	repo := NewCacheRepository(db, zerolog.Nop())
	ctx := context.Background()

	stale := testSnapshot("SPY", time.Now().UTC().Add(-2*time.Hour))
	require.NoError(t, repo.SaveSnapshot(ctx, stale))

	got, err := repo.GetSnapshot(ctx, "SPY", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheRepository_SaveSnapshotUpserts(t *testing.T) {
	db, cleanup := setupCacheTestDB(t)
	defer cleanup()

	repo := NewCacheRepository(db, zerolog.Nop())
	ctx := context.Background()

	first := testSnapshot("SPY", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, repo.SaveSnapshot(ctx, first))

	second := testSnapshot("SPY", time.Now().UTC())
	second.Price = 451.10
	require.NoError(t, repo.SaveSnapshot(ctx, second))

	got, err := repo.GetSnapshot(ctx, "SPY", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 451.10, got.Price)
}

func TestCacheRepository_QuoteRoundTrip(t *testing.T) {
	db, cleanup := setupCacheTestDB(t)
	defer cleanup()

	repo := NewCacheRepository(db, zerolog.Nop())
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.SaveQuote(ctx, &Quote{
		Ticker: "SPY", Price: 450.25, Bid: 449.8, Ask: 450.25,
		Volume: 120000, UpdatedAt: now,
	}))

	// Second save wins.
	require.NoError(t, repo.SaveQuote(ctx, &Quote{
		Ticker: "SPY", Price: 450.50, Bid: 450.1, Ask: 450.55,
		Volume: 121000, UpdatedAt: now.Add(time.Second),
	}))

	got, err := repo.LatestQuote(ctx, "SPY")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 450.50, got.Price)
	assert.True(t, got.UpdatedAt.Equal(now.Add(time.Second)))

	missing, err := repo.LatestQuote(ctx, "NVDA")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCacheRepository_RecentCandlesOldestFirst(t *testing.T) {
	db, cleanup := setupCacheTestDB(t)
	defer cleanup()

	repo := NewCacheRepository(db, zerolog.Nop())
	ctx := context.Background()
	base := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		c := Candle{
			Ts:     base.Add(time.Duration(i) * time.Minute),
			Open:   100 + float64(i),
			High:   101 + float64(i),
			Low:    99 + float64(i),
			Close:  100.5 + float64(i),
			Volume: 1000,
		}
		require.NoError(t, repo.SaveCandle(ctx, "SPY", c))
	}

	candles, err := repo.RecentCandles(ctx, "SPY", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)

	// Limit keeps the newest rows but they come back oldest first.
	assert.True(t, candles[0].Ts.Equal(base.Add(2*time.Minute)))
	assert.True(t, candles[2].Ts.Equal(base.Add(4*time.Minute)))
	assert.Equal(t, 104.5, candles[2].Close)
}

func TestCacheRepository_SaveCandleUpsertsOnSameBar(t *testing.T) {
	db, cleanup := setupCacheTestDB(t)
	defer cleanup()

	repo := NewCacheRepository(db, zerolog.Nop())
	ctx := context.Background()
	ts := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveCandle(ctx, "SPY", Candle{Ts: ts, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000}))
	require.NoError(t, repo.SaveCandle(ctx, "SPY", Candle{Ts: ts, Open: 100, High: 102, Low: 99, Close: 101.5, Volume: 1500}))

	candles, err := repo.RecentCandles(ctx, "SPY", 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 101.5, candles[0].Close)
	assert.Equal(t, 1500.0, candles[0].Volume)
}

func TestCacheRepository_CleanupExpired(t *testing.T) {
	db, cleanup := setupCacheTestDB(t)
	defer cleanup()

	repo := NewCacheRepository(db, zerolog.Nop())
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.SaveSnapshot(ctx, testSnapshot("OLD", now.Add(-48*time.Hour))))
	require.NoError(t, repo.SaveSnapshot(ctx, testSnapshot("NEW", now)))
	require.NoError(t, repo.SaveCandle(ctx, "OLD", Candle{Ts: now.Add(-48 * time.Hour), Close: 100, Volume: 1}))
	require.NoError(t, repo.SaveCandle(ctx, "NEW", Candle{Ts: now, Close: 100, Volume: 1}))

	removed, err := repo.CleanupExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	kept, err := repo.GetSnapshot(ctx, "NEW", time.Hour)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	gone, err := repo.GetSnapshot(ctx, "OLD", 72*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
