package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/aristath/signald/internal/domain"
)

const (
	// quoteFreshness is how old a stream quote may be and still count as live.
	quoteFreshness = 2 * time.Minute
	// breakerFailureThreshold trips the breaker after this many consecutive
	// live-path failures.
	breakerFailureThreshold = 5
	// breakerCooldown is how long the breaker stays open before probing.
	breakerCooldown = 30 * time.Second
	// candleWindow is how many bars the indicator math reads.
	candleWindow = maxCandleBuffer
)

var errStreamDown = errors.New("quote stream not connected")

// QuoteSource is the live-data surface the provider reads. *QuoteStream
// implements it; tests substitute a fake.
type QuoteSource interface {
	LatestQuote(ticker string) (Quote, bool)
	RecentCandles(ticker string) []Candle
	IsConnected() bool
}

// Provider assembles market snapshots: live stream first, cache fallback,
// degraded error last. Live-path failures feed a circuit breaker so a dead
// feed fails fast instead of stalling every decision behind a timeout.
type Provider struct {
	stream   QuoteSource
	cache    *CacheRepository
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration
	cacheTTL time.Duration
	log      zerolog.Logger
}

// NewProvider creates a snapshot provider. timeout bounds one GetSnapshot
// call end to end; cacheTTL bounds how stale a cached snapshot may be.
func NewProvider(stream QuoteSource, cache *CacheRepository, timeout, cacheTTL time.Duration, log zerolog.Logger) *Provider {
	p := &Provider{
		stream:   stream,
		cache:    cache,
		timeout:  timeout,
		cacheTTL: cacheTTL,
		log:      log.With().Str("component", "snapshot_provider").Logger(),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "market_snapshot",
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Snapshot breaker state changed")
		},
	})
	return p
}

// GetSnapshot returns market context for ticker. The snapshot is live when
// the stream has fresh data, cached when only the cache database does.
// When neither can serve, the error wraps domain.ErrDegradedMarketData;
// callers treat that as non-fatal and decide on neutral context.
func (p *Provider) GetSnapshot(ctx context.Context, ticker string) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result, liveErr := p.breaker.Execute(func() (interface{}, error) {
		return p.liveSnapshot(ticker)
	})
	if liveErr == nil {
		snap := result.(*Snapshot)
		// Write through so the next outage degrades to recent data.
		if p.cache != nil {
			if err := p.cache.SaveSnapshot(ctx, snap); err != nil {
				p.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to cache snapshot")
			}
		}
		return snap, nil
	}

	if p.cache != nil {
		cached, cacheErr := p.cache.GetSnapshot(ctx, ticker, p.cacheTTL)
		if cacheErr != nil {
			p.log.Warn().Err(cacheErr).Str("ticker", ticker).Msg("Snapshot cache read failed")
		}
		if cached != nil {
			p.log.Debug().Str("ticker", ticker).Msg("Serving cached market snapshot")
			return cached, nil
		}
	}

	p.log.Warn().Err(liveErr).Str("ticker", ticker).Msg("Market data degraded")
	return nil, &domain.DegradedMarketDataError{Ticker: ticker, Cause: liveErr}
}

// liveSnapshot builds a snapshot from in-memory stream state. It never
// blocks; a missing or stale quote is an error so the fallback chain and
// the breaker both see it.
func (p *Provider) liveSnapshot(ticker string) (*Snapshot, error) {
	if p.stream == nil || !p.stream.IsConnected() {
		return nil, errStreamDown
	}

	quote, ok := p.stream.LatestQuote(ticker)
	if !ok {
		return nil, fmt.Errorf("no live quote for %s", ticker)
	}
	if time.Since(quote.UpdatedAt) > quoteFreshness {
		return nil, fmt.Errorf("stale quote for %s (age %s)", ticker, time.Since(quote.UpdatedAt).Round(time.Second))
	}

	candles := p.stream.RecentCandles(ticker)
	if len(candles) > candleWindow {
		candles = candles[len(candles)-candleWindow:]
	}
	ind := ComputeIndicators(candles)

	return &Snapshot{
		Ticker:         ticker,
		AsOf:           quote.UpdatedAt,
		Source:         SourceLive,
		Price:          quote.Price,
		Bid:            quote.Bid,
		Ask:            quote.Ask,
		SpreadBps:      spreadBps(quote.Bid, quote.Ask),
		Volume:         quote.Volume,
		DollarVolume:   quote.Price * quote.Volume,
		RelativeVolume: ind.RelativeVolume,
		RSI14:          ind.RSI14,
		ATR14:          ind.ATR14,
		SMA20:          ind.SMA20,
		SMA50:          ind.SMA50,
		RealizedVol:    ind.RealizedVol,
	}, nil
}
