package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signald/internal/modules/marketdata"
)

// CacheCleanupJob evicts expired snapshots, quotes, and candles from the
// market cache so the cache database stays bounded.
type CacheCleanupJob struct {
	log    zerolog.Logger
	cache  *marketdata.CacheRepository
	retain time.Duration
}

// NewCacheCleanupJob creates a cache cleanup job
func NewCacheCleanupJob(cache *marketdata.CacheRepository, retain time.Duration, log zerolog.Logger) *CacheCleanupJob {
	if retain <= 0 {
		retain = 24 * time.Hour
	}
	return &CacheCleanupJob{
		log:    log.With().Str("job", "cache_cleanup").Logger(),
		cache:  cache,
		retain: retain,
	}
}

// Name returns the job name
func (j *CacheCleanupJob) Name() string {
	return "cache_cleanup"
}

// Run executes the cache cleanup job
func (j *CacheCleanupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := j.cache.CleanupExpired(ctx, j.retain)
	if err != nil {
		return err
	}

	j.log.Info().Int64("removed", removed).Msg("Expired cache rows evicted")
	return nil
}
