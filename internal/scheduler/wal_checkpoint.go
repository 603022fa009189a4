package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/aristath/signald/internal/database"
)

// WALCheckpointJob keeps the WAL files of both databases from growing
// unbounded. The decisions ledger sees a steady append trickle and the
// cache sees constant churn; an hourly TRUNCATE checkpoint resets both.
type WALCheckpointJob struct {
	log         zerolog.Logger
	decisionsDB *database.DB
	cacheDB     *database.DB
}

// NewWALCheckpointJob creates a WAL checkpoint job
func NewWALCheckpointJob(decisionsDB, cacheDB *database.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		log:         log.With().Str("job", "wal_checkpoint").Logger(),
		decisionsDB: decisionsDB,
		cacheDB:     cacheDB,
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run executes the WAL checkpoint job
func (j *WALCheckpointJob) Run() error {
	for _, db := range []*database.DB{j.decisionsDB, j.cacheDB} {
		if db == nil {
			continue
		}

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			// One stuck database should not block checkpointing the other.
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			continue
		}

		if stats, err := db.GetStats(); err == nil {
			j.log.Debug().
				Str("database", db.Name()).
				Int64("wal_size_bytes", stats.WALSizeBytes).
				Msg("WAL checkpointed")
		}
	}
	return nil
}
