package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signald/internal/reliability"
)

// BackupJob ships a daily database backup to object storage and rotates
// stale remote archives.
type BackupJob struct {
	log    zerolog.Logger
	backup *reliability.BackupService
}

// NewBackupJob creates a backup job
func NewBackupJob(backup *reliability.BackupService, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		log:    log.With().Str("job", "backup").Logger(),
		backup: backup,
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "ledger_backup"
}

// Run executes the backup job
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := j.backup.CreateAndUpload(ctx); err != nil {
		return err
	}

	// Rotation failure is not worth re-running the upload over.
	if err := j.backup.RotateOldBackups(ctx); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
