package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()

	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestNew_DefaultsToStandardProfile(t *testing.T) {
	db := openTestDB(t, "scratch", "")
	assert.Equal(t, ProfileStandard, db.Profile())
}

func TestMigrate_DecisionsSchema(t *testing.T) {
	db := openTestDB(t, "decisions", ProfileLedger)

	require.NoError(t, db.Migrate())

	columns, err := db.TableColumns("decisions")
	require.NoError(t, err)
	assert.Contains(t, columns, "id")
	assert.Contains(t, columns, "confluence_score")
	assert.Contains(t, columns, "gate_results_json")
	assert.Contains(t, columns, "exit_outcome_id")

	// Retry table exists alongside the ledger
	retryColumns, err := db.TableColumns("pending_appends")
	require.NoError(t, err)
	assert.Contains(t, retryColumns, "payload_json")

	version, err := db.UserVersion()
	require.NoError(t, err)
	assert.Equal(t, decisionsSchemaVersion, version)

	// Re-applying is a no-op
	require.NoError(t, db.Migrate())
}

func TestMigrate_UnknownDatabaseIsNoop(t *testing.T) {
	db := openTestDB(t, "mystery", ProfileStandard)
	assert.NoError(t, db.Migrate())
}

func TestMigrate_NeverLowersVersionStamp(t *testing.T) {
	db := openTestDB(t, "marketcache", ProfileCache)

	// Simulate a file written by newer code
	require.NoError(t, db.SetUserVersion(99))
	require.NoError(t, db.Migrate())

	version, err := db.UserVersion()
	require.NoError(t, err)
	assert.Equal(t, 99, version)
}

func TestTableColumns_MissingTable(t *testing.T) {
	db := openTestDB(t, "scratch", ProfileStandard)

	columns, err := db.TableColumns("nope")
	require.NoError(t, err)
	assert.Empty(t, columns)
}

func TestWithTransaction_CommitAndRollback(t *testing.T) {
	db := openTestDB(t, "scratch", ProfileStandard)
	_, err := db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	// Successful function commits
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO items (name) VALUES ('kept')`)
		return err
	})
	require.NoError(t, err)

	// Failing function rolls back
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (name) VALUES ('dropped')`); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t, "scratch", ProfileStandard)
	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, db.QuickCheck(context.Background()))
}

func TestWALCheckpointAndStats(t *testing.T) {
	db := openTestDB(t, "scratch", ProfileStandard)
	_, err := db.Exec(`CREATE TABLE filler (v TEXT)`)
	require.NoError(t, err)

	assert.NoError(t, db.WALCheckpoint(""))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageSize, int64(0))
	assert.Greater(t, stats.PageCount, int64(0))
}
