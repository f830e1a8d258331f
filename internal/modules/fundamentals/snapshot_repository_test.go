package fundamentals

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupSnapshotDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE aggregate_snapshots (
			snapshot_id INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument_id INTEGER NOT NULL,
			model BLOB NOT NULL,
			created_at TEXT NOT NULL,
			superseded_at TEXT
		)`)
	require.NoError(t, err)
	return db
}

func TestSnapshotRoundTrip(t *testing.T) {
	repo := NewSnapshotRepository(setupSnapshotDB(t), zerolog.Nop())

	model := passingModel()
	model.InstrumentID = 42
	model.GeneratedAt = time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(model, time.Now()))

	loaded, err := repo.Current(42)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, model.RetainedEarnings, loaded.RetainedEarnings)
	assert.Equal(t, model.CashFlows, loaded.CashFlows)
	assert.Equal(t, model.Score(), loaded.Score())
	assert.Equal(t, model.MaxBuyPrice(), loaded.MaxBuyPrice())
}

func TestSnapshotSupersedesPrevious(t *testing.T) {
	db := setupSnapshotDB(t)
	repo := NewSnapshotRepository(db, zerolog.Nop())

	first := passingModel()
	first.InstrumentID = 7
	first.RetainedEarnings = 1

	second := passingModel()
	second.InstrumentID = 7
	second.RetainedEarnings = 2

	require.NoError(t, repo.Insert(first, time.Now()))
	require.NoError(t, repo.Insert(second, time.Now().Add(time.Minute)))

	loaded, err := repo.Current(7)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 2.0, loaded.RetainedEarnings)

	// The superseded row is kept, not deleted.
	var total, live int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM aggregate_snapshots WHERE instrument_id = 7`).Scan(&total))
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM aggregate_snapshots WHERE instrument_id = 7 AND superseded_at IS NULL`).Scan(&live))
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, live)
}

func TestSnapshotCurrentMissing(t *testing.T) {
	repo := NewSnapshotRepository(setupSnapshotDB(t), zerolog.Nop())

	loaded, err := repo.Current(999)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
