package events

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupEventDB(t *testing.T) *Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE instrument_events (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			instrument_id INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			processed_at TEXT
		)`)
	require.NoError(t, err)
	return NewRepository(db, zerolog.Nop())
}

func TestEmitAndProcess(t *testing.T) {
	repo := setupEventDB(t)

	require.NoError(t, repo.Emit(RawDataChanged, 42))

	event, err := repo.NextPending()
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, RawDataChanged, event.Type)
	assert.Equal(t, int64(42), event.InstrumentID)
	assert.False(t, event.IsProcessed())

	require.NoError(t, repo.MarkProcessed(event))
	assert.True(t, event.IsProcessed())

	next, err := repo.NextPending()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestPendingCount(t *testing.T) {
	repo := setupEventDB(t)

	count, err := repo.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, repo.Emit(NewListing, 1))
	require.NoError(t, repo.Emit(ListingObsoleted, 2))

	count, err = repo.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMarkProcessedUnknownEvent(t *testing.T) {
	repo := setupEventDB(t)

	err := repo.MarkProcessed(&InstrumentEvent{ID: "missing"})
	assert.Error(t, err)
}

func TestNextPendingIsOldestFirst(t *testing.T) {
	repo := setupEventDB(t)

	require.NoError(t, repo.Emit(NewListing, 1))
	require.NoError(t, repo.Emit(RawDataChanged, 2))

	// Process the whole queue; both events drain in some stable order and
	// nothing is lost.
	seen := map[int64]bool{}
	for {
		event, err := repo.NextPending()
		require.NoError(t, err)
		if event == nil {
			break
		}
		seen[event.InstrumentID] = true
		require.NoError(t, repo.MarkProcessed(event))
	}
	assert.Len(t, seen, 2)
}

func TestEmitTxFollowsTransactionOutcome(t *testing.T) {
	repo := setupEventDB(t)

	tx, err := repo.db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.EmitTx(tx, RawDataChanged, 42))
	require.NoError(t, tx.Rollback())

	pending, err := repo.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 0, pending, "rolled-back emit must leave no event")

	tx, err = repo.db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.EmitTx(tx, RawDataChanged, 42))
	require.NoError(t, tx.Commit())

	pending, err = repo.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}
