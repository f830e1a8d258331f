package fundamentals

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotRepository persists aggregate snapshots in reports.db. A new
// snapshot supersedes the instrument's previous one; superseded rows are
// kept so scores remain reproducible against the history that produced them.
type SnapshotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(db *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// Insert stores a new snapshot for the model's instrument and supersedes the
// previous current one in the same transaction.
func (r *SnapshotRepository) Insert(model *CompanyModel, now time.Time) error {
	blob, err := msgpack.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	timestamp := now.UTC().Format(time.RFC3339)
	_, err = tx.Exec(
		`UPDATE aggregate_snapshots SET superseded_at = ?
		 WHERE instrument_id = ? AND superseded_at IS NULL`,
		timestamp, model.InstrumentID,
	)
	if err != nil {
		return fmt.Errorf("failed to supersede previous snapshot: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO aggregate_snapshots (instrument_id, model, created_at)
		 VALUES (?, ?, ?)`,
		model.InstrumentID, blob, timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return tx.Commit()
}

// Current returns the instrument's live snapshot, or nil when none exists.
func (r *SnapshotRepository) Current(instrumentID int64) (*CompanyModel, error) {
	row := r.db.QueryRow(
		`SELECT model FROM aggregate_snapshots
		 WHERE instrument_id = ? AND superseded_at IS NULL
		 ORDER BY created_at DESC LIMIT 1`,
		instrumentID,
	)

	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var model CompanyModel
	if err := msgpack.Unmarshal(blob, &model); err != nil {
		return nil, fmt.Errorf("failed to deserialize snapshot: %w", err)
	}
	return &model, nil
}
