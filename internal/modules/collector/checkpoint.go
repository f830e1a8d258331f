// Package collector implements the collection pipeline: the scheduler state
// machine that decides what to fetch and when, the delta engine that
// reconciles freshly scraped reports against stored ones, and the worker
// loop that executes fetch commands.
package collector

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/graham/internal/domain"
)

// Checkpoint is the scheduler's persisted state. It is threaded through
// Tick as a value rather than captured as ambient state, so the scheduler
// is testable with synthetic clocks.
//
// A nil due time means "due now"; a clean first boot therefore fetches
// everything immediately.
type Checkpoint struct {
	NextDirectoryFetch  *time.Time
	NextInstrumentFetch *time.Time
	LastPolledKey       domain.InstrumentKey
	// Dirty is set when Tick mutated the checkpoint; cleared on persist.
	// Never stored.
	Dirty bool
}

// NextDue returns the earlier of the two due times. The second return value
// is false when something is due immediately (either time unset or in the
// past relative to now).
func (c Checkpoint) NextDue(now time.Time) (time.Time, bool) {
	if c.NextDirectoryFetch == nil || c.NextInstrumentFetch == nil {
		return time.Time{}, false
	}
	due := *c.NextDirectoryFetch
	if c.NextInstrumentFetch.Before(due) {
		due = *c.NextInstrumentFetch
	}
	if !now.Before(due) {
		return time.Time{}, false
	}
	return due, true
}

// CheckpointRepository persists the scheduler checkpoint in catalog.db.
type CheckpointRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCheckpointRepository creates a new checkpoint repository.
func NewCheckpointRepository(db *sql.DB, log zerolog.Logger) *CheckpointRepository {
	return &CheckpointRepository{
		db:  db,
		log: log.With().Str("repo", "checkpoint").Logger(),
	}
}

// Load returns the persisted checkpoint. A missing row is a clean state,
// not an error: both due times unset, treated as due now.
func (r *CheckpointRepository) Load() (Checkpoint, error) {
	row := r.db.QueryRow(
		`SELECT next_directory_fetch, next_instrument_fetch,
		        last_polled_company, last_polled_instrument
		 FROM collector_checkpoint WHERE id = 1`,
	)

	var cp Checkpoint
	var nextDirectory, nextInstrument sql.NullString
	err := row.Scan(
		&nextDirectory, &nextInstrument,
		&cp.LastPolledKey.CompanySymbol, &cp.LastPolledKey.InstrumentSymbol,
	)
	if err == sql.ErrNoRows {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if cp.NextDirectoryFetch, err = parseNullTime(nextDirectory); err != nil {
		return Checkpoint{}, fmt.Errorf("bad next_directory_fetch: %w", err)
	}
	if cp.NextInstrumentFetch, err = parseNullTime(nextInstrument); err != nil {
		return Checkpoint{}, fmt.Errorf("bad next_instrument_fetch: %w", err)
	}
	return cp, nil
}

// Persist writes the checkpoint back, replacing the previous row.
func (r *CheckpointRepository) Persist(cp Checkpoint) error {
	_, err := r.db.Exec(
		`INSERT INTO collector_checkpoint
		 (id, next_directory_fetch, next_instrument_fetch,
		  last_polled_company, last_polled_instrument, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   next_directory_fetch = excluded.next_directory_fetch,
		   next_instrument_fetch = excluded.next_instrument_fetch,
		   last_polled_company = excluded.last_polled_company,
		   last_polled_instrument = excluded.last_polled_instrument,
		   updated_at = excluded.updated_at`,
		formatNullTime(cp.NextDirectoryFetch), formatNullTime(cp.NextInstrumentFetch),
		cp.LastPolledKey.CompanySymbol, cp.LastPolledKey.InstrumentSymbol,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	return nil
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func formatNullTime(value *time.Time) interface{} {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339)
}
