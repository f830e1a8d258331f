package events

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repository persists instrument events in reports.db, next to the raw
// data whose changes they announce.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new event repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "events").Logger(),
	}
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Emit stores a new pending event.
func (r *Repository) Emit(eventType EventType, instrumentID int64) error {
	return emit(r.db, eventType, instrumentID)
}

// EmitTx stores a new pending event inside an open transaction, so the
// notification commits or rolls back together with the data change that
// caused it.
func (r *Repository) EmitTx(tx *sql.Tx, eventType EventType, instrumentID int64) error {
	return emit(tx, eventType, instrumentID)
}

func emit(db execer, eventType EventType, instrumentID int64) error {
	_, err := db.Exec(
		`INSERT INTO instrument_events (event_id, event_type, instrument_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		uuid.NewString(), string(eventType), instrumentID,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to emit %s event: %w", eventType, err)
	}
	return nil
}

// NextPending returns the oldest unprocessed event, or nil when the queue
// is empty.
func (r *Repository) NextPending() (*InstrumentEvent, error) {
	row := r.db.QueryRow(
		`SELECT event_id, event_type, instrument_id, created_at
		 FROM instrument_events
		 WHERE processed_at IS NULL
		 ORDER BY created_at, event_id
		 LIMIT 1`,
	)

	var event InstrumentEvent
	var eventType, createdAt string
	err := row.Scan(&event.ID, &eventType, &event.InstrumentID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pending event: %w", err)
	}

	event.Type = EventType(eventType)
	event.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse event created_at: %w", err)
	}
	return &event, nil
}

// MarkProcessed records that an event has been handled.
func (r *Repository) MarkProcessed(event *InstrumentEvent) error {
	now := time.Now().UTC()
	result, err := r.db.Exec(
		`UPDATE instrument_events SET processed_at = ? WHERE event_id = ?`,
		now.Format(time.RFC3339), event.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", event.ID, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("event %s not found", event.ID)
	}
	event.ProcessedAt = &now
	return nil
}

// PendingCount returns the number of unprocessed events, for status reporting.
func (r *Repository) PendingCount() (int, error) {
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM instrument_events WHERE processed_at IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return count, nil
}
