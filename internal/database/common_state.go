package database

import (
	"database/sql"
	"fmt"
	"time"
)

// CommonStateRepository is a small key/value store in catalog.db for state
// that crosses worker boundaries, such as the aggregator's pause flag.
type CommonStateRepository struct {
	db *sql.DB
}

func NewCommonStateRepository(db *sql.DB) *CommonStateRepository {
	return &CommonStateRepository{db: db}
}

// Get returns the stored value for key. The boolean is false when the key
// has never been set.
func (r *CommonStateRepository) Get(key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM common_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read common state %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores the value for key, replacing any previous value.
func (r *CommonStateRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO common_state (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET
		   value = excluded.value,
		   updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to write common state %q: %w", key, err)
	}
	return nil
}
