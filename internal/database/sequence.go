package database

import (
	"database/sql"
	"fmt"
)

// SequenceRepository allocates monotonic ids from the id_sequence table.
// Ids are handed out once and never reused, surviving process restarts.
type SequenceRepository struct {
	db   *sql.DB
	name string
}

// NewSequenceRepository creates an allocator for one named sequence.
func NewSequenceRepository(db *sql.DB, name string) *SequenceRepository {
	return &SequenceRepository{db: db, name: name}
}

// NextUniqueID reserves and returns the next id in the sequence.
func (s *SequenceRepository) NextUniqueID() (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin id allocation: %w", err)
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRow(`SELECT next_value FROM id_sequence WHERE name = ?`, s.name).Scan(&next)
	if err == sql.ErrNoRows {
		next = 1
		if _, err := tx.Exec(
			`INSERT INTO id_sequence (name, next_value) VALUES (?, ?)`, s.name, next+1,
		); err != nil {
			return 0, fmt.Errorf("failed to seed sequence %s: %w", s.name, err)
		}
	} else if err != nil {
		return 0, fmt.Errorf("failed to read sequence %s: %w", s.name, err)
	} else {
		if _, err := tx.Exec(
			`UPDATE id_sequence SET next_value = ? WHERE name = ?`, next+1, s.name,
		); err != nil {
			return 0, fmt.Errorf("failed to advance sequence %s: %w", s.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit id allocation: %w", err)
	}
	return next, nil
}
