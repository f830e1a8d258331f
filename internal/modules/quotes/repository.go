// Package quotes caches the latest price and share count per instrument.
package quotes

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/graham/internal/domain"
)

// Repository stores quotes in cache.db. Quotes are ephemeral: losing the
// cache only degrades price-dependent metrics until the next refresh.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new quote repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "quotes").Logger(),
	}
}

// Upsert stores the latest quote for an instrument.
func (r *Repository) Upsert(quote domain.Quote) error {
	_, err := r.db.Exec(
		`INSERT INTO quotes (instrument_id, price, shares_outstanding, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (instrument_id) DO UPDATE SET
		   price = excluded.price,
		   shares_outstanding = excluded.shares_outstanding,
		   updated_at = excluded.updated_at`,
		quote.InstrumentID, quote.Price, quote.SharesOutstanding,
		quote.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert quote for instrument %d: %w", quote.InstrumentID, err)
	}
	return nil
}

// Get returns the cached quote for an instrument, or nil when none exists.
func (r *Repository) Get(instrumentID int64) (*domain.Quote, error) {
	row := r.db.QueryRow(
		`SELECT instrument_id, price, shares_outstanding, updated_at
		 FROM quotes WHERE instrument_id = ?`,
		instrumentID,
	)

	var quote domain.Quote
	var updatedAt string
	err := row.Scan(&quote.InstrumentID, &quote.Price, &quote.SharesOutstanding, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query quote for instrument %d: %w", instrumentID, err)
	}

	quote.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("bad updated_at for quote %d: %w", instrumentID, err)
	}
	return &quote, nil
}
