package registry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/graham/internal/domain"
)

// instrumentColumns avoids SELECT * so schema changes fail loudly.
// Column order must match scanInstrument.
const instrumentColumns = `instrument_id, exchange, company_symbol, instrument_symbol,
company_name, instrument_name, listed_at, obsoleted_at`

// Repository persists the instrument list in catalog.db.
type Repository struct {
	db  *sql.DB
	ids interface{ NextUniqueID() (int64, error) }
	log zerolog.Logger
}

// NewRepository creates a new instrument repository. ids allocates the
// stable numeric instrument ids; they are assigned once and never reused.
func NewRepository(db *sql.DB, ids interface{ NextUniqueID() (int64, error) }, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		ids: ids,
		log: log.With().Str("repo", "instruments").Logger(),
	}
}

// List returns all instruments, including obsoleted ones, in sort order.
func (r *Repository) List() ([]domain.Instrument, error) {
	rows, err := r.db.Query(
		"SELECT " + instrumentColumns + ` FROM instruments
		 ORDER BY company_symbol, instrument_symbol`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var instruments []domain.Instrument
	for rows.Next() {
		instrument, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		instruments = append(instruments, instrument)
	}
	return instruments, rows.Err()
}

// ApplyDirectoryDiff inserts the new listings and marks the obsoleted ones
// in one transaction, returning the newly created instruments with their
// assigned ids.
func (r *Repository) ApplyDirectoryDiff(exchange string, diff DirectoryDiff, now time.Time) ([]domain.Instrument, error) {
	created := make([]domain.Instrument, 0, len(diff.New))
	for _, entry := range diff.New {
		id, err := r.ids.NextUniqueID()
		if err != nil {
			return nil, fmt.Errorf("failed to allocate instrument id: %w", err)
		}
		created = append(created, domain.Instrument{
			ID:               id,
			Exchange:         exchange,
			CompanySymbol:    entry.CompanySymbol,
			InstrumentSymbol: entry.InstrumentSymbol,
			CompanyName:      entry.CompanyName,
			InstrumentName:   entry.InstrumentName,
			ListedAt:         now.UTC(),
		})
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin directory update: %w", err)
	}
	defer tx.Rollback()

	for _, instrument := range created {
		_, err := tx.Exec(
			`INSERT INTO instruments
			 (instrument_id, exchange, company_symbol, instrument_symbol,
			  company_name, instrument_name, listed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			instrument.ID, instrument.Exchange,
			instrument.CompanySymbol, instrument.InstrumentSymbol,
			instrument.CompanyName, instrument.InstrumentName,
			instrument.ListedAt.Format(time.RFC3339),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert instrument %s: %w", instrument.Key(), err)
		}
	}

	for _, instrument := range diff.Obsoleted {
		_, err := tx.Exec(
			`UPDATE instruments SET obsoleted_at = ? WHERE instrument_id = ? AND obsoleted_at IS NULL`,
			now.UTC().Format(time.RFC3339), instrument.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to obsolete instrument %s: %w", instrument.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit directory update: %w", err)
	}
	return created, nil
}

func scanInstrument(rows *sql.Rows) (domain.Instrument, error) {
	var instrument domain.Instrument
	var listedAt string
	var obsoletedAt sql.NullString

	err := rows.Scan(
		&instrument.ID, &instrument.Exchange,
		&instrument.CompanySymbol, &instrument.InstrumentSymbol,
		&instrument.CompanyName, &instrument.InstrumentName,
		&listedAt, &obsoletedAt,
	)
	if err != nil {
		return domain.Instrument{}, err
	}

	instrument.ListedAt, err = time.Parse(time.RFC3339, listedAt)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("bad listed_at for %s: %w", instrument.Key(), err)
	}
	if obsoletedAt.Valid {
		parsed, err := time.Parse(time.RFC3339, obsoletedAt.String)
		if err != nil {
			return domain.Instrument{}, fmt.Errorf("bad obsoleted_at for %s: %w", instrument.Key(), err)
		}
		instrument.ObsoletedAt = &parsed
	}
	return instrument, nil
}
