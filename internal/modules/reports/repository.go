// Package reports persists the append-only raw statement history.
package reports

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/graham/internal/domain"
)

const reportColumns = `report_id, instrument_id, kind, period, report_date,
invalid, check_manually, obsoleted_at, inserted_at`

// Repository handles raw report storage in reports.db. Reports are
// obsoleted, never updated or deleted; field payloads are written once at
// insert time.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new raw report repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "reports").Logger(),
	}
}

// ListByInstrument returns every stored report for an instrument, including
// obsoleted and flagged ones, with field payloads attached.
func (r *Repository) ListByInstrument(instrumentID int64) ([]domain.RawReport, error) {
	rows, err := r.db.Query(
		"SELECT "+reportColumns+` FROM raw_reports
		 WHERE instrument_id = ?
		 ORDER BY report_date, report_id`,
		instrumentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports for instrument %d: %w", instrumentID, err)
	}
	defer rows.Close()

	var reports []domain.RawReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range reports {
		if err := r.loadFields(&reports[i]); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

// ListCurrentByInstrument returns the reports the aggregation engine
// consumes: dated, not obsoleted, not held for manual review.
func (r *Repository) ListCurrentByInstrument(instrumentID int64) ([]domain.RawReport, error) {
	all, err := r.ListByInstrument(instrumentID)
	if err != nil {
		return nil, err
	}
	current := all[:0]
	for _, report := range all {
		if report.IsCurrent() && report.ReportDate != nil && !report.Invalid {
			current = append(current, report)
		}
	}
	return current, nil
}

// ApplyDelta inserts and obsoletes reports in one transaction. No report is
// ever silently overwritten: conflicting updates arrive here as an
// insert-and-obsolete pair minted by the delta engine. A non-nil notify
// hook runs inside the same transaction, so the notification it writes
// commits or rolls back with the delta; if it fails, nothing is applied and
// the whole delta is recomputed on the next cycle.
func (r *Repository) ApplyDelta(insert, obsolete []domain.RawReport, now time.Time, notify func(tx *sql.Tx) error) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delta: %w", err)
	}
	defer tx.Rollback()

	for _, report := range insert {
		var reportDate interface{}
		if report.ReportDate != nil {
			reportDate = report.ReportDate.UTC().Format(time.RFC3339)
		}
		_, err := tx.Exec(
			`INSERT INTO raw_reports
			 (report_id, instrument_id, kind, period, report_date,
			  invalid, check_manually, inserted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			report.ID, report.InstrumentID, string(report.Kind),
			string(report.Period.Normalize()), reportDate,
			report.Invalid, report.CheckManually,
			now.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert report %d: %w", report.ID, err)
		}
		for name, value := range report.Fields {
			if _, err := tx.Exec(
				`INSERT INTO raw_report_fields (report_id, name, value) VALUES (?, ?, ?)`,
				report.ID, name, value,
			); err != nil {
				return fmt.Errorf("failed to insert field %s of report %d: %w", name, report.ID, err)
			}
		}
	}

	for _, report := range obsolete {
		if _, err := tx.Exec(
			`UPDATE raw_reports SET obsoleted_at = ? WHERE report_id = ? AND obsoleted_at IS NULL`,
			now.UTC().Format(time.RFC3339), report.ID,
		); err != nil {
			return fmt.Errorf("failed to obsolete report %d: %w", report.ID, err)
		}
	}

	if notify != nil {
		if err := notify(tx); err != nil {
			return fmt.Errorf("failed to notify delta: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delta: %w", err)
	}
	return nil
}

func (r *Repository) loadFields(report *domain.RawReport) error {
	rows, err := r.db.Query(
		`SELECT name, value FROM raw_report_fields WHERE report_id = ?`,
		report.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to query fields of report %d: %w", report.ID, err)
	}
	defer rows.Close()

	report.Fields = make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return fmt.Errorf("failed to scan field of report %d: %w", report.ID, err)
		}
		report.Fields[name] = value
	}
	return rows.Err()
}

func scanReport(rows *sql.Rows) (domain.RawReport, error) {
	var report domain.RawReport
	var kind, period, insertedAt string
	var reportDate, obsoletedAt sql.NullString

	err := rows.Scan(
		&report.ID, &report.InstrumentID, &kind, &period, &reportDate,
		&report.Invalid, &report.CheckManually, &obsoletedAt, &insertedAt,
	)
	if err != nil {
		return domain.RawReport{}, err
	}

	report.Kind = domain.ReportKind(kind)
	report.Period = domain.PeriodKind(period)
	if reportDate.Valid {
		parsed, err := time.Parse(time.RFC3339, reportDate.String)
		if err != nil {
			return domain.RawReport{}, fmt.Errorf("bad report_date for %d: %w", report.ID, err)
		}
		report.ReportDate = &parsed
	}
	if obsoletedAt.Valid {
		parsed, err := time.Parse(time.RFC3339, obsoletedAt.String)
		if err != nil {
			return domain.RawReport{}, fmt.Errorf("bad obsoleted_at for %d: %w", report.ID, err)
		}
		report.ObsoletedAt = &parsed
	}
	report.InsertedAt, err = time.Parse(time.RFC3339, insertedAt)
	if err != nil {
		return domain.RawReport{}, fmt.Errorf("bad inserted_at for %d: %w", report.ID, err)
	}
	return report, nil
}
