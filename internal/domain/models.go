// Package domain contains the core data model shared by all modules.
// It is pure: no infrastructure dependencies, no side effects.
package domain

import (
	"time"
)

// ReportKind identifies the type of a raw financial statement.
type ReportKind string

const (
	KindCashFlow        ReportKind = "cash_flow"
	KindIncomeStatement ReportKind = "income_statement"
	KindBalanceSheet    ReportKind = "balance_sheet"
)

// PeriodKind identifies the reporting period of a raw statement.
// Semi-annual reports are treated as quarterly for alignment purposes.
type PeriodKind string

const (
	PeriodAnnual     PeriodKind = "annual"
	PeriodQuarterly  PeriodKind = "quarterly"
	PeriodSemiAnnual PeriodKind = "semi_annual"
)

// Normalize collapses semi-annual into quarterly. All alignment and storage
// partitioning uses the normalized period.
func (p PeriodKind) Normalize() PeriodKind {
	if p == PeriodSemiAnnual {
		return PeriodQuarterly
	}
	return p
}

// InstrumentKey is the total ordering key for instruments:
// (company symbol, instrument symbol).
type InstrumentKey struct {
	CompanySymbol    string
	InstrumentSymbol string
}

// Compare returns -1, 0 or 1 ordering keys by company symbol first,
// then instrument symbol.
func (k InstrumentKey) Compare(other InstrumentKey) int {
	if k.CompanySymbol != other.CompanySymbol {
		if k.CompanySymbol < other.CompanySymbol {
			return -1
		}
		return 1
	}
	if k.InstrumentSymbol != other.InstrumentSymbol {
		if k.InstrumentSymbol < other.InstrumentSymbol {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether k sorts strictly before other.
func (k InstrumentKey) Less(other InstrumentKey) bool {
	return k.Compare(other) < 0
}

// IsZero reports whether the key is empty (no instrument polled yet).
func (k InstrumentKey) IsZero() bool {
	return k.CompanySymbol == "" && k.InstrumentSymbol == ""
}

// String renders the key for logging.
func (k InstrumentKey) String() string {
	return k.CompanySymbol + "/" + k.InstrumentSymbol
}

// Instrument is one listed instrument on the exchange. Identity is immutable
// once an id is assigned; instruments are obsoleted, never deleted.
type Instrument struct {
	ID               int64
	Exchange         string
	CompanySymbol    string
	InstrumentSymbol string
	CompanyName      string
	InstrumentName   string
	ListedAt         time.Time
	ObsoletedAt      *time.Time
}

// Key returns the instrument's sort key.
func (i Instrument) Key() InstrumentKey {
	return InstrumentKey{CompanySymbol: i.CompanySymbol, InstrumentSymbol: i.InstrumentSymbol}
}

// IsObsolete reports whether the instrument has been retired from the
// directory.
func (i Instrument) IsObsolete() bool {
	return i.ObsoletedAt != nil
}

// AlignmentBucket groups raw reports that represent the same reporting
// period. Annual reports align on calendar year (Quarter == 0); all other
// periods align on fiscal quarter.
type AlignmentBucket struct {
	Year    int
	Quarter int
}

// QuarterOf maps a calendar month to a fiscal quarter.
func QuarterOf(month time.Month) int {
	switch {
	case month <= time.March:
		return 1
	case month <= time.June:
		return 2
	case month <= time.September:
		return 3
	default:
		return 4
	}
}

// RawReport is one scraped financial-statement instance for one instrument.
// Fields is a sparse mapping of raw field names to numeric values.
type RawReport struct {
	ID            int64
	InstrumentID  int64
	Kind          ReportKind
	Period        PeriodKind
	ReportDate    *time.Time
	Fields        map[string]float64
	Invalid       bool
	CheckManually bool
	ObsoletedAt   *time.Time
	InsertedAt    time.Time
}

// Bucket returns the report's alignment bucket. The second return value is
// false when the report carries no usable date; such reports are never
// considered for matching or insertion.
func (r *RawReport) Bucket() (AlignmentBucket, bool) {
	if r.ReportDate == nil {
		return AlignmentBucket{}, false
	}
	if r.Period.Normalize() == PeriodAnnual {
		return AlignmentBucket{Year: r.ReportDate.Year()}, true
	}
	return AlignmentBucket{
		Year:    r.ReportDate.Year(),
		Quarter: QuarterOf(r.ReportDate.Month()),
	}, true
}

// IsCurrent reports whether the report is the live row for its bucket:
// not obsoleted and not held for manual review.
func (r *RawReport) IsCurrent() bool {
	return r.ObsoletedAt == nil && !r.CheckManually
}

// SameFields compares the field payload of two reports for exact equality.
func (r *RawReport) SameFields(other *RawReport) bool {
	if len(r.Fields) != len(other.Fields) {
		return false
	}
	for name, value := range r.Fields {
		otherValue, ok := other.Fields[name]
		if !ok || otherValue != value {
			return false
		}
	}
	return true
}

// Quote is the latest known market data for an instrument.
type Quote struct {
	InstrumentID      int64
	Price             float64
	SharesOutstanding float64
	UpdatedAt         time.Time
}

// ReportBatch is the result of scraping one instrument: the raw statements
// grouped by kind and period, plus current share count and price.
type ReportBatch struct {
	Reports           []RawReport
	Price             float64
	SharesOutstanding float64
}

// DirectoryEntry is one row of the exchange's instrument directory.
type DirectoryEntry struct {
	CompanySymbol    string
	CompanyName      string
	InstrumentSymbol string
	InstrumentName   string
}

// Key returns the entry's sort key.
func (e DirectoryEntry) Key() InstrumentKey {
	return InstrumentKey{CompanySymbol: e.CompanySymbol, InstrumentSymbol: e.InstrumentSymbol}
}
