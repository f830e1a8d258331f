package domain

import "context"

// ReportSource scrapes one instrument's raw financial statements.
// Implementations live outside the core (browser automation, fixtures).
// The collector bounds each call with a deadline; implementations must
// honor context cancellation.
type ReportSource interface {
	FetchReports(ctx context.Context, instrument Instrument) (*ReportBatch, error)
}

// DirectorySource returns the exchange's current full instrument directory.
// Partial failures per directory shard are the implementation's concern;
// the returned slice is whatever could be fetched.
type DirectorySource interface {
	FetchDirectory(ctx context.Context, exchange string) ([]DirectoryEntry, error)
}

// QuoteSource returns the current price and share count for an instrument,
// e.g. from a published spreadsheet.
type QuoteSource interface {
	FetchQuote(ctx context.Context, instrument Instrument) (*Quote, error)
}

// IDGenerator mints globally unique ids for inserted raw reports.
type IDGenerator interface {
	NextUniqueID() (int64, error)
}
