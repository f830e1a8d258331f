// Package events defines the persisted instrument events that drive
// re-aggregation, and their repository.
//
// Events are durable rows, not in-process signals: the collector writes
// them in the same transaction that mutates raw data, and the aggregator
// loop polls for and processes one pending event per tick. A crash between
// the two never loses a notification.
package events

import "time"

// EventType identifies what happened to an instrument.
type EventType string

const (
	// NewListing - an instrument appeared in the directory for the first time.
	NewListing EventType = "new_listing"
	// ListingUpdated - directory metadata for an instrument changed.
	ListingUpdated EventType = "listing_updated"
	// ListingObsoleted - an instrument disappeared from the directory.
	ListingObsoleted EventType = "listing_obsoleted"
	// RawDataChanged - the delta engine inserted or obsoleted raw reports.
	RawDataChanged EventType = "raw_data_changed"
)

// InstrumentEvent is one pending or processed domain event.
type InstrumentEvent struct {
	ID           string
	Type         EventType
	InstrumentID int64
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

// IsProcessed reports whether the event has already been handled.
func (e InstrumentEvent) IsProcessed() bool {
	return e.ProcessedAt != nil
}
