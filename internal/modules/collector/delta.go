package collector

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/graham/internal/domain"
)

// Delta is the set of storage mutations reconciling a freshly fetched batch
// against the stored reports: rows to insert and rows to obsolete.
type Delta struct {
	Insert   []domain.RawReport
	Obsolete []domain.RawReport
}

// IsEmpty reports whether the delta contains no mutations.
func (d Delta) IsEmpty() bool {
	return len(d.Insert) == 0 && len(d.Obsolete) == 0
}

// DeltaEngine matches fresh raw reports against existing ones by alignment
// bucket and decides insert/obsolete/flag-for-review. It is pure with
// respect to its inputs except for id generation, so it can be tested with
// canned report lists.
type DeltaEngine struct {
	ids          domain.IDGenerator
	manualReview bool
	log          zerolog.Logger
}

// NewDeltaEngine creates a delta engine. With manualReview enabled,
// conflicting updates are inserted flagged "check manually" and the stored
// report stays current until a human resolves the conflict; disabled, the
// fresh report supersedes the stored one atomically.
func NewDeltaEngine(ids domain.IDGenerator, manualReview bool, log zerolog.Logger) *DeltaEngine {
	return &DeltaEngine{
		ids:          ids,
		manualReview: manualReview,
		log:          log.With().Str("service", "delta").Logger(),
	}
}

// partition groups reports by report kind and normalized period.
type partition struct {
	Kind   domain.ReportKind
	Period domain.PeriodKind
}

// ComputeDelta reconciles fresh reports against existing ones for a single
// instrument. Fresh reports with no usable date or no fields are skipped
// with a warning, never inserted. Re-running with identical inputs yields
// an empty delta.
func (e *DeltaEngine) ComputeDelta(instrumentID int64, existing, fresh []domain.RawReport) (Delta, error) {
	stored := make(map[partition][]domain.RawReport)
	for _, report := range existing {
		if report.ReportDate == nil {
			continue
		}
		p := partition{Kind: report.Kind, Period: report.Period.Normalize()}
		stored[p] = append(stored[p], report)
	}

	var delta Delta
	for _, report := range fresh {
		if !e.validate(instrumentID, &report) {
			continue
		}
		bucket, _ := report.Bucket()
		p := partition{Kind: report.Kind, Period: report.Period.Normalize()}

		matches := currentInBucket(stored[p], bucket)
		switch {
		case len(matches) == 0:
			inserted, err := e.mint(instrumentID, report, false)
			if err != nil {
				return Delta{}, err
			}
			delta.Insert = append(delta.Insert, inserted)

		default:
			if anyIdentical(matches, &report) {
				// Identical resubmission, nothing to do.
				continue
			}
			if e.manualReview {
				// Keep the stored report current; a human resolves the
				// conflict.
				inserted, err := e.mint(instrumentID, report, true)
				if err != nil {
					return Delta{}, err
				}
				delta.Insert = append(delta.Insert, inserted)
				e.log.Warn().
					Int64("instrument", instrumentID).
					Str("kind", string(report.Kind)).
					Int("year", bucket.Year).Int("quarter", bucket.Quarter).
					Msg("Conflicting report held for manual review")
			} else {
				inserted, err := e.mint(instrumentID, report, false)
				if err != nil {
					return Delta{}, err
				}
				delta.Insert = append(delta.Insert, inserted)
				delta.Obsolete = append(delta.Obsolete, matches...)
			}
		}
	}
	return delta, nil
}

// validate applies the structural-skip rules: a report with no usable date
// or an empty payload is dropped with a logged warning, never inserted.
func (e *DeltaEngine) validate(instrumentID int64, report *domain.RawReport) bool {
	if report.Invalid || report.ReportDate == nil {
		e.log.Warn().
			Int64("instrument", instrumentID).
			Str("kind", string(report.Kind)).
			Msg("Skipping report without usable report date")
		return false
	}
	if len(report.Fields) == 0 {
		e.log.Warn().
			Int64("instrument", instrumentID).
			Str("kind", string(report.Kind)).
			Time("date", *report.ReportDate).
			Msg("Skipping report with empty payload")
		return false
	}
	return true
}

// mint assigns a fresh globally unique id and normalizes the report for
// insertion.
func (e *DeltaEngine) mint(instrumentID int64, report domain.RawReport, checkManually bool) (domain.RawReport, error) {
	id, err := e.ids.NextUniqueID()
	if err != nil {
		return domain.RawReport{}, fmt.Errorf("failed to allocate report id: %w", err)
	}
	report.ID = id
	report.InstrumentID = instrumentID
	report.CheckManually = checkManually
	report.ObsoletedAt = nil
	return report, nil
}

// currentInBucket returns the stored reports that are current (not
// obsoleted, not flagged for manual review) in the given alignment bucket.
// More than one match is a transient conflict the engine tolerates by
// treating all of them as the matched set.
func currentInBucket(stored []domain.RawReport, bucket domain.AlignmentBucket) []domain.RawReport {
	var matches []domain.RawReport
	for _, report := range stored {
		if !report.IsCurrent() {
			continue
		}
		b, ok := report.Bucket()
		if ok && b == bucket {
			matches = append(matches, report)
		}
	}
	return matches
}

func anyIdentical(matches []domain.RawReport, fresh *domain.RawReport) bool {
	for i := range matches {
		if matches[i].SameFields(fresh) {
			return true
		}
	}
	return false
}
