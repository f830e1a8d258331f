package collector

import (
	"time"

	"github.com/aristath/graham/internal/domain"
)

// Fetch cadence. The directory is re-discovered hourly; individual
// instruments are polled round-robin every four minutes.
const (
	DirectoryInterval  = time.Hour
	InstrumentInterval = 4 * time.Minute
)

// CommandType identifies a scheduler-emitted command.
type CommandType int

const (
	// FetchDirectory - refresh the full instrument directory.
	FetchDirectory CommandType = iota
	// FetchInstrumentData - scrape one instrument's raw statements.
	FetchInstrumentData
	// PersistCheckpoint - write the mutated checkpoint back to storage.
	PersistCheckpoint
)

// String returns a human-readable name for the command type.
func (t CommandType) String() string {
	switch t {
	case FetchDirectory:
		return "FetchDirectory"
	case FetchInstrumentData:
		return "FetchInstrumentData"
	case PersistCheckpoint:
		return "PersistCheckpoint"
	default:
		return "Unknown"
	}
}

// Command is one unit of work emitted by a scheduler tick.
type Command struct {
	Type       CommandType
	Instrument domain.Instrument // set for FetchInstrumentData
}

// Catalog is the registry view the scheduler needs: the next instrument in
// round-robin order after a key.
type Catalog interface {
	NextAfter(key domain.InstrumentKey) (domain.Instrument, bool)
}

// Scheduler decides, from elapsed time and the checkpoint, what to fetch.
// There is no enumerated state set; state is implicit in the two due times
// plus the dirty flag.
type Scheduler struct {
	catalog Catalog
}

// NewScheduler creates a scheduler over the given catalog.
func NewScheduler(catalog Catalog) *Scheduler {
	return &Scheduler{catalog: catalog}
}

// Tick evaluates the checkpoint at the given instant and returns the
// updated checkpoint plus the commands to execute, in order. A nil or past
// due time counts as due. PersistCheckpoint is appended whenever the tick
// mutated persisted state.
func (s *Scheduler) Tick(now time.Time, cp Checkpoint) (Checkpoint, []Command) {
	var commands []Command

	if due(cp.NextDirectoryFetch, now) {
		commands = append(commands, Command{Type: FetchDirectory})
		next := now.Add(DirectoryInterval)
		cp.NextDirectoryFetch = &next
		cp.Dirty = true
	}

	if due(cp.NextInstrumentFetch, now) {
		// Advance the poll clock even when the catalog is empty, so an
		// idle exchange does not spin the worker.
		next := now.Add(InstrumentInterval)
		cp.NextInstrumentFetch = &next
		cp.Dirty = true

		if instrument, ok := s.catalog.NextAfter(cp.LastPolledKey); ok {
			commands = append(commands, Command{Type: FetchInstrumentData, Instrument: instrument})
			cp.LastPolledKey = instrument.Key()
		}
	}

	if cp.Dirty {
		commands = append(commands, Command{Type: PersistCheckpoint})
	}
	return cp, commands
}

func due(t *time.Time, now time.Time) bool {
	return t == nil || !now.Before(*t)
}
