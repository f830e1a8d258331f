// Package registry maintains the in-memory catalog of known instruments
// and its persistence.
package registry

import (
	"sort"
	"sync"

	"github.com/aristath/graham/internal/domain"
)

// Registry is the concurrent, sorted catalog of known instruments.
//
// It is the one piece of state shared across worker boundaries without going
// through a queue, so every read and write is serialized under a single
// mutex. The catalog is small (one exchange's listings), lock contention is
// not a concern.
type Registry struct {
	mu          sync.Mutex
	instruments []domain.Instrument // sorted by (company symbol, instrument symbol)
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// DirectoryDiff is the result of comparing the catalog against a fresh
// directory snapshot.
type DirectoryDiff struct {
	// New lists directory entries absent from the catalog.
	New []domain.DirectoryEntry
	// Obsoleted lists catalog instruments absent from the directory.
	Obsoleted []domain.Instrument
}

// Initialize seeds the catalog once at startup. The input need not be
// sorted; obsoleted instruments are skipped.
func (r *Registry) Initialize(instruments []domain.Instrument) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.instruments = r.instruments[:0]
	for _, instrument := range instruments {
		if instrument.IsObsolete() {
			continue
		}
		r.instruments = append(r.instruments, instrument)
	}
	sort.Slice(r.instruments, func(i, j int) bool {
		return r.instruments[i].Key().Less(r.instruments[j].Key())
	})
}

// DiffAgainstDirectory compares the catalog with a fresh directory snapshot
// by (company symbol, instrument symbol).
func (r *Registry) DiffAgainstDirectory(directory []domain.DirectoryEntry) DirectoryDiff {
	r.mu.Lock()
	defer r.mu.Unlock()

	inDirectory := make(map[domain.InstrumentKey]bool, len(directory))
	for _, entry := range directory {
		inDirectory[entry.Key()] = true
	}

	var diff DirectoryDiff
	for _, entry := range directory {
		if _, found := r.indexOf(entry.Key()); !found {
			diff.New = append(diff.New, entry)
		}
	}
	for _, instrument := range r.instruments {
		if !inDirectory[instrument.Key()] {
			diff.Obsoleted = append(diff.Obsoleted, instrument)
		}
	}
	return diff
}

// Add inserts an instrument preserving sort order. An instrument with an
// existing key replaces the stored one.
func (r *Registry) Add(instrument domain.Instrument) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, found := r.indexOf(instrument.Key())
	if found {
		r.instruments[idx] = instrument
		return
	}
	r.instruments = append(r.instruments, domain.Instrument{})
	copy(r.instruments[idx+1:], r.instruments[idx:])
	r.instruments[idx] = instrument
}

// Remove deletes the instrument with the given key, if present.
func (r *Registry) Remove(key domain.InstrumentKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, found := r.indexOf(key)
	if !found {
		return
	}
	r.instruments = append(r.instruments[:idx], r.instruments[idx+1:]...)
}

// Lookup returns the instrument with the given key. The second return value
// is false when the key is unknown.
func (r *Registry) Lookup(key domain.InstrumentKey) (domain.Instrument, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, found := r.indexOf(key)
	if !found {
		return domain.Instrument{}, false
	}
	return r.instruments[idx], true
}

// NextAfter returns the instrument whose sort key is strictly greater than
// key, wrapping to the first entry when key is the last or absent. This
// realizes fair round-robin polling across a catalog that changes over time.
// The second return value is false only when the catalog is empty.
func (r *Registry) NextAfter(key domain.InstrumentKey) (domain.Instrument, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.instruments) == 0 {
		return domain.Instrument{}, false
	}

	idx := sort.Search(len(r.instruments), func(i int) bool {
		return key.Less(r.instruments[i].Key())
	})
	if idx == len(r.instruments) {
		idx = 0 // wrap around
	}
	return r.instruments[idx], true
}

// All returns a copy of the catalog in sort order.
func (r *Registry) All() []domain.Instrument {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Instrument, len(r.instruments))
	copy(out, r.instruments)
	return out
}

// Len returns the catalog size.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instruments)
}

// indexOf returns the position of key, or the insertion point when absent.
// Callers hold r.mu. Binary search relies on the slice staying sorted, which
// every mutator preserves.
func (r *Registry) indexOf(key domain.InstrumentKey) (int, bool) {
	idx := sort.Search(len(r.instruments), func(i int) bool {
		return r.instruments[i].Key().Compare(key) >= 0
	})
	if idx < len(r.instruments) && r.instruments[idx].Key().Compare(key) == 0 {
		return idx, true
	}
	return idx, false
}
