// Package search maintains an in-memory name and symbol index over the
// instrument catalog for the API's typeahead lookups.
package search

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/graham/internal/domain"
	"github.com/aristath/graham/internal/work"
)

// maxResults caps one query's result set.
const maxResults = 25

// entry is one indexed instrument with its precomputed lowercase haystacks.
type entry struct {
	instrument domain.Instrument
	symbols    string
	names      string
}

// Result is one search hit.
type Result struct {
	Instrument domain.Instrument `json:"instrument"`
	// Rank orders hits: symbol prefix < symbol substring < name substring.
	Rank int `json:"rank"`
}

type command struct {
	rebuild []domain.Instrument
	query   string
	results *work.Completion[[]Result]
}

// Indexer owns the index through a single-consumer loop: rebuilds and
// queries are serialized, so the index needs no lock.
type Indexer struct {
	loop    *work.Loop[command]
	catalog interface{ All() []domain.Instrument }
	log     zerolog.Logger

	entries []entry
}

// NewIndexer creates the search worker over the given catalog.
func NewIndexer(catalog interface{ All() []domain.Instrument }, log zerolog.Logger) *Indexer {
	idx := &Indexer{
		catalog: catalog,
		log:     log.With().Str("service", "search").Logger(),
	}
	idx.loop = work.NewLoop("search", idx.handle, log)
	return idx
}

// Start launches the worker and schedules an initial build.
func (idx *Indexer) Start(ctx context.Context) {
	go idx.loop.Run(ctx)
	idx.TriggerRebuild()
}

// TriggerRebuild snapshots the catalog and queues a full index rebuild.
// Called after directory refreshes and on a periodic schedule.
func (idx *Indexer) TriggerRebuild() {
	idx.loop.Enqueue(command{rebuild: idx.catalog.All()})
}

// Query returns ranked matches for q.
func (idx *Indexer) Query(ctx context.Context, q string) ([]Result, error) {
	results := work.NewCompletion[[]Result]()
	idx.loop.Enqueue(command{query: q, results: results})
	return results.Wait(ctx)
}

func (idx *Indexer) handle(_ context.Context, cmd command) {
	if cmd.rebuild != nil {
		idx.rebuild(cmd.rebuild)
		return
	}
	if cmd.results != nil {
		cmd.results.Complete(idx.search(cmd.query), nil)
		return
	}
	idx.log.Warn().Msg("Dropping unknown search command")
}

func (idx *Indexer) rebuild(instruments []domain.Instrument) {
	entries := make([]entry, 0, len(instruments))
	for _, instrument := range instruments {
		if instrument.IsObsolete() {
			continue
		}
		entries = append(entries, entry{
			instrument: instrument,
			symbols: strings.ToLower(
				instrument.CompanySymbol + " " + instrument.InstrumentSymbol),
			names: strings.ToLower(
				instrument.CompanyName + " " + instrument.InstrumentName),
		})
	}
	idx.entries = entries
	idx.log.Debug().Int("instruments", len(entries)).Msg("Search index rebuilt")
}

func (idx *Indexer) search(q string) []Result {
	needle := strings.ToLower(strings.TrimSpace(q))
	if needle == "" {
		return nil
	}

	var results []Result
	for _, e := range idx.entries {
		switch {
		case strings.HasPrefix(e.symbols, needle):
			results = append(results, Result{Instrument: e.instrument, Rank: 0})
		case strings.Contains(e.symbols, needle):
			results = append(results, Result{Instrument: e.instrument, Rank: 1})
		case strings.Contains(e.names, needle):
			results = append(results, Result{Instrument: e.instrument, Rank: 2})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Rank != results[j].Rank {
			return results[i].Rank < results[j].Rank
		}
		return results[i].Instrument.Key().Less(results[j].Instrument.Key())
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}
