package quotes

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/graham/internal/domain"
	"github.com/aristath/graham/internal/work"
)

// fetchTimeout bounds one quote-source round trip.
const fetchTimeout = 30 * time.Second

// Catalog is the registry view the refresher needs.
type Catalog interface {
	All() []domain.Instrument
}

// command is the refresher's message type.
type command struct {
	// refreshAll when instrument is nil, otherwise refresh one.
	instrument *domain.Instrument
	completion *work.Completion[int]
}

// Service is the quote cache refresher: a single-consumer worker that pulls
// quotes from the external source and stores them in the cache.
type Service struct {
	loop    *work.Loop[command]
	catalog Catalog
	source  domain.QuoteSource
	repo    *Repository
	log     zerolog.Logger
}

// NewService creates the refresher worker.
func NewService(catalog Catalog, source domain.QuoteSource, repo *Repository, log zerolog.Logger) *Service {
	s := &Service{
		catalog: catalog,
		source:  source,
		repo:    repo,
		log:     log.With().Str("service", "quotes").Logger(),
	}
	s.loop = work.NewLoop("quotes", s.handle, log)
	return s
}

// Run drains the refresher queue until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.loop.Run(ctx)
}

// TriggerRefreshAll enqueues a full refresh. Non-blocking; used by the cron
// schedule.
func (s *Service) TriggerRefreshAll() {
	s.loop.Enqueue(command{})
}

// RefreshAll enqueues a full refresh and waits for it, returning the number
// of instruments refreshed.
func (s *Service) RefreshAll(ctx context.Context) (int, error) {
	completion := work.NewCompletion[int]()
	s.loop.Enqueue(command{completion: completion})
	return completion.Wait(ctx)
}

func (s *Service) handle(ctx context.Context, cmd command) {
	refreshed, err := s.refresh(ctx, cmd.instrument)
	if cmd.completion != nil {
		cmd.completion.Complete(refreshed, err)
	}
}

func (s *Service) refresh(ctx context.Context, only *domain.Instrument) (int, error) {
	instruments := s.catalog.All()
	if only != nil {
		instruments = []domain.Instrument{*only}
	}

	refreshed := 0
	for _, instrument := range instruments {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if instrument.IsObsolete() {
			continue
		}

		fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		quote, err := s.source.FetchQuote(fetchCtx, instrument)
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return refreshed, err
			}
			// Transient failure: skip this instrument, retry next cycle.
			s.log.Warn().Str("instrument", instrument.Key().String()).Err(err).
				Msg("Failed to fetch quote")
			continue
		}

		quote.InstrumentID = instrument.ID
		quote.UpdatedAt = time.Now().UTC()
		if err := s.repo.Upsert(*quote); err != nil {
			s.log.Warn().Str("instrument", instrument.Key().String()).Err(err).
				Msg("Failed to store quote")
			continue
		}
		refreshed++
	}

	s.log.Debug().Int("refreshed", refreshed).Msg("Quote refresh complete")
	return refreshed, nil
}
