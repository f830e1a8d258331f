package collector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/graham/internal/domain"
	"github.com/aristath/graham/internal/events"
	"github.com/aristath/graham/internal/modules/quotes"
	"github.com/aristath/graham/internal/modules/registry"
	"github.com/aristath/graham/internal/modules/reports"
	"github.com/aristath/graham/internal/work"
)

// scrapeTimeout bounds one instrument-data round trip. Expiry is an
// ordinary recoverable failure for that instrument, not a process fault.
const scrapeTimeout = time.Minute

// directoryTimeout bounds one full directory fetch.
const directoryTimeout = 5 * time.Minute

// message is the collector worker's queue entry: either a scheduler tick or
// an externally requested fetch of one instrument.
type message struct {
	tick       bool
	instrument *domain.Instrument
	completion *work.Completion[time.Time] // tick: next due time
	fetchDone  *work.Completion[bool]      // manual fetch: raw data changed
}

// Service is the scheduler-driven collection worker. All state (the
// checkpoint) is owned by the loop goroutine; producers talk to it through
// the message queue.
type Service struct {
	loop        *work.Loop[message]
	scheduler   *Scheduler
	delta       *DeltaEngine
	registry    *registry.Registry
	instruments *registry.Repository
	reports     *reports.Repository
	quotes      *quotes.Repository
	events      *events.Repository
	checkpoints *CheckpointRepository
	directory   domain.DirectorySource
	source      domain.ReportSource
	exchange    string
	log         zerolog.Logger

	checkpoint Checkpoint
}

// Config wires the collector's collaborators.
type Config struct {
	Registry    *registry.Registry
	Instruments *registry.Repository
	Reports     *reports.Repository
	Quotes      *quotes.Repository
	Events      *events.Repository
	Checkpoints *CheckpointRepository
	Directory   domain.DirectorySource
	Source      domain.ReportSource
	IDs         domain.IDGenerator
	Exchange    string
	// ManualReview holds conflicting report updates for human resolution
	// instead of superseding the stored report.
	ManualReview bool
	Log          zerolog.Logger
}

// NewService creates the collection worker.
func NewService(cfg Config) *Service {
	log := cfg.Log.With().Str("service", "collector").Logger()
	s := &Service{
		scheduler:   NewScheduler(cfg.Registry),
		delta:       NewDeltaEngine(cfg.IDs, cfg.ManualReview, cfg.Log),
		registry:    cfg.Registry,
		instruments: cfg.Instruments,
		reports:     cfg.Reports,
		quotes:      cfg.Quotes,
		events:      cfg.Events,
		checkpoints: cfg.Checkpoints,
		directory:   cfg.Directory,
		source:      cfg.Source,
		exchange:    cfg.Exchange,
		log:         log,
	}
	s.loop = work.NewLoop("collector", s.handle, cfg.Log)
	return s
}

// Start recovers persisted state and launches the worker. Failing to load
// the checkpoint or the instrument list is fatal: resuming with unknown
// state risks duplicate or lost work.
func (s *Service) Start(ctx context.Context) error {
	checkpoint, err := s.checkpoints.Load()
	if err != nil {
		return fmt.Errorf("failed to recover scheduler checkpoint: %w", err)
	}
	s.checkpoint = checkpoint

	instruments, err := s.instruments.List()
	if err != nil {
		return fmt.Errorf("failed to recover instrument list: %w", err)
	}
	s.registry.Initialize(instruments)
	s.log.Info().Int("instruments", s.registry.Len()).Msg("Collector state recovered")

	go s.loop.Run(ctx)
	go s.tickLoop(ctx)
	return nil
}

// FetchNow requests an immediate fetch of one instrument, bypassing the
// schedule, and reports whether raw data changed. Used by the API surface.
func (s *Service) FetchNow(ctx context.Context, key domain.InstrumentKey) (bool, error) {
	instrument, ok := s.registry.Lookup(key)
	if !ok {
		return false, fmt.Errorf("unknown instrument: %s", key)
	}
	completion := work.NewCompletion[bool]()
	s.loop.Enqueue(message{instrument: &instrument, fetchDone: completion})
	return completion.Wait(ctx)
}

// tickLoop sleeps until the next due time, then runs one scheduler tick on
// the worker. The tick's completion carries the recomputed due time, which
// bounds wasted wakeups while remaining correct across restarts with
// arbitrary downtime.
func (s *Service) tickLoop(ctx context.Context) {
	for {
		completion := work.NewCompletion[time.Time]()
		s.loop.Enqueue(message{tick: true, completion: completion})

		due, err := completion.Wait(ctx)
		if err != nil {
			return // shutdown
		}

		delay := time.Until(due)
		if delay < 0 {
			delay = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Service) handle(ctx context.Context, msg message) {
	if msg.tick {
		s.handleTick(ctx, msg.completion)
		return
	}
	if msg.instrument != nil {
		changed := s.fetchInstrument(ctx, *msg.instrument)
		if msg.fetchDone != nil {
			msg.fetchDone.Complete(changed, nil)
		}
		return
	}
	s.log.Warn().Msg("Dropping unknown collector message")
}

func (s *Service) handleTick(ctx context.Context, completion *work.Completion[time.Time]) {
	now := time.Now()
	checkpoint, commands := s.scheduler.Tick(now, s.checkpoint)
	s.checkpoint = checkpoint

	for _, cmd := range commands {
		if ctx.Err() != nil {
			break
		}
		switch cmd.Type {
		case FetchDirectory:
			s.fetchDirectory(ctx)
		case FetchInstrumentData:
			s.fetchInstrument(ctx, cmd.Instrument)
		case PersistCheckpoint:
			if err := s.checkpoints.Persist(s.checkpoint); err != nil {
				s.log.Error().Err(err).Msg("Failed to persist checkpoint")
			} else {
				s.checkpoint.Dirty = false
			}
		}
	}

	if completion != nil {
		due, ok := s.checkpoint.NextDue(time.Now())
		if !ok {
			due = time.Now()
		}
		completion.Complete(due, nil)
	}
}

// fetchDirectory refreshes the instrument catalog from the exchange
// directory and emits listing events for the differences.
func (s *Service) fetchDirectory(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, directoryTimeout)
	defer cancel()

	directory, err := s.directory.FetchDirectory(fetchCtx, s.exchange)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Transient failure: skipped this cycle, retried next cycle.
		s.log.Warn().Err(err).Msg("Directory fetch failed")
		return
	}

	diff := s.registry.DiffAgainstDirectory(directory)
	if len(diff.New) == 0 && len(diff.Obsoleted) == 0 {
		s.log.Debug().Msg("Directory unchanged")
		return
	}

	created, err := s.instruments.ApplyDirectoryDiff(s.exchange, diff, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to apply directory diff")
		return
	}

	for _, instrument := range created {
		s.registry.Add(instrument)
		if err := s.events.Emit(events.NewListing, instrument.ID); err != nil {
			s.log.Error().Err(err).Str("instrument", instrument.Key().String()).
				Msg("Failed to emit new-listing event")
		}
	}
	for _, instrument := range diff.Obsoleted {
		s.registry.Remove(instrument.Key())
		if err := s.events.Emit(events.ListingObsoleted, instrument.ID); err != nil {
			s.log.Error().Err(err).Str("instrument", instrument.Key().String()).
				Msg("Failed to emit listing-obsoleted event")
		}
	}

	s.log.Info().
		Int("new", len(created)).
		Int("obsoleted", len(diff.Obsoleted)).
		Msg("Directory refreshed")
}

// fetchInstrument scrapes one instrument, reconciles the batch against the
// stored history, and reports whether raw data changed.
func (s *Service) fetchInstrument(ctx context.Context, instrument domain.Instrument) bool {
	fetchCtx, cancel := context.WithTimeout(ctx, scrapeTimeout)
	defer cancel()

	batch, err := s.source.FetchReports(fetchCtx, instrument)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		// Timeouts included: one instrument skipped this cycle is not a
		// process fault.
		s.log.Warn().Str("instrument", instrument.Key().String()).Err(err).
			Msg("Instrument fetch failed")
		return false
	}

	if batch.Price > 0 || batch.SharesOutstanding > 0 {
		quote := domain.Quote{
			InstrumentID:      instrument.ID,
			Price:             batch.Price,
			SharesOutstanding: batch.SharesOutstanding,
			UpdatedAt:         time.Now().UTC(),
		}
		if err := s.quotes.Upsert(quote); err != nil {
			s.log.Warn().Err(err).Msg("Failed to store quote from batch")
		}
	}

	existing, err := s.reports.ListByInstrument(instrument.ID)
	if err != nil {
		s.log.Error().Str("instrument", instrument.Key().String()).Err(err).
			Msg("Failed to load stored reports")
		return false
	}

	delta, err := s.delta.ComputeDelta(instrument.ID, existing, batch.Reports)
	if err != nil {
		s.log.Error().Str("instrument", instrument.Key().String()).Err(err).
			Msg("Delta computation failed")
		return false
	}
	if delta.IsEmpty() {
		s.log.Debug().Str("instrument", instrument.Key().String()).Msg("No report changes")
		return false
	}

	// The raw-data-changed event rides the delta transaction: either both
	// commit or the next cycle recomputes the same delta and retries.
	err = s.reports.ApplyDelta(delta.Insert, delta.Obsolete, time.Now(), func(tx *sql.Tx) error {
		return s.events.EmitTx(tx, events.RawDataChanged, instrument.ID)
	})
	if err != nil {
		s.log.Error().Str("instrument", instrument.Key().String()).Err(err).
			Msg("Failed to apply report delta")
		return false
	}

	s.log.Info().
		Str("instrument", instrument.Key().String()).
		Int("inserted", len(delta.Insert)).
		Int("obsoleted", len(delta.Obsolete)).
		Msg("Raw reports updated")
	return true
}
