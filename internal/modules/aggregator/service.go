package aggregator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/graham/internal/database"
	"github.com/aristath/graham/internal/domain"
	"github.com/aristath/graham/internal/events"
	"github.com/aristath/graham/internal/modules/fundamentals"
	"github.com/aristath/graham/internal/modules/quotes"
	"github.com/aristath/graham/internal/modules/registry"
	"github.com/aristath/graham/internal/modules/reports"
	"github.com/aristath/graham/internal/work"
)

// stateKey is the common-state key holding the pause flag across restarts.
const stateKey = "aggregator_state"

// tickInterval is how often the loop polls for pending events.
const tickInterval = 5 * time.Second

type message struct {
	input      input
	completion *work.Completion[State]
}

// Service owns the aggregator event loop. One pending event is processed
// per tick while Running; ticks are ignored while Paused.
type Service struct {
	loop      *work.Loop[message]
	engine    *fundamentals.Engine
	registry  *registry.Registry
	reports   *reports.Repository
	quotes    *quotes.Repository
	snapshots *fundamentals.SnapshotRepository
	events    *events.Repository
	common    *database.CommonStateRepository
	log       zerolog.Logger

	state State
}

// Config wires the aggregator's collaborators.
type Config struct {
	Engine    *fundamentals.Engine
	Registry  *registry.Registry
	Reports   *reports.Repository
	Quotes    *quotes.Repository
	Snapshots *fundamentals.SnapshotRepository
	Events    *events.Repository
	Common    *database.CommonStateRepository
	Log       zerolog.Logger
}

// NewService creates the aggregator worker.
func NewService(cfg Config) *Service {
	s := &Service{
		engine:    cfg.Engine,
		registry:  cfg.Registry,
		reports:   cfg.Reports,
		quotes:    cfg.Quotes,
		snapshots: cfg.Snapshots,
		events:    cfg.Events,
		common:    cfg.Common,
		log:       cfg.Log.With().Str("service", "aggregator").Logger(),
		state:     Running,
	}
	s.loop = work.NewLoop("aggregator", s.handle, cfg.Log)
	return s
}

// Start recovers the persisted pause state and launches the worker. A
// missing or unreadable flag defaults to Running.
func (s *Service) Start(ctx context.Context) error {
	value, found, err := s.common.Get(stateKey)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to load aggregator state, defaulting to running")
	} else if found && State(value) == Paused {
		s.state = Paused
	}
	s.log.Info().Str("state", string(s.state)).Msg("Aggregator starting")

	go s.loop.Run(ctx)
	go s.tickLoop(ctx)
	return nil
}

// Pause suspends event processing and returns the resulting state.
func (s *Service) Pause(ctx context.Context) (State, error) {
	return s.send(ctx, inputPause)
}

// Resume restarts event processing and returns the resulting state.
func (s *Service) Resume(ctx context.Context) (State, error) {
	return s.send(ctx, inputResume)
}

func (s *Service) send(ctx context.Context, in input) (State, error) {
	completion := work.NewCompletion[State]()
	s.loop.Enqueue(message{input: in, completion: completion})
	return completion.Wait(ctx)
}

func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.loop.Enqueue(message{input: inputTick})
		}
	}
}

func (s *Service) handle(ctx context.Context, msg message) {
	next, eff := transition(s.state, msg.input)
	s.state = next

	switch eff {
	case effectPersistState:
		if err := s.common.Set(stateKey, string(s.state)); err != nil {
			s.log.Error().Err(err).Msg("Failed to persist aggregator state")
		}
		s.log.Info().Str("state", string(s.state)).Msg("Aggregator state changed")
	case effectCheckEvents:
		s.processNextEvent(ctx)
	case effectIgnored:
		s.log.Debug().Str("state", string(s.state)).Msg("Tick ignored")
	}

	if msg.completion != nil {
		msg.completion.Complete(s.state, nil)
	}
}

// processNextEvent polls for the oldest pending event and handles it.
// Transient failures leave the event pending for the next tick.
func (s *Service) processNextEvent(ctx context.Context) {
	event, err := s.events.NextPending()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to poll pending events")
		return
	}
	if event == nil {
		return
	}

	log := s.log.With().Str("event", string(event.Type)).Int64("instrument_id", event.InstrumentID).Logger()

	switch event.Type {
	case events.RawDataChanged:
		if err := s.aggregate(event.InstrumentID); err != nil {
			log.Error().Err(err).Msg("Aggregation failed, event stays pending")
			return
		}
	case events.NewListing, events.ListingUpdated, events.ListingObsoleted:
		// Nothing to derive yet; acknowledged below.
	default:
		log.Warn().Msg("Dropping unknown event type")
	}

	if err := s.events.MarkProcessed(event); err != nil {
		log.Error().Err(err).Msg("Failed to mark event processed")
	}
}

// aggregate pulls the current raw history for one instrument, runs the
// engine, and persists the resulting snapshot.
func (s *Service) aggregate(instrumentID int64) error {
	instrument := s.instrumentByID(instrumentID)

	history, err := s.reports.ListCurrentByInstrument(instrumentID)
	if err != nil {
		return err
	}
	quote, err := s.quotes.Get(instrumentID)
	if err != nil {
		s.log.Warn().Err(err).Int64("instrument_id", instrumentID).
			Msg("Quote unavailable, aggregating without price")
		quote = nil
	}

	model := s.engine.Aggregate(instrument, history, quote)
	if err := s.snapshots.Insert(model, time.Now()); err != nil {
		return err
	}

	s.log.Info().
		Str("instrument", instrument.Key().String()).
		Int("score", model.Score()).
		Msg("Aggregate snapshot updated")
	return nil
}

// instrumentByID resolves the registry entry for id. Events can outlive
// their listing, so a missing entry degrades to a bare identity rather than
// failing the event.
func (s *Service) instrumentByID(id int64) domain.Instrument {
	for _, instrument := range s.registry.All() {
		if instrument.ID == id {
			return instrument
		}
	}
	return domain.Instrument{ID: id}
}
