package collector

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/graham/internal/database"
	"github.com/aristath/graham/internal/domain"
	"github.com/aristath/graham/internal/events"
	"github.com/aristath/graham/internal/modules/quotes"
	"github.com/aristath/graham/internal/modules/registry"
	"github.com/aristath/graham/internal/modules/reports"
)

type fakeDirectorySource struct {
	entries []domain.DirectoryEntry
	err     error
}

func (f *fakeDirectorySource) FetchDirectory(context.Context, string) ([]domain.DirectoryEntry, error) {
	return f.entries, f.err
}

type fakeReportSource struct {
	batches map[string]*domain.ReportBatch
	err     error
}

func (f *fakeReportSource) FetchReports(_ context.Context, instrument domain.Instrument) (*domain.ReportBatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	batch, ok := f.batches[instrument.CompanySymbol]
	if !ok {
		return &domain.ReportBatch{}, nil
	}
	return batch, nil
}

type serviceEnv struct {
	service   *Service
	reportsDB *sql.DB
	events    *events.Repository
	reports   *reports.Repository
	quotes    *quotes.Repository
	registry  *registry.Registry
	directory *fakeDirectorySource
	source    *fakeReportSource
}

func execSchema(t *testing.T, schema string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(schema)
	require.NoError(t, err)
	return db
}

func setupCollector(t *testing.T) *serviceEnv {
	t.Helper()

	catalogDB := execSchema(t, `
		CREATE TABLE instruments (
			instrument_id INTEGER PRIMARY KEY,
			exchange TEXT NOT NULL,
			company_symbol TEXT NOT NULL,
			instrument_symbol TEXT NOT NULL,
			company_name TEXT NOT NULL DEFAULT '',
			instrument_name TEXT NOT NULL DEFAULT '',
			listed_at TEXT NOT NULL,
			obsoleted_at TEXT,
			UNIQUE (company_symbol, instrument_symbol)
		);
		CREATE TABLE collector_checkpoint (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			next_directory_fetch TEXT,
			next_instrument_fetch TEXT,
			last_polled_company TEXT NOT NULL DEFAULT '',
			last_polled_instrument TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);
		CREATE TABLE id_sequence (
			name TEXT PRIMARY KEY,
			next_value INTEGER NOT NULL
		);`)

	reportsDB := execSchema(t, `
		CREATE TABLE instrument_events (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			instrument_id INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			processed_at TEXT
		);
		CREATE TABLE raw_reports (
			report_id INTEGER PRIMARY KEY,
			instrument_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			period TEXT NOT NULL,
			report_date TEXT,
			invalid INTEGER NOT NULL DEFAULT 0,
			check_manually INTEGER NOT NULL DEFAULT 0,
			obsoleted_at TEXT,
			inserted_at TEXT NOT NULL
		);
		CREATE TABLE raw_report_fields (
			report_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (report_id, name)
		);`)

	cacheDB := execSchema(t, `
		CREATE TABLE quotes (
			instrument_id INTEGER PRIMARY KEY,
			price REAL NOT NULL,
			shares_outstanding REAL NOT NULL,
			updated_at TEXT NOT NULL
		);`)

	log := zerolog.Nop()
	ids := database.NewSequenceRepository(catalogDB, "report_ids")

	env := &serviceEnv{
		reportsDB: reportsDB,
		events:    events.NewRepository(reportsDB, log),
		reports:   reports.NewRepository(reportsDB, log),
		quotes:    quotes.NewRepository(cacheDB, log),
		registry:  registry.New(),
		directory: &fakeDirectorySource{},
		source:    &fakeReportSource{batches: map[string]*domain.ReportBatch{}},
	}
	env.service = NewService(Config{
		Registry:    env.registry,
		Instruments: registry.NewRepository(catalogDB, ids, log),
		Reports:     env.reports,
		Quotes:      env.quotes,
		Events:      env.events,
		Checkpoints: NewCheckpointRepository(catalogDB, log),
		Directory:   env.directory,
		Source:      env.source,
		IDs:         ids,
		Exchange:    "KRX",
		Log:         log,
	})
	return env
}

func TestDirectoryRefreshAddsInstrumentsAndEmitsEvents(t *testing.T) {
	env := setupCollector(t)
	env.directory.entries = []domain.DirectoryEntry{
		{CompanySymbol: "005930", InstrumentSymbol: "005930", CompanyName: "Samsung Electronics"},
		{CompanySymbol: "000660", InstrumentSymbol: "000660", CompanyName: "SK Hynix"},
	}

	env.service.fetchDirectory(context.Background())

	assert.Equal(t, 2, env.registry.Len())
	pending, err := env.events.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
}

func TestDirectoryRefreshObsoletesMissingInstruments(t *testing.T) {
	env := setupCollector(t)
	env.directory.entries = []domain.DirectoryEntry{
		{CompanySymbol: "005930", InstrumentSymbol: "005930"},
		{CompanySymbol: "000660", InstrumentSymbol: "000660"},
	}
	env.service.fetchDirectory(context.Background())

	env.directory.entries = env.directory.entries[:1]
	env.service.fetchDirectory(context.Background())

	assert.Equal(t, 1, env.registry.Len())
	_, found := env.registry.Lookup(domain.InstrumentKey{
		CompanySymbol: "000660", InstrumentSymbol: "000660",
	})
	assert.False(t, found)
}

func TestDirectoryFetchFailureIsSkipped(t *testing.T) {
	env := setupCollector(t)
	env.directory.err = fmt.Errorf("shard unavailable")

	env.service.fetchDirectory(context.Background())

	assert.Equal(t, 0, env.registry.Len())
}

func TestFetchInstrumentStoresReportsQuoteAndEvent(t *testing.T) {
	env := setupCollector(t)
	env.directory.entries = []domain.DirectoryEntry{
		{CompanySymbol: "005930", InstrumentSymbol: "005930"},
	}
	env.service.fetchDirectory(context.Background())
	instrument, found := env.registry.Lookup(domain.InstrumentKey{
		CompanySymbol: "005930", InstrumentSymbol: "005930",
	})
	require.True(t, found)

	reportDate := time.Date(2021, time.December, 31, 0, 0, 0, 0, time.UTC)
	env.source.batches["005930"] = &domain.ReportBatch{
		Reports: []domain.RawReport{{
			Kind:       domain.KindBalanceSheet,
			Period:     domain.PeriodAnnual,
			ReportDate: &reportDate,
			Fields:     map[string]float64{"TotalShareholdersEquity": 100},
		}},
		Price:             80,
		SharesOutstanding: 1000,
	}

	changed := env.service.fetchInstrument(context.Background(), instrument)
	assert.True(t, changed)

	stored, err := env.reports.ListByInstrument(instrument.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.KindBalanceSheet, stored[0].Kind)

	quote, err := env.quotes.Get(instrument.ID)
	require.NoError(t, err)
	require.NotNil(t, quote)
	assert.Equal(t, 80.0, quote.Price)

	// Events: two new-listing equivalents (one instrument here) plus one
	// raw-data-changed.
	event, err := env.events.NextPending()
	require.NoError(t, err)
	require.NotNil(t, event)
}

func TestFetchInstrumentIdempotent(t *testing.T) {
	env := setupCollector(t)
	env.directory.entries = []domain.DirectoryEntry{
		{CompanySymbol: "005930", InstrumentSymbol: "005930"},
	}
	env.service.fetchDirectory(context.Background())
	instrument, _ := env.registry.Lookup(domain.InstrumentKey{
		CompanySymbol: "005930", InstrumentSymbol: "005930",
	})

	reportDate := time.Date(2021, time.December, 31, 0, 0, 0, 0, time.UTC)
	env.source.batches["005930"] = &domain.ReportBatch{
		Reports: []domain.RawReport{{
			Kind:       domain.KindCashFlow,
			Period:     domain.PeriodAnnual,
			ReportDate: &reportDate,
			Fields:     map[string]float64{"ChangesInCash": 5},
		}},
	}

	assert.True(t, env.service.fetchInstrument(context.Background(), instrument))
	assert.False(t, env.service.fetchInstrument(context.Background(), instrument))

	stored, err := env.reports.ListByInstrument(instrument.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestFetchInstrumentFailureIsRecoverable(t *testing.T) {
	env := setupCollector(t)
	env.source.err = fmt.Errorf("scrape timeout")

	changed := env.service.fetchInstrument(context.Background(), domain.Instrument{
		ID: 1, CompanySymbol: "A", InstrumentSymbol: "A",
	})
	assert.False(t, changed)
}

func TestFetchInstrumentEventCommitsWithDelta(t *testing.T) {
	env := setupCollector(t)
	env.directory.entries = []domain.DirectoryEntry{
		{CompanySymbol: "005930", InstrumentSymbol: "005930"},
	}
	env.service.fetchDirectory(context.Background())
	instrument, found := env.registry.Lookup(domain.InstrumentKey{
		CompanySymbol: "005930", InstrumentSymbol: "005930",
	})
	require.True(t, found)

	reportDate := time.Date(2021, time.December, 31, 0, 0, 0, 0, time.UTC)
	env.source.batches["005930"] = &domain.ReportBatch{
		Reports: []domain.RawReport{{
			Kind:       domain.KindBalanceSheet,
			Period:     domain.PeriodAnnual,
			ReportDate: &reportDate,
			Fields:     map[string]float64{"TotalShareholdersEquity": 100},
		}},
	}

	// Break event emission mid-cycle. The delta must roll back with it:
	// a committed delta with a lost notification would leave the score
	// stale until the filings change again.
	_, err := env.reportsDB.Exec(`ALTER TABLE instrument_events RENAME TO instrument_events_off`)
	require.NoError(t, err)

	changed := env.service.fetchInstrument(context.Background(), instrument)
	assert.False(t, changed)

	stored, err := env.reports.ListByInstrument(instrument.ID)
	require.NoError(t, err)
	assert.Empty(t, stored, "delta must not commit without its notification")

	// Storage recovers; the next cycle recomputes the same delta and both
	// the reports and the event land together.
	_, err = env.reportsDB.Exec(`ALTER TABLE instrument_events_off RENAME TO instrument_events`)
	require.NoError(t, err)

	changed = env.service.fetchInstrument(context.Background(), instrument)
	assert.True(t, changed)

	stored, err = env.reports.ListByInstrument(instrument.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	var emitted int
	err = env.reportsDB.QueryRow(
		`SELECT COUNT(*) FROM instrument_events WHERE event_type = ?`,
		string(events.RawDataChanged),
	).Scan(&emitted)
	require.NoError(t, err)
	assert.Equal(t, 1, emitted)
}
