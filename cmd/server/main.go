// Command server runs the statement collection and valuation pipeline:
// the collector worker, the aggregator event loop, the quote and search
// workers, scheduled backups, and the HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/graham/internal/clients/scraper"
	"github.com/aristath/graham/internal/config"
	"github.com/aristath/graham/internal/database"
	"github.com/aristath/graham/internal/events"
	"github.com/aristath/graham/internal/modules/aggregator"
	"github.com/aristath/graham/internal/modules/collector"
	"github.com/aristath/graham/internal/modules/fundamentals"
	"github.com/aristath/graham/internal/modules/quotes"
	"github.com/aristath/graham/internal/modules/registry"
	"github.com/aristath/graham/internal/modules/reports"
	"github.com/aristath/graham/internal/modules/search"
	"github.com/aristath/graham/internal/reliability"
	"github.com/aristath/graham/internal/server"
	"github.com/aristath/graham/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info"})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Str("data_dir", cfg.DataDir).Str("exchange", cfg.Exchange).Msg("Starting graham")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	databases, err := openDatabases(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open databases")
	}
	defer func() {
		for _, db := range databases {
			db.Close()
		}
	}()

	catalogDB := databases["catalog"].Conn()
	reportsDB := databases["reports"].Conn()
	cacheDB := databases["cache"].Conn()

	// Repositories.
	ids := database.NewSequenceRepository(catalogDB, "report_ids")
	instrumentRepo := registry.NewRepository(catalogDB, ids, log)
	reportRepo := reports.NewRepository(reportsDB, log)
	quoteRepo := quotes.NewRepository(cacheDB, log)
	snapshotRepo := fundamentals.NewSnapshotRepository(reportsDB, log)
	eventRepo := events.NewRepository(reportsDB, log)
	checkpointRepo := collector.NewCheckpointRepository(catalogDB, log)
	commonState := database.NewCommonStateRepository(catalogDB)

	// Shared catalog and external fetchers.
	catalog := registry.New()
	scraperClient := scraper.NewClient(cfg.ScraperURL, log)

	// Workers.
	collectorService := collector.NewService(collector.Config{
		Registry:     catalog,
		Instruments:  instrumentRepo,
		Reports:      reportRepo,
		Quotes:       quoteRepo,
		Events:       eventRepo,
		Checkpoints:  checkpointRepo,
		Directory:    scraperClient,
		Source:       scraperClient,
		IDs:          ids,
		Exchange:     cfg.Exchange,
		ManualReview: cfg.ManualReview,
		Log:          log,
	})
	if err := collectorService.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start collector")
	}

	aggregatorService := aggregator.NewService(aggregator.Config{
		Engine:    fundamentals.NewEngine(log),
		Registry:  catalog,
		Reports:   reportRepo,
		Quotes:    quoteRepo,
		Snapshots: snapshotRepo,
		Events:    eventRepo,
		Common:    commonState,
		Log:       log,
	})
	if err := aggregatorService.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start aggregator")
	}

	quoteService := quotes.NewService(catalog, scraperClient, quoteRepo, log)
	go quoteService.Run(ctx)

	searchIndexer := search.NewIndexer(catalog, log)
	searchIndexer.Start(ctx)

	// Backups.
	var s3Client *reliability.S3Client
	if cfg.Backup.Bucket != "" {
		s3Client, err = reliability.NewS3Client(ctx, reliability.S3Config{
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			Bucket:          cfg.Backup.Bucket,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup client")
		}
	}
	backupService := reliability.NewBackupService(databases, cfg.DataDir, s3Client, log)
	jobHistory := reliability.NewJobHistoryRepository(cacheDB, log)

	scheduler := startCron(ctx, log, backupService, quoteService, searchIndexer, jobHistory, cfg.Backup.RetentionDays)
	defer scheduler.Stop()

	// HTTP API.
	httpServer := server.New(server.Config{
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
		Registry:   catalog,
		Snapshots:  snapshotRepo,
		Quotes:     quoteRepo,
		Events:     eventRepo,
		Collector:  collectorService,
		Aggregator: aggregatorService,
		Search:     searchIndexer,
		Backups:    backupService,
		Jobs:       jobHistory,
		Log:        log,
	})
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
			cancel()
		}
	}()

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	log.Info().Msg("Shutdown complete")
}

// openDatabases opens the three databases with their PRAGMA profiles and
// runs migrations.
func openDatabases(dataDir string) (map[string]*database.DB, error) {
	specs := []struct {
		name    string
		profile database.DatabaseProfile
	}{
		{"catalog", database.ProfileStandard},
		{"reports", database.ProfileLedger},
		{"cache", database.ProfileCache},
	}

	databases := make(map[string]*database.DB, len(specs))
	for _, spec := range specs {
		db, err := database.New(database.Config{
			Path:    filepath.Join(dataDir, spec.name+".db"),
			Profile: spec.profile,
			Name:    spec.name,
		})
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			return nil, err
		}
		databases[spec.name] = db
	}
	return databases, nil
}

// startCron schedules the ancillary jobs: nightly backup with rotation,
// hourly quote refresh, and hourly search-index rebuild.
func startCron(
	ctx context.Context,
	log zerolog.Logger,
	backups *reliability.BackupService,
	quoteService *quotes.Service,
	searchIndexer *search.Indexer,
	jobHistory *reliability.JobHistoryRepository,
	retentionDays int,
) *cron.Cron {
	scheduler := cron.New()

	mustAdd := func(spec string, job func()) {
		if _, err := scheduler.AddFunc(spec, job); err != nil {
			log.Fatal().Err(err).Str("spec", spec).Msg("Failed to schedule job")
		}
	}

	mustAdd("0 3 * * *", func() {
		jobHistory.Track("backup", func() error {
			jobCtx, jobCancel := context.WithTimeout(ctx, 30*time.Minute)
			defer jobCancel()
			if err := backups.CreateAndUploadBackup(jobCtx); err != nil {
				log.Error().Err(err).Msg("Scheduled backup failed")
				return err
			}
			if err := backups.RotateOldBackups(jobCtx, retentionDays); err != nil {
				log.Error().Err(err).Msg("Backup rotation failed")
				return err
			}
			return nil
		})
	})

	mustAdd("0 * * * *", func() {
		jobHistory.Track("quote_refresh", func() error {
			jobCtx, jobCancel := context.WithTimeout(ctx, 15*time.Minute)
			defer jobCancel()
			_, err := quoteService.RefreshAll(jobCtx)
			return err
		})
	})

	mustAdd("30 * * * *", func() {
		searchIndexer.TriggerRebuild()
	})

	scheduler.Start()
	return scheduler
}
