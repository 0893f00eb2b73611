// Package wire assembles the application: it opens the database, registers
// the tracing plugin, migrates the schema, loads the optional SKU-master
// catalog, and builds the services shared by the server and the CLI.
package wire

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/device-intake/internal/config"
	"github.com/tbourn/device-intake/internal/intake"
	"github.com/tbourn/device-intake/internal/observability"
	"github.com/tbourn/device-intake/internal/repo"
	"github.com/tbourn/device-intake/internal/services"
	"github.com/tbourn/device-intake/internal/skumatch"
)

// App holds the wired services. Close releases the database.
type App struct {
	DB       *gorm.DB
	Pipeline *services.Pipeline
	Queue    *services.QueueService
	Archive  *services.ArchiveService
	Stats    *services.StatsService

	// Catalog is nil when no SKU master is configured.
	Catalog *skumatch.Catalog

	cfg config.Config
}

// Build opens the configured database and constructs every service.
func Build(cfg config.Config) (*App, error) {
	gormLog := logger.Default.LogMode(logger.Silent)
	if cfg.LogLevel == "debug" {
		gormLog = logger.Default.LogMode(logger.Info)
	}
	db, err := repo.Open(cfg.DB.Driver, cfg.DB.DSN(), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DB.Driver, err)
	}
	app := &App{DB: db, cfg: cfg}

	if err := observability.InstrumentDB(db); err != nil {
		app.Close()
		return nil, fmt.Errorf("instrument db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		app.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if cfg.SKUCatalogPath != "" {
		cat, err := skumatch.Load(cfg.SKUCatalogPath)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("load sku catalog: %w", err)
		}
		app.Catalog = cat
		log.Info().Str("path", cfg.SKUCatalogPath).Int("entries", cat.Len()).Msg("sku catalog loaded")
	}

	app.Pipeline = &services.Pipeline{
		DB:             db,
		Store:          services.RepoStore{},
		MatchThreshold: cfg.MatchThreshold,
		OpTimeout:      cfg.OpTimeout,
	}
	if app.Catalog != nil {
		app.Pipeline.Matcher = app.Catalog
	}

	app.Queue = &services.QueueService{
		DB:         db,
		Pipeline:   app.Pipeline,
		Normalize:  intake.Options{DefaultLocation: cfg.DefaultLocation},
		BatchSize:  cfg.Queue.EnqueueBatchSize,
		DrainLimit: cfg.Queue.DrainLimit,
		Workers:    cfg.Queue.DrainWorkers,
		OpTimeout:  cfg.OpTimeout,
		StaleAfter: cfg.Queue.StaleClaimAfter,
		Retry: services.RetryPolicy{
			Mode:        cfg.Queue.RetryMode,
			MaxAttempts: cfg.Queue.RetryMax,
			Backoff:     cfg.Queue.RetryBackoff,
		},
	}
	app.Archive = &services.ArchiveService{
		DB:        db,
		BatchSize: cfg.ArchiveBatchSize,
		OpTimeout: cfg.OpTimeout,
	}
	app.Stats = &services.StatsService{DB: db, OpTimeout: cfg.OpTimeout}
	return app, nil
}

// Poller returns the background drain loop configured for this app.
func (a *App) Poller() *services.Poller {
	return &services.Poller{
		Queue:     a.Queue,
		Interval:  a.cfg.Queue.DrainInterval,
		Retention: a.cfg.Queue.Retention,
	}
}

// Close closes the underlying connection pool.
func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
