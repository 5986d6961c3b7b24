// Package app wires the cleaning engine and its supporting stores from a
// config.Config. Both the CLI and the API server build one App per process.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/liamcoop/curation/cleaningrules"
	"github.com/liamcoop/curation/internal/config"
	"github.com/liamcoop/curation/ledger"
	"github.com/liamcoop/curation/metrics"
	"github.com/liamcoop/curation/objectstore"
	"github.com/liamcoop/curation/rules"
	"github.com/liamcoop/curation/stages"
	"github.com/liamcoop/curation/warehouse"
	"github.com/liamcoop/curation/warehouse/bigquery"
	"github.com/liamcoop/curation/warehouse/postgres"
)

// App holds every long-lived component of the process
type App struct {
	Config       config.Config
	Logger       *slog.Logger
	Registry     rules.Registry
	Stages       *stages.Manager
	Engine       *rules.Engine
	Metrics      *metrics.Backend
	Ledger       ledger.Store
	// Archiver is nil when archiving is disabled
	Archiver     *ledger.Archiver
	PreviewCache rules.QueryListCache

	clients rules.ClientFactory
	store   objectstore.Store
	closers []func() error
}

// Option overrides a component New would otherwise build from config
type Option func(*App)

// WithClientFactory replaces the configured warehouse
func WithClientFactory(f rules.ClientFactory) Option {
	return func(a *App) { a.clients = f }
}

// WithObjectStore replaces the configured object store
func WithObjectStore(s objectstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLedger replaces the configured ledger store
func WithLedger(s ledger.Store) Option {
	return func(a *App) { a.Ledger = s }
}

// New builds the App. Call Close when done.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	registry := rules.NewInMemoryRegistry()
	if err := cleaningrules.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register cleaning rules: %w", err)
	}
	a.Registry = registry

	mgr, err := stages.NewManager(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage manager: %w", err)
	}
	if cfg.StagesFile != "" {
		if err := mgr.LoadFile(cfg.StagesFile); err != nil {
			return nil, err
		}
		logger.Info("loaded stage definitions", "file", cfg.StagesFile, "stages", len(mgr.List()))
	}
	a.Stages = mgr

	backend, err := metrics.NewBackend(cfg.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics backend: %w", err)
	}
	a.Metrics = backend

	if a.clients == nil {
		a.clients = warehouseFactory(cfg.Warehouse, logger)
	}
	a.Engine = rules.NewEngine(a.clients, logger, rules.WithObserver(backend))
	a.PreviewCache = rules.NewInMemoryQueryListCache(cfg.Server.PreviewCache)

	if a.Ledger == nil {
		store, err := a.openLedger(cfg.Ledger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Ledger = store
	}

	if cfg.Archive.Enabled {
		if err := a.openArchive(ctx, cfg); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func warehouseFactory(cfg config.Warehouse, logger *slog.Logger) rules.ClientFactory {
	if cfg.Driver == config.WarehousePostgres {
		schemas := warehouse.NewSchemaSet(cfg.SchemaDir)
		return rules.ClientFactoryFunc(func(ctx context.Context, projectID, runAs string) (warehouse.Client, error) {
			if runAs != "" {
				logger.Warn("postgres warehouse ignores run_as", "run_as", runAs)
			}
			client, err := postgres.Open(ctx, cfg.PostgresDSN, projectID, schemas, logger)
			if err != nil {
				return nil, err
			}
			return client, nil
		})
	}
	return rules.ClientFactoryFunc(bigquery.NewFactory(cfg.BigQuery, logger))
}

func (a *App) openLedger(cfg config.Ledger) (ledger.Store, error) {
	if cfg.Driver != config.LedgerPostgres {
		return ledger.NewInMemoryStore(), nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	return ledger.NewPostgresStore(db), nil
}

func (a *App) openArchive(ctx context.Context, cfg config.Config) error {
	store := a.store
	if store == nil {
		var err error
		store, err = objectstore.New(ctx, cfg.ObjectStore)
		if err != nil {
			return fmt.Errorf("failed to create object store: %w", err)
		}
	}
	if m, ok := store.(*objectstore.MinioStore); ok {
		if err := m.EnsureBucket(ctx, cfg.ObjectStore.Bucket, cfg.ObjectStore.Region); err != nil {
			return err
		}
	}
	a.store = store
	a.Archiver = ledger.NewArchiver(store, cfg.ObjectStore.Bucket, cfg.Archive.Prefix)
	return nil
}

// Close releases database handles opened by New
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}
