// Package config assembles process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/curation/internal/env"
	"github.com/liamcoop/curation/internal/logger"
	"github.com/liamcoop/curation/metrics"
	"github.com/liamcoop/curation/objectstore"
	"github.com/liamcoop/curation/rules"
	"github.com/liamcoop/curation/warehouse/bigquery"
)

// Warehouse drivers
const (
	WarehouseBigQuery = "bigquery"
	WarehousePostgres = "postgres"
)

// Ledger drivers
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
)

type Warehouse struct {
	Driver      string
	// BigQuery is used when Driver is bigquery
	BigQuery    bigquery.Config
	// PostgresDSN is used when Driver is postgres
	PostgresDSN string
	SchemaDir   string
}

type Ledger struct {
	Driver      string
	DatabaseURL string
}

type Archive struct {
	Enabled bool
	Prefix  string
}

type Server struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RunTimeout      time.Duration
	ShutdownTimeout time.Duration
	PreviewCache    rules.CacheConfig
}

type Config struct {
	Log         logger.Config
	Warehouse   Warehouse
	Ledger      Ledger
	ObjectStore objectstore.Config
	Archive     Archive
	Metrics     metrics.Config
	Server      Server
	StagesFile  string
}

// FromEnv reads the configuration and validates it
func FromEnv() (Config, error) {
	var errs []error
	boolVar := func(key string, def bool) bool {
		v, err := env.Bool(key, def)
		errs = append(errs, err)
		return v
	}
	durationVar := func(key string, def time.Duration) time.Duration {
		v, err := env.Duration(key, def)
		errs = append(errs, err)
		return v
	}
	intVar := func(key string, def int) int {
		v, err := env.Int(key, def)
		errs = append(errs, err)
		return v
	}

	cacheDefaults := rules.DefaultCacheConfig()
	cfg := Config{
		Log: logger.Config{
			Level:       env.String("LOG_LEVEL", "INFO"),
			Format:      env.String("LOG_FORMAT", logger.FormatJSON),
			File:        env.String("LOG_FILE", ""),
			OTELEnabled: boolVar("OTEL_ENABLED", false),
			ServiceName: env.String("OTEL_SERVICE_NAME", "curation"),
		},
		Warehouse: Warehouse{
			Driver: env.String("CURATION_WAREHOUSE", WarehouseBigQuery),
			BigQuery: bigquery.Config{
				Location:        env.String("CURATION_BQ_LOCATION", "US"),
				CredentialsFile: env.String("CURATION_BQ_CREDENTIALS_FILE", ""),
				SchemaDir:       env.String("CURATION_SCHEMA_DIR", ""),
			},
			PostgresDSN: env.String("CURATION_WAREHOUSE_DSN", ""),
			SchemaDir:   env.String("CURATION_SCHEMA_DIR", ""),
		},
		Ledger: Ledger{
			Driver:      env.String("CURATION_LEDGER", LedgerMemory),
			DatabaseURL: env.String("DATABASE_URL", ""),
		},
		Archive: Archive{
			Enabled: boolVar("CURATION_ARCHIVE_ENABLED", false),
			Prefix:  env.String("CURATION_ARCHIVE_PREFIX", "curation"),
		},
		Metrics: metrics.Config{
			JobName:    env.String("CURATION_METRICS_JOB", "curation"),
			GatewayURL: env.String("CURATION_PUSHGATEWAY_URL", ""),
		},
		Server: Server{
			Addr:            ":" + env.String("PORT", "8080"),
			ReadTimeout:     durationVar("CURATION_HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    durationVar("CURATION_HTTP_WRITE_TIMEOUT", 2*time.Hour),
			RunTimeout:      durationVar("CURATION_RUN_TIMEOUT", 2*time.Hour),
			ShutdownTimeout: durationVar("CURATION_SHUTDOWN_TIMEOUT", 30*time.Second),
			PreviewCache: rules.CacheConfig{
				TTL:        durationVar("CURATION_PREVIEW_CACHE_TTL", cacheDefaults.TTL),
				MaxEntries: intVar("CURATION_PREVIEW_CACHE_SIZE", cacheDefaults.MaxEntries),
			},
		},
		StagesFile: env.String("CURATION_STAGES_FILE", ""),
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	store, err := objectstore.ConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("objectstore: %w", err)
	}
	cfg.ObjectStore = store

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements
func (c Config) Validate() error {
	switch c.Warehouse.Driver {
	case WarehouseBigQuery:
	case WarehousePostgres:
		if strings.TrimSpace(c.Warehouse.PostgresDSN) == "" {
			return errors.New("CURATION_WAREHOUSE_DSN is required for the postgres warehouse")
		}
	default:
		return fmt.Errorf("unknown warehouse driver %q", c.Warehouse.Driver)
	}

	switch c.Ledger.Driver {
	case LedgerMemory:
	case LedgerPostgres:
		if strings.TrimSpace(c.Ledger.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required for the postgres ledger")
		}
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}

	if c.Archive.Enabled {
		if err := c.ObjectStore.Validate(); err != nil {
			return fmt.Errorf("archive enabled but objectstore invalid: %w", err)
		}
	}
	if c.Server.RunTimeout < 0 || c.Server.PreviewCache.TTL < 0 || c.Server.PreviewCache.MaxEntries < 0 {
		return errors.New("timeouts and cache sizes must not be negative")
	}
	return nil
}
