package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/liamcoop/curation/internal/env"
)

// Drivers understood by New.
const (
	DriverMinio  = "minio"
	DriverS3     = "s3"
	DriverMemory = "memory"
)

type Config struct {
	Driver    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	PathStyle bool
	Profile   string
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("CURATION_OBJECTSTORE_USE_SSL", true)
	if err != nil {
		return Config{}, err
	}
	pathStyle, err := env.Bool("CURATION_OBJECTSTORE_PATH_STYLE", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Driver:    env.String("CURATION_OBJECTSTORE_DRIVER", DriverMemory),
		Endpoint:  env.String("CURATION_OBJECTSTORE_ENDPOINT", ""),
		AccessKey: env.String("CURATION_OBJECTSTORE_ACCESS_KEY", ""),
		SecretKey: env.String("CURATION_OBJECTSTORE_SECRET_KEY", ""),
		Region:    env.String("CURATION_OBJECTSTORE_REGION", "us-east-1"),
		UseSSL:    useSSL,
		PathStyle: pathStyle,
		Profile:   env.String("CURATION_OBJECTSTORE_PROFILE", ""),
		Bucket:    env.String("CURATION_OBJECTSTORE_BUCKET", "curation-runs"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverMinio:
		if strings.TrimSpace(c.Endpoint) == "" {
			return errors.New("endpoint is required")
		}
		if strings.Contains(c.Endpoint, "://") {
			return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
		}
		if strings.TrimSpace(c.AccessKey) == "" {
			return errors.New("access key is required")
		}
		if strings.TrimSpace(c.SecretKey) == "" {
			return errors.New("secret key is required")
		}
		return nil
	case DriverS3:
		if strings.TrimSpace(c.Region) == "" {
			return errors.New("region is required")
		}
		if (c.AccessKey == "") != (c.SecretKey == "") {
			return errors.New("access key and secret key must be set together")
		}
		return nil
	default:
		return fmt.Errorf("unknown objectstore driver %q", c.Driver)
	}
}

// New creates the Store selected by cfg.Driver.
func New(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case DriverMinio:
		store, err := NewMinioStore(cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverS3:
		store, err := NewS3Store(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return NewMemoryStore(), nil
	}
}
