// Package config loads variantcore settings from an optional YAML file and
// VARIANTCORE_* environment overrides, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"variantcore/pkg/domain"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config is the complete runtime configuration.
type Config struct {
	Storage     Storage     `yaml:"storage"`
	Clustering  Clustering  `yaml:"clustering"`
	Deprecation Deprecation `yaml:"deprecation"`
	Report      Report      `yaml:"report"`
	Log         Log         `yaml:"log"`
	Metrics     Metrics     `yaml:"metrics"`
}

// Storage selects the variant store backend.
type Storage struct {
	Driver         string        `yaml:"driver"`
	SQLitePath     string        `yaml:"sqlite_path"`
	PostgresDSN    string        `yaml:"postgres_dsn"`
	ReadPreference string        `yaml:"read_preference"`
	LiveThreshold  int64         `yaml:"live_threshold"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
}

// Clustering tunes the pipeline.
type Clustering struct {
	ChunkSize          int           `yaml:"chunk_size"`
	Workers            int           `yaml:"workers"`
	RetryAttempts      int           `yaml:"retry_attempts"`
	RetryInterval      time.Duration `yaml:"retry_interval"`
	AccessionBlockSize int64         `yaml:"accession_block_size"`
}

// Deprecation configures deprecation runs.
type Deprecation struct {
	Suffix          string `yaml:"suffix"`
	ClusteredReason string `yaml:"clustered_reason"`
	SubmittedReason string `yaml:"submitted_reason"`
}

// Report selects where run summaries are written.
type Report struct {
	Driver          string `yaml:"driver"`
	Dir             string `yaml:"dir"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Log configures logrus.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics configures the Prometheus endpoint. An empty address disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Storage: Storage{
			Driver:         StorageSQLite,
			SQLitePath:     "variantcore.db",
			ReadPreference: string(domain.ReadPrimary),
			LiveThreshold:  domain.DefaultLiveAccessionThreshold,
			KeepAlive:      5 * time.Minute,
		},
		Clustering: Clustering{
			ChunkSize:          1000,
			Workers:            4,
			RetryAttempts:      5,
			RetryInterval:      50 * time.Millisecond,
			AccessionBlockSize: 1000,
		},
		Report: Report{Driver: "fs", Dir: "./reports"},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads path (if non-empty), applies the process environment and validates.
func Load(path string) (Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment.
func LoadWith(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

type envBinding struct {
	key string
	set func(string) error
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func integer64(dst *int64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func duration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func boolean(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func (c *Config) bindings() []envBinding {
	return []envBinding{
		{"VARIANTCORE_STORAGE_DRIVER", str(&c.Storage.Driver)},
		{"VARIANTCORE_SQLITE_PATH", str(&c.Storage.SQLitePath)},
		{"VARIANTCORE_POSTGRES_DSN", str(&c.Storage.PostgresDSN)},
		{"VARIANTCORE_READ_PREFERENCE", str(&c.Storage.ReadPreference)},
		{"VARIANTCORE_LIVE_THRESHOLD", integer64(&c.Storage.LiveThreshold)},
		{"VARIANTCORE_STORAGE_KEEP_ALIVE", duration(&c.Storage.KeepAlive)},
		{"VARIANTCORE_CHUNK_SIZE", integer(&c.Clustering.ChunkSize)},
		{"VARIANTCORE_WORKERS", integer(&c.Clustering.Workers)},
		{"VARIANTCORE_ACCESSION_BLOCK_SIZE", integer64(&c.Clustering.AccessionBlockSize)},
		{"VARIANTCORE_DEPRECATION_SUFFIX", str(&c.Deprecation.Suffix)},
		{"VARIANTCORE_REPORT_DRIVER", str(&c.Report.Driver)},
		{"VARIANTCORE_REPORT_DIR", str(&c.Report.Dir)},
		{"VARIANTCORE_REPORT_S3_BUCKET", str(&c.Report.Bucket)},
		{"VARIANTCORE_REPORT_S3_PREFIX", str(&c.Report.Prefix)},
		{"VARIANTCORE_REPORT_S3_REGION", str(&c.Report.Region)},
		{"VARIANTCORE_REPORT_S3_ENDPOINT", str(&c.Report.Endpoint)},
		{"VARIANTCORE_REPORT_S3_PATH_STYLE", boolean(&c.Report.PathStyle)},
		{"VARIANTCORE_LOG_LEVEL", str(&c.Log.Level)},
		{"VARIANTCORE_LOG_FORMAT", str(&c.Log.Format)},
		{"VARIANTCORE_METRICS_ADDR", str(&c.Metrics.Addr)},
	}
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	for _, b := range c.bindings() {
		v, ok := lookup(b.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.set(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s: %w", b.key, err)
		}
	}
	return nil
}

// Validate rejects settings no component can run with. A non-primary read
// preference is accepted here and refused by the components that write.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		return domain.ConfigError{Setting: "storage.driver", Reason: fmt.Sprintf("unknown driver %q", c.Storage.Driver)}
	}
	switch domain.ReadPreference(c.Storage.ReadPreference) {
	case domain.ReadPrimary, domain.ReadPrimaryPreferred, domain.ReadSecondary, domain.ReadSecondaryPreferred:
	default:
		return domain.ConfigError{Setting: "storage.read_preference", Reason: fmt.Sprintf("unknown value %q", c.Storage.ReadPreference)}
	}
	if c.Storage.LiveThreshold <= 0 {
		return domain.ConfigError{Setting: "storage.live_threshold", Reason: "must be positive"}
	}
	if c.Clustering.ChunkSize <= 0 {
		return domain.ConfigError{Setting: "clustering.chunk_size", Reason: "must be positive"}
	}
	if c.Clustering.Workers <= 0 {
		return domain.ConfigError{Setting: "clustering.workers", Reason: "must be positive"}
	}
	switch c.Report.Driver {
	case "fs", "memory":
	case "s3":
		if c.Report.Bucket == "" {
			return domain.ConfigError{Setting: "report.bucket", Reason: "required for the s3 driver"}
		}
	default:
		return domain.ConfigError{Setting: "report.driver", Reason: fmt.Sprintf("unknown driver %q", c.Report.Driver)}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return domain.ConfigError{Setting: "log.format", Reason: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}
