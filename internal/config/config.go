// Package config loads service configuration from an optional JSON file with
// environment variable overrides. Environment wins over file, file wins over
// defaults, so containerized deployments can override single values without
// templating the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	Relational RelationalConfig `json:"relational"`
	Document   DocumentConfig   `json:"document"`
	Cache      CacheConfig      `json:"cache"`
	Metrics    MetricsConfig    `json:"metrics"`

	// BatchSize bounds records per insert statement.
	BatchSize int `json:"batch_size"`
	// SampleSize bounds how many records the profiler inspects.
	SampleSize int `json:"sample_size"`
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `json:"log_level"`
}

type RelationalConfig struct {
	// Kind selects the registered relational backend: postgres or sqlite.
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

type DocumentConfig struct {
	// Kind selects the registered document backend: mongo.
	Kind     string `json:"kind"`
	URI      string `json:"uri"`
	Database string `json:"database"`
}

type CacheConfig struct {
	// Disabled switches the service to the no-op cache.
	Disabled bool   `json:"disabled"`
	Addr     string `json:"addr"`
	// TTL is how long cached reads stay valid.
	TTL time.Duration `json:"-"`
	// TTLSeconds is the JSON representation of TTL.
	TTLSeconds int `json:"ttl_seconds"`
}

type MetricsConfig struct {
	// Enabled turns on Datadog submission.
	Enabled bool   `json:"enabled"`
	JobName string `json:"job_name"`
	TagsCSV string `json:"tags"`
}

// Default returns the development configuration: embedded SQLite, local
// Mongo, local Redis.
func Default() Config {
	return Config{
		Relational: RelationalConfig{Kind: "sqlite", DSN: "file:datacat.db"},
		Document:   DocumentConfig{Kind: "mongo", URI: "mongodb://localhost:27017", Database: "datacat"},
		Cache:      CacheConfig{Addr: "localhost:6379", TTL: 5 * time.Minute, TTLSeconds: 300},
		Metrics:    MetricsConfig{JobName: "datacat"},
		BatchSize:  500,
		SampleSize: 100,
		LogLevel:   "info",
	}
}

// Load reads the file at path (if non-empty) over the defaults, then applies
// DATACAT_* environment overrides.
//
// Errors:
//   - A named file that does not exist or does not parse is an error; a
//     missing path is not.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Cache.TTLSeconds > 0 {
		cfg.Cache.TTL = time.Duration(cfg.Cache.TTLSeconds) * time.Second
	}
	return cfg, validate(cfg)
}

func applyEnv(cfg *Config) {
	setString(&cfg.Relational.Kind, "DATACAT_RELATIONAL_KIND")
	setString(&cfg.Relational.DSN, "DATACAT_RELATIONAL_DSN")
	setString(&cfg.Document.Kind, "DATACAT_DOCUMENT_KIND")
	setString(&cfg.Document.URI, "DATACAT_DOCUMENT_URI")
	setString(&cfg.Document.Database, "DATACAT_DOCUMENT_DB")
	setString(&cfg.Cache.Addr, "DATACAT_CACHE_ADDR")
	setBool(&cfg.Cache.Disabled, "DATACAT_CACHE_DISABLED")
	setInt(&cfg.Cache.TTLSeconds, "DATACAT_CACHE_TTL_SECONDS")
	setBool(&cfg.Metrics.Enabled, "DATACAT_METRICS_ENABLED")
	setString(&cfg.Metrics.JobName, "DATACAT_METRICS_JOB")
	setString(&cfg.Metrics.TagsCSV, "DATACAT_METRICS_TAGS")
	setInt(&cfg.BatchSize, "DATACAT_BATCH_SIZE")
	setInt(&cfg.SampleSize, "DATACAT_SAMPLE_SIZE")
	setString(&cfg.LogLevel, "DATACAT_LOG_LEVEL")
}

func validate(cfg Config) error {
	if cfg.Relational.Kind == "" {
		return fmt.Errorf("config: relational.kind is required")
	}
	if cfg.Document.Kind == "" {
		return fmt.Errorf("config: document.kind is required")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.SampleSize <= 0 {
		return fmt.Errorf("config: sample_size must be positive, got %d", cfg.SampleSize)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			*dst = n
		}
	}
}
