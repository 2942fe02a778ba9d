// SPDX-License-Identifier: MIT

// Package config assembles the correlatord configuration from defaults,
// an optional YAML file, and environment variables, in that order of
// precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the pipeline.
type Config struct {
	// Queue transport
	QueueURL       string        `yaml:"queue_url"`
	DeadLetterURL  string        `yaml:"dead_letter_url"`
	Region         string        `yaml:"region"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Signing credentials. Empty credentials disable emission but never
	// crash anything.
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
	SessionToken    string `yaml:"-"`

	// Correlation
	Window              time.Duration `yaml:"window"`
	MaxBatch            int           `yaml:"max_batch"`
	WaitTime            time.Duration `yaml:"wait_time"`
	MaxDeliveryAttempts int           `yaml:"max_delivery_attempts"`
	Workers             int           `yaml:"workers"`
	PollsPerSecond      float64       `yaml:"polls_per_second"`

	// Stores
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`
	SQLitePath    string `yaml:"sqlite_path"`

	// Local dead-letter archive. Empty path disables it.
	ArchivePath      string        `yaml:"archive_path"`
	ArchiveRetention time.Duration `yaml:"archive_retention"`

	// HTTP surface (health, metrics)
	ListenAddr string `yaml:"listen_addr"`

	// Observability
	LogLevel     string  `yaml:"log_level"`
	OTelEnabled  bool    `yaml:"otel_enabled"`
	OTelExporter string  `yaml:"otel_exporter"` // "http", "grpc", or "noop"
	OTelEndpoint string  `yaml:"otel_endpoint"`
	OTelSampling float64 `yaml:"otel_sampling"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Region:              "eu-central-1",
		RequestTimeout:      30 * time.Second,
		Window:              15 * time.Minute,
		MaxBatch:            10,
		WaitTime:            20 * time.Second,
		MaxDeliveryAttempts: 5,
		Workers:             2,
		PollsPerSecond:      2,
		RedisAddr:           "localhost:6379",
		SQLitePath:          "matchtrail.db",
		ArchiveRetention:    7 * 24 * time.Hour,
		ListenAddr:          ":8080",
		LogLevel:            "info",
		OTelExporter:        "noop",
		OTelSampling:        1.0,
	}
}

// Load builds the effective configuration: defaults, overlaid by the
// YAML file at path (if non-empty), overlaid by environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.QueueURL = ParseString("MT_QUEUE_URL", c.QueueURL)
	c.DeadLetterURL = ParseString("MT_DLQ_URL", c.DeadLetterURL)
	c.Region = ParseString("AWS_REGION", c.Region)
	c.RequestTimeout = ParseDuration("MT_REQUEST_TIMEOUT", c.RequestTimeout)

	c.AccessKeyID = ParseString("AWS_ACCESS_KEY_ID", c.AccessKeyID)
	c.SecretAccessKey = ParseString("AWS_SECRET_ACCESS_KEY", c.SecretAccessKey)
	c.SessionToken = ParseString("AWS_SESSION_TOKEN", c.SessionToken)

	c.Window = ParseDuration("MT_WINDOW", c.Window)
	c.MaxBatch = ParseInt("MT_MAX_BATCH", c.MaxBatch)
	c.WaitTime = ParseDuration("MT_WAIT_TIME", c.WaitTime)
	c.MaxDeliveryAttempts = ParseInt("MT_MAX_DELIVERY_ATTEMPTS", c.MaxDeliveryAttempts)
	c.Workers = ParseInt("MT_WORKERS", c.Workers)
	c.PollsPerSecond = ParseFloat("MT_POLLS_PER_SECOND", c.PollsPerSecond)

	c.RedisAddr = ParseString("MT_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = ParseString("MT_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = ParseInt("MT_REDIS_DB", c.RedisDB)
	c.SQLitePath = ParseString("MT_SQLITE_PATH", c.SQLitePath)
	c.ArchivePath = ParseString("MT_ARCHIVE_PATH", c.ArchivePath)
	c.ArchiveRetention = ParseDuration("MT_ARCHIVE_RETENTION", c.ArchiveRetention)

	c.ListenAddr = ParseString("MT_LISTEN_ADDR", c.ListenAddr)

	c.LogLevel = ParseString("LOG_LEVEL", c.LogLevel)
	c.OTelEnabled = ParseBool("MT_OTEL_ENABLED", c.OTelEnabled)
	c.OTelExporter = ParseString("MT_OTEL_EXPORTER", c.OTelExporter)
	c.OTelEndpoint = ParseString("MT_OTEL_ENDPOINT", c.OTelEndpoint)
	c.OTelSampling = ParseFloat("MT_OTEL_SAMPLING", c.OTelSampling)
}

// Validate rejects configurations that cannot run at all. Missing
// credentials are deliberately not an error here: they disable emission,
// they do not prevent the correlator from consuming.
func (c Config) Validate() error {
	var errs []error
	if c.QueueURL == "" {
		errs = append(errs, errors.New("queue URL is required (MT_QUEUE_URL)"))
	}
	if c.Window <= 0 {
		errs = append(errs, fmt.Errorf("window must be positive, got %s", c.Window))
	}
	if c.MaxBatch < 1 || c.MaxBatch > 10 {
		errs = append(errs, fmt.Errorf("max batch must be in [1,10], got %d", c.MaxBatch))
	}
	if c.MaxDeliveryAttempts < 1 {
		errs = append(errs, fmt.Errorf("max delivery attempts must be at least 1, got %d", c.MaxDeliveryAttempts))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.SQLitePath == "" {
		errs = append(errs, errors.New("sqlite path is required"))
	}
	if c.OTelSampling < 0 || c.OTelSampling > 1 {
		errs = append(errs, fmt.Errorf("otel sampling must be in [0,1], got %g", c.OTelSampling))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
