// Package config loads and validates the hjson configuration shared by the
// sentry and oracle binaries. Each binary only reads the sub-tree it needs,
// but both trees live in one file so a single deployment bundle can carry
// edge and center settings together.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hjson/hjson-go/v4"
	"github.com/spf13/afero"
)

// Env holds settings sourced from the OS environment rather than the config
// file: secrets and per-deployment overrides that should never land in a
// checked-in hjson blob.
type Env struct {
	PostgresDSN     string
	ClickhouseDSN   string
	ReasoningAPIKey string
}

// SentryConfig is the edge-node configuration tree.
type SentryConfig struct {
	LogReader struct {
		SearchPaths     []string      `json:"search_paths" validate:"required,min=1"`
		PollInterval    time.Duration `json:"poll_interval"`
		ScannerBufBytes int           `json:"scanner_buf_bytes" validate:"min=4096"`
	} `json:"log_reader"`

	Correlator struct {
		MaxFlowContexts int `json:"max_flow_contexts" validate:"min=1"`
	} `json:"correlator"`

	Detector struct {
		CalibrationSamples int     `json:"calibration_samples" validate:"min=1"`
		TrainingSamples    int     `json:"training_samples" validate:"min=1"`
		AlertThreshold     float64 `json:"alert_threshold" validate:"min=0,max=1"`
		ModelPath          string  `json:"model_path" validate:"required"`
	} `json:"detector"`

	Escalator struct {
		OracleURL     string        `json:"oracle_url" validate:"required,url"`
		QueueCapacity int           `json:"queue_capacity" validate:"min=1"`
		POSTTimeout   time.Duration `json:"post_timeout"`
		RetryInterval time.Duration `json:"retry_interval"`
	} `json:"escalator"`

	HTTP struct {
		ListenAddr string `json:"listen_addr" validate:"required"`
	} `json:"http"`

	Env Env `json:"-"`
}

// OracleConfig is the center-node configuration tree.
type OracleConfig struct {
	Ingest struct {
		DedupeTTL      time.Duration `json:"dedupe_ttl"`
		RateLimitPerMin int          `json:"rate_limit_per_min" validate:"min=1"`
	} `json:"ingest"`

	Store struct {
		Backend string `json:"backend" validate:"required,oneof=memory postgres"`
	} `json:"store"`

	Scorer struct {
		UseReasoningService bool          `json:"use_reasoning_service"`
		ReasoningURL        string        `json:"reasoning_url" validate:"required_if=UseReasoningService true"`
		ReasoningTimeout    time.Duration `json:"reasoning_timeout"`
		ReasoningMaxTokens  int           `json:"reasoning_max_tokens" validate:"min=1"`
	} `json:"scorer"`

	Correlator struct {
		TemporalWindow time.Duration `json:"temporal_window"`
	} `json:"correlator"`

	Analytics struct {
		BaseConfidenceThreshold float64 `json:"base_confidence_threshold" validate:"min=0,max=1"`
	} `json:"analytics"`

	HTTP struct {
		ListenAddr string `json:"listen_addr" validate:"required"`
	} `json:"http"`

	Env Env `json:"-"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	return v
}

// DefaultSentryConfig returns the baked-in defaults named throughout the
// design: 300ms polling, a 10,000-entry flow cap, a 1,000-sample training
// window, a 0.95 alert threshold, a 100-entry retry queue, 10s POST timeout,
// 30s retry interval.
func DefaultSentryConfig() SentryConfig {
	var c SentryConfig
	c.LogReader.SearchPaths = []string{"/opt/zeek/logs/current"}
	c.LogReader.PollInterval = 300 * time.Millisecond
	c.LogReader.ScannerBufBytes = 1 << 20
	c.Correlator.MaxFlowContexts = 10000
	c.Detector.CalibrationSamples = 100
	c.Detector.TrainingSamples = 1000
	c.Detector.AlertThreshold = 0.95
	c.Detector.ModelPath = "/var/lib/sentry/detector.model"
	c.Escalator.OracleURL = "http://localhost:8081/api/alerts"
	c.Escalator.QueueCapacity = 100
	c.Escalator.POSTTimeout = 10 * time.Second
	c.Escalator.RetryInterval = 30 * time.Second
	c.HTTP.ListenAddr = ":8080"
	return c
}

// DefaultOracleConfig returns the baked-in center defaults: 60s dedupe TTL,
// 50/min rate ceiling, in-memory store, deterministic-only scoring, 30-minute
// temporal correlation window, 0.95 base confidence threshold.
func DefaultOracleConfig() OracleConfig {
	var c OracleConfig
	c.Ingest.DedupeTTL = 60 * time.Second
	c.Ingest.RateLimitPerMin = 50
	c.Store.Backend = "memory"
	c.Scorer.UseReasoningService = false
	c.Scorer.ReasoningTimeout = 5 * time.Second
	c.Scorer.ReasoningMaxTokens = 512
	c.Correlator.TemporalWindow = 30 * time.Minute
	c.Analytics.BaseConfidenceThreshold = 0.95
	c.HTTP.ListenAddr = ":8081"
	return c
}

func readAndDecode(fs afero.Fs, path string, out any) error {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := hjson.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return nil
}

// LoadSentryConfig reads path on fs over the default config, so a partial
// hjson file only overrides the fields it sets, then validates the result
// and populates Env from the OS environment.
func LoadSentryConfig(fs afero.Fs, path string) (SentryConfig, error) {
	cfg := DefaultSentryConfig()
	if path != "" {
		if err := readAndDecode(fs, path, &cfg); err != nil {
			return SentryConfig{}, err
		}
	}
	cfg.Env = Env{
		PostgresDSN:     os.Getenv("SENTRY_POSTGRES_DSN"),
		ClickhouseDSN:   os.Getenv("SENTRY_CLICKHOUSE_DSN"),
		ReasoningAPIKey: os.Getenv("SENTRY_REASONING_API_KEY"),
	}
	if err := validate.Struct(cfg); err != nil {
		return SentryConfig{}, fmt.Errorf("config: validating sentry config: %w", err)
	}
	return cfg, nil
}

// LoadOracleConfig mirrors LoadSentryConfig for the center tree.
func LoadOracleConfig(fs afero.Fs, path string) (OracleConfig, error) {
	cfg := DefaultOracleConfig()
	if path != "" {
		if err := readAndDecode(fs, path, &cfg); err != nil {
			return OracleConfig{}, err
		}
	}
	cfg.Env = Env{
		PostgresDSN:     os.Getenv("ORACLE_POSTGRES_DSN"),
		ClickhouseDSN:   os.Getenv("ORACLE_CLICKHOUSE_DSN"),
		ReasoningAPIKey: os.Getenv("ORACLE_REASONING_API_KEY"),
	}
	if cfg.Store.Backend == "postgres" && cfg.Env.PostgresDSN == "" {
		return OracleConfig{}, fmt.Errorf("config: store.backend is postgres but ORACLE_POSTGRES_DSN is unset")
	}
	if err := validate.Struct(cfg); err != nil {
		return OracleConfig{}, fmt.Errorf("config: validating oracle config: %w", err)
	}
	return cfg, nil
}
