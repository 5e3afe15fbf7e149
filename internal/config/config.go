// Package config resolves workbench settings from the environment.
// Command-line flags in cmd/picwizard override individual fields after Load.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/picwizard/internal/logging"
)

// Environment variable names.
const (
	EnvServiceURL  = "PICWIZARD_SERVICE_URL"
	EnvTimeout     = "PICWIZARD_TIMEOUT"
	EnvDebounce    = "PICWIZARD_DEBOUNCE"
	EnvMaxDecodes  = "PICWIZARD_MAX_DECODES"
	EnvOutputDir   = "PICWIZARD_OUTPUT_DIR"
	EnvAPIToken    = "PICWIZARD_API_TOKEN"
	EnvS3Bucket    = "PICWIZARD_S3_BUCKET"
	EnvS3Prefix    = "PICWIZARD_S3_PREFIX"
	EnvEncodeCache = "PICWIZARD_ENCODE_CACHE_TTL"
	EnvMetrics     = "PICWIZARD_METRICS"
)

// Defaults.
const (
	DefaultServiceURL     = "http://localhost:8000"
	DefaultTimeout        = 60 * time.Second
	DefaultDebounce       = 300 * time.Millisecond
	DefaultMaxDecodes     = 4
	DefaultOutputDir      = "."
	DefaultEncodeCacheTTL = 10 * time.Minute
)

// Config holds everything a workbench needs to talk to the processing
// service and store its output.
type Config struct {
	ServiceURL     string
	Timeout        time.Duration
	Debounce       time.Duration
	MaxDecodes     int
	OutputDir      string
	APIToken       string
	S3Bucket       string
	S3Prefix       string
	EncodeCacheTTL time.Duration

	// Metrics is where EMF metric lines go: a file path, "-" for stdout,
	// or empty to disable them.
	Metrics string
}

// Load reads the environment, falling back to defaults for unset values.
// Malformed durations and counts are reported rather than silently ignored.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceURL: strings.TrimRight(logging.EnvOrDefault(EnvServiceURL, DefaultServiceURL), "/"),
		OutputDir:  logging.EnvOrDefault(EnvOutputDir, DefaultOutputDir),
		APIToken:   logging.EnvOrDefault(EnvAPIToken, ""),
		S3Bucket:   logging.EnvOrDefault(EnvS3Bucket, ""),
		S3Prefix:   logging.EnvOrDefault(EnvS3Prefix, ""),
		Metrics:    logging.EnvOrDefault(EnvMetrics, ""),
	}

	var err error
	if cfg.Timeout, err = envDuration(EnvTimeout, DefaultTimeout); err != nil {
		return nil, err
	}
	if cfg.Debounce, err = envDuration(EnvDebounce, DefaultDebounce); err != nil {
		return nil, err
	}
	if cfg.EncodeCacheTTL, err = envDuration(EnvEncodeCache, DefaultEncodeCacheTTL); err != nil {
		return nil, err
	}

	raw := logging.EnvOrDefault(EnvMaxDecodes, strconv.Itoa(DefaultMaxDecodes))
	cfg.MaxDecodes, err = strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid integer %q: %w", EnvMaxDecodes, raw, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and the service URL.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServiceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("service URL must be an absolute http(s) URL, got %q", c.ServiceURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce window must not be negative, got %s", c.Debounce)
	}
	if c.MaxDecodes < 1 {
		return fmt.Errorf("max concurrent decodes must be at least 1, got %d", c.MaxDecodes)
	}
	return nil
}

// S3Enabled reports whether archives should be written to S3.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	raw := logging.EnvOrDefault(name, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", name, raw, err)
	}
	return d, nil
}
