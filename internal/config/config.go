// Package config resolves scenarioctl settings from a YAML file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/scenario-composer/internal/logging"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Environment variables read by ApplyEnv.
const (
	EnvRemoteURL      = "SCENARIOCTL_REMOTE_URL"
	EnvEventsURL      = "SCENARIOCTL_EVENTS_URL"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFormat      = "LOG_FORMAT"
	EnvMetricsAddr    = "SCENARIOCTL_METRICS_ADDR"
	EnvTracingEnabled = "SCENARIOCTL_TRACING_ENABLED"
	EnvTracingExport  = "SCENARIOCTL_TRACING_EXPORTER"
	EnvOTLPEndpoint   = "SCENARIOCTL_OTLP_ENDPOINT"
	EnvSampleRatio    = "SCENARIOCTL_TRACING_SAMPLE_RATIO"
)

// Config holds the resolved settings.
type Config struct {
	// RemoteURL is the simulator's HTTP base URL.
	RemoteURL string `yaml:"remote_url"`
	// EventsURL overrides the status channel URL derived from RemoteURL.
	EventsURL      string        `yaml:"events_url,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	MetricsAddr    string        `yaml:"metrics_addr,omitempty"`
	Tracing        Tracing       `yaml:"tracing"`
}

// Tracing configures span export.
type Tracing struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		RemoteURL:      "http://localhost:5000",
		RequestTimeout: 30 * time.Second,
		LogLevel:       "info",
		LogFormat:      "text",
		Tracing: Tracing{
			Exporter:    "stdout",
			SampleRatio: 1,
		},
	}
}

// DefaultPath returns ~/.scenarioctl.yaml, or a path in the working
// directory when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scenarioctl.yaml"
	}
	return filepath.Join(home, ".scenarioctl.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables read through lookup onto cfg.
// Pass os.LookupEnv outside of tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvRemoteURL, &c.RemoteURL)
	str(EnvEventsURL, &c.EventsURL)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvLogFormat, &c.LogFormat)
	str(EnvMetricsAddr, &c.MetricsAddr)
	str(EnvTracingExport, &c.Tracing.Exporter)
	str(EnvOTLPEndpoint, &c.Tracing.Endpoint)

	if v, ok := lookup(EnvTracingEnabled); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidConfig, EnvTracingEnabled, v)
		}
		c.Tracing.Enabled = b
	}
	if v, ok := lookup(EnvSampleRatio); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, EnvSampleRatio, v)
		}
		c.Tracing.SampleRatio = f
	}
	return nil
}

// Validate checks the resolved settings.
func (c Config) Validate() error {
	if err := checkURL("remote_url", c.RemoteURL, "http", "https"); err != nil {
		return err
	}
	if c.EventsURL != "" {
		if err := checkURL("events_url", c.EventsURL, "ws", "wss", "http", "https"); err != nil {
			return err
		}
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request_timeout must be positive", ErrInvalidConfig)
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("%w: tracing.sample_ratio %v outside [0, 1]", ErrInvalidConfig, c.Tracing.SampleRatio)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout":
		case "otlp":
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("%w: tracing.endpoint is required for the otlp exporter", ErrInvalidConfig)
			}
		default:
			return fmt.Errorf("%w: unknown tracing.exporter %q", ErrInvalidConfig, c.Tracing.Exporter)
		}
	}
	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, field, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %s %q has no host", ErrInvalidConfig, field, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %q must use one of %s", ErrInvalidConfig, field, raw, strings.Join(schemes, ", "))
}
