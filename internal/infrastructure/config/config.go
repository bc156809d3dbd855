package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/egsm/perftrace/internal/shared/utils"
)

// Config holds all tracer configuration.
//
// Values are layered: Default() < config file < environment. Command-line
// flags are applied on top by the binaries. Environment tags carry no
// defaults so an unset variable never clobbers a file value.
type Config struct {
	Component string `envconfig:"COMPONENT_ID"`
	File      string `envconfig:"PERF_CONFIG_FILE"`

	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Tracer    TracerConfig
	Export    ExportConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT"`
	Host string `envconfig:"HOST"`
	// CORSOrigins lists origins allowed to call the API. Empty allows any.
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL"`
	Development bool   `envconfig:"LOG_DEV"`
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED"`
}

// TracerConfig holds trace store and shared-state configuration.
type TracerConfig struct {
	SharedDir       string        `envconfig:"PERF_SHARED_DIR"`
	FallbackDir     string        `envconfig:"PERF_FALLBACK_DIR"`
	TraceTimeout    time.Duration `envconfig:"PERF_TRACE_TIMEOUT"`
	Retention       time.Duration `envconfig:"PERF_RETENTION"`
	SyncInterval    time.Duration `envconfig:"PERF_SYNC_INTERVAL"`
	ReloadRPS       float64       `envconfig:"PERF_RELOAD_RPS"`
	MatchWindow     time.Duration `envconfig:"PERF_MATCH_WINDOW"`
	TrackableEvents []string      `envconfig:"PERF_TRACKABLE_EVENTS"`
	IngressStage    string        `envconfig:"PERF_INGRESS_STAGE"`
	EmitStage       string        `envconfig:"PERF_EMIT_STAGE"`
}

// ExportConfig holds exporter configuration.
type ExportConfig struct {
	Prefix       string `envconfig:"PERF_EXPORT_PREFIX"`
	Compress     bool   `envconfig:"PERF_EXPORT_COMPRESS"`
	Keep         int    `envconfig:"PERF_EXPORT_KEEP"`
	CollectorURL string `envconfig:"PERF_COLLECTOR_URL"`
}

// DefaultTrackableEvents are the event names instrumented by default.
var DefaultTrackableEvents = []string{
	"process_event",
	"state_change",
	"activity_start",
	"activity_end",
	"process_complete",
	"deviation_detected",
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Component: "unknown",
		Server: ServerConfig{
			Port: "8090",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Tracer: TracerConfig{
			SharedDir:       "/tmp/egsm-performance-shared",
			FallbackDir:     "./performance-data",
			TraceTimeout:    30 * time.Second,
			Retention:       time.Hour,
			SyncInterval:    5 * time.Second,
			ReloadRPS:       2,
			MatchWindow:     5 * time.Second,
			TrackableEvents: append([]string(nil), DefaultTrackableEvents...),
			IngressStage:    "received",
			EmitStage:       "processed",
		},
		Export: ExportConfig{
			Prefix: "perf-data",
		},
	}
}

// Load builds configuration from defaults, the optional config file named
// by PERF_CONFIG_FILE, and the environment.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("PERF_CONFIG_FILE"))
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
		cfg.File = path
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns defaults on error.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if err := utils.ValidateComponentID(c.Component); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, origin := range c.Server.CORSOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("invalid config: CORS origin %q needs an http or https scheme", origin)
		}
	}
	switch {
	case c.Tracer.TraceTimeout <= 0:
		return fmt.Errorf("invalid config: trace timeout must be positive, got %s", c.Tracer.TraceTimeout)
	case c.Tracer.Retention <= 0:
		return fmt.Errorf("invalid config: retention must be positive, got %s", c.Tracer.Retention)
	case c.Tracer.SyncInterval <= 0:
		return fmt.Errorf("invalid config: sync interval must be positive, got %s", c.Tracer.SyncInterval)
	case c.Export.Keep < 0:
		return fmt.Errorf("invalid config: export keep must not be negative, got %d", c.Export.Keep)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// fileConfig is the on-disk schema. Durations are strings ("30s", "1h")
// so YAML and TOML files read the same way.
type fileConfig struct {
	Component string `yaml:"component" toml:"component"`
	Server    struct {
		Port        string   `yaml:"port" toml:"port"`
		Host        string   `yaml:"host" toml:"host"`
		CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
	} `yaml:"server" toml:"server"`
	Logging struct {
		Level       string `yaml:"level" toml:"level"`
		Development *bool  `yaml:"development" toml:"development"`
	} `yaml:"logging" toml:"logging"`
	RateLimit struct {
		RequestsPerSecond int   `yaml:"rps" toml:"rps"`
		Burst             int   `yaml:"burst" toml:"burst"`
		Enabled           *bool `yaml:"enabled" toml:"enabled"`
	} `yaml:"rate_limit" toml:"rate_limit"`
	Tracer struct {
		SharedDir       string   `yaml:"shared_dir" toml:"shared_dir"`
		FallbackDir     string   `yaml:"fallback_dir" toml:"fallback_dir"`
		TraceTimeout    string   `yaml:"trace_timeout" toml:"trace_timeout"`
		Retention       string   `yaml:"retention" toml:"retention"`
		SyncInterval    string   `yaml:"sync_interval" toml:"sync_interval"`
		ReloadRPS       float64  `yaml:"reload_rps" toml:"reload_rps"`
		MatchWindow     string   `yaml:"match_window" toml:"match_window"`
		TrackableEvents []string `yaml:"trackable_events" toml:"trackable_events"`
		IngressStage    string   `yaml:"ingress_stage" toml:"ingress_stage"`
		EmitStage       string   `yaml:"emit_stage" toml:"emit_stage"`
	} `yaml:"tracer" toml:"tracer"`
	Export struct {
		Prefix       string `yaml:"prefix" toml:"prefix"`
		Compress     *bool  `yaml:"compress" toml:"compress"`
		Keep         int    `yaml:"keep" toml:"keep"`
		CollectorURL string `yaml:"collector_url" toml:"collector_url"`
	} `yaml:"export" toml:"export"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.Component, fc.Component)
	setString(&c.Server.Port, fc.Server.Port)
	setString(&c.Server.Host, fc.Server.Host)
	if len(fc.Server.CORSOrigins) > 0 {
		c.Server.CORSOrigins = fc.Server.CORSOrigins
	}
	setString(&c.Logging.Level, fc.Logging.Level)
	setBool(&c.Logging.Development, fc.Logging.Development)
	setInt(&c.RateLimit.RequestsPerSecond, fc.RateLimit.RequestsPerSecond)
	setInt(&c.RateLimit.Burst, fc.RateLimit.Burst)
	setBool(&c.RateLimit.Enabled, fc.RateLimit.Enabled)

	t := &c.Tracer
	setString(&t.SharedDir, fc.Tracer.SharedDir)
	setString(&t.FallbackDir, fc.Tracer.FallbackDir)
	setString(&t.IngressStage, fc.Tracer.IngressStage)
	setString(&t.EmitStage, fc.Tracer.EmitStage)
	if fc.Tracer.ReloadRPS > 0 {
		t.ReloadRPS = fc.Tracer.ReloadRPS
	}
	if len(fc.Tracer.TrackableEvents) > 0 {
		t.TrackableEvents = fc.Tracer.TrackableEvents
	}
	durations := []struct {
		dst *time.Duration
		raw string
		key string
	}{
		{&t.TraceTimeout, fc.Tracer.TraceTimeout, "trace_timeout"},
		{&t.Retention, fc.Tracer.Retention, "retention"},
		{&t.SyncInterval, fc.Tracer.SyncInterval, "sync_interval"},
		{&t.MatchWindow, fc.Tracer.MatchWindow, "match_window"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid tracer.%s %q: %w", d.key, d.raw, err)
		}
		*d.dst = v
	}

	setString(&c.Export.Prefix, fc.Export.Prefix)
	setBool(&c.Export.Compress, fc.Export.Compress)
	setInt(&c.Export.Keep, fc.Export.Keep)
	setString(&c.Export.CollectorURL, fc.Export.CollectorURL)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
