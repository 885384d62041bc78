// Package config loads mercury-stream's configuration from environment
// variables (optionally via a local .env file), validates it, and exposes
// it as a typed struct.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every environment-tunable knob listed in SPEC_FULL.md §6.
type Config struct {
	// TCP listener
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"9001"`

	// Optional raw recorder
	Record     bool   `env:"RECORD" envDefault:"false"`
	RecordFile string `env:"RECORD_FILE" envDefault:"data/btcusd.jsonl"`

	// Forensics
	Forensics                 bool   `env:"FORENSICS" envDefault:"true"`
	LatencySpikeThresholdMs   int64  `env:"LATENCY_SPIKE_THRESHOLD_MS" envDefault:"100"`
	DuplicateLRUMax           int    `env:"DUPLICATE_LRU_MAX" envDefault:"50000"`
	DriftSamplesFile          string `env:"DRIFT_SAMPLES_FILE" envDefault:"data/drift_samples.jsonl"`

	// Flight recorder
	FlightPreEvents   int           `env:"FLIGHT_PRE_EVENTS" envDefault:"5000"`
	FlightPostEvents  int           `env:"FLIGHT_POST_EVENTS" envDefault:"3000"`
	FlightCooldownS   int           `env:"FLIGHT_COOLDOWN_S" envDefault:"60"`
	IncidentsRoot     string        `env:"INCIDENTS_ROOT" envDefault:"data/incidents"`

	// Bus
	BusQueueCapacity int `env:"BUS_QUEUE_CAPACITY" envDefault:"1000"`

	// Metrics
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9090"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Shutdown
	ShutdownDeadline time.Duration `env:"SHUTDOWN_DEADLINE" envDefault:"2s"`

	// Optional incident alert mirror
	NATSUrl string `env:"NATS_URL" envDefault:""`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads a local .env file (if present) then environment variables into
// a validated Config. Priority: real env vars > .env file > struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that can never run correctly.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("HOST is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 1-65535, got %d", c.Port)
	}
	if c.BusQueueCapacity < 1 {
		return fmt.Errorf("BUS_QUEUE_CAPACITY must be > 0, got %d", c.BusQueueCapacity)
	}
	if c.FlightPreEvents < 1 {
		return fmt.Errorf("FLIGHT_PRE_EVENTS must be > 0, got %d", c.FlightPreEvents)
	}
	if c.FlightPostEvents < 1 {
		return fmt.Errorf("FLIGHT_POST_EVENTS must be > 0, got %d", c.FlightPostEvents)
	}
	if c.FlightCooldownS < 0 {
		return fmt.Errorf("FLIGHT_COOLDOWN_S must be >= 0, got %d", c.FlightCooldownS)
	}
	if c.DuplicateLRUMax < 1 {
		return fmt.Errorf("DUPLICATE_LRU_MAX must be > 0, got %d", c.DuplicateLRUMax)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json, pretty (got %q)", c.LogFormat)
	}

	return nil
}

// Addr returns the TCP listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Print logs a human-readable dump of the loaded config, used at startup
// before the structured logger exists.
func (c *Config) Print() {
	fmt.Println("=== mercury-stream configuration ===")
	fmt.Printf("Listen:            %s\n", c.Addr())
	fmt.Printf("Forensics:         %v\n", c.Forensics)
	fmt.Printf("Bus queue cap:     %d\n", c.BusQueueCapacity)
	fmt.Printf("Flight pre/post:   %d / %d\n", c.FlightPreEvents, c.FlightPostEvents)
	fmt.Printf("Flight cooldown:   %ds\n", c.FlightCooldownS)
	fmt.Printf("Incidents root:    %s\n", c.IncidentsRoot)
	fmt.Printf("Metrics:           %s (every %s)\n", c.MetricsAddr, c.MetricsInterval)
	fmt.Printf("Log level/format:  %s / %s\n", c.LogLevel, c.LogFormat)
	fmt.Println("=====================================")
}

// LogConfig emits the same information as Print through a structured logger,
// for Loki-style log aggregation once one is available.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr()).
		Bool("forensics", c.Forensics).
		Int("bus_queue_capacity", c.BusQueueCapacity).
		Int("flight_pre_events", c.FlightPreEvents).
		Int("flight_post_events", c.FlightPostEvents).
		Int("flight_cooldown_s", c.FlightCooldownS).
		Str("incidents_root", c.IncidentsRoot).
		Str("metrics_addr", c.MetricsAddr).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
