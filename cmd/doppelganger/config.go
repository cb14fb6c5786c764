package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"cymbytes.com/doppelganger/internal/export"
	"cymbytes.com/doppelganger/internal/generation"
	"cymbytes.com/doppelganger/internal/orchestrator/api"
	"cymbytes.com/doppelganger/internal/orchestrator/registry"
	"cymbytes.com/doppelganger/internal/orchestrator/webhooks"
)

// Config holds the complete configuration.
type Config struct {
	Generation GenerationConfig `yaml:"generation"`
	Server     api.Config       `yaml:"server"`
	Registry   registry.Config  `yaml:"registry"`
	Webhooks   webhooks.Config  `yaml:"webhooks"`
	Export     export.Config    `yaml:"export"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// GenerationConfig selects and configures the generation service.
type GenerationConfig struct {
	// Provider: gemini or offline
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`

	// Campaign length produced by the offline generator
	OfflinePhases int `yaml:"offline_phases"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds span export settings.
type TracingConfig struct {
	// Enabled writes finished spans as JSON to stderr
	Enabled bool `yaml:"enabled"`
}

// Generation providers.
const (
	ProviderGemini  = "gemini"
	ProviderOffline = "offline"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Generation: GenerationConfig{
			Provider:      ProviderGemini,
			Model:         generation.DefaultModel,
			Timeout:       2 * time.Minute,
			OfflinePhases: 3,
		},
		Server:   api.DefaultConfig(),
		Registry: registry.DefaultConfig(),
		Webhooks: webhooks.DefaultConfig(),
		Export:   export.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Generation service
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Generation.APIKey = v
	}
	if v := os.Getenv("DOPPELGANGER_MODEL"); v != "" {
		cfg.Generation.Model = v
	}
	if v := os.Getenv("DOPPELGANGER_PROVIDER"); v != "" {
		cfg.Generation.Provider = v
	}

	// Server port
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Log level
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Webhooks
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Webhooks.URL = v
		cfg.Webhooks.Enabled = true
	}
}

func initLogger(cfg LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Logs go to stderr so run output on stdout stays clean JSON
	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	return logger
}
