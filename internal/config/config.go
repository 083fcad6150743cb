// Package config provides configuration loading for search-agent.
//
// Configuration is read from an optional YAML file and overridden by
// environment variables. Loop policy (budgets, iteration cap, pass
// threshold) is deliberately not configurable; it lives in the
// orchestrator.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Config holds the complete search-agent configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Provider  ProviderConfig  `koanf:"provider"`
	NATS      NATSConfig      `koanf:"nats"`
	Session   SessionConfig   `koanf:"session"`
	Tools     ToolsConfig     `koanf:"tools"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ProviderConfig holds text-generation provider settings.
type ProviderConfig struct {
	BaseURL     string  `koanf:"base_url"`
	APIKey      Secret  `koanf:"api_key"`
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature"`
}

// NATSConfig holds broker settings for step events and the session bucket.
type NATSConfig struct {
	URL string `koanf:"url"`

	// Embedded starts an in-process broker instead of connecting to URL.
	Embedded bool `koanf:"embedded"`
}

// SessionConfig selects the session store backend.
type SessionConfig struct {
	// Backend is "memory" or "nats".
	Backend string `koanf:"backend"`
	Bucket  string `koanf:"bucket"`
}

// ToolsConfig holds web capability settings.
type ToolsConfig struct {
	SearchMaxResults       int           `koanf:"search_max_results"`
	SearchRequestsPerMin   int           `koanf:"search_requests_per_min"`
	RequestTimeout         time.Duration `koanf:"request_timeout"`
	VisitMaxChars          int           `koanf:"visit_max_chars"`
	VisitMaxFetchAttempts  int           `koanf:"visit_max_fetch_attempts"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
	Insecure    bool   `koanf:"insecure"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ShutdownTimeout: 10 * time.Second,
		},
		Provider: ProviderConfig{
			BaseURL:     "https://api.deepseek.com/v1",
			Model:       "deepseek-chat",
			Temperature: 1.0,
		},
		NATS: NATSConfig{
			URL:      "nats://localhost:4222",
			Embedded: true,
		},
		Session: SessionConfig{
			Backend: "nats",
			Bucket:  "sessions",
		},
		Tools: ToolsConfig{
			SearchMaxResults:      5,
			SearchRequestsPerMin:  20,
			RequestTimeout:        15 * time.Second,
			VisitMaxChars:         10000,
			VisitMaxFetchAttempts: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "search-agent",
			Insecure:    true,
		},
	}
}

// Validate checks the configuration for fatal inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Provider.BaseURL == "" {
		return errors.New("provider base_url is required")
	}
	if c.Provider.Model == "" {
		return errors.New("provider model is required")
	}
	switch c.Session.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("unknown session backend: %q", c.Session.Backend)
	}
	if c.Session.Backend == "nats" && !c.NATS.Embedded && c.NATS.URL == "" {
		return errors.New("nats url is required for the nats session backend")
	}
	if c.Tools.SearchMaxResults <= 0 {
		return errors.New("tools search_max_results must be positive")
	}
	if c.Tools.VisitMaxChars <= 0 {
		return errors.New("tools visit_max_chars must be positive")
	}
	return nil
}

// Secret wraps strings that must be redacted in logs and serialization.
// Use Value() to access the actual value.
type Secret string

// String implements fmt.Stringer, always redacted.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Value returns the actual secret value. Use sparingly.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool { return s != "" }

// MarshalJSON implements json.Marshaler, always redacted.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("[REDACTED]")
}

// UnmarshalText implements encoding.TextUnmarshaler, accepting raw values.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
