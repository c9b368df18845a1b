// Package config loads and validates the relay's configuration from YAML
// or JSON files, with environment overrides for the transport endpoints.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete relay configuration.
type Config struct {
	Transport TransportConfig `json:"transport" yaml:"transport"`
	Relay     RelayConfig     `json:"relay" yaml:"relay"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
}

// TransportConfig selects and addresses the channel pair toward the agent.
type TransportConfig struct {
	Type string `json:"type" yaml:"type"` // "redis" or "websocket"

	// redis
	RedisURL    string `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	FireQueue   string `json:"fire_queue,omitempty" yaml:"fire_queue,omitempty"`
	ResultQueue string `json:"result_queue,omitempty" yaml:"result_queue,omitempty"`

	// websocket
	WSURL string `json:"ws_url,omitempty" yaml:"ws_url,omitempty"`
}

// RelayConfig holds the relay timings as duration strings (e.g. "1s", "60s").
type RelayConfig struct {
	PollTimeout    string `json:"poll_timeout,omitempty" yaml:"poll_timeout,omitempty"`
	SendTimeout    string `json:"send_timeout,omitempty" yaml:"send_timeout,omitempty"`
	PendingTTL     string `json:"pending_ttl,omitempty" yaml:"pending_ttl,omitempty"`
	LivenessWindow string `json:"liveness_window,omitempty" yaml:"liveness_window,omitempty"`
}

// JournalConfig selects where fire outcomes are recorded.
type JournalConfig struct {
	Type          string `json:"type" yaml:"type"` // "none", "csv" or "sqlite"
	FiresFile     string `json:"fires_file,omitempty" yaml:"fires_file,omitempty"`
	TelemetryFile string `json:"telemetry_file,omitempty" yaml:"telemetry_file,omitempty"`
	DBPath        string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// AgentConfig tunes the simulated agent run by the simagent command.
type AgentConfig struct {
	Balance        float64 `json:"balance,omitempty" yaml:"balance,omitempty"`
	HeartbeatEvery string  `json:"heartbeat_every,omitempty" yaml:"heartbeat_every,omitempty"`
}

// ParseDuration converts a config duration string, returning fallback for "".
func ParseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// LoadFromFile loads configuration from a file (YAML or JSON based on content).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides the transport endpoints from the environment, so
// deployments can keep addresses out of the config file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("RELAY_REDIS_URL"); v != "" {
		c.Transport.RedisURL = v
	}
	if v := os.Getenv("RELAY_WS_URL"); v != "" {
		c.Transport.WSURL = v
	}
	if v := os.Getenv("RELAY_TRANSPORT"); v != "" {
		c.Transport.Type = v
	}
}

// Validate checks the configuration is complete enough to start.
func (c *Config) Validate() error {
	switch c.Transport.Type {
	case "redis":
		if c.Transport.RedisURL == "" {
			return fmt.Errorf("transport.redis_url is required for redis transport")
		}
	case "websocket":
		if c.Transport.WSURL == "" {
			return fmt.Errorf("transport.ws_url is required for websocket transport")
		}
	default:
		return fmt.Errorf("transport.type must be 'redis' or 'websocket', got %q", c.Transport.Type)
	}

	for name, s := range map[string]string{
		"relay.poll_timeout":    c.Relay.PollTimeout,
		"relay.send_timeout":    c.Relay.SendTimeout,
		"relay.pending_ttl":     c.Relay.PendingTTL,
		"relay.liveness_window": c.Relay.LivenessWindow,
		"agent.heartbeat_every": c.Agent.HeartbeatEvery,
	} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.FiresFile == "" || c.Journal.TelemetryFile == "" {
			return fmt.Errorf("journal fires_file and telemetry_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'csv' or 'sqlite', got %q", c.Journal.Type)
	}

	return nil
}

// Default returns a configuration with sensible defaults: redis lists on
// localhost, the standard relay timings, no journal.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Type:        "redis",
			RedisURL:    "redis://localhost:6379/0",
			FireQueue:   "fire_queue",
			ResultQueue: "result_queue",
		},
		Relay: RelayConfig{
			PollTimeout:    "1s",
			SendTimeout:    "5s",
			PendingTTL:     "60s",
			LivenessWindow: "30s",
		},
		Journal: JournalConfig{
			Type: "none",
		},
		Agent: AgentConfig{
			Balance:        10000,
			HeartbeatEvery: "2s",
		},
	}
}
