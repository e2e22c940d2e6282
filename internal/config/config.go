package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Relay    RelayConfig    `yaml:"relay"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type RelayConfig struct {
	Port                int        `yaml:"port"`
	BindAddress         string     `yaml:"bind_address"`
	ReadTimeoutSeconds  int        `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int        `yaml:"write_timeout_seconds"`
	Auth                AuthConfig `yaml:"auth"`
}

// AuthConfig gates the relay's operation endpoints. Off by default; discovery
// (/relay/info) is always open.
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	PasswordHash  string `yaml:"password_hash"` // bcrypt hash of the relay password
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
}

// ProtocolConfig holds the printer-link tunables. Zero means "use the built-in
// default"; negative values are rejected by Validate.
type ProtocolConfig struct {
	ConnectTimeoutSeconds          int `yaml:"connect_timeout_seconds"`
	EphemeralConnectTimeoutSeconds int `yaml:"ephemeral_connect_timeout_seconds"`
	HandshakeSettleMs              int `yaml:"handshake_settle_ms"`
	ReadTimeoutSeconds             int `yaml:"read_timeout_seconds"`
	KeepAliveSeconds               int `yaml:"keepalive_seconds"`
	IdleWindowMs                   int `yaml:"idle_window_ms"`
	EphemeralCeilingMs             int `yaml:"ephemeral_ceiling_ms"`
	SessionCeilingMs               int `yaml:"session_ceiling_ms"`
	ProbeTimeoutMs                 int `yaml:"probe_timeout_ms"`
}

type WebhooksConfig struct {
	Targets           []WebhookTarget `yaml:"targets"`
	RetryCount        int             `yaml:"retry_count"`
	RetryDelaySeconds int             `yaml:"retry_delay_seconds"`
	TimeoutSeconds    int             `yaml:"timeout_seconds"`
	WorkerCount       int             `yaml:"worker_count"`
	QueueSize         int             `yaml:"queue_size"`
}

// WebhookTarget is one delivery destination. An empty Events list subscribes
// it to everything.
type WebhookTarget struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// Subscribed reports whether the target wants this event. An empty Events
// list subscribes to everything.
func (t WebhookTarget) Subscribed(event string) bool {
	if len(t.Events) == 0 {
		return true
	}
	for _, e := range t.Events {
		if e == event {
			return true
		}
	}
	return false
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func defaults() *Config {
	return &Config{
		Relay: RelayConfig{
			Port:                8585,
			BindAddress:         "0.0.0.0",
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 30,
			Auth: AuthConfig{
				TokenTTLHours: 24,
			},
		},
		Webhooks: WebhooksConfig{
			RetryCount:        3,
			RetryDelaySeconds: 5,
			TimeoutSeconds:    10,
			WorkerCount:       3,
			QueueSize:         100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := defaults()

	if v := os.Getenv("PRINTLINK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Relay.Port = port
		}
	}

	if v := os.Getenv("PRINTLINK_BIND"); v != "" {
		cfg.Relay.BindAddress = v
	}

	if v := os.Getenv("PRINTLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg
}

func (c *Config) Validate() error {
	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay port must be between 1 and 65535, got %d", c.Relay.Port)
	}

	if c.Relay.ReadTimeoutSeconds < 0 {
		return fmt.Errorf("relay read timeout must be non-negative")
	}

	if c.Relay.WriteTimeoutSeconds < 0 {
		return fmt.Errorf("relay write timeout must be non-negative")
	}

	if c.Relay.Auth.Enabled {
		if c.Relay.Auth.PasswordHash == "" {
			return fmt.Errorf("auth is enabled but password_hash is empty")
		}
		if c.Relay.Auth.JWTSecret == "" {
			return fmt.Errorf("auth is enabled but jwt_secret is empty")
		}
	}

	p := c.Protocol
	for name, v := range map[string]int{
		"connect_timeout_seconds":           p.ConnectTimeoutSeconds,
		"ephemeral_connect_timeout_seconds": p.EphemeralConnectTimeoutSeconds,
		"handshake_settle_ms":               p.HandshakeSettleMs,
		"read_timeout_seconds":              p.ReadTimeoutSeconds,
		"keepalive_seconds":                 p.KeepAliveSeconds,
		"idle_window_ms":                    p.IdleWindowMs,
		"ephemeral_ceiling_ms":              p.EphemeralCeilingMs,
		"session_ceiling_ms":                p.SessionCeilingMs,
		"probe_timeout_ms":                  p.ProbeTimeoutMs,
	} {
		if v < 0 {
			return fmt.Errorf("protocol %s must be non-negative", name)
		}
	}

	for i, target := range c.Webhooks.Targets {
		if target.URL == "" {
			return fmt.Errorf("webhook target %d has no url", i)
		}
	}

	if c.Webhooks.RetryCount < 0 {
		return fmt.Errorf("webhook retry count must be non-negative")
	}

	if c.Webhooks.WorkerCount < 1 {
		return fmt.Errorf("webhook worker count must be at least 1")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}
