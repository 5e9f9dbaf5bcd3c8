// Package config loads the daemon's configuration from a YAML file.
// Every field is enumerated here with an explicit default; defaults
// are resolved once at load time so the rest of the daemon never
// reasons about zero values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joncooperworks/agentpost/crypto"
)

// Config is the daemon's full configuration.
type Config struct {
	// Handle is the local identity's handle.
	Handle    string          `yaml:"handle"`
	Relay     RelayConfig     `yaml:"relay"`
	Guardrail GuardrailConfig `yaml:"guardrail"`
	Notify    NotifyConfig    `yaml:"notify"`
	Assistant AssistantConfig `yaml:"assistant"`
	Store     StoreConfig     `yaml:"store"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// RelayConfig addresses the relay's HTTP and push surfaces.
type RelayConfig struct {
	// URL is the relay's HTTP base URL.
	URL string `yaml:"url"`
	// WebSocketURL is the push endpoint. Empty runs the daemon in
	// poll-only mode.
	WebSocketURL string `yaml:"websocketUrl"`
	// PollInterval is the inbox poll period. Polling always runs;
	// push only shortens the latency.
	PollInterval time.Duration `yaml:"pollInterval"`
	// RequestTimeout bounds one relay HTTP request.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	// BackoffBase is the first push reconnect delay.
	BackoffBase time.Duration `yaml:"backoffBase"`
	// BackoffCap bounds the push reconnect delay.
	BackoffCap time.Duration `yaml:"backoffCap"`
	// AckInterval is the acknowledgment flush period.
	AckInterval time.Duration `yaml:"ackInterval"`
}

// GuardrailConfig configures content scanning.
type GuardrailConfig struct {
	// URL is the hosted scanning service endpoint. Empty disables the
	// hosted scan; local filters still run.
	URL string `yaml:"url"`
	// Timeout bounds one scan request.
	Timeout time.Duration `yaml:"timeout"`
	// Filters lists WASM filter files to load.
	Filters []string `yaml:"filters"`
}

// NotifyConfig configures the human notification channel.
type NotifyConfig struct {
	// URL is the chat bot API's message endpoint.
	URL string `yaml:"url"`
	// ChatID addresses the human's conversation.
	ChatID string `yaml:"chatId"`
	// ConsoleURL is the relay console base for trust and block links.
	ConsoleURL string `yaml:"consoleUrl"`
	// MessagesPerSecond paces sends to the bot API.
	MessagesPerSecond float64 `yaml:"messagesPerSecond"`
	// Burst is the limiter's burst size.
	Burst int `yaml:"burst"`
}

// AssistantConfig addresses the local AI agent's inbox.
type AssistantConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig locates the trust database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig configures the metrics listener.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the
	// listener; metrics are still collected.
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the configuration with every default resolved.
func Default() Config {
	return Config{
		Relay: RelayConfig{
			PollInterval:   30 * time.Second,
			RequestTimeout: 30 * time.Second,
			BackoffBase:    time.Second,
			BackoffCap:     time.Minute,
			AckInterval:    5 * time.Second,
		},
		Guardrail: GuardrailConfig{
			Timeout: 10 * time.Second,
		},
		Notify: NotifyConfig{
			MessagesPerSecond: 1,
			Burst:             3,
		},
		Assistant: AssistantConfig{
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Path: defaultStorePath(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agentpost.db"
	}
	return filepath.Join(home, ".agentpost", "agentpost.db")
}

// Load reads, parses, defaults, and validates a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults restores defaults for fields the file set to zero.
// Unmarshal writes into a defaulted struct, so this only matters for
// explicit zero values like "pollInterval: 0".
func (c *Config) applyDefaults() {
	def := Default()
	if c.Relay.PollInterval <= 0 {
		c.Relay.PollInterval = def.Relay.PollInterval
	}
	if c.Relay.RequestTimeout <= 0 {
		c.Relay.RequestTimeout = def.Relay.RequestTimeout
	}
	if c.Relay.BackoffBase <= 0 {
		c.Relay.BackoffBase = def.Relay.BackoffBase
	}
	if c.Relay.BackoffCap <= 0 {
		c.Relay.BackoffCap = def.Relay.BackoffCap
	}
	if c.Relay.AckInterval <= 0 {
		c.Relay.AckInterval = def.Relay.AckInterval
	}
	if c.Guardrail.Timeout <= 0 {
		c.Guardrail.Timeout = def.Guardrail.Timeout
	}
	if c.Notify.MessagesPerSecond <= 0 {
		c.Notify.MessagesPerSecond = def.Notify.MessagesPerSecond
	}
	if c.Notify.Burst <= 0 {
		c.Notify.Burst = def.Notify.Burst
	}
	if c.Assistant.Timeout <= 0 {
		c.Assistant.Timeout = def.Assistant.Timeout
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// Validate reports the first configuration problem.
func (c Config) Validate() error {
	if err := crypto.ValidateHandle(c.Handle); err != nil {
		return fmt.Errorf("handle: %w", err)
	}
	if c.Relay.URL == "" {
		return errors.New("relay.url is required")
	}
	if c.Notify.URL == "" {
		return errors.New("notify.url is required")
	}
	if c.Notify.ChatID == "" {
		return errors.New("notify.chatId is required")
	}
	if c.Assistant.URL == "" {
		return errors.New("assistant.url is required")
	}
	return nil
}
