package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"streamsub/internal/eventsource"
)

// DefaultEndpoint is the stream subscribed to when none is given.
const DefaultEndpoint = "http://localhost:5000/stream/accelerometer"

const (
	DefaultMaxBodyBytes = 1 << 20
	DefaultMaxStreams   = 64
)

// Config holds runtime parameters for both commands.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	// subscriber
	Endpoint        string            `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Headers         map[string]string `json:"headers" yaml:"headers" toml:"headers"`
	MaxRetries      int               `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	RetryInitialMS  int               `json:"retry_initial_ms" yaml:"retry_initial_ms" toml:"retry_initial_ms"`
	RetryMaxMS      int               `json:"retry_max_ms" yaml:"retry_max_ms" toml:"retry_max_ms"`
	RetryMultiplier float64           `json:"retry_multiplier" yaml:"retry_multiplier" toml:"retry_multiplier"`
	RetryJitter     float64           `json:"retry_jitter" yaml:"retry_jitter" toml:"retry_jitter"`
	MetricsAddr     string            `json:"metrics_addr" yaml:"metrics_addr" toml:"metrics_addr"`
	Color           bool              `json:"color" yaml:"color" toml:"color"`

	// producer
	Addr        string   `json:"addr" yaml:"addr" toml:"addr"`
	Stream      string   `json:"stream" yaml:"stream" toml:"stream"`
	RetryHintMS int      `json:"retry_hint_ms" yaml:"retry_hint_ms" toml:"retry_hint_ms"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	// MaxBodyBytes caps POST /stream/{name} bodies.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	// MaxStreams caps how many streams publishing may create.
	MaxStreams int `json:"max_streams" yaml:"max_streams" toml:"max_streams"`

	// logging
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	path, err := expandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// expandHome resolves a leading "~" against the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/")), nil
}

// Defaults returns a fully populated Config.
func Defaults() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	b := eventsource.DefaultBackoff()
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.RetryInitialMS == 0 {
		c.RetryInitialMS = int(b.Initial / time.Millisecond)
	}
	if c.RetryMaxMS == 0 {
		c.RetryMaxMS = int(b.Max / time.Millisecond)
	}
	if c.RetryMultiplier == 0 {
		c.RetryMultiplier = b.Multiplier
	}
	if c.RetryJitter == 0 {
		c.RetryJitter = b.Jitter
	}
	if c.Addr == "" {
		c.Addr = ":5000"
	}
	if c.Stream == "" {
		c.Stream = "accelerometer"
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.MaxStreams == 0 {
		c.MaxStreams = DefaultMaxStreams
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate rejects values no component can work with.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	case c.RetryInitialMS < 0 || c.RetryMaxMS < 0:
		return fmt.Errorf("retry intervals must be >= 0")
	case c.RetryMaxMS > 0 && c.RetryMaxMS < c.RetryInitialMS:
		return fmt.Errorf("retry_max_ms (%d) is below retry_initial_ms (%d)", c.RetryMaxMS, c.RetryInitialMS)
	case c.RetryMultiplier != 0 && c.RetryMultiplier < 1:
		return fmt.Errorf("retry_multiplier must be >= 1, got %v", c.RetryMultiplier)
	case c.RetryJitter < 0 || c.RetryJitter >= 1:
		return fmt.Errorf("retry_jitter must be in [0,1), got %v", c.RetryJitter)
	case c.RetryHintMS < 0:
		return fmt.Errorf("retry_hint_ms must be >= 0")
	case c.MaxBodyBytes < 0:
		return fmt.Errorf("max_body_bytes must be >= 0, got %d", c.MaxBodyBytes)
	case c.MaxStreams < 0:
		return fmt.Errorf("max_streams must be >= 0, got %d", c.MaxStreams)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log_format %q", c.LogFormat)
	}
	return nil
}

// Backoff converts the retry settings for the transport.
func (c Config) Backoff() eventsource.Backoff {
	return eventsource.Backoff{
		Initial:    time.Duration(c.RetryInitialMS) * time.Millisecond,
		Max:        time.Duration(c.RetryMaxMS) * time.Millisecond,
		Multiplier: c.RetryMultiplier,
		Jitter:     c.RetryJitter,
	}
}
