// Package config handles YAML configuration loading with environment variable
// expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	Auth       AuthConfig      `yaml:"auth"`
	Redis      RedisConfig     `yaml:"redis"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Chat       ChatConfig      `yaml:"chat"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	Providers  ProvidersConfig `yaml:"providers"`
	Models     []ModelEntry    `yaml:"models"`
	// DefaultModel is used when dialog creation omits a model name.
	DefaultModel string     `yaml:"default_model"`
	CORS         CORSConfig `yaml:"cors"`
	LogLevel     string     `yaml:"log_level"` // debug, info, warn, error
	Debug        bool       `yaml:"debug"`     // error bodies carry details
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"` // must cover a full SSE stream
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds JWT validation settings.
type AuthConfig struct {
	Algorithm string `yaml:"algorithm"` // "HS256" or "RS256"
	Secret    string `yaml:"secret"`    // HS256 shared secret
	JWKSURL   string `yaml:"jwks_url"`  // RS256 key source
}

// RedisConfig holds the rate-limit counter store settings. An empty Addr
// disables rate limiting entirely.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RateLimitConfig holds sliding-window admission settings.
type RateLimitConfig struct {
	Requests int64         `yaml:"requests"` // allowed requests per window
	Window   time.Duration `yaml:"window"`
}

// ChatConfig tunes the turn pipeline.
type ChatConfig struct {
	MaxContentLength int                      `yaml:"max_content_length"` // bytes
	DefaultTimeout   time.Duration            `yaml:"default_timeout"`
	ProviderTimeouts map[string]time.Duration `yaml:"provider_timeouts"` // per provider tag
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ProvidersConfig holds upstream LLM provider credentials. A provider with no
// key material stays unregistered; sending to its models fails at turn time.
type ProvidersConfig struct {
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	GigaChat  GigaChatConfig  `yaml:"gigachat"`
}

// OpenAIConfig configures the OpenAI adapter. BaseURL points it at any
// OpenAI-protocol-compatible server.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether the adapter should be registered.
func (c OpenAIConfig) Configured() bool { return c.APIKey != "" }

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether the adapter should be registered.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// GigaChatConfig configures the GigaChat adapter. AuthKey is the static
// base64 client-credentials pair for the OAuth endpoint.
type GigaChatConfig struct {
	AuthKey     string `yaml:"auth_key"`
	Scope       string `yaml:"scope"`
	BaseURL     string `yaml:"base_url"`
	AuthURL     string `yaml:"auth_url"`
	InsecureTLS bool   `yaml:"insecure_tls"`
}

// Configured reports whether the adapter should be registered.
func (c GigaChatConfig) Configured() bool { return c.AuthKey != "" }

// ModelEntry seeds one model-catalog row on first run.
type ModelEntry struct {
	Name            string  `yaml:"name"`
	Provider        string  `yaml:"provider"`
	PromptPrice     float64 `yaml:"prompt_price"`     // per 1k tokens
	CompletionPrice float64 `yaml:"completion_price"` // per 1k tokens
	ContextWindow   int     `yaml:"context_window"`
	Enabled         *bool   `yaml:"enabled"`
}

// IsEnabled reports whether the model is enabled (defaults to true when nil).
func (m ModelEntry) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// CORSConfig holds the browser origin allowlist. Empty disables CORS.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "smaug.db",
		},
		Auth: AuthConfig{
			Algorithm: "HS256",
		},
		RateLimits: RateLimitConfig{
			Requests: 60,
			Window:   time.Minute,
		},
		Chat: ChatConfig{
			MaxContentLength: 32 * 1024,
			DefaultTimeout:   30 * time.Second,
			ProviderTimeouts: map[string]time.Duration{
				"gigachat": 120 * time.Second,
			},
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: true},
		},
		LogLevel: "info",
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
