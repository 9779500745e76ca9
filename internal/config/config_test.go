package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smaug.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Database.DSN != "smaug.db" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Auth.Algorithm != "HS256" {
		t.Errorf("algorithm = %q", cfg.Auth.Algorithm)
	}
	if cfg.RateLimits.Requests != 60 || cfg.RateLimits.Window != time.Minute {
		t.Errorf("rate limits = %+v", cfg.RateLimits)
	}
	if cfg.Chat.DefaultTimeout != 30*time.Second {
		t.Errorf("default timeout = %v", cfg.Chat.DefaultTimeout)
	}
	if cfg.Chat.ProviderTimeouts["gigachat"] != 120*time.Second {
		t.Errorf("gigachat timeout = %v", cfg.Chat.ProviderTimeouts["gigachat"])
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("metrics should default to enabled")
	}
}

func TestLoadFull(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  addr: ":9090"
  write_timeout: 10m
auth:
  algorithm: RS256
  jwks_url: https://auth.example.com/jwks.json
redis:
  addr: localhost:6379
rate_limits:
  requests: 100
  window: 30s
providers:
  openai:
    api_key: sk-test
  gigachat:
    auth_key: Z2lnYQ==
    scope: GIGACHAT_API_PERS
    insecure_tls: true
models:
  - name: gpt-4
    provider: openai
    prompt_price: 0.03
    completion_price: 0.06
    context_window: 8192
  - name: claude-3-haiku
    provider: anthropic
    context_window: 200000
    enabled: false
cors:
  allowed_origins: ["https://app.example.com"]
debug: true
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.WriteTimeout != 10*time.Minute {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Auth.Algorithm != "RS256" || cfg.Auth.JWKSURL == "" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.RateLimits.Requests != 100 || cfg.RateLimits.Window != 30*time.Second {
		t.Errorf("rate limits = %+v", cfg.RateLimits)
	}
	if !cfg.Providers.OpenAI.Configured() || cfg.Providers.Anthropic.Configured() {
		t.Error("provider configured flags wrong")
	}
	if !cfg.Providers.GigaChat.Configured() || !cfg.Providers.GigaChat.InsecureTLS {
		t.Errorf("gigachat = %+v", cfg.Providers.GigaChat)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("models = %d", len(cfg.Models))
	}
	if !cfg.Models[0].IsEnabled() || cfg.Models[1].IsEnabled() {
		t.Error("model enabled flags wrong")
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || !cfg.Debug {
		t.Errorf("cors/debug = %+v %v", cfg.CORS, cfg.Debug)
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("SMAUG_TEST_SECRET", "s3cret")
	cfg, err := Load(writeConfig(t, `
auth:
  secret: ${SMAUG_TEST_SECRET}
providers:
  openai:
    api_key: ${SMAUG_TEST_UNSET_VAR}
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.Secret != "s3cret" {
		t.Errorf("secret = %q", cfg.Auth.Secret)
	}
	// unset variables are left verbatim so the operator sees the mistake
	if cfg.Providers.OpenAI.APIKey != "${SMAUG_TEST_UNSET_VAR}" {
		t.Errorf("api_key = %q", cfg.Providers.OpenAI.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load("/nonexistent/smaug.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
