package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/dnscache"

	"github.com/eugener/smaug/internal/app"
	"github.com/eugener/smaug/internal/auth"
	"github.com/eugener/smaug/internal/config"
	"github.com/eugener/smaug/internal/events"
	"github.com/eugener/smaug/internal/ledger"
	"github.com/eugener/smaug/internal/models"
	"github.com/eugener/smaug/internal/provider"
	"github.com/eugener/smaug/internal/provider/anthropic"
	"github.com/eugener/smaug/internal/provider/gigachat"
	"github.com/eugener/smaug/internal/provider/openai"
	"github.com/eugener/smaug/internal/ratelimit"
	"github.com/eugener/smaug/internal/server"
	"github.com/eugener/smaug/internal/storage/sqlite"
	"github.com/eugener/smaug/internal/telemetry"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	slog.Info("starting smaug", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// The catalog is loaded once; model edits require a restart.
	catalog, err := store.ListModels(ctx)
	if err != nil {
		return err
	}
	registry := models.NewRegistry(catalog)
	slog.Info("model catalog loaded", "models", len(catalog))

	providers := registerProviders(cfg)

	jwtAuth, err := newAuth(cfg)
	if err != nil {
		return err
	}

	var limiter *ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		limiter = ratelimit.New(rdb, cfg.RateLimits.Requests, cfg.RateLimits.Window, slog.Default())
	} else {
		slog.Warn("redis not configured, rate limiting disabled")
	}

	bus := events.NewBus()
	bus.Subscribe(func(ctx context.Context, e events.Event) {
		slog.DebugContext(ctx, "event", "type", e.Type, "fields", e.Fields)
	})

	var metrics *telemetry.Metrics
	var gatherer prometheus.Gatherer
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(reg)
		gatherer = reg
	}

	lg := ledger.NewService(store, bus, slog.Default())
	chat := app.NewChatService(store, registry, providers, lg, bus, slog.Default(), app.ChatConfig{
		MaxContentLength: cfg.Chat.MaxContentLength,
		DefaultTimeout:   cfg.Chat.DefaultTimeout,
		ProviderTimeouts: cfg.Chat.ProviderTimeouts,
	}).WithMetrics(metrics)

	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, version, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(flushCtx) //nolint:errcheck
		}()
	}

	deps := server.Deps{
		Auth:        jwtAuth,
		Dialogs:     app.NewDialogService(store, registry).WithDefaultModel(cfg.DefaultModel),
		Chat:        chat,
		Admin:       app.NewAdminService(store, lg, bus, slog.Default()),
		Ledger:      lg,
		Models:      registry,
		Metrics:     metrics,
		Gatherer:    gatherer,
		ReadyCheck:  store.Ping,
		CORSOrigins: cfg.CORS.AllowedOrigins,
		Debug:       cfg.Debug,
	}
	if limiter != nil {
		deps.Limiter = limiter
	}
	handler := server.New(deps)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("smaug ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("smaug stopped")
	return nil
}

// setupLogging installs the default slog handler at the configured level.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// registerProviders builds the adapter registry from configured credentials.
// All adapters share one caching DNS resolver; GigaChat optionally gets an
// insecure TLS transport for self-signed deployments.
func registerProviders(cfg *config.Config) *provider.Registry {
	reg := provider.NewRegistry()
	resolver := &dnscache.Resolver{}
	go func() {
		for range time.Tick(5 * time.Minute) {
			resolver.Refresh(true)
		}
	}()

	if p := cfg.Providers.OpenAI; p.Configured() {
		client := &http.Client{Transport: &provider.APIKeyTransport{
			Key:        p.APIKey,
			HeaderName: "Authorization",
			Prefix:     "Bearer ",
			Base:       provider.NewTransport(resolver, false),
		}}
		reg.Register("openai", openai.New(p.BaseURL, client))
		slog.Info("provider registered", "name", "openai")
	}

	if p := cfg.Providers.Anthropic; p.Configured() {
		client := &http.Client{Transport: &provider.APIKeyTransport{
			Key:        p.APIKey,
			HeaderName: "x-api-key",
			Base:       provider.NewTransport(resolver, false),
		}}
		reg.Register("anthropic", anthropic.New(p.BaseURL, client))
		slog.Info("provider registered", "name", "anthropic")
	}

	if p := cfg.Providers.GigaChat; p.Configured() {
		reg.Register("gigachat", gigachat.New(gigachat.Options{
			BaseURL: p.BaseURL,
			AuthURL: p.AuthURL,
			AuthKey: p.AuthKey,
			Scope:   p.Scope,
			Client:  &http.Client{Transport: provider.NewTransport(resolver, p.InsecureTLS)},
		}))
		slog.Info("provider registered", "name", "gigachat")
	}

	return reg
}

// newAuth builds the JWT validator from config.
func newAuth(cfg *config.Config) (*auth.JWTAuth, error) {
	ac := auth.Config{
		Algorithm: cfg.Auth.Algorithm,
		Secret:    cfg.Auth.Secret,
	}
	if cfg.Auth.JWKSURL != "" {
		ac.JWKS = auth.NewJWKS(cfg.Auth.JWKSURL, nil)
	}
	return auth.NewJWTAuth(ac)
}
