// Package server implements the HTTP transport layer for the Smaug gateway.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/app"
	"github.com/eugener/smaug/internal/ledger"
	"github.com/eugener/smaug/internal/models"
	"github.com/eugener/smaug/internal/ratelimit"
	"github.com/eugener/smaug/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// RateLimiter is the admission decision the rateLimit middleware consumes.
// *ratelimit.Limiter satisfies it.
type RateLimiter interface {
	Allow(ctx context.Context, identity string) ratelimit.Result
	Window() time.Duration
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth    gateway.Authenticator
	Dialogs *app.DialogService
	Chat    *app.ChatService
	Admin   *app.AdminService
	Ledger  *ledger.Service
	Models  *models.Registry

	Limiter     RateLimiter         // nil = no rate limiting
	Metrics     *telemetry.Metrics  // nil = no metrics collection
	Gatherer    prometheus.Gatherer // nil = no /metrics endpoint
	ReadyCheck  ReadyChecker        // nil = always ready (for tests)
	CORSOrigins []string            // empty = CORS disabled
	Debug       bool
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	r.Use(s.metrics)
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}).Handler)
	}

	// Probes (no auth, no rate limiting)
	r.Get("/health", s.handleHealth)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Client-facing API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Post("/dialogs", s.handleCreateDialog)
		r.Get("/dialogs", s.handleListDialogs)
		r.Get("/dialogs/{id}", s.handleGetDialog)
		r.Patch("/dialogs/{id}", s.handleUpdateDialog)
		r.Delete("/dialogs/{id}", s.handleDeleteDialog)

		r.Post("/dialogs/{id}/messages", s.handleSendStream)
		r.Post("/dialogs/{id}/messages/sync", s.handleSendSync)
		r.Get("/dialogs/{id}/messages", s.handleListMessages)

		r.Get("/users/me/tokens", s.handleMyTokens)
		r.Get("/models", s.handleListModels)
		r.Get("/models/{name}", s.handleGetModel)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/users", s.handleAdminListUsers)
			r.Get("/users/{id}", s.handleAdminGetUser)
			r.Patch("/users/{id}/limits", s.handleAdminSetLimit)
			r.Post("/users/{id}/tokens", s.handleAdminAdjust)
			r.Get("/users/{id}/tokens/history", s.handleAdminHistory)
		})
	})

	return r
}

type server struct {
	deps Deps
}
