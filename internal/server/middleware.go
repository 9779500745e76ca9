package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/ratelimit"
)

// statusWriterPool eliminates 1 alloc/req from &statusWriter{} escaping to heap.
// Reset fields on Get, nil ResponseWriter on Put to avoid retaining references.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{} },
}

// recovery catches panics and returns 500.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, apiError{
					Code:      gateway.CodeInternal,
					Message:   "internal server error",
					RequestID: gateway.RequestIDFromContext(r.Context()),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader uses the canonical MIME form so direct map access
// (r.Header[key], w.Header()[key] = ...) skips textproto.CanonicalMIMEHeaderKey.
const requestIDHeader = "X-Request-Id"

// requestID adds a UUID v7 request ID to the context and response header.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if vals := r.Header[requestIDHeader]; len(vals) > 0 {
			id = vals[0]
		} else {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		ctx := gateway.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logging logs each request with method, path, status, and duration.
func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false
		next.ServeHTTP(sw, r)
		// LogAttrs with typed attrs keeps values on the stack.
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
		)
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)
	})
}

// metrics records the request counter and latency histogram under the chi
// route pattern, so /api/v1/dialogs/{id} stays one series regardless of id.
func (s *server) metrics(next http.Handler) http.Handler {
	if s.deps.Metrics == nil {
		return next
	}
	m := s.deps.Metrics
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.ActiveRequests.Inc()
		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false
		next.ServeHTTP(sw, r)
		m.ActiveRequests.Dec()

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}
		m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)
	})
}

// authenticate validates credentials and injects Identity into context.
// When requestMeta already exists in context (set by requestID middleware),
// the identity is stored by mutation -- no new context or request copy needed.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.deps.Auth.Authenticate(r.Context(), r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := gateway.ContextWithIdentity(r.Context(), identity)
		if ctx == r.Context() {
			next.ServeHTTP(w, r)
		} else {
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// requireAdmin rejects callers without the admin claim.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := gateway.IdentityFromContext(r.Context())
		if id == nil || !id.IsAdmin {
			s.writeError(w, r, gateway.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the sliding-window limiter and stamps the X-RateLimit-*
// headers. Runs after authenticate so signed-in traffic is keyed by user id.
func (s *server) rateLimit(next http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := ratelimit.Identity(r)
		res := s.deps.Limiter.Allow(r.Context(), identity)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			if s.deps.Metrics != nil {
				kind, _, _ := strings.Cut(identity, ":")
				s.deps.Metrics.RateLimitRejects.WithLabelValues(kind).Inc()
			}
			retryAfter := int(res.RetryAfter.Seconds())
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, apiError{
				Code:      gateway.CodeRateLimited,
				Message:   "rate limit exceeded",
				RequestID: gateway.RequestIDFromContext(r.Context()),
				Details: map[string]any{
					"limit":          res.Limit,
					"window_seconds": int(s.deps.Limiter.Window().Seconds()),
					"retry_after":    retryAfter,
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps ResponseWriter to capture the HTTP status code.
// WriteHeader records only the first status code, matching net/http semantics.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// Flush delegates to the underlying ResponseWriter if it implements
// http.Flusher, so SSE streaming works through the middleware stack.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter, allowing
// http.ResponseController to find interface implementations.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
