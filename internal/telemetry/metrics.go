// Package telemetry provides observability primitives for the Smaug gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	RateLimitRejects *prometheus.CounterVec
	TokensProcessed  *prometheus.CounterVec
	StreamsActive    prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smaug",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "smaug",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smaug",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "smaug",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream provider call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"provider", "model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smaug",
			Name:      "upstream_errors_total",
			Help:      "Total upstream provider errors.",
		}, []string{"provider", "kind"}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smaug",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}, []string{"identity_kind"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smaug",
			Name:      "tokens_processed_total",
			Help:      "Total tokens debited, split by direction.",
		}, []string{"model", "direction"}),

		StreamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smaug",
			Name:      "streams_active",
			Help:      "Number of SSE streams currently open.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.RateLimitRejects,
		m.TokensProcessed,
		m.StreamsActive,
	)
	return m
}
