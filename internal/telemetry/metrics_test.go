package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsRegisters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("GET", "/api/v1/dialogs", "200").Inc()
	m.UpstreamDuration.WithLabelValues("openai", "gpt-3.5-turbo").Observe(0.25)
	m.TokensProcessed.WithLabelValues("gpt-3.5-turbo", "completion").Add(42)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, want := range []string{"smaug_requests_total", "smaug_upstream_duration_seconds", "smaug_tokens_processed_total"} {
		if !found[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}
