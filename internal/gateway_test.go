package gateway

import (
	"context"
	"testing"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func TestAgentConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *AgentConfig
		window  int
		wantErr bool
	}{
		{name: "nil config", cfg: nil},
		{name: "empty config", cfg: &AgentConfig{}},
		{name: "all in bounds", cfg: &AgentConfig{
			Temperature:      f64(0.7),
			MaxTokens:        intp(2048),
			TopP:             f64(1.0),
			PresencePenalty:  f64(-2),
			FrequencyPenalty: f64(2),
			StopSequences:    []string{"###"},
		}, window: 4096},
		{name: "temperature too high", cfg: &AgentConfig{Temperature: f64(1.5)}, wantErr: true},
		{name: "temperature negative", cfg: &AgentConfig{Temperature: f64(-0.1)}, wantErr: true},
		{name: "max_tokens zero", cfg: &AgentConfig{MaxTokens: intp(0)}, wantErr: true},
		{name: "max_tokens over window", cfg: &AgentConfig{MaxTokens: intp(5000)}, window: 4096, wantErr: true},
		{name: "max_tokens unbounded window", cfg: &AgentConfig{MaxTokens: intp(5000)}, window: 0},
		{name: "top_p out of range", cfg: &AgentConfig{TopP: f64(1.01)}, wantErr: true},
		{name: "presence_penalty out of range", cfg: &AgentConfig{PresencePenalty: f64(2.5)}, wantErr: true},
		{name: "frequency_penalty out of range", cfg: &AgentConfig{FrequencyPenalty: f64(-2.5)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate(tt.window)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDialogAccessibleBy(t *testing.T) {
	t.Parallel()
	d := &Dialog{UserID: 42}

	if !d.AccessibleBy(42, false) {
		t.Error("owner must have access")
	}
	if d.AccessibleBy(43, false) {
		t.Error("other user must not have access")
	}
	if !d.AccessibleBy(43, true) {
		t.Error("admin must have access")
	}
}

func TestUsageTotal(t *testing.T) {
	t.Parallel()
	u := Usage{PromptTokens: 50, CompletionTokens: 100}
	if u.Total() != 150 {
		t.Errorf("Total() = %d", u.Total())
	}
}

func TestContextMeta(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if IdentityFromContext(ctx) != nil || RequestIDFromContext(ctx) != "" {
		t.Error("empty context must yield zero values")
	}

	ctx = ContextWithRequestID(ctx, "req-1")
	if RequestIDFromContext(ctx) != "req-1" {
		t.Errorf("request id = %q", RequestIDFromContext(ctx))
	}

	id := &Identity{UserID: 7, IsAdmin: true}
	ctx2 := ContextWithIdentity(ctx, id)
	// existing meta is mutated in place, not re-wrapped
	if ctx2 != ctx {
		t.Error("identity should reuse the existing request metadata")
	}
	if got := IdentityFromContext(ctx2); got != id {
		t.Errorf("identity = %+v", got)
	}
	if RequestIDFromContext(ctx2) != "req-1" {
		t.Error("request id lost after identity injection")
	}

	// without prior meta a fresh context value is created
	ctx3 := ContextWithIdentity(context.Background(), id)
	if IdentityFromContext(ctx3) != id {
		t.Error("identity missing from fresh context")
	}
}
