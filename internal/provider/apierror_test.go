package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestParseAPIErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   Kind
	}{
		{401, KindUnauthorized},
		{403, KindUnauthorized},
		{429, KindRateLimited},
		{500, KindUpstream},
		{503, KindUpstream},
		{400, KindProtocol},
		{404, KindProtocol},
	}
	for _, tt := range tests {
		resp := &http.Response{
			StatusCode: tt.status,
			Body:       io.NopCloser(strings.NewReader("nope")),
		}
		err := ParseAPIError("openai", resp)
		pe, ok := AsError(err)
		if !ok {
			t.Fatalf("status %d: not a *Error", tt.status)
		}
		if pe.Kind != tt.want {
			t.Errorf("status %d: kind = %s, want %s", tt.status, pe.Kind, tt.want)
		}
		if pe.Status != tt.status {
			t.Errorf("status not preserved: %d", pe.Status)
		}
	}
}

func TestWrapTransportDeadline(t *testing.T) {
	t.Parallel()

	err := WrapTransport("anthropic", context.DeadlineExceeded)
	pe, _ := AsError(err)
	if pe.Kind != KindTimeout {
		t.Errorf("deadline exceeded must classify as timeout, got %s", pe.Kind)
	}

	err = WrapTransport("anthropic", errors.New("connection refused"))
	pe, _ = AsError(err)
	if pe.Kind != KindTransport {
		t.Errorf("plain dial error must classify as transport, got %s", pe.Kind)
	}
}
