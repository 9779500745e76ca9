// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/provider"
)

// FakeProvider is a configurable provider.Provider for testing.
type FakeProvider struct {
	ProviderName string
	CompleteFn   func(ctx context.Context, req *provider.Request) (*gateway.Completion, error)
	StreamFn     func(ctx context.Context, req *provider.Request) (<-chan gateway.StreamEvent, error)
}

// Name returns the configured provider name, defaulting to "fake".
func (f *FakeProvider) Name() string {
	if f.ProviderName == "" {
		return "fake"
	}
	return f.ProviderName
}

// Complete delegates to CompleteFn or returns a canned completion.
func (f *FakeProvider) Complete(ctx context.Context, req *provider.Request) (*gateway.Completion, error) {
	if f.CompleteFn != nil {
		return f.CompleteFn(ctx, req)
	}
	return &gateway.Completion{
		Text:  "hello",
		Usage: gateway.Usage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

// StreamComplete delegates to StreamFn or streams the canned completion.
func (f *FakeProvider) StreamComplete(ctx context.Context, req *provider.Request) (<-chan gateway.StreamEvent, error) {
	if f.StreamFn != nil {
		return f.StreamFn(ctx, req)
	}
	return FakeStream([]string{"hello"}, gateway.Usage{PromptTokens: 10, CompletionTokens: 5}), nil
}

// FakeStream returns a closed-after-terminal event channel: one chunk per
// text element, then the terminal usage event.
func FakeStream(chunks []string, usage gateway.Usage) <-chan gateway.StreamEvent {
	ch := make(chan gateway.StreamEvent, len(chunks)+1)
	for _, c := range chunks {
		ch <- gateway.StreamEvent{Text: c}
	}
	ch <- gateway.StreamEvent{Final: &usage}
	close(ch)
	return ch
}

// FakeStreamErr returns an event channel that yields the given chunks and
// then terminates with err instead of usage.
func FakeStreamErr(chunks []string, err error) <-chan gateway.StreamEvent {
	ch := make(chan gateway.StreamEvent, len(chunks)+1)
	for _, c := range chunks {
		ch <- gateway.StreamEvent{Text: c}
	}
	ch <- gateway.StreamEvent{Err: err}
	close(ch)
	return ch
}
