// Package provider defines the capability contract for LLM provider adapters
// and the registry that resolves them by tag.
package provider

import (
	"context"
	"fmt"
	"slices"
	"sync"

	gateway "github.com/eugener/smaug/internal"
)

// Request is one completion request handed to an adapter. Messages are in
// conversation order; the first element may carry the system role. Config is
// already validated -- adapters translate the fields their protocol honors
// and ignore the rest.
type Request struct {
	Model    string
	Messages []gateway.ChatMessage
	Config   *gateway.AgentConfig
}

// Provider is the interface every LLM provider adapter implements.
type Provider interface {
	// Name returns the provider tag (e.g., "openai", "anthropic", "gigachat").
	Name() string
	// Complete sends a non-streaming completion request and returns the full
	// text with the provider-reported usage. Usage 0/0 means the upstream
	// reported none.
	Complete(ctx context.Context, req *Request) (*gateway.Completion, error)
	// StreamComplete sends a streaming completion request. The returned
	// channel yields text chunks followed by exactly one terminal event
	// (Final set, or Err set), then closes. Cancelling ctx cancels the
	// upstream stream.
	StreamComplete(ctx context.Context, req *Request) (<-chan gateway.StreamEvent, error)
}

// Registry maps provider tags to Provider instances.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under the given tag.
// It overwrites any previously registered provider with the same tag.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	r.providers[name] = p
	r.mu.Unlock()
}

// Get returns the provider registered under name, or an error if not found.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return p, nil
}

// List returns a sorted slice of all registered provider tags.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}
