// Package models holds the in-memory model catalog: which provider serves
// each model, its pricing, and its context window. The catalog is loaded once
// at process start from the persistent store and is read-only afterwards;
// catalog changes require a restart.
package models

import (
	"fmt"

	gateway "github.com/eugener/smaug/internal"
)

// Registry is the immutable model catalog snapshot.
type Registry struct {
	models map[string]gateway.Model
	names  []string // insertion order for All
}

// NewRegistry builds a registry from catalog rows. Disabled models are kept
// (they resolve via Get) but fail ValidateModel.
func NewRegistry(rows []gateway.Model) *Registry {
	r := &Registry{models: make(map[string]gateway.Model, len(rows))}
	for _, m := range rows {
		if _, dup := r.models[m.Name]; !dup {
			r.names = append(r.names, m.Name)
		}
		r.models[m.Name] = m
	}
	return r
}

// Get returns the catalog entry for name, or nil if unknown.
func (r *Registry) Get(name string) *gateway.Model {
	if m, ok := r.models[name]; ok {
		return &m
	}
	return nil
}

// Exists reports whether name is in the catalog.
func (r *Registry) Exists(name string) bool {
	_, ok := r.models[name]
	return ok
}

// All returns every catalog entry in load order.
func (r *Registry) All() []gateway.Model {
	out := make([]gateway.Model, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.models[name])
	}
	return out
}

// ValidateModel fails unless name resolves to an enabled catalog entry.
func (r *Registry) ValidateModel(name string) error {
	m, ok := r.models[name]
	if !ok {
		return fmt.Errorf("%w: unknown model %q", gateway.ErrValidation, name)
	}
	if !m.Enabled {
		return fmt.Errorf("%w: model %q is disabled", gateway.ErrValidation, name)
	}
	return nil
}

// EstimateCost prices a completion at the model's per-1k-token rates.
func (r *Registry) EstimateCost(name string, promptTokens, completionTokens int) (gateway.Cost, error) {
	m, ok := r.models[name]
	if !ok {
		return gateway.Cost{}, fmt.Errorf("%w: unknown model %q", gateway.ErrValidation, name)
	}
	c := gateway.Cost{
		Prompt:     float64(promptTokens) / 1000 * m.PromptPrice,
		Completion: float64(completionTokens) / 1000 * m.CompletionPrice,
	}
	c.Total = c.Prompt + c.Completion
	return c, nil
}

// EstimateTokens is the tokenizer-free admission heuristic: ~4 characters per
// token, minimum 1.
func EstimateTokens(text string) int {
	return max(1, len(text)/4)
}
