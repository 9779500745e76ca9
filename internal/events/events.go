// Package events implements the synchronous in-process domain event bus.
// Handlers run inline on the publishing goroutine; a panicking handler is
// recovered and logged so it can never fail the operation that emitted the
// event.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event types emitted by the gateway.
const (
	TypeMessageSent         = "message_sent"
	TypeLLMResponseReceived = "llm_response_received"
	TypeTokensDeducted      = "tokens_deducted"
	TypeBalanceExhausted    = "balance_exhausted"
	TypeAdminAction         = "admin_action"
)

// Event is one domain event with a loosely-typed payload.
type Event struct {
	Type   string
	At     time.Time
	Fields map[string]any
}

// Handler consumes one event. Handlers must not block; they run on the
// publisher's goroutine.
type Handler func(ctx context.Context, e Event)

// Bus is a synchronous publish/subscribe fan-out. Safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish delivers the event to every handler in subscription order.
// The At field is stamped if unset.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()
	for _, h := range handlers {
		b.deliver(ctx, h, e)
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.LogAttrs(ctx, slog.LevelError, "event handler panic",
				slog.String("event", e.Type),
				slog.Any("error", rec),
			)
		}
	}()
	h(ctx, e)
}
