package events

import (
	"context"
	"testing"
)

func TestPublishFanOut(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	var got []string
	bus.Subscribe(func(_ context.Context, e Event) {
		got = append(got, e.Type+"/1")
	})
	bus.Subscribe(func(_ context.Context, e Event) {
		got = append(got, e.Type+"/2")
	})

	bus.Publish(context.Background(), Event{Type: TypeMessageSent})

	if len(got) != 2 || got[0] != "message_sent/1" || got[1] != "message_sent/2" {
		t.Fatalf("unexpected delivery order: %v", got)
	}
}

func TestPublishStampsTime(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	var stamped bool
	bus.Subscribe(func(_ context.Context, e Event) {
		stamped = !e.At.IsZero()
	})
	bus.Publish(context.Background(), Event{Type: TypeTokensDeducted})
	if !stamped {
		t.Fatal("expected At to be stamped")
	}
}

func TestHandlerPanicDoesNotPropagate(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	bus.Subscribe(func(_ context.Context, _ Event) {
		panic("boom")
	})
	var reached bool
	bus.Subscribe(func(_ context.Context, _ Event) {
		reached = true
	})

	bus.Publish(context.Background(), Event{Type: TypeBalanceExhausted})
	if !reached {
		t.Fatal("panic in first handler must not stop delivery")
	}
}
