package sseutil

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/provider"
)

// ReadDeltaStream reads an OpenAI-shaped SSE completion stream from resp and
// emits StreamEvents on ch: one Text event per non-empty delta, then exactly
// one terminal event. The terminal event carries the aggregate usage when the
// upstream reported it (stream_options.include_usage, or GigaChat's final
// chunk), otherwise Final{0,0} so the caller can fall back to estimation.
// Non-data lines and the "[DONE]" sentinel are handled here. The channel is
// closed when done. Used by the openai and gigachat adapters, which share
// this wire format.
func ReadDeltaStream(ctx context.Context, providerName string, resp *http.Response, ch chan<- gateway.StreamEvent) {
	defer close(ch)
	defer resp.Body.Close()

	var usage gateway.Usage
	finish := func(ev gateway.StreamEvent) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	scanner := NewScanner(resp.Body)
	for scanner.Scan() {
		_, data, ok := ParseSSELine(scanner.Text())
		if !ok {
			continue
		}
		if data == DoneSentinel {
			finish(gateway.StreamEvent{Final: &usage})
			return
		}

		r := gjson.Parse(data)
		// Usage arrives on the final chunk; remember it until [DONE].
		if u := r.Get("usage"); u.Exists() && u.IsObject() {
			usage.PromptTokens = int(u.Get("prompt_tokens").Int())
			usage.CompletionTokens = int(u.Get("completion_tokens").Int())
		}
		text := r.Get("choices.0.delta.content").String()
		if text == "" {
			continue
		}

		select {
		case ch <- gateway.StreamEvent{Text: text}:
		case <-ctx.Done():
			finish(gateway.StreamEvent{Err: provider.WrapTransport(providerName, ctx.Err())})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		// Normalize mid-stream read failures the same way Complete does, so
		// a deadline surfaces as KindTimeout rather than an opaque error.
		finish(gateway.StreamEvent{Err: provider.WrapTransport(providerName, err)})
		return
	}
	// Upstream closed without [DONE]; still terminate the sequence.
	finish(gateway.StreamEvent{Final: &usage})
}
