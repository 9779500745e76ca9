package anthropic

import (
	"context"
	"io"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/provider"
	"github.com/eugener/smaug/internal/provider/sseutil"
)

// streamState tracks the usage counters across the Anthropic event feed.
type streamState struct {
	inputTokens  int
	outputTokens int
}

// readStream reads Anthropic SSE events from body and emits StreamEvents.
// The terminal event carries input_tokens from message_start plus
// output_tokens from message_delta. The channel is closed when done.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- gateway.StreamEvent) {
	defer close(ch)
	defer body.Close()

	finish := func(ev gateway.StreamEvent) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	var state streamState
	var currentEvent string
	scanner := sseutil.NewScanner(body)
	for scanner.Scan() {
		event, data, ok := sseutil.ParseSSELine(scanner.Text())
		if !ok {
			continue
		}
		if event != "" {
			currentEvent = event
			continue
		}
		if data == "" {
			continue
		}

		switch currentEvent {
		case "message_start":
			state.inputTokens = int(gjson.Get(data, "message.usage.input_tokens").Int())

		case "content_block_delta":
			r := gjson.Parse(data)
			if r.Get("delta.type").String() != "text_delta" {
				break
			}
			text := r.Get("delta.text").String()
			if text == "" {
				break
			}
			select {
			case ch <- gateway.StreamEvent{Text: text}:
			case <-ctx.Done():
				finish(gateway.StreamEvent{Err: provider.WrapTransport(providerName, ctx.Err())})
				return
			}

		case "message_delta":
			state.outputTokens = int(gjson.Get(data, "usage.output_tokens").Int())

		case "message_stop":
			finish(gateway.StreamEvent{Final: &gateway.Usage{
				PromptTokens:     state.inputTokens,
				CompletionTokens: state.outputTokens,
			}})
			return

		case "error":
			finish(gateway.StreamEvent{Err: &provider.Error{
				Provider: providerName,
				Kind:     provider.KindUpstream,
				Msg:      gjson.Get(data, "error.message").String(),
			}})
			return
		}
		currentEvent = ""
	}
	if err := scanner.Err(); err != nil {
		finish(gateway.StreamEvent{Err: provider.WrapTransport(providerName, err)})
		return
	}
	// Feed ended without message_stop; terminate with whatever usage we saw.
	finish(gateway.StreamEvent{Final: &gateway.Usage{
		PromptTokens:     state.inputTokens,
		CompletionTokens: state.outputTokens,
	}})
}
