package anthropic

import (
	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/provider"
)

// wireRequest is the native Messages API payload.
type wireRequest struct {
	Model       string                `json:"model"`
	MaxTokens   int                   `json:"max_tokens"`
	Messages    []gateway.ChatMessage `json:"messages"`
	System      string                `json:"system,omitempty"`
	Temperature *float64              `json:"temperature,omitempty"`
	TopP        *float64              `json:"top_p,omitempty"`
	StopSeqs    []string              `json:"stop_sequences,omitempty"`
	Stream      bool                  `json:"stream,omitempty"`
}

// wireResponse is the native non-streaming response shape.
type wireResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// translateRequest maps the adapter request onto the Messages API shape.
// A leading system message is extracted into the separate system field, and
// max_tokens is mandatory upstream so a default is applied when unset.
// Presence/frequency penalties have no Anthropic equivalent and are dropped.
func translateRequest(req *provider.Request, stream bool) *wireRequest {
	out := &wireRequest{
		Model:     req.Model,
		MaxTokens: defaultMaxTokens,
		Stream:    stream,
	}

	msgs := req.Messages
	if len(msgs) > 0 && msgs[0].Role == gateway.RoleSystem {
		out.System = msgs[0].Content
		msgs = msgs[1:]
	}
	out.Messages = msgs

	if cfg := req.Config; cfg != nil {
		if cfg.MaxTokens != nil {
			out.MaxTokens = *cfg.MaxTokens
		}
		out.Temperature = cfg.Temperature
		out.TopP = cfg.TopP
		out.StopSeqs = cfg.StopSequences
	}
	return out
}
