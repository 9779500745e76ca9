// Package openai implements the provider adapter for the OpenAI API and any
// OpenAI-protocol-compatible server (configurable base URL).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/provider"
	"github.com/eugener/smaug/internal/provider/sseutil"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

var _ provider.Provider = (*Client)(nil)

// Client is an OpenAI provider adapter.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates an OpenAI Client. If baseURL is empty, it defaults to
// "https://api.openai.com/v1"; a non-empty baseURL points the adapter at a
// self-hosted OpenAI-protocol server. The provided client should have auth
// configured via its transport chain.
func New(baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

// Name returns the provider tag.
func (c *Client) Name() string { return providerName }

// wireRequest is the native chat completions payload.
type wireRequest struct {
	Model            string                `json:"model"`
	Messages         []gateway.ChatMessage `json:"messages"`
	Temperature      *float64              `json:"temperature,omitempty"`
	MaxTokens        *int                  `json:"max_tokens,omitempty"`
	TopP             *float64              `json:"top_p,omitempty"`
	PresencePenalty  *float64              `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64              `json:"frequency_penalty,omitempty"`
	Stop             []string              `json:"stop,omitempty"`
	Stream           bool                  `json:"stream,omitempty"`
	StreamOptions    *streamOptions        `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// wireResponse is the native non-streaming response shape.
type wireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// buildRequest translates the adapter request into the native payload.
// Messages pass through verbatim, including an optional system entry at
// position 0.
func buildRequest(req *provider.Request, stream bool) *wireRequest {
	out := &wireRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
	}
	if cfg := req.Config; cfg != nil {
		out.Temperature = cfg.Temperature
		out.MaxTokens = cfg.MaxTokens
		out.TopP = cfg.TopP
		out.PresencePenalty = cfg.PresencePenalty
		out.FrequencyPenalty = cfg.FrequencyPenalty
		out.Stop = cfg.StopSequences
	}
	if stream {
		// Ask for aggregate usage in the final chunk.
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return out
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, provider.WrapTransport(providerName, err)
	}
	return resp, nil
}

// Complete sends a non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, req *provider.Request) (*gateway.Completion, error) {
	body, err := json.Marshal(buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, provider.ProtocolError(providerName, "decode response: "+err.Error())
	}
	if len(out.Choices) == 0 {
		return nil, provider.ProtocolError(providerName, "response has no choices")
	}

	return &gateway.Completion{
		Text: out.Choices[0].Message.Content,
		Usage: gateway.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
		},
	}, nil
}

// StreamComplete sends a streaming chat completion request. Each upstream
// delta becomes one text event; the include_usage final chunk supplies the
// usage delivered in the terminal event.
func (c *Client) StreamComplete(ctx context.Context, req *provider.Request) (<-chan gateway.StreamEvent, error) {
	body, err := json.Marshal(buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(providerName, resp)
	}

	ch := make(chan gateway.StreamEvent, 8)
	go sseutil.ReadDeltaStream(ctx, providerName, resp, ch)
	return ch, nil
}
