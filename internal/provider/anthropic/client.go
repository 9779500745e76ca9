// Package anthropic implements the provider adapter for the Anthropic
// Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/provider"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerName     = "anthropic"
	anthropicVersion = "2023-06-01"

	// The Messages API requires max_tokens; applied when the caller's
	// config does not set one.
	defaultMaxTokens = 4096
)

var _ provider.Provider = (*Client)(nil)

// Client is an Anthropic provider adapter.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates an Anthropic Client. If baseURL is empty, it defaults to
// "https://api.anthropic.com/v1". The provided client should have auth
// configured via its transport chain (x-api-key header).
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

func (c *Client) post(ctx context.Context, wreq *wireRequest) (*http.Response, error) {
	body, err := json.Marshal(wreq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, provider.WrapTransport(providerName, err)
	}
	return resp, nil
}

// Complete sends a non-streaming messages request.
func (c *Client) Complete(ctx context.Context, req *provider.Request) (*gateway.Completion, error) {
	resp, err := c.post(ctx, translateRequest(req, false))
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

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &gateway.Completion{
		Text: text.String(),
		Usage: gateway.Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
		},
	}, nil
}

// StreamComplete sends a streaming messages request. Anthropic emits a typed
// event feed: message_start carries input_tokens, content_block_delta events
// carry text, message_delta carries the final output_tokens.
func (c *Client) StreamComplete(ctx context.Context, req *provider.Request) (<-chan gateway.StreamEvent, error) {
	resp, err := c.post(ctx, translateRequest(req, true))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(providerName, resp)
	}

	ch := make(chan gateway.StreamEvent, 8)
	go readStream(ctx, resp.Body, ch)
	return ch, nil
}
