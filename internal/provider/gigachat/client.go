// Package gigachat implements the provider adapter for Sber's GigaChat API.
// The data plane is OpenAI-shaped; auth is OAuth2 client-credentials with a
// cached, auto-refreshed access token.
package gigachat

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
	defaultBaseURL = "https://gigachat.devices.sberbank.ru/api/v1"
	defaultAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	providerName   = "gigachat"
)

var _ provider.Provider = (*Client)(nil)

// Client is a GigaChat provider adapter.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *tokenManager
}

// Options configures a GigaChat Client.
type Options struct {
	BaseURL string // data plane; default production URL when empty
	AuthURL string // OAuth endpoint; default production URL when empty
	AuthKey string // static authorization key (already base64-encoded pair)
	Scope   string // e.g. "GIGACHAT_API_PERS"
	// Client carries the tuned transport; build it with
	// provider.NewTransport(resolver, insecureTLS) when the deployment uses
	// a self-signed certificate.
	Client *http.Client
}

// New creates a GigaChat Client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.AuthURL == "" {
		opts.AuthURL = defaultAuthURL
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    opts.Client,
		tokens: newTokenManager(&authSource{
			authURL: opts.AuthURL,
			authKey: opts.AuthKey,
			scope:   opts.Scope,
			http:    opts.Client,
		}),
	}
}

// Name returns the provider tag.
func (c *Client) Name() string { return providerName }

// wireRequest is the OpenAI-shaped payload GigaChat accepts. Penalty fields
// are honored as repetition_penalty is not; only the shared subset is sent.
type wireRequest struct {
	Model       string                `json:"model"`
	Messages    []gateway.ChatMessage `json:"messages"`
	Temperature *float64              `json:"temperature,omitempty"`
	MaxTokens   *int                  `json:"max_tokens,omitempty"`
	TopP        *float64              `json:"top_p,omitempty"`
	Stream      bool                  `json:"stream,omitempty"`
}

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
	}
	return out
}

// post sends the request with a bearer token. A data-plane 401 forces one
// token refresh and one retry; a second 401 is surfaced normalized.
func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	resp, err := c.doOnce(ctx, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()
	c.tokens.Invalidate()
	return c.doOnce(ctx, body)
}

func (c *Client) doOnce(ctx context.Context, body []byte) (*http.Response, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &provider.Error{Provider: providerName, Kind: provider.KindUnauthorized, Msg: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gigachat: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)

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
		return nil, fmt.Errorf("gigachat: marshal request: %w", err)
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

// StreamComplete sends a streaming chat completion request. GigaChat streams
// OpenAI-shaped SSE terminated by the "[DONE]" marker.
func (c *Client) StreamComplete(ctx context.Context, req *provider.Request) (<-chan gateway.StreamEvent, error) {
	body, err := json.Marshal(buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("gigachat: marshal request: %w", err)
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
