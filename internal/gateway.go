// Package gateway defines domain types and interfaces for the Smaug LLM gateway.
// This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// --- Dialogs and messages ---

// Dialog is a persistent conversation thread owned by one user.
type Dialog struct {
	ID           uuid.UUID    `json:"id"`
	UserID       int64        `json:"user_id"`
	Title        string       `json:"title,omitempty"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
	Model        string       `json:"model"`
	Config       *AgentConfig `json:"config,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// AccessibleBy reports whether the dialog may be read or written by the caller.
func (d *Dialog) AccessibleBy(userID int64, isAdmin bool) bool {
	return isAdmin || d.UserID == userID
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn entry within a dialog. Token counts are set only on
// assistant messages.
type Message struct {
	ID               uuid.UUID `json:"id"`
	DialogID         uuid.UUID `json:"dialog_id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	PromptTokens     *int      `json:"prompt_tokens,omitempty"`
	CompletionTokens *int      `json:"completion_tokens,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// --- Token economy ---

// TokenBalance is the current balance row for one user.
// Balance may go negative under administrative deduction; Limit nil means
// unlimited.
type TokenBalance struct {
	UserID    int64     `json:"user_id"`
	Balance   int64     `json:"balance"`
	Limit     *int64    `json:"limit,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction reasons.
const (
	ReasonLLMUsage    = "llm_usage"
	ReasonAdminTopUp  = "admin_top_up"
	ReasonAdminDeduct = "admin_deduct"
)

// TokenTransaction is one append-only ledger entry. Amount is negative for
// debits and positive for credits; the balance for a user equals the sum of
// all transaction amounts for that user.
type TokenTransaction struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Amount    int64      `json:"amount"`
	Reason    string     `json:"reason"`
	DialogID  *uuid.UUID `json:"dialog_id,omitempty"`
	MessageID *uuid.UUID `json:"message_id,omitempty"`
	AdminID   *int64     `json:"admin_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// --- Model catalog ---

// Model is one catalog entry: which provider serves it and at what price.
// Prices are per 1k tokens.
type Model struct {
	Name            string  `json:"name"`
	Provider        string  `json:"provider"`
	PromptPrice     float64 `json:"prompt_price"`
	CompletionPrice float64 `json:"completion_price"`
	ContextWindow   int     `json:"context_window"`
	Enabled         bool    `json:"enabled"`
}

// Cost is a price estimate for one completion.
type Cost struct {
	Prompt     float64 `json:"prompt_cost"`
	Completion float64 `json:"completion_cost"`
	Total      float64 `json:"total_cost"`
}

// --- Generation config ---

// AgentConfig is the validated bag of optional generation parameters.
// Adapters translate the fields they honor and ignore the rest.
type AgentConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	StopSequences    []string `json:"stop_sequences,omitempty"`
}

// Validate checks field bounds. contextWindow bounds MaxTokens when > 0.
func (c *AgentConfig) Validate(contextWindow int) error {
	if c == nil {
		return nil
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 1) {
		return fmt.Errorf("%w: temperature must be in [0,1]", ErrValidation)
	}
	if c.MaxTokens != nil {
		if *c.MaxTokens <= 0 {
			return fmt.Errorf("%w: max_tokens must be positive", ErrValidation)
		}
		if contextWindow > 0 && *c.MaxTokens > contextWindow {
			return fmt.Errorf("%w: max_tokens exceeds model context window (%d)", ErrValidation, contextWindow)
		}
	}
	if c.TopP != nil && (*c.TopP < 0 || *c.TopP > 1) {
		return fmt.Errorf("%w: top_p must be in [0,1]", ErrValidation)
	}
	if c.PresencePenalty != nil && (*c.PresencePenalty < -2 || *c.PresencePenalty > 2) {
		return fmt.Errorf("%w: presence_penalty must be in [-2,2]", ErrValidation)
	}
	if c.FrequencyPenalty != nil && (*c.FrequencyPenalty < -2 || *c.FrequencyPenalty > 2) {
		return fmt.Errorf("%w: frequency_penalty must be in [-2,2]", ErrValidation)
	}
	return nil
}

// --- Provider contract types ---

// ChatMessage is one (role, content) pair handed to a provider adapter.
// The first element may carry the system role.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the (prompt, completion) token pair a provider reports for one
// completion. A 0/0 usage means the provider reported nothing and the
// orchestrator estimates from text length instead.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt + completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Completion is a full non-streaming provider result.
type Completion struct {
	Text  string
	Usage Usage
}

// StreamEvent is one element of the lazy sequence an adapter yields:
// a text chunk while tokens are arriving, then exactly one terminal event
// with Final set (the adapter's usage report), or an event with Err set.
// The channel is closed after the terminal event.
type StreamEvent struct {
	Text  string
	Final *Usage
	Err   error
}

// --- Identity ---

// Identity is the authenticated caller extracted from the bearer token.
type Identity struct {
	UserID  int64 `json:"user_id"`
	IsAdmin bool  `json:"is_admin"`
}

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// --- Admin aggregates ---

// UserSummary is the per-user aggregate the admin list endpoint returns.
type UserSummary struct {
	UserID      int64  `json:"user_id"`
	DialogCount int64  `json:"dialog_count"`
	TotalUsed   int64  `json:"total_used"`
	Balance     int64  `json:"balance"`
	Limit       *int64 `json:"limit,omitempty"`
}

// UserDetails extends UserSummary with the most recent dialog created-at.
type UserDetails struct {
	UserSummary
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// --- Audit ---

// AuditLog records one administrative mutation: who did what to whom.
type AuditLog struct {
	ID           int64          `json:"id"`
	AdminID      int64          `json:"admin_id"`
	TargetUserID int64          `json:"target_user_id"`
	Action       string         `json:"action"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the authenticate middleware via mutation
// of the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

// metaFromContext returns the requestMeta stored in ctx, or nil.
func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if present,
// avoiding a new context.WithValue allocation. Falls back to creating new metadata
// if none exists (e.g., in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}
