package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/events"
	"github.com/eugener/smaug/internal/ledger"
	"github.com/eugener/smaug/internal/models"
	"github.com/eugener/smaug/internal/provider"
	"github.com/eugener/smaug/internal/storage"
	"github.com/eugener/smaug/internal/telemetry"
)

// admissionPadding is added to the character-based estimate at admission time
// to account for the completion the estimate cannot see. The post-completion
// debit is the authoritative check.
const admissionPadding = 100

// ChatConfig tunes the turn pipeline.
type ChatConfig struct {
	// MaxContentLength bounds one user message in bytes. Zero means 32 KiB.
	MaxContentLength int
	// DefaultTimeout is the adapter deadline. Zero means 30s.
	DefaultTimeout time.Duration
	// ProviderTimeouts overrides the deadline per provider tag.
	ProviderTimeouts map[string]time.Duration
}

// ChatService drives the chat turn pipeline: authorize, admit, persist the
// user turn, call the provider, persist the assistant turn, debit, commit.
// The whole turn runs on one write transaction; any provider or debit failure
// rolls everything back.
type ChatService struct {
	store     storage.Store
	models    *models.Registry
	providers *provider.Registry
	ledger    *ledger.Service
	bus       *events.Bus
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	cfg       ChatConfig
}

// NewChatService builds a ChatService.
func NewChatService(store storage.Store, registry *models.Registry, providers *provider.Registry,
	lg *ledger.Service, bus *events.Bus, logger *slog.Logger, cfg ChatConfig) *ChatService {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 32 * 1024
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &ChatService{
		store: store, models: registry, providers: providers,
		ledger: lg, bus: bus, logger: logger, cfg: cfg,
		tracer: telemetry.Tracer("smaug.chat"),
	}
}

// WithMetrics attaches upstream collectors. Without it the pipeline runs
// unmetered, which is what tests want.
func (s *ChatService) WithMetrics(m *telemetry.Metrics) *ChatService {
	s.metrics = m
	return s
}

// observeUpstream records the provider call duration and, on failure, the
// normalized error kind.
func (s *ChatService) observeUpstream(st *turnState, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.UpstreamDuration.WithLabelValues(st.prov.Name(), st.dialog.Model).Observe(elapsed.Seconds())
	if err != nil {
		kind := "unknown"
		var pe *provider.Error
		if errors.As(err, &pe) {
			kind = pe.Kind.String()
		}
		s.metrics.UpstreamErrors.WithLabelValues(st.prov.Name(), kind).Inc()
	}
}

// StreamChunk is one element of the stream SendStream yields: text while the
// provider is talking, then exactly one terminal chunk with Done set carrying
// the persisted assistant message id and usage, or Err set.
type StreamChunk struct {
	Content   string
	Done      bool
	MessageID uuid.UUID
	Usage     gateway.Usage
	Err       error
}

// turnState carries the open transaction and resolved collaborators through
// one turn.
type turnState struct {
	dialog      *gateway.Dialog
	caller      *gateway.Identity
	prov        provider.Provider
	turn        storage.TurnTx
	req         *provider.Request
	promptChars int
	started     time.Time
}

// Send runs one non-streaming turn and returns the persisted assistant
// message.
func (s *ChatService) Send(ctx context.Context, dialogID uuid.UUID, caller *gateway.Identity, content string, cfg *gateway.AgentConfig) (*gateway.Message, error) {
	st, err := s.beginTurn(ctx, dialogID, caller, content, cfg)
	if err != nil {
		return nil, err
	}
	defer st.turn.Rollback() //nolint:errcheck

	callCtx, cancel := context.WithTimeout(ctx, s.timeout(st.prov.Name()))
	defer cancel()
	callCtx, span := s.startUpstreamSpan(callCtx, "chat.complete", st)
	callStart := time.Now()
	completion, err := st.prov.Complete(callCtx, st.req)
	s.observeUpstream(st, time.Since(callStart), err)
	endUpstreamSpan(span, err)
	if err != nil {
		return nil, err
	}
	return s.finishTurn(ctx, st, completion.Text, completion.Usage)
}

// SendStream runs one streaming turn. Pre-flight failures return an error
// before any chunk; once the channel is returned, failures arrive as a
// terminal chunk with Err set. The channel closes after the terminal chunk.
func (s *ChatService) SendStream(ctx context.Context, dialogID uuid.UUID, caller *gateway.Identity, content string, cfg *gateway.AgentConfig) (<-chan StreamChunk, error) {
	st, err := s.beginTurn(ctx, dialogID, caller, content, cfg)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout(st.prov.Name()))
	callCtx, span := s.startUpstreamSpan(callCtx, "chat.stream", st)
	stream, err := st.prov.StreamComplete(callCtx, st.req)
	if err != nil {
		endUpstreamSpan(span, err)
		cancel()
		st.turn.Rollback() //nolint:errcheck
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer cancel()
		defer st.turn.Rollback() //nolint:errcheck
		defer span.End()         // second End after a terminal branch is a no-op

		callStart := time.Now()
		var text strings.Builder
		for ev := range stream {
			switch {
			case ev.Err != nil:
				s.observeUpstream(st, time.Since(callStart), ev.Err)
				endUpstreamSpan(span, ev.Err)
				emit(ctx, out, StreamChunk{Err: ev.Err, Done: true})
				return
			case ev.Final != nil:
				s.observeUpstream(st, time.Since(callStart), nil)
				endUpstreamSpan(span, nil)
				msg, err := s.finishTurn(ctx, st, text.String(), *ev.Final)
				if err != nil {
					emit(ctx, out, StreamChunk{Err: err, Done: true})
					return
				}
				emit(ctx, out, StreamChunk{
					Done:      true,
					MessageID: msg.ID,
					Usage:     gateway.Usage{PromptTokens: *msg.PromptTokens, CompletionTokens: *msg.CompletionTokens},
				})
				return
			default:
				text.WriteString(ev.Text)
				if !emit(ctx, out, StreamChunk{Content: ev.Text}) {
					return
				}
			}
		}
	}()
	return out, nil
}

// startUpstreamSpan opens a span around the provider call. With tracing
// disabled the global provider is the otel no-op, so this costs nothing.
func (s *ChatService) startUpstreamSpan(ctx context.Context, name string, st *turnState) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("llm.provider", st.prov.Name()),
		attribute.String("llm.model", st.dialog.Model),
	))
}

func endUpstreamSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// emit sends a chunk unless the caller is gone.
func emit(ctx context.Context, out chan<- StreamChunk, c StreamChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// beginTurn runs the pipeline up to the provider call: resolve and authorize
// the dialog, admit against the balance, open the turn transaction, persist
// the user message, and assemble the provider request from in-transaction
// history.
func (s *ChatService) beginTurn(ctx context.Context, dialogID uuid.UUID, caller *gateway.Identity, content string, cfg *gateway.AgentConfig) (*turnState, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", gateway.ErrValidation)
	}
	if len(content) > s.cfg.MaxContentLength {
		return nil, fmt.Errorf("%w: content exceeds %d bytes", gateway.ErrValidation, s.cfg.MaxContentLength)
	}

	dialog, err := s.store.GetDialog(ctx, dialogID)
	if err != nil {
		return nil, err
	}
	if !dialog.AccessibleBy(caller.UserID, caller.IsAdmin) {
		return nil, gateway.ErrForbidden
	}

	model := s.models.Get(dialog.Model)
	if model == nil || !model.Enabled {
		return nil, fmt.Errorf("%w: model %q is not available", gateway.ErrValidation, dialog.Model)
	}
	if cfg == nil {
		cfg = dialog.Config
	}
	if err := cfg.Validate(model.ContextWindow); err != nil {
		return nil, err
	}
	prov, err := s.providers.Get(model.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}

	estimate := int64(models.EstimateTokens(content) + admissionPadding)
	ok, err := s.ledger.CheckBalance(ctx, caller.UserID, estimate)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, gateway.ErrInsufficientTokens
	}

	turn, err := s.store.BeginTurn(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin turn: %w", err)
	}

	userMsg := &gateway.Message{
		ID:        uuid.Must(uuid.NewV7()),
		DialogID:  dialogID,
		Role:      gateway.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := turn.InsertMessage(ctx, userMsg); err != nil {
		turn.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	s.bus.Publish(ctx, events.Event{
		Type: events.TypeMessageSent,
		Fields: map[string]any{
			"dialog_id":      dialogID.String(),
			"user_id":        caller.UserID,
			"message_id":     userMsg.ID.String(),
			"content_length": len(content),
		},
	})

	history, err := turn.Messages(ctx, dialogID)
	if err != nil {
		turn.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("read history: %w", err)
	}

	chat := make([]gateway.ChatMessage, 0, len(history)+1)
	promptChars := 0
	if dialog.SystemPrompt != "" {
		chat = append(chat, gateway.ChatMessage{Role: gateway.RoleSystem, Content: dialog.SystemPrompt})
		promptChars += len(dialog.SystemPrompt)
	}
	for _, m := range history {
		chat = append(chat, gateway.ChatMessage{Role: m.Role, Content: m.Content})
		promptChars += len(m.Content)
	}

	return &turnState{
		dialog:      dialog,
		caller:      caller,
		prov:        prov,
		turn:        turn,
		req:         &provider.Request{Model: dialog.Model, Messages: chat, Config: cfg},
		promptChars: promptChars,
		started:     time.Now(),
	}, nil
}

// finishTurn persists the assistant message, debits the caller, and commits.
// A 0/0 usage report falls back to the character estimate.
func (s *ChatService) finishTurn(ctx context.Context, st *turnState, text string, usage gateway.Usage) (*gateway.Message, error) {
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage.PromptTokens = max(1, st.promptChars/4)
		usage.CompletionTokens = max(1, len(text)/4)
	}

	assistant := &gateway.Message{
		ID:               uuid.Must(uuid.NewV7()),
		DialogID:         st.dialog.ID,
		Role:             gateway.RoleAssistant,
		Content:          text,
		PromptTokens:     &usage.PromptTokens,
		CompletionTokens: &usage.CompletionTokens,
		CreatedAt:        time.Now().UTC(),
	}
	if err := st.turn.InsertMessage(ctx, assistant); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	balance, txn, err := st.turn.Debit(ctx, st.caller.UserID, int64(usage.Total()), st.dialog.ID, assistant.ID)
	if err != nil {
		return nil, err
	}
	if err := st.turn.Commit(); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}

	if s.metrics != nil {
		s.metrics.TokensProcessed.WithLabelValues(st.dialog.Model, "prompt").Add(float64(usage.PromptTokens))
		s.metrics.TokensProcessed.WithLabelValues(st.dialog.Model, "completion").Add(float64(usage.CompletionTokens))
	}

	latency := time.Since(st.started)
	s.bus.Publish(ctx, events.Event{
		Type: events.TypeTokensDeducted,
		Fields: map[string]any{
			"user_id":        st.caller.UserID,
			"amount":         txn.Amount,
			"balance":        balance,
			"message_id":     assistant.ID.String(),
			"transaction_id": txn.ID,
		},
	})
	s.bus.Publish(ctx, events.Event{
		Type: events.TypeLLMResponseReceived,
		Fields: map[string]any{
			"dialog_id":         st.dialog.ID.String(),
			"model":             st.dialog.Model,
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"latency_ms":        latency.Milliseconds(),
		},
	})
	s.logger.InfoContext(ctx, "turn completed",
		"dialog_id", st.dialog.ID.String(),
		"model", st.dialog.Model,
		"tokens", usage.Total(),
		"balance", balance,
		"latency", latency,
	)
	return assistant, nil
}

func (s *ChatService) timeout(providerName string) time.Duration {
	if d, ok := s.cfg.ProviderTimeouts[providerName]; ok && d > 0 {
		return d
	}
	return s.cfg.DefaultTimeout
}
