package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/app"
	"github.com/eugener/smaug/internal/events"
	"github.com/eugener/smaug/internal/ledger"
	"github.com/eugener/smaug/internal/models"
	"github.com/eugener/smaug/internal/provider"
	"github.com/eugener/smaug/internal/ratelimit"
	"github.com/eugener/smaug/internal/storage/sqlite"
	"github.com/eugener/smaug/internal/testutil"
)

type serverEnv struct {
	store  *sqlite.Store
	fake   *testutil.FakeProvider
	ledger *ledger.Service
	srv    *httptest.Server
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	store, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	registry := models.NewRegistry([]gateway.Model{
		{Name: "gpt-3.5-turbo", Provider: "fake", PromptPrice: 0.0005, CompletionPrice: 0.0015, ContextWindow: 16385, Enabled: true},
	})
	fake := &testutil.FakeProvider{}
	providers := provider.NewRegistry()
	providers.Register("fake", fake)

	bus := events.NewBus()
	lg := ledger.NewService(store, bus, slog.Default())

	handler := New(Deps{
		Auth:    testutil.FakeAuth{},
		Dialogs: app.NewDialogService(store, registry),
		Chat:    app.NewChatService(store, registry, providers, lg, bus, slog.Default(), app.ChatConfig{}),
		Admin:   app.NewAdminService(store, lg, bus, slog.Default()),
		Ledger:  lg,
		Models:  registry,
		ReadyCheck: func(ctx context.Context) error {
			return store.Ping(ctx)
		},
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &serverEnv{store: store, fake: fake, ledger: lg, srv: srv}
}

// call issues a request with the given bearer token and decodes the JSON
// response into out (when out is non-nil).
func (e *serverEnv) call(t *testing.T, token, method, path string, body, out any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	} else {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
	}
	return resp
}

func (e *serverEnv) createDialog(t *testing.T, token string) string {
	t.Helper()
	var d struct {
		ID string `json:"id"`
	}
	resp := e.call(t, token, http.MethodPost, "/api/v1/dialogs",
		map[string]any{"title": "Test", "model": "gpt-3.5-turbo"}, &d)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create dialog: status %d", resp.StatusCode)
	}
	return d.ID
}

func (e *serverEnv) topUp(t *testing.T, userID, amount int64) {
	t.Helper()
	resp := e.call(t, "admin-1", http.MethodPost, fmt.Sprintf("/api/v1/admin/users/%d/tokens", userID),
		map[string]any{"amount": amount}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("top up: status %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t)

	var body struct {
		Status string `json:"status"`
	}
	resp := env.call(t, "", http.MethodGet, "/health", nil, &body)
	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		t.Errorf("health = %d %q", resp.StatusCode, body.Status)
	}
}

func TestHealthUnavailable(t *testing.T) {
	t.Parallel()
	handler := New(Deps{
		ReadyCheck: func(context.Context) error { return errors.New("db gone") },
	})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t)

	var body apiError
	resp := env.call(t, "", http.MethodGet, "/api/v1/dialogs", nil, &body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if body.Code != gateway.CodeUnauthorized {
		t.Errorf("code = %q", body.Code)
	}
	if body.RequestID == "" {
		t.Error("error body missing request_id")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t)

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/health", nil)
	req.Header.Set("X-Request-Id", "req-abc")
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-Id"); got != "req-abc" {
		t.Errorf("X-Request-Id = %q, want req-abc", got)
	}
}

func TestSyncTurnEndToEnd(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t)
	env.topUp(t, 100001, 1000)

	env.fake.CompleteFn = func(_ context.Context, req *provider.Request) (*gateway.Completion, error) {
		return &gateway.Completion{Text: "Hi there", Usage: gateway.Usage{PromptTokens: 50, CompletionTokens: 100}}, nil
	}

	id := env.createDialog(t, "user-100001")

	var msg struct {
		Role             string `json:"role"`
		Content          string `json:"content"`
		PromptTokens     int    `json:"prompt_tokens"`
		CompletionTokens int    `json:"completion_tokens"`
	}
	resp := env.call(t, "user-100001", http.MethodPost, "/api/v1/dialogs/"+id+"/messages/sync",
		map[string]any{"content": "Hello"}, &msg)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if msg.Role != "assistant" || msg.Content != "Hi there" {
		t.Errorf("message = %+v", msg)
	}
	if msg.PromptTokens != 50 || msg.CompletionTokens != 100 {
		t.Errorf("tokens = %d/%d", msg.PromptTokens, msg.CompletionTokens)
	}

	var tokens tokenStatusResponse
	env.call(t, "user-100001", http.MethodGet, "/api/v1/users/me/tokens", nil, &tokens)
	if tokens.Balance != 850 || tokens.TotalUsed != 150 {
		t.Errorf("tokens = %+v, want balance 850 used 150", tokens)
	}

	var history messageListResponse
	env.call(t, "user-100001", http.MethodGet, "/api/v1/dialogs/"+id+"/messages", nil, &history)
	if len(history.Messages) != 2 {
		t.Errorf("history = %d messages, want 2", len(history.Messages))
	}
}

func TestStreamTurnEndToEnd(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t)
	env.topUp(t, 100001, 1000)

	env.fake.StreamFn = func(_ context.Context, req *provider.Request) (<-chan gateway.StreamEvent, error) {
		return testutil.FakeStream([]string{"Hi", " there"}, gateway.Usage{PromptTokens: 10, CompletionTokens: 5}), nil
	}

	id := env.createDialog(t, "user-100001")

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/v1/dialogs/"+id+"/messages",
		strings.NewReader(`{"content":"Hello"}`))
	req.Header.Set("Authorization", "Bearer user-100001")
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	frames := readSSE(t, resp.Body)
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(frames))
	}
	if frames[0].Content != "Hi" || frames[1].Content != " there" {
		t.Errorf("chunks = %q, %q", frames[0].Content, frames[1].Content)
	}
	last := frames[2]
	if !last.Done || last.MessageID == "" {
		t.Errorf("terminal frame = %+v", last)
	}
	if last.PromptTokens == nil || *last.PromptTokens != 10 || *last.CompletionTokens != 5 {
		t.Errorf("terminal usage = %+v", last)
	}

	var tokens tokenStatusResponse
	env.call(t, "user-100001", http.MethodGet, "/api/v1/users/me/tokens", nil, &tokens)
	if tokens.Balance != 985 {
		t.Errorf("balance = %d, want 985", tokens.Balance)
	}
}

// readSSE collects all data frames from an SSE body.
func readSSE(t *testing.T, body io.Reader) []sseFrame {
	t.Helper()
	var frames []sseFrame
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f sseFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		frames = append(frames, f)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return frames
}

func TestInsufficientTokens(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t)
	env.topUp(t, 100001, 10)

	id := env.createDialog(t, "user-100001")

	var body apiError
	resp := env.call(t, "user-100001", http.MethodPost, "/api/v1/dialogs/"+id+"/messages/sync",
		map[string]any{"content": "Hello"}, &body)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	if body.Code != gateway.CodeInsufficientTokens {
		t.Errorf("code = %q", body.Code)
	}

	// the rejected turn must not persist anything
	var history messageListResponse
	env.call(t, "user-100001", http.MethodGet, "/api/v1/dialogs/"+id+"/messages", nil, &history)
	if len(history.Messages) != 0 {
		t.Errorf("history = %d messages, want 0", len(history.Messages))
	}
	var tokens tokenStatusResponse
	env.call(t, "user-100001", http.MethodGet, "/api/v1/users/me/tokens", nil, &tokens)
	if tokens.Balance != 10 {
		t.Errorf("balance = %d, want 10", tokens.Balance)
	}
}

func TestProviderTimeoutRollsBack(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t)
	env.topUp(t, 100001, 1000)

	env.fake.CompleteFn = func(ctx context.Context, req *provider.Request) (*gateway.Completion, error) {
		return nil, &provider.Error{Provider: "fake", Kind: provider.KindTimeout, Msg: "deadline exceeded"}
	}

	id := env.createDialog(t, "user-100001")

	var body apiError
	resp := env.call(t, "user-100001", http.MethodPost, "/api/v1/dialogs/"+id+"/messages/sync",
		map[string]any{"content": "Hello"}, &body)
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", resp.StatusCode)
	}
	if body.Code != gateway.CodeLLMTimeout {
		t.Errorf("code = %q", body.Code)
	}

	var history messageListResponse
	env.call(t, "user-100001", http.MethodGet, "/api/v1/dialogs/"+id+"/messages", nil, &history)
	if len(history.Messages) != 0 {
		t.Errorf("history = %d messages after rollback", len(history.Messages))
	}
	var tokens tokenStatusResponse
	env.call(t, "user-100001", http.MethodGet, "/api/v1/users/me/tokens", nil, &tokens)
	if tokens.Balance != 1000 {
		t.Errorf("balance = %d, want 1000", tokens.Balance)
	}
}

func TestCrossUserAccess(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t)
	id := env.createDialog(t, "user-100001")

	var body apiError
	resp := env.call(t, "user-100002", http.MethodGet, "/api/v1/dialogs/"+id, nil, &body)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("other user: status = %d, want 403", resp.StatusCode)
	}
	if body.Code != gateway.CodeForbidden {
		t.Errorf("code = %q", body.Code)
	}

	resp = env.call(t, "admin-1", http.MethodGet, "/api/v1/dialogs/"+id, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", resp.StatusCode)
	}
}

func TestDialogValidation(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t)

	resp := env.call(t, "user-100001", http.MethodPost, "/api/v1/dialogs",
		map[string]any{"title": "x", "model": "no-such-model"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown model: status = %d, want 400", resp.StatusCode)
	}

	resp = env.call(t, "user-100001", http.MethodPost, "/api/v1/dialogs",
		map[string]any{"model": "gpt-3.5-turbo", "bogus": true}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field: status = %d, want 400", resp.StatusCode)
	}

	resp = env.call(t, "user-100001", http.MethodGet, "/api/v1/dialogs/not-a-uuid", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad uuid: status = %d, want 400", resp.StatusCode)
	}
}

func TestModelCatalogEndpoints(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t)

	var list modelListResponse
	env.call(t, "user-100001", http.MethodGet, "/api/v1/models", nil, &list)
	if len(list.Models) != 1 || list.Models[0].Name != "gpt-3.5-turbo" {
		t.Errorf("models = %+v", list.Models)
	}

	resp := env.call(t, "user-100001", http.MethodGet, "/api/v1/models/gpt-3.5-turbo", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("known model: status = %d", resp.StatusCode)
	}

	var body apiError
	resp = env.call(t, "user-100001", http.MethodGet, "/api/v1/models/nope", nil, &body)
	if resp.StatusCode != http.StatusBadRequest || body.Code != gateway.CodeValidation {
		t.Errorf("unknown model: %d %q", resp.StatusCode, body.Code)
	}
}

// stubLimiter admits the first n requests per process, then denies.
type stubLimiter struct {
	mu     sync.Mutex
	n      int64
	limit  int64
	window time.Duration
}

func (l *stubLimiter) Allow(_ context.Context, _ string) ratelimit.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.n++
	if l.n > l.limit {
		return ratelimit.Result{Limit: l.limit, ResetAt: time.Now().Add(l.window), RetryAfter: l.window}
	}
	return ratelimit.Result{Allowed: true, Limit: l.limit, Remaining: l.limit - l.n, ResetAt: time.Now().Add(l.window)}
}

func (l *stubLimiter) Window() time.Duration { return l.window }

func TestRateLimitDenial(t *testing.T) {
	t.Parallel()
	store, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	registry := models.NewRegistry(nil)
	bus := events.NewBus()
	lg := ledger.NewService(store, bus, slog.Default())
	handler := New(Deps{
		Auth:    testutil.FakeAuth{},
		Dialogs: app.NewDialogService(store, registry),
		Ledger:  lg,
		Models:  registry,
		Limiter: &stubLimiter{limit: 5, window: time.Minute},
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	get := func() *http.Response {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/dialogs", nil)
		req.Header.Set("Authorization", "Bearer user-1")
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	for i := 0; i < 5; i++ {
		resp := get()
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, resp.StatusCode)
		}
	}

	resp := get()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("6th request: status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("429 missing Retry-After header")
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", resp.Header.Get("X-RateLimit-Remaining"))
	}
	var body apiError
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Code != gateway.CodeRateLimited {
		t.Errorf("code = %q", body.Code)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t)

	var body apiError
	resp := env.call(t, "user-100001", http.MethodGet, "/api/v1/admin/users", nil, &body)
	if resp.StatusCode != http.StatusForbidden || body.Code != gateway.CodeForbidden {
		t.Errorf("non-admin: %d %q", resp.StatusCode, body.Code)
	}
}

func TestAdminUserLifecycle(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t)

	// credit a brand-new user, then inspect
	var adjusted adjustTokensResponse
	resp := env.call(t, "admin-1", http.MethodPost, "/api/v1/admin/users/100001/tokens",
		map[string]any{"amount": 500}, &adjusted)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("adjust: status = %d", resp.StatusCode)
	}
	if adjusted.Balance != 500 || adjusted.Transaction == nil || adjusted.Transaction.Amount != 500 {
		t.Errorf("adjust = %+v", adjusted)
	}

	var balance gateway.TokenBalance
	resp = env.call(t, "admin-1", http.MethodPatch, "/api/v1/admin/users/100001/limits",
		map[string]any{"limit": 2000}, &balance)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set limit: status = %d", resp.StatusCode)
	}
	if balance.Limit == nil || *balance.Limit != 2000 {
		t.Errorf("limit = %v", balance.Limit)
	}

	var users userListResponse
	env.call(t, "admin-1", http.MethodGet, "/api/v1/admin/users", nil, &users)
	if users.Total != 1 || len(users.Users) != 1 || users.Users[0].Balance != 500 {
		t.Errorf("users = %+v", users)
	}

	var details gateway.UserDetails
	resp = env.call(t, "admin-1", http.MethodGet, "/api/v1/admin/users/100001", nil, &details)
	if resp.StatusCode != http.StatusOK || details.UserID != 100001 {
		t.Errorf("details = %d %+v", resp.StatusCode, details)
	}

	var history historyResponse
	env.call(t, "admin-1", http.MethodGet, "/api/v1/admin/users/100001/tokens/history", nil, &history)
	if len(history.Transactions) != 1 || history.Transactions[0].Reason != gateway.ReasonAdminTopUp {
		t.Errorf("history = %+v", history.Transactions)
	}

	resp = env.call(t, "admin-1", http.MethodGet, "/api/v1/admin/users/424242", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown user: status = %d, want 404", resp.StatusCode)
	}

	resp = env.call(t, "admin-1", http.MethodPost, "/api/v1/admin/users/100001/tokens",
		map[string]any{"amount": 0}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero amount: status = %d, want 400", resp.StatusCode)
	}
}
