package gigachat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// earlyExpiry forces a token re-fetch when the cached token expires within
// this window.
const earlyExpiry = 60 * time.Second

// authSource fetches access tokens from the GigaChat OAuth endpoint using the
// static authorization key and scope (client-credentials grant). It implements
// oauth2.TokenSource; callers should wrap it in a reuse source for caching.
type authSource struct {
	authURL string
	authKey string // pre-encoded Basic credential
	scope   string
	http    *http.Client
}

// tokenResponse is the OAuth endpoint reply. expires_at is epoch milliseconds.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Token performs the client-credentials exchange.
func (s *authSource) Token() (*oauth2.Token, error) {
	form := url.Values{"scope": {s.scope}}
	req, err := http.NewRequest(http.MethodPost, s.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("gigachat: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+s.authKey)
	// The endpoint requires a unique request id per call.
	req.Header.Set("RqUID", uuid.NewString())

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gigachat: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gigachat: token endpoint returned HTTP %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("gigachat: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("gigachat: token response missing access_token")
	}

	return &oauth2.Token{
		AccessToken: tr.AccessToken,
		Expiry:      time.UnixMilli(tr.ExpiresAt),
	}, nil
}

// tokenManager caches the access token and refreshes it when expiry is within
// earlyExpiry, via oauth2.ReuseTokenSourceWithExpiry. Invalidate drops the
// cached token so the next call re-fetches; used once when the data plane
// answers 401.
type tokenManager struct {
	mu     sync.Mutex
	src    *authSource
	cached oauth2.TokenSource
}

func newTokenManager(src *authSource) *tokenManager {
	return &tokenManager{
		src:    src,
		cached: oauth2.ReuseTokenSourceWithExpiry(nil, src, earlyExpiry),
	}
}

// Token returns a valid cached token, fetching a fresh one if needed.
func (m *tokenManager) Token(_ context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	src := m.cached
	m.mu.Unlock()
	return src.Token()
}

// Invalidate discards the cached token.
func (m *tokenManager) Invalidate() {
	m.mu.Lock()
	m.cached = oauth2.ReuseTokenSourceWithExpiry(nil, m.src, earlyExpiry)
	m.mu.Unlock()
}
