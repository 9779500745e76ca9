package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	gateway "github.com/eugener/smaug/internal"
)

const jwksTTL = time.Hour

// JWKS fetches and caches an RSA key set from a JWKS endpoint. The document
// is refreshed at most once per TTL; concurrent cache misses share a single
// fetch through singleflight.
type JWKS struct {
	url    string
	client *http.Client
	group  singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewJWKS returns a JWKS source for the given endpoint. A nil client uses a
// 10-second-timeout default.
func NewJWKS(url string, client *http.Client) *JWKS {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKS{url: url, client: client}
}

// Key resolves the RSA public key for kid, refreshing the document when the
// cache is stale or the kid is unknown. An empty kid resolves only when the
// document carries exactly one key.
func (j *JWKS) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key := j.cached(kid, false); key != nil {
		return key, nil
	}

	// One refresh per document regardless of how many requests miss.
	_, err, _ := j.group.Do("refresh", func() (any, error) {
		if key := j.cached(kid, false); key != nil {
			return nil, nil
		}
		return nil, j.refresh(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: jwks refresh: %w", gateway.ErrUnauthorized, err)
	}

	if key := j.cached(kid, true); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: unknown signing key %q", gateway.ErrUnauthorized, kid)
}

// Invalidate drops the cached document so the next lookup refetches. Used
// for operator-driven key rotation.
func (j *JWKS) Invalidate() {
	j.mu.Lock()
	j.fetchedAt = time.Time{}
	j.mu.Unlock()
}

// cached returns the key for kid if the document is fresh enough. When
// afterRefresh is set, staleness is ignored: the document was just fetched.
func (j *JWKS) cached(kid string, afterRefresh bool) *rsa.PublicKey {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if !afterRefresh && time.Since(j.fetchedAt) > jwksTTL {
		return nil
	}
	if kid == "" && len(j.keys) == 1 {
		for _, k := range j.keys {
			return k
		}
	}
	return j.keys[kid]
}

func (j *JWKS) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return err
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAKey(k.N, k.E)
		if err != nil {
			return fmt.Errorf("parse jwks key %q: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("jwks document has no RSA keys")
	}

	j.mu.Lock()
	j.keys = keys
	j.fetchedAt = time.Now()
	j.mu.Unlock()
	return nil
}

func parseRSAKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}
