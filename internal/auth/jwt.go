// Package auth implements bearer-token authentication for the Smaug gateway.
// Tokens are JWTs signed either with a shared secret (HS256) or an RSA key
// published through a JWKS document (RS256). Verified identities are cached
// in a W-TinyLFU cache keyed by the raw token.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maypok86/otter/v2"

	gateway "github.com/eugener/smaug/internal"
)

const (
	cacheTTL    = 30 * time.Second // bounds how long a revoked-upstream token keeps working
	cacheMaxLen = 10_000
)

// Config selects the signature scheme and its key material.
type Config struct {
	// Algorithm is "HS256" or "RS256".
	Algorithm string
	// Secret is the shared HMAC secret (HS256).
	Secret string
	// JWKS resolves RSA keys by kid (RS256).
	JWKS *JWKS
}

// JWTAuth validates bearer JWTs and extracts the caller identity.
type JWTAuth struct {
	cfg   Config
	cache *otter.Cache[string, *gateway.Identity]
}

// NewJWTAuth returns a JWTAuth for the given config.
func NewJWTAuth(cfg Config) (*JWTAuth, error) {
	switch cfg.Algorithm {
	case "HS256":
		if cfg.Secret == "" {
			return nil, fmt.Errorf("auth: HS256 requires a secret")
		}
	case "RS256":
		if cfg.JWKS == nil {
			return nil, fmt.Errorf("auth: RS256 requires a JWKS source")
		}
	default:
		return nil, fmt.Errorf("auth: unsupported algorithm %q", cfg.Algorithm)
	}

	c, err := otter.New(&otter.Options[string, *gateway.Identity]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *gateway.Identity](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &JWTAuth{cfg: cfg, cache: c}, nil
}

// Authenticate extracts a Bearer token from the Authorization header and
// returns the verified identity. All verification failures collapse into
// ErrUnauthorized; the cause is logged by the middleware, not surfaced.
func (a *JWTAuth) Authenticate(ctx context.Context, r *http.Request) (*gateway.Identity, error) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		return nil, gateway.ErrUnauthorized
	}

	if id, ok := a.cache.GetIfPresent(raw); ok {
		return id, nil
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, a.keyFunc(ctx),
		jwt.WithValidMethods([]string{a.cfg.Algorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrUnauthorized, err)
	}
	if _, ok := claims["iat"]; !ok {
		return nil, fmt.Errorf("%w: missing iat claim", gateway.ErrUnauthorized)
	}

	id, err := identityFromClaims(claims)
	if err != nil {
		return nil, err
	}

	// Cache only tokens that outlive the cache window, so an entry can never
	// authenticate past its exp. Short-lived tokens verify every time.
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && time.Until(exp.Time) > cacheTTL {
		a.cache.Set(raw, id)
	}
	return id, nil
}

func (a *JWTAuth) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if a.cfg.Algorithm == "HS256" {
			return []byte(a.cfg.Secret), nil
		}
		kid, _ := token.Header["kid"].(string)
		return a.cfg.JWKS.Key(ctx, kid)
	}
}

// identityFromClaims builds an Identity from verified claims. The user id
// comes from user_id or falls back to sub; is_admin accepts a boolean or the
// string "true".
func identityFromClaims(claims jwt.MapClaims) (*gateway.Identity, error) {
	userID, err := userIDClaim(claims)
	if err != nil {
		return nil, err
	}
	return &gateway.Identity{UserID: userID, IsAdmin: adminClaim(claims)}, nil
}

func userIDClaim(claims jwt.MapClaims) (int64, error) {
	for _, key := range []string{"user_id", "sub"} {
		switch v := claims[key].(type) {
		case float64:
			return int64(v), nil
		case string:
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: non-integer %s claim", gateway.ErrUnauthorized, key)
			}
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: missing user_id claim", gateway.ErrUnauthorized)
}

func adminClaim(claims jwt.MapClaims) bool {
	switch v := claims["is_admin"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}
