package testutil

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	gateway "github.com/eugener/smaug/internal"
)

// FakeAuth authenticates bearer tokens of the form "user-<id>" or
// "admin-<id>" without any signature checking. Anything else fails.
type FakeAuth struct{}

// Authenticate implements gateway.Authenticator.
func (FakeAuth) Authenticate(_ context.Context, r *http.Request) (*gateway.Identity, error) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		return nil, gateway.ErrUnauthorized
	}
	admin := strings.HasPrefix(raw, "admin-")
	idStr := strings.TrimPrefix(strings.TrimPrefix(raw, "admin-"), "user-")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, gateway.ErrUnauthorized
	}
	return &gateway.Identity{UserID: id, IsAdmin: admin}, nil
}
