package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Kind classifies an upstream failure into the closed adapter taxonomy.
type Kind int

const (
	// KindTimeout: upstream did not complete within the adapter's deadline.
	KindTimeout Kind = iota
	// KindUnauthorized: provider rejected our credentials. This is operator
	// misconfiguration and is surfaced to API callers as an internal error,
	// never as 401.
	KindUnauthorized
	// KindRateLimited: provider asked us to back off.
	KindRateLimited
	// KindUpstream: provider returned a 5xx.
	KindUpstream
	// KindTransport: connection-level failure.
	KindTransport
	// KindProtocol: response shape violation.
	KindProtocol
)

// String returns the kind's log label.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream_5xx"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is a normalized upstream failure.
type Error struct {
	Provider string
	Kind     Kind
	Status   int // upstream HTTP status when applicable, else 0
	Msg      string
}

// Error formats the provider, kind, and upstream detail.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s: HTTP %d: %s", e.Provider, e.Kind, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Msg)
}

// AsError unwraps err into *Error if it is one.
func AsError(err error) (*Error, bool) {
	var pe *Error
	ok := errors.As(err, &pe)
	return pe, ok
}

// ParseAPIError reads up to 4KB from the response body and returns a
// normalized *Error classified by status code.
func ParseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &Error{
		Provider: provider,
		Kind:     classifyStatus(resp.StatusCode),
		Status:   resp.StatusCode,
		Msg:      string(body),
	}
}

// WrapTransport normalizes a transport-level error (connection failures,
// context deadlines) from an http.Client call.
func WrapTransport(provider string, err error) error {
	return &Error{Provider: provider, Kind: classifyTransport(err), Msg: err.Error()}
}

// ProtocolError reports a response shape violation.
func ProtocolError(provider, msg string) error {
	return &Error{Provider: provider, Kind: KindProtocol, Msg: msg}
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindUpstream
	default:
		// Other 4xx means we built a request the provider rejects.
		return KindProtocol
	}
}

func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindTransport
}
