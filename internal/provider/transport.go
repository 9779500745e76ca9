package provider

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching. Set insecureTLS to true only for providers that run
// behind self-signed certificates (GigaChat deployments).
func NewTransport(resolver *dnscache.Resolver, insecureTLS bool) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if insecureTLS {
		t.TLSClientConfig = insecureTLSConfig()
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// APIKeyTransport is an http.RoundTripper that injects a static API key
// header on every outbound request. HeaderName is the header to set
// (e.g. "Authorization", "x-api-key"). Prefix is prepended to Key
// (e.g. "Bearer " for Authorization headers).
type APIKeyTransport struct {
	Key        string
	HeaderName string
	Prefix     string
	Base       http.RoundTripper
}

// RoundTrip clones the request and sets the auth header.
func (t *APIKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	r2.Header.Set(t.HeaderName, t.Prefix+t.Key)
	return t.base().RoundTrip(r2)
}

func (t *APIKeyTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
