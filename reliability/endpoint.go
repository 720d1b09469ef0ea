package reliability

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/viant/mcpway/fault"
)

// Endpoint describes one outbound transport target: URL, scheme-inferred
// protocol, static headers, optional bearer token supplier, retry policy,
// and circuit-breaker state. The token supplier is modeled directly as an
// oauth2.TokenSource rather than a bespoke callable, since "may refresh"
// is exactly what TokenSource.Token() already guarantees.
type Endpoint struct {
	URL           string
	Protocol      string // inferred from scheme: "http", "https", "ws", "wss"
	StaticHeaders map[string]string
	TokenSupplier oauth2.TokenSource // nil when no bearer auth is configured
	RetryPolicy   RetryPolicy
	Breaker       *Breaker
}

// NewEndpoint builds an Endpoint, inferring Protocol from the URL scheme and
// wiring a fresh Breaker for it.
func NewEndpoint(rawURL string, headers map[string]string, supplier oauth2.TokenSource, retry RetryPolicy, breakerPolicy BreakerPolicy) (*Endpoint, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("reliability: invalid endpoint url %q: %w", rawURL, err)
	}
	return &Endpoint{
		URL:           rawURL,
		Protocol:      parsed.Scheme,
		StaticHeaders: headers,
		TokenSupplier: supplier,
		RetryPolicy:   retry,
		Breaker:       NewBreaker(rawURL, breakerPolicy, nil, nil),
	}, nil
}

// Authorize returns the bearer token header value for this dispatch, or ""
// when no supplier is configured. Errors from the supplier are classified as
// Authorization failures and are never retried.
func (e *Endpoint) Authorize(ctx context.Context) (string, error) {
	if e.TokenSupplier == nil {
		return "", nil
	}
	tok, err := e.TokenSupplier.Token()
	if err != nil {
		return "", NonRetriable(fault.Wrap(fault.Authorization, fmt.Errorf("reliability: token supplier: %w", err)))
	}
	return "Bearer " + tok.AccessToken, nil
}

// SameHost reports whether candidate resolves to the same host as the
// endpoint's configured URL, used to reject a cross-host SSE "endpoint"
// redirect rather than silently following it.
func (e *Endpoint) SameHost(candidate string) bool {
	base, err := url.Parse(e.URL)
	if err != nil {
		return false
	}
	other, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	if !other.IsAbs() {
		return true
	}
	return base.Host == other.Host
}
