// Package egress guards outbound HTTP requests against server-side request
// forgery. Every request must target a whitelisted external API over an
// allowed scheme and method; hosts that are, or resolve to, private,
// loopback or link-local addresses are refused both before the request is
// built and again at dial time.
package egress

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pablocopete/IBM/internal/telemetry"
)

// DefaultTimeout bounds SecureFetch when no timeout is given.
const DefaultTimeout = 10 * time.Second

// Block reasons returned in Decision.Reason.
const (
	ReasonInvalidURL       = "Invalid URL format"
	ReasonPrivateIP        = "Requests to private IPs are blocked"
	ReasonNotWhitelisted   = "Domain not in approved API whitelist"
	ReasonTLSRequired      = "HTTPS required for this API"
	reasonMethodNotAllowed = "Method %s not allowed for this API"
)

// WhitelistEntry describes one approved external API. A request host matches
// when it equals Domain or is a subdomain of it.
type WhitelistEntry struct {
	Domain         string
	Description    string
	RequiresTLS    bool
	AllowedMethods []string
}

// Decision is the outcome of ValidateExternalRequest.
type Decision struct {
	Allowed bool
	Reason  string
	// Code is a short machine label for Reason, used as a metric label.
	Code string
	// Host is the parsed hostname, empty when the URL did not parse.
	Host string
}

// BlockedRequestReporter receives every refused request. Only the hostname is
// passed on; paths and query strings may carry credentials.
type BlockedRequestReporter interface {
	LogBlockedRequest(ctx context.Context, host, reason string)
}

// Guard validates and performs outbound requests.
type Guard struct {
	whitelist []WhitelistEntry
	client    *http.Client
	timeout   time.Duration
	reporter  BlockedRequestReporter
}

// Option configures a Guard.
type Option func(*Guard)

// WithReporter sets the sink for blocked requests.
func WithReporter(r BlockedRequestReporter) Option {
	return func(g *Guard) { g.reporter = r }
}

// WithTimeout sets the default SecureFetch deadline.
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithTransport replaces the base transport. The dial-time address check
// lives in the default transport, so a replacement is responsible for its
// own address policy.
func WithTransport(rt http.RoundTripper) Option {
	return func(g *Guard) { g.client.Transport = rt }
}

// NewGuard returns a Guard for whitelist. The whitelist is copied and never
// modified afterwards.
func NewGuard(whitelist []WhitelistEntry, opts ...Option) *Guard {
	wl := make([]WhitelistEntry, len(whitelist))
	for i, e := range whitelist {
		methods := make([]string, len(e.AllowedMethods))
		for j, m := range e.AllowedMethods {
			methods[j] = strings.ToUpper(m)
		}
		wl[i] = WhitelistEntry{
			Domain:         normalizeHost(e.Domain),
			Description:    e.Description,
			RequiresTLS:    e.RequiresTLS,
			AllowedMethods: methods,
		}
	}

	g := &Guard{
		whitelist: wl,
		timeout:   DefaultTimeout,
		client:    &http.Client{Transport: newTransport()},
	}
	g.client.CheckRedirect = g.checkRedirect
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}

func (g *Guard) lookup(host string) (WhitelistEntry, bool) {
	for _, e := range g.whitelist {
		if host == e.Domain || strings.HasSuffix(host, "."+e.Domain) {
			return e, true
		}
	}
	return WhitelistEntry{}, false
}

// ValidateExternalRequest decides whether method on rawURL may be sent. Checks
// run in a fixed order: URL syntax, private host, whitelist, TLS, method. An
// empty method means GET.
func (g *Guard) ValidateExternalRequest(rawURL, method string) Decision {
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Decision{Reason: ReasonInvalidURL, Code: "invalid_url"}
	}
	host := normalizeHost(u.Hostname())

	if isPrivateHost(host) {
		return Decision{Reason: ReasonPrivateIP, Code: "private_ip", Host: host}
	}

	entry, ok := g.lookup(host)
	if !ok {
		return Decision{Reason: ReasonNotWhitelisted, Code: "not_whitelisted", Host: host}
	}

	if entry.RequiresTLS && u.Scheme != "https" {
		return Decision{Reason: ReasonTLSRequired, Code: "tls_required", Host: host}
	}

	if len(entry.AllowedMethods) > 0 && !contains(entry.AllowedMethods, strings.ToUpper(method)) {
		return Decision{
			Reason: fmt.Sprintf(reasonMethodNotAllowed, method),
			Code:   "method_not_allowed",
			Host:   host,
		}
	}

	return Decision{Allowed: true, Host: host}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// block records a refused request and returns the error handed to the caller.
func (g *Guard) block(ctx context.Context, d Decision) error {
	telemetry.EgressBlockedTotal.WithLabelValues(d.Code).Inc()
	slog.Warn("blocked external request", "host", d.Host, "reason", d.Reason)
	if g.reporter != nil {
		g.reporter.LogBlockedRequest(ctx, d.Host, d.Reason)
	}
	return &BlockedError{Host: d.Host, Reason: d.Reason}
}

func (g *Guard) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	if d := g.ValidateExternalRequest(req.URL.String(), req.Method); !d.Allowed {
		return g.block(req.Context(), d)
	}
	return nil
}

// hostOnly strips the port from a host[:port] string.
func hostOnly(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}
