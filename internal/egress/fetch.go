package egress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pablocopete/IBM/internal/telemetry"
)

var (
	// ErrBlocked matches every *BlockedError.
	ErrBlocked = errors.New("external request blocked")
	// ErrUpstreamTimeout matches every *TimeoutError.
	ErrUpstreamTimeout = errors.New("upstream request timed out")
	// ErrUpstream wraps transport failures other than timeouts.
	ErrUpstream = errors.New("upstream request failed")
)

// BlockedError is returned when the guard refuses a request.
type BlockedError struct {
	Host   string
	Reason string
}

func (e *BlockedError) Error() string {
	return "Blocked external request: " + e.Reason
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }

// TimeoutError is returned when SecureFetch's deadline expires.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Request timeout after %dms", e.Timeout.Milliseconds())
}

func (e *TimeoutError) Unwrap() error { return ErrUpstreamTimeout }

func newTransport() http.RoundTripper {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   controlDial,
	}
	base := &http.Transport{
		// No proxy: the dial check must see the real destination.
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return otelhttp.NewTransport(base)
}

// cancelOnClose releases the request context once the caller is done with
// the response body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// SecureFetch validates req and performs it with a deadline of timeout
// (DefaultTimeout, or the guard's configured timeout, when zero). The
// deadline also covers reading the body, which stays readable until the
// caller closes it.
func (g *Guard) SecureFetch(ctx context.Context, req *http.Request, timeout time.Duration) (*http.Response, error) {
	if timeout <= 0 {
		timeout = g.timeout
	}

	d := g.ValidateExternalRequest(req.URL.String(), req.Method)
	if !d.Allowed {
		return nil, g.block(ctx, d)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	resp, err := g.client.Do(req.WithContext(fetchCtx))
	telemetry.EgressRequestDuration.WithLabelValues(d.Host).Observe(time.Since(start).Seconds())
	if err != nil {
		cancel()
		return nil, g.classify(ctx, fetchCtx, d.Host, timeout, err)
	}

	telemetry.EgressRequestsTotal.WithLabelValues(d.Host, "ok").Inc()
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (g *Guard) classify(parent, fetchCtx context.Context, host string, timeout time.Duration, err error) error {
	var blocked *BlockedError
	switch {
	case errors.As(err, &blocked):
		// Redirect refused by checkRedirect; already reported.
		telemetry.EgressRequestsTotal.WithLabelValues(host, "error").Inc()
		return blocked
	case errors.Is(err, errDialPrivate):
		telemetry.EgressRequestsTotal.WithLabelValues(host, "error").Inc()
		return g.block(parent, Decision{Reason: ReasonPrivateIP, Code: "dial_private_ip", Host: host})
	case parent.Err() == nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded):
		telemetry.EgressRequestsTotal.WithLabelValues(host, "timeout").Inc()
		return &TimeoutError{Timeout: timeout}
	default:
		telemetry.EgressRequestsTotal.WithLabelValues(host, "error").Inc()
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
}
