// Package httpkit builds the outbound HTTP clients for every integration
// (LLM providers, weather, feeds, light bridges, Home Assistant). All of
// them share one transport shape, a Majordomo User-Agent, and an opt-in
// retry for dial failures on LAN targets.
package httpkit

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/majordomo/internal/buildinfo"
)

// Shared transport limits.
const (
	dialTimeout     = 10 * time.Second
	keepAlive       = 30 * time.Second
	tlsHandshake    = 10 * time.Second
	responseHeader  = 15 * time.Second
	idleConnTimeout = 90 * time.Second
	maxIdleConns    = 20
	maxIdlePerHost  = 5
	defaultTimeout  = 30 * time.Second
)

// BrowserUserAgent is sent to hosts that filter non-browser clients
// (some institutional RSS endpoints do).
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"

// ClientOption configures a client built by NewClient.
type ClientOption func(*options)

type options struct {
	timeout   time.Duration
	userAgent string
	retries   int
	backoff   time.Duration
	logger    *slog.Logger
}

// WithTimeout sets the overall request timeout. Zero disables it and
// leaves callers to bound requests with ctx.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *options) { o.timeout = d }
}

// WithUserAgent replaces the Majordomo User-Agent.
func WithUserAgent(ua string) ClientOption {
	return func(o *options) { o.userAgent = ua }
}

// WithRetry retries requests whose dial failed (host or network
// unreachable, connection refused). No byte has reached the server in
// that case, so a retried light command is never applied twice.
func WithRetry(count int, delay time.Duration) ClientOption {
	return func(o *options) {
		o.retries = count
		o.backoff = delay
	}
}

// WithLogger receives retry diagnostics at debug level.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *options) { o.logger = l }
}

// NewClient returns an *http.Client with a fresh shared-shape transport
// and a 30s default timeout.
func NewClient(opts ...ClientOption) *http.Client {
	o := options{timeout: defaultTimeout, userAgent: buildinfo.UserAgent()}
	for _, opt := range opts {
		opt(&o)
	}

	var rt http.RoundTripper = uaTransport{next: newTransport(), ua: o.userAgent}
	if o.retries > 0 {
		rt = &retryTransport{next: rt, retries: o.retries, delay: o.backoff, logger: o.logger}
	}
	return &http.Client{Timeout: o.timeout, Transport: rt}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   tlsHandshake,
		ResponseHeaderTimeout: responseHeader,
		IdleConnTimeout:       idleConnTimeout,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		ForceAttemptHTTP2:     true,
	}
}

// uaTransport sets User-Agent on requests that do not carry one.
type uaTransport struct {
	next http.RoundTripper
	ua   string
}

func (t uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.ua)
	return t.next.RoundTrip(req)
}
