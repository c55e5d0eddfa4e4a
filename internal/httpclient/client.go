// Package httpclient builds the HTTP clients used to talk to a running portal.
package httpclient

import (
	"net/http"
	"net/http/cookiejar"
	"time"
)

// Preset timeout durations for common use cases.
const (
	// DefaultTimeout is the standard timeout for API calls (30s).
	DefaultTimeout = 30 * time.Second

	// LongTimeout is for calls that wait on a sync cycle (10 minutes).
	LongTimeout = 10 * time.Minute
)

const defaultUserAgent = "docvault-cli"

// Options configures an HTTP client.
type Options struct {
	Timeout   time.Duration
	Transport http.RoundTripper
	UserAgent string
	// KeepCookies gives the client a cookie jar so a login session is reused.
	KeepCookies bool
}

// Option is a functional option for configuring HTTP clients.
type Option func(*Options)

// WithTimeout sets the client timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithTransport sets a custom transport.
func WithTransport(t http.RoundTripper) Option {
	return func(o *Options) {
		o.Transport = t
	}
}

// WithUserAgent overrides the User-Agent sent with every request.
func WithUserAgent(ua string) Option {
	return func(o *Options) {
		o.UserAgent = ua
	}
}

// WithCookies enables the session cookie jar.
func WithCookies() Option {
	return func(o *Options) {
		o.KeepCookies = true
	}
}

// New creates a new HTTP client with the given options.
// If no timeout is specified, DefaultTimeout (30s) is used.
func New(opts ...Option) *http.Client {
	cfg := &Options{
		Timeout:   DefaultTimeout,
		UserAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &userAgentTransport{base: base, ua: cfg.UserAgent},
		// Session redirects (login -> /) are not followed, callers read the status
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	if cfg.KeepCookies {
		// cookiejar.New only fails on a bad PublicSuffixList
		jar, _ := cookiejar.New(nil)
		client.Jar = jar
	}

	return client
}

// NewDefault creates a new HTTP client with the default timeout (30s).
func NewDefault() *http.Client {
	return New()
}

// NewSession creates a client that keeps the session cookie between calls.
func NewSession(timeout time.Duration) *http.Client {
	return New(WithTimeout(timeout), WithCookies())
}

type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.ua == "" || req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}

	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(req)
}
