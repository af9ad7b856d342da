// Package http fetches manifests and chunk files over HTTP with the
// launcher user agent and optional credentials.
package http //nolint:revive // intentional naming for domain clarity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/url"
	"time"

	"github.com/meigma/mochi/auth"
)

// DefaultUserAgent is sent on every request unless overridden.
const DefaultUserAgent = "UELauncher/18.9.0-45233261+++Portal+Release-Live Windows/10.0.26100.1.256.64bit"

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	method := e.Method
	if method == "" {
		method = nethttp.MethodGet
	}
	return fmt.Sprintf("%s %s: %s", method, e.URL, e.Status)
}

// Temporary reports whether the request may succeed if retried.
func (e *StatusError) Temporary() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == nethttp.StatusTooManyRequests, e.StatusCode == nethttp.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

// Fetcher issues GET and POST requests. It is safe for concurrent use.
type Fetcher struct {
	client    *nethttp.Client
	headers   nethttp.Header
	userAgent string
	creds     auth.Credentials
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(f *Fetcher) {
		if headers == nil {
			return
		}
		f.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		if f.headers == nil {
			f.headers = make(nethttp.Header)
		}
		f.headers.Set(key, value)
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithCredentials authenticates every request with creds. Requests fail
// with auth.ErrCredentialsExpired once the token has expired.
func WithCredentials(creds auth.Credentials) Option {
	return func(f *Fetcher) {
		f.creds = creds
	}
}

// WithClock sets the time source used to check credential expiry.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		f.now = now
	}
}

// WithLogger sets the logger for requests.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    nethttp.DefaultClient,
		userAgent: DefaultUserAgent,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = nethttp.DefaultClient
	}
	return f
}

func (f *Fetcher) log() *slog.Logger {
	if f.logger != nil {
		return f.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Credentials returns the credentials the Fetcher applies.
func (f *Fetcher) Credentials() auth.Credentials {
	return f.creds
}

// Open issues a GET and returns the response body. Non-2xx responses are
// returned as *StatusError with the body drained and closed.
func (f *Fetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := f.newRequest(ctx, nethttp.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return f.do(req)
}

// Get issues a GET and returns the whole response body.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	body, err := f.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	return readAll(nethttp.MethodGet, url, body)
}

// Post sends body with the given content type and returns the whole
// response body.
func (f *Fetcher) Post(ctx context.Context, url, contentType string, body []byte) ([]byte, error) {
	req, err := f.newRequest(ctx, nethttp.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := f.do(req)
	if err != nil {
		return nil, err
	}
	return readAll(nethttp.MethodPost, url, resp)
}

func (f *Fetcher) do(req *nethttp.Request) (io.ReadCloser, error) {
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	f.log().Debug("http request", "method", req.Method, "url", withoutQuery(req.URL),
		"status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for connection reuse
		_ = resp.Body.Close()                 //nolint:errcheck // best-effort cleanup
		return nil, &StatusError{
			Method:     req.Method,
			URL:        withoutQuery(req.URL),
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}
	return resp.Body, nil
}

func readAll(method, url string, body io.ReadCloser) ([]byte, error) {
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, url, err)
	}
	return data, nil
}

func (f *Fetcher) newRequest(ctx context.Context, method, url string, body io.Reader) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for key, values := range f.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if f.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if !f.creds.IsZero() {
		if err := f.creds.Apply(req, f.now()); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// withoutQuery drops the query, which may carry signed CDN tokens.
func withoutQuery(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	return c.String()
}
