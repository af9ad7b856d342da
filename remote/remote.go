// Package remote fetches build manifests from a list of distribution
// points, falling back to the next point when one fails.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meigma/mochi/internal/mochitype"
	"github.com/meigma/mochi/manifest"
)

var ErrNoDistributionPoint = mochitype.ErrNoDistributionPoint

// TokenKeys are the query parameters of a manifest URL that are carried
// over to chunk URLs.
var TokenKeys = []string{"f_token", "cfl_token", "ak_token", "cf_token"}

// Defaults for the per-URL retry wrapper.
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
)

// DistributionPoint is one server offering a manifest.
type DistributionPoint struct {
	ManifestURL         string    `json:"manifestUrl"`
	SignatureExpiration time.Time `json:"signatureExpiration,omitzero"`
}

// Getter fetches a URL. http.Fetcher implements it.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Fetcher downloads and decodes manifests.
type Fetcher struct {
	getter     Getter
	newBackOff func() backoff.BackOff
	maxRetries uint64
	decodeOpts []manifest.DecodeOption
	logger     *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxRetries sets how many times a transient failure is retried per URL.
func WithMaxRetries(n uint64) Option {
	return func(f *Fetcher) {
		f.maxRetries = n
	}
}

// WithBackOff sets the retry schedule. fn is called once per URL.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(f *Fetcher) {
		f.newBackOff = fn
	}
}

// WithDecodeOptions passes options to the manifest decoder.
func WithDecodeOptions(opts ...manifest.DecodeOption) Option {
	return func(f *Fetcher) {
		f.decodeOpts = append(f.decodeOpts, opts...)
	}
}

// WithLogger sets the logger for manifest fetches.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a Fetcher reading through getter.
func NewFetcher(getter Getter, opts ...Option) *Fetcher {
	f := &Fetcher{
		getter:     getter,
		maxRetries: DefaultMaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = DefaultInitialInterval
			return b
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) log() *slog.Logger {
	if f.logger != nil {
		return f.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Fetch tries each point in order and returns the first manifest that
// downloads and decodes, together with its raw bytes. The manifest's
// CloudDir and CDNTokens are bound from the URL it came from.
//
// When every point fails the error wraps ErrNoDistributionPoint and one
// error per point naming its URL.
func (f *Fetcher) Fetch(ctx context.Context, points []DistributionPoint) (*manifest.Manifest, []byte, error) {
	errs := []error{ErrNoDistributionPoint}
	for i, p := range points {
		if p.ManifestURL == "" {
			errs = append(errs, fmt.Errorf("distribution point %d: no manifest url", i))
			continue
		}
		m, data, err := f.fetchOne(ctx, p.ManifestURL)
		if err == nil {
			f.log().Info("manifest fetched", "app", m.AppName, "build", m.BuildVersion, "url", Redact(p.ManifestURL))
			return m, data, nil
		}
		f.log().Warn("distribution point failed", "url", Redact(p.ManifestURL), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", Redact(p.ManifestURL), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, nil, errors.Join(errs...)
}

func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) (*manifest.Manifest, []byte, error) {
	cloudDir, tokens, err := Bind(rawURL)
	if err != nil {
		return nil, nil, err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), f.maxRetries), ctx)
	data, err := backoff.RetryNotifyWithData(func() ([]byte, error) {
		data, err := f.getter.Get(ctx, rawURL)
		if err != nil && !temporary(err) {
			return nil, backoff.Permanent(err)
		}
		return data, err
	}, b, func(err error, wait time.Duration) {
		f.log().Debug("manifest fetch retry", "url", Redact(rawURL), "wait", wait, "error", err)
	})
	if err != nil {
		return nil, nil, err
	}

	m, err := manifest.Decode(manifest.Sniff(data, Redact(rawURL)), f.decodeOpts...)
	if err != nil {
		return nil, nil, err
	}
	m.CloudDir = cloudDir
	m.CDNTokens = tokens
	return m, data, nil
}

// temporary reports whether err is worth retrying. Status errors decide
// for themselves; context errors never retry; anything else is treated as
// a network failure and retried.
func temporary(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

// Bind returns the chunk base URL and CDN tokens for a manifest URL. The
// base is the URL with its last path segment and its query removed.
func Bind(rawURL string) (string, url.Values, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, fmt.Errorf("parse manifest url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", nil, fmt.Errorf("manifest url %q: not absolute", Redact(rawURL))
	}

	query := u.Query()
	var tokens url.Values
	for _, key := range TokenKeys {
		if v, ok := query[key]; ok {
			if tokens == nil {
				tokens = make(url.Values)
			}
			tokens[key] = v
		}
	}

	dir := *u
	dir.RawQuery = ""
	dir.Fragment = ""
	if i := strings.LastIndexByte(dir.Path, '/'); i >= 0 {
		dir.Path = dir.Path[:i]
	}
	dir.RawPath = ""
	return dir.String(), tokens, nil
}

// Redact strips the query from a URL for logs and errors.
func Redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// ManifestList is the artifact API answer listing where each build's
// manifest can be downloaded.
type ManifestList struct {
	DownloadInfo []DownloadInfo `json:"downloadInfo"`
}

// DownloadInfo groups the distribution points of one manifest.
type DownloadInfo struct {
	Type               string              `json:"type,omitempty"`
	BuildVersion       string              `json:"buildVersion,omitempty"`
	AppName            string              `json:"appName,omitempty"`
	DistributionPoints []DistributionPoint `json:"distributionPoints"`
}

// ParseManifestList decodes an artifact API response.
func ParseManifestList(data []byte) (*ManifestList, error) {
	var l ManifestList
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode manifest list: %w", err)
	}
	return &l, nil
}
