package chunk

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/mochi/manifest"
)

// Getter opens a URL for reading. Non-2xx responses must be returned as
// errors. http.Fetcher implements it.
type Getter interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Cache stores raw chunk files per app. cache/disk.Cache implements it.
type Cache interface {
	Has(app, name string) bool
	Put(app, name string, r io.Reader) (int64, error)
	ReadFile(app, name string) ([]byte, error)
}

// Store downloads chunks into a per-app cache and reads them back decoded.
// It is safe for concurrent use.
type Store struct {
	getter  Getter
	cache   Cache
	decoder *Decoder
	metrics *Metrics
	logger  *slog.Logger
	refetch bool
	group   singleflight.Group
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger for chunk operations.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMetrics records downloads in m.
func WithMetrics(m *Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithDecoder sets the decoder used by Read.
func WithDecoder(d *Decoder) StoreOption {
	return func(s *Store) {
		s.decoder = d
	}
}

// WithRefetch downloads chunks even when they are already cached.
func WithRefetch(enabled bool) StoreOption {
	return func(s *Store) {
		s.refetch = enabled
	}
}

// NewStore creates a Store reading from getter and writing to cache.
func NewStore(getter Getter, cache Cache, opts ...StoreOption) *Store {
	s := &Store{
		getter: getter,
		cache:  cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.decoder == nil {
		s.decoder = NewDecoder()
	}
	return s
}

func (s *Store) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Fetch downloads one chunk and stores the response bytes verbatim under
// app. Concurrent calls for the same chunk share one download.
func (s *Store) Fetch(ctx context.Context, app string, loc Location) error {
	name := FileName(loc.GUID)
	if !s.refetch && s.cache.Has(app, name) {
		s.metrics.cached()
		s.log().Debug("chunk cached", "app", app, "guid", loc.GUID)
		return nil
	}

	_, err, _ := s.group.Do(app+"/"+name, func() (any, error) {
		return nil, s.download(ctx, app, name, loc)
	})
	return err
}

func (s *Store) download(ctx context.Context, app, name string, loc Location) error {
	done := s.metrics.start()

	body, err := s.getter.Open(ctx, loc.URL)
	if err != nil {
		done(resultFailed, 0)
		return fmt.Errorf("chunk %s: %w: %w", loc.GUID, ErrChunkDownload, err)
	}
	defer body.Close()

	n, err := s.cache.Put(app, name, body)
	if err != nil {
		done(resultFailed, n)
		return fmt.Errorf("chunk %s: %w: %w", loc.GUID, ErrChunkDownload, err)
	}
	done(resultDownloaded, n)
	s.log().Debug("chunk downloaded", "app", app, "guid", loc.GUID, "bytes", n)
	return nil
}

// Read loads a cached chunk and returns its decoded payload. No file
// handle is held once Read returns.
func (s *Store) Read(app string, guid manifest.GUID) ([]byte, error) {
	raw, err := s.cache.ReadFile(app, FileName(guid))
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", guid, err)
	}
	payload, err := s.decoder.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", guid, err)
	}
	return payload, nil
}
