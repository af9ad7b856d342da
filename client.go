package mochi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/meigma/mochi/archive"
	"github.com/meigma/mochi/cache/disk"
	"github.com/meigma/mochi/catalog"
	"github.com/meigma/mochi/chunk"
	mochihttp "github.com/meigma/mochi/http"
	"github.com/meigma/mochi/manifest"
	"github.com/meigma/mochi/registry"
	"github.com/meigma/mochi/remote"
	"github.com/meigma/mochi/status"
)

// Files smaller than this are stored uncompressed in app archives.
const minCompressSize = 512

// Client runs the fetch, download, reassemble, package and publish
// pipeline over one data directory.
//
// A Client is safe for concurrent use, but syncing the same app from two
// goroutines at once is not supported.
type Client struct {
	layout Layout

	// Options collected before the components are built.
	httpOpts        []mochihttp.Option
	archiveOpts     []archive.Option
	registryOpts    []registry.Option
	manifestRetries *uint64
	cacheMaxBytes   int64
	refetch         bool
	metrics         *chunk.Metrics

	chunkConcurrency      int
	reassemblyConcurrency int
	rateLimit             time.Duration
	verifyHashes          bool
	memoryBudget          int64
	purgeChunks           bool

	progress   ProgressFunc
	statusSink status.Sink
	logger     *slog.Logger

	// Components.
	http      *mochihttp.Fetcher
	cache     *disk.Cache
	chunks    *chunk.Store
	remote    *remote.Fetcher
	catalog   *catalog.Store
	archiver  *archive.Archiver
	publisher *registry.Publisher
}

// NewClient creates a Client with the given options and opens its catalog.
// Call Close when done.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		layout:                Layout{Root: DefaultDataDir},
		chunkConcurrency:      DefaultChunkConcurrency,
		reassemblyConcurrency: DefaultReassemblyConcurrency,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := c.build(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) build() error {
	logger := c.log()

	c.http = mochihttp.NewFetcher(append(c.httpOpts, mochihttp.WithLogger(logger))...)

	cache, err := disk.New(c.layout.ChunkDir(), disk.WithMaxBytes(c.cacheMaxBytes))
	if err != nil {
		return fmt.Errorf("mochi: open chunk cache: %w", err)
	}
	c.cache = cache

	c.chunks = chunk.NewStore(c.http, c.cache,
		chunk.WithDecoder(chunk.NewDecoder(chunk.WithVerifySHA1(c.verifyHashes))),
		chunk.WithMetrics(c.metrics),
		chunk.WithRefetch(c.refetch),
		chunk.WithLogger(logger),
	)

	remoteOpts := []remote.Option{
		remote.WithDecodeOptions(manifest.WithVerifyHash(c.verifyHashes)),
		remote.WithLogger(logger),
	}
	if c.manifestRetries != nil {
		remoteOpts = append(remoteOpts, remote.WithMaxRetries(*c.manifestRetries))
	}
	c.remote = remote.NewFetcher(c.http, remoteOpts...)

	if c.statusSink == nil {
		c.statusSink = status.NewFileSink(c.layout.StatusDir())
	}

	archiveOpts := []archive.Option{archive.WithSkipCompression(archive.DefaultSkipCompression(minCompressSize))}
	c.archiver = archive.New(append(append(archiveOpts, c.archiveOpts...), archive.WithLogger(logger))...)
	c.publisher = registry.New(append(c.registryOpts, registry.WithLogger(logger))...)

	if err := os.MkdirAll(c.layout.Root, 0o750); err != nil {
		return fmt.Errorf("mochi: create data dir: %w", err)
	}
	store, err := catalog.Open(c.layout.CatalogPath())
	if err != nil {
		return fmt.Errorf("mochi: open catalog: %w", err)
	}
	c.catalog = store
	return nil
}

// Close releases the catalog database.
func (c *Client) Close() error {
	return c.catalog.Close()
}

// Layout returns the data directory layout.
func (c *Client) Layout() Layout {
	return c.layout
}

// Catalog returns the manifest catalog.
func (c *Client) Catalog() *catalog.Store {
	return c.catalog
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// setStatus records st for app. Sink failures are logged, never returned.
func (c *Client) setStatus(ctx context.Context, app string, st status.Status) {
	if err := c.statusSink.Write(ctx, app, st); err != nil {
		c.log().Warn("status update failed", "app", app, "status", st.State, "error", err)
	}
}

var errNilManifest = errors.New("mochi: nil manifest")
