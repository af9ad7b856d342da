package mochi

import (
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/mochi/archive"
	"github.com/meigma/mochi/auth"
	"github.com/meigma/mochi/chunk"
	mochihttp "github.com/meigma/mochi/http"
	"github.com/meigma/mochi/registry"
	"github.com/meigma/mochi/status"
)

// Option configures a Client.
type Option func(*Client) error

// Concurrency defaults.
const (
	DefaultChunkConcurrency      = 10
	DefaultReassemblyConcurrency = 1
)

// --- Storage Options ---

// WithDataDir sets the root of the data directory layout.
func WithDataDir(dir string) Option {
	return func(c *Client) error {
		if dir == "" {
			return errors.New("mochi: empty data dir")
		}
		c.layout.Root = dir
		return nil
	}
}

// WithCacheMaxBytes bounds the chunk cache size. Zero disables the limit.
func WithCacheMaxBytes(n int64) Option {
	return func(c *Client) error {
		if n < 0 {
			return fmt.Errorf("mochi: negative cache size %d", n)
		}
		c.cacheMaxBytes = n
		return nil
	}
}

// WithPurgeChunks deletes an app's cached chunks after a fully successful sync.
func WithPurgeChunks(enabled bool) Option {
	return func(c *Client) error {
		c.purgeChunks = enabled
		return nil
	}
}

// WithRefetch downloads chunks even when a cached copy exists.
func WithRefetch(enabled bool) Option {
	return func(c *Client) error {
		c.refetch = enabled
		return nil
	}
}

// --- Transport Options ---

// WithHTTPClient sets the HTTP client used for manifests and chunks.
func WithHTTPClient(client *nethttp.Client) Option {
	return func(c *Client) error {
		c.httpOpts = append(c.httpOpts, mochihttp.WithClient(client))
		return nil
	}
}

// WithUserAgent sets the User-Agent for manifest and chunk requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.httpOpts = append(c.httpOpts, mochihttp.WithUserAgent(ua))
		return nil
	}
}

// WithHeader adds a header to every manifest and chunk request.
func WithHeader(key, value string) Option {
	return func(c *Client) error {
		c.httpOpts = append(c.httpOpts, mochihttp.WithHeader(key, value))
		return nil
	}
}

// WithCredentials authenticates manifest and chunk requests.
func WithCredentials(creds auth.Credentials) Option {
	return func(c *Client) error {
		c.httpOpts = append(c.httpOpts, mochihttp.WithCredentials(creds))
		return nil
	}
}

// WithAuthFile loads credentials saved at path. A missing file leaves
// requests unauthenticated.
func WithAuthFile(path string) Option {
	return func(c *Client) error {
		creds, err := auth.Load(path)
		if errors.Is(err, auth.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		c.httpOpts = append(c.httpOpts, mochihttp.WithCredentials(creds))
		return nil
	}
}

// WithManifestRetries sets how many times a transient manifest fetch
// failure is retried per distribution point.
func WithManifestRetries(n uint64) Option {
	return func(c *Client) error {
		c.manifestRetries = &n
		return nil
	}
}

// --- Pipeline Options ---

// WithChunkConcurrency sets how many chunks download at once.
func WithChunkConcurrency(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("mochi: chunk concurrency must be positive, got %d", n)
		}
		c.chunkConcurrency = n
		return nil
	}
}

// WithReassemblyConcurrency sets how many files are rebuilt at once.
func WithReassemblyConcurrency(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("mochi: reassembly concurrency must be positive, got %d", n)
		}
		c.reassemblyConcurrency = n
		return nil
	}
}

// WithRateLimit spaces out task starts on each worker by at least d.
func WithRateLimit(d time.Duration) Option {
	return func(c *Client) error {
		c.rateLimit = d
		return nil
	}
}

// WithVerifyHashes checks the manifest container SHA-1, chunk SHA-1s and
// rebuilt file hashes.
func WithVerifyHashes(enabled bool) Option {
	return func(c *Client) error {
		c.verifyHashes = enabled
		return nil
	}
}

// WithMemoryBudget bounds the bytes held in output buffers at once.
func WithMemoryBudget(n int64) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("mochi: memory budget must be positive, got %d", n)
		}
		c.memoryBudget = n
		return nil
	}
}

// WithProgress sets a callback for download and reassembly progress.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Client) error {
		c.progress = fn
		return nil
	}
}

// WithStatusSink replaces the per-app status file sink.
func WithStatusSink(sink status.Sink) Option {
	return func(c *Client) error {
		c.statusSink = sink
		return nil
	}
}

// WithMetrics registers chunk download metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) error {
		m, err := chunk.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("mochi: register metrics: %w", err)
		}
		c.metrics = m
		return nil
	}
}

// --- Packaging Options ---

// WithArchiveMethod sets the ZIP compression method.
func WithArchiveMethod(m archive.Method) Option {
	return func(c *Client) error {
		c.archiveOpts = append(c.archiveOpts, archive.WithMethod(m))
		return nil
	}
}

// WithRegistryOptions configures the registry publisher.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(c *Client) error {
		c.registryOpts = append(c.registryOpts, opts...)
		return nil
	}
}

// --- Observability ---

// WithLogger sets the logger for the client and every component it builds.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}
