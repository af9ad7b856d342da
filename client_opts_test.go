package mochi

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mochi/auth"
)

func newOptsClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(append([]Option{WithDataDir(t.TempDir())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := newOptsClient(t)

	assert.Equal(t, DefaultChunkConcurrency, c.chunkConcurrency)
	assert.Equal(t, DefaultReassemblyConcurrency, c.reassemblyConcurrency)
	assert.Nil(t, c.manifestRetries)
	assert.False(t, c.verifyHashes)
	assert.False(t, c.purgeChunks)
	assert.NotNil(t, c.statusSink)
	assert.NotNil(t, c.catalog)
}

func TestWithConcurrency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		opts           []Option
		wantChunks     int
		wantReassembly int
		wantErr        string
	}{
		{
			name:           "custom values",
			opts:           []Option{WithChunkConcurrency(4), WithReassemblyConcurrency(2)},
			wantChunks:     4,
			wantReassembly: 2,
		},
		{
			name:           "last option wins",
			opts:           []Option{WithChunkConcurrency(4), WithChunkConcurrency(16)},
			wantChunks:     16,
			wantReassembly: DefaultReassemblyConcurrency,
		},
		{
			name:    "negative chunk concurrency rejected",
			opts:    []Option{WithChunkConcurrency(-1)},
			wantErr: "chunk concurrency must be positive",
		},
		{
			name:    "zero reassembly concurrency rejected",
			opts:    []Option{WithReassemblyConcurrency(0)},
			wantErr: "reassembly concurrency must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := NewClient(append([]Option{WithDataDir(t.TempDir())}, tt.opts...)...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = c.Close() })
			assert.Equal(t, tt.wantChunks, c.chunkConcurrency)
			assert.Equal(t, tt.wantReassembly, c.reassemblyConcurrency)
		})
	}
}

func TestWithManifestRetries(t *testing.T) {
	t.Parallel()

	c := newOptsClient(t, WithManifestRetries(0))

	// Zero is a real setting, distinct from "use the default".
	require.NotNil(t, c.manifestRetries)
	assert.Equal(t, uint64(0), *c.manifestRetries)
}

func TestWithPipelineFlags(t *testing.T) {
	t.Parallel()

	c := newOptsClient(t,
		WithVerifyHashes(true),
		WithPurgeChunks(true),
		WithRefetch(true),
		WithRateLimit(50*time.Millisecond),
		WithMemoryBudget(1<<20),
		WithCacheMaxBytes(1<<30),
	)

	assert.True(t, c.verifyHashes)
	assert.True(t, c.purgeChunks)
	assert.True(t, c.refetch)
	assert.Equal(t, 50*time.Millisecond, c.rateLimit)
	assert.Equal(t, int64(1<<20), c.memoryBudget)
	assert.Equal(t, int64(1<<30), c.cacheMaxBytes)
}

func TestWithAuthFile(t *testing.T) {
	t.Parallel()

	t.Run("missing file is ignored", func(t *testing.T) {
		t.Parallel()

		c := newOptsClient(t, WithAuthFile(filepath.Join(t.TempDir(), "auth.json")))
		assert.Empty(t, c.httpOpts)
	})

	t.Run("saved credentials are applied", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "auth.json")
		require.NoError(t, auth.Save(path, auth.Credentials{AccessToken: "tok"}))

		c := newOptsClient(t, WithAuthFile(path))
		assert.Len(t, c.httpOpts, 1)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "auth.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

		_, err := NewClient(WithDataDir(t.TempDir()), WithAuthFile(path))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode")
	})
}

func TestWithMetrics_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	newOptsClient(t, WithMetrics(reg))

	_, err := NewClient(WithDataDir(t.TempDir()), WithMetrics(reg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register metrics")
}

func TestClient_LayoutRootsAtDataDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := NewClient(WithDataDir(dir))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, dir, c.Layout().Root)
	assert.FileExists(t, c.Layout().CatalogPath())
}
