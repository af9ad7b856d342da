package reassemble

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // the manifest format records SHA-1 file hashes
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/meigma/mochi/internal/sizing"
	"github.com/meigma/mochi/manifest"
)

// DefaultMemoryBudget bounds the bytes of output buffers held at once.
const DefaultMemoryBudget = 1 << 30

// ChunkReader returns the decoded payload of a cached chunk. chunk.Store
// implements it.
type ChunkReader interface {
	Read(app string, guid manifest.GUID) ([]byte, error)
}

// Reassembler copies chunk part ranges into output buffers and commits
// each finished file through a FileSink. It is safe for concurrent use;
// callers run one File call per job.
type Reassembler struct {
	chunks ChunkReader
	sink   *FileSink
	app    string
	budget int64
	mem    *semaphore.Weighted
	verify bool
	logger *slog.Logger
}

// Option configures a Reassembler.
type Option func(*Reassembler)

// WithMemoryBudget bounds the total size of output buffers held by
// concurrent File calls. A file larger than the budget waits until it can
// hold the whole budget alone.
func WithMemoryBudget(n int64) Option {
	return func(r *Reassembler) {
		if n > 0 {
			r.budget = n
		}
	}
}

// WithVerifyHash checks each rebuilt file against its manifest SHA-1.
func WithVerifyHash(enabled bool) Option {
	return func(r *Reassembler) {
		r.verify = enabled
	}
}

// WithLogger sets the logger for reassembly.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reassembler) {
		r.logger = logger
	}
}

// New creates a Reassembler reading chunks of app from chunks.
func New(chunks ChunkReader, sink *FileSink, app string, opts ...Option) *Reassembler {
	r := &Reassembler{
		chunks: chunks,
		sink:   sink,
		app:    app,
		budget: DefaultMemoryBudget,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.mem = semaphore.NewWeighted(r.budget)
	return r
}

func (r *Reassembler) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.New(slog.DiscardHandler)
}

// File rebuilds one output file. Parts are copied in manifest order; a part
// that reads past its chunk payload or writes past the file size fails the
// file with ErrReassemblyBounds. Nothing is written to the final path
// unless every part copied.
func (r *Reassembler) File(ctx context.Context, job FileJob) error {
	if job.Err != nil {
		return fmt.Errorf("reassemble %s: %w", job.Path, job.Err)
	}
	size, err := sizing.ToInt(job.Size, ErrSizeOverflow)
	if err != nil {
		return fmt.Errorf("reassemble %s: %w", job.Path, err)
	}

	weight := min(int64(size), r.budget)
	if err := r.mem.Acquire(ctx, weight); err != nil {
		return fmt.Errorf("reassemble %s: %w", job.Path, err)
	}
	defer r.mem.Release(weight)

	buf, err := r.fill(job, size)
	if err != nil {
		return fmt.Errorf("reassemble %s: %w", job.Path, err)
	}

	if r.verify && job.File.Hash != ([20]byte{}) {
		sum := sha1.Sum(buf) //nolint:gosec // the manifest format records SHA-1 file hashes
		if !bytes.Equal(sum[:], job.File.Hash[:]) {
			return fmt.Errorf("reassemble %s: %w: want %x, got %x", job.Path, ErrHashMismatch, job.File.Hash, sum)
		}
	}

	if err := r.write(job.Path, buf); err != nil {
		return fmt.Errorf("reassemble %s: %w", job.Path, err)
	}
	r.log().Debug("file reassembled", "path", job.Path, "bytes", size, "parts", len(job.File.ChunkParts))
	return nil
}

func (r *Reassembler) fill(job FileJob, size int) ([]byte, error) {
	buf := make([]byte, size)

	var (
		current manifest.GUID
		payload []byte
		loaded  bool
	)
	for i, p := range job.File.ChunkParts {
		if !loaded || p.GUID != current {
			var err error
			if payload, err = r.chunks.Read(r.app, p.GUID); err != nil {
				return nil, fmt.Errorf("part %d: %w", i, err)
			}
			current, loaded = p.GUID, true
		}
		if !sizing.Within(uint64(p.Offset), uint64(p.Size), len(payload)) {
			return nil, fmt.Errorf("%w: part %d reads [%d,+%d) of chunk %s with %d bytes",
				ErrReassemblyBounds, i, p.Offset, p.Size, p.GUID, len(payload))
		}
		if !sizing.Within(p.FileOffset, uint64(p.Size), len(buf)) {
			return nil, fmt.Errorf("%w: part %d writes [%d,+%d) of %d byte file",
				ErrReassemblyBounds, i, p.FileOffset, p.Size, len(buf))
		}
		src := uint64(p.Offset)
		copy(buf[p.FileOffset:p.FileOffset+uint64(p.Size)], payload[src:src+uint64(p.Size)])
	}
	return buf, nil
}

func (r *Reassembler) write(path string, buf []byte) error {
	w, err := r.sink.Writer(path)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("write: %w", err)
	}
	return w.Commit()
}
