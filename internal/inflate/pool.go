// Package inflate pools zlib readers for manifest and chunk payloads.
package inflate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"

	"github.com/meigma/mochi/internal/sizing"
)

// maxPrealloc caps the buffer reserved up front from a declared size, so a
// hostile header cannot force a huge allocation before any data is read.
const maxPrealloc = 64 << 20

// MaxUnsized bounds the output of a stream inflated without a declared size.
// Chunk windows are at most a few MiB; manifests always declare their size.
const MaxUnsized = 64 << 20

// ErrOutputSize is returned when a stream inflates to more bytes than were
// declared, or past MaxUnsized when nothing was declared.
var ErrOutputSize = errors.New("inflate: output size exceeds limit")

// Pool manages reusable zlib readers to reduce allocation overhead.
// The zero value is ready to use. A nil *Pool creates one-off readers.
type Pool struct {
	pool sync.Pool
}

// NewPool creates an empty reader pool.
func NewPool() *Pool {
	return &Pool{}
}

// Get returns a zlib reader positioned at the start of r.
// The caller must call the returned release function when done.
// If an error is returned, no release function needs to be called.
//
// A header error is returned whether or not a pooled reader was available:
// Reset has already consumed bytes from r, so r is never read a second time.
func (p *Pool) Get(r io.Reader) (io.ReadCloser, func(), error) {
	if p == nil {
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { _ = zr.Close() }, nil
	}

	pooled, ok := p.pool.Get().(io.ReadCloser)
	if !ok {
		return p.fresh(r)
	}
	rs, ok := pooled.(zlib.Resetter)
	if !ok {
		return p.fresh(r)
	}
	if err := rs.Reset(r, nil); err != nil {
		p.pool.Put(pooled)
		return nil, nil, err
	}
	return pooled, p.release(pooled), nil
}

func (p *Pool) fresh(r io.Reader) (io.ReadCloser, func(), error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return zr, p.release(zr), nil
}

func (p *Pool) release(zr io.ReadCloser) func() {
	return func() {
		_ = zr.Close()
		p.pool.Put(zr)
	}
}

// Bytes inflates src. When want is non-zero the stream must inflate to
// exactly want bytes: a shorter stream is reported as io.ErrUnexpectedEOF
// and a longer one as ErrOutputSize. When want is zero the output is
// bounded by MaxUnsized. The zlib checksum is verified in both cases.
func (p *Pool) Bytes(src []byte, want uint64) ([]byte, error) {
	zr, release, err := p.Get(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib header: %w", err)
	}
	defer release()

	if want == 0 {
		out, err := io.ReadAll(io.LimitReader(zr, MaxUnsized+1))
		if err != nil {
			return nil, fmt.Errorf("zlib stream: %w", err)
		}
		if len(out) > MaxUnsized {
			return nil, fmt.Errorf("zlib stream: more than %d bytes: %w", MaxUnsized, ErrOutputSize)
		}
		return out, nil
	}

	n, err := sizing.ToInt(want, io.ErrShortBuffer)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(make([]byte, 0, min(n, maxPrealloc)))
	copied, err := io.Copy(buf, io.LimitReader(zr, int64(n)))
	if err != nil {
		return nil, fmt.Errorf("zlib stream: %w", err)
	}
	if copied < int64(n) {
		return nil, fmt.Errorf("zlib stream: inflated %d of %d bytes: %w", copied, n, io.ErrUnexpectedEOF)
	}

	var extra [1]byte
	switch k, err := io.ReadFull(zr, extra[:]); {
	case k > 0:
		return nil, fmt.Errorf("zlib stream: longer than %d bytes: %w", n, ErrOutputSize)
	case errors.Is(err, io.EOF):
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("zlib stream: %w", err)
	}
}
