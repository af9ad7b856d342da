// Package codec reads and writes the little-endian primitives, FStrings and
// legacy blob encodings used by the manifest format.
package codec

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/meigma/mochi/internal/mochitype"
)

// DecodeError describes a read that would run past the end of the buffer or
// a value that cannot be represented. It wraps ErrMalformedManifest.
type DecodeError struct {
	Field  string
	Offset int
	Need   uint64
	Have   int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: %s at offset %d: need %d bytes, have %d",
		e.Field, e.Offset, e.Need, e.Have)
}

func (e *DecodeError) Unwrap() error {
	return mochitype.ErrMalformedManifest
}

// Reader is a bounds-checked cursor over a byte slice.
// Every method either returns a value and advances the cursor by exactly the
// bytes consumed, or returns a *DecodeError and leaves the cursor unchanged.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset returns the cursor position.
func (r *Reader) Offset() int { return r.off }

// Len returns the total buffer length.
func (r *Reader) Len() int { return len(r.buf) }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Seek moves the cursor to an absolute offset. Seeking to Len is allowed.
func (r *Reader) Seek(field string, off uint64) error {
	if off > uint64(len(r.buf)) {
		return &DecodeError{Field: field, Offset: r.off, Need: off - uint64(r.off), Have: r.Remaining()}
	}
	r.off = int(off)
	return nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(field string, n uint64) error {
	_, err := r.take(field, n)
	return err
}

func (r *Reader) take(field string, n uint64) ([]byte, error) {
	if n > uint64(r.Remaining()) {
		return nil, &DecodeError{Field: field, Offset: r.off, Need: n, Have: r.Remaining()}
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

// Bytes returns the next n bytes. The slice aliases the underlying buffer.
func (r *Reader) Bytes(field string, n uint64) ([]byte, error) {
	return r.take(field, n)
}

// Fixed copies len(dst) bytes into dst.
func (r *Reader) Fixed(field string, dst []byte) error {
	b, err := r.take(field, uint64(len(dst)))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// U8 reads an unsigned byte.
func (r *Reader) U8(field string) (uint8, error) {
	b, err := r.take(field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32(field string) (uint32, error) {
	b, err := r.take(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 reads a little-endian uint64.
func (r *Reader) U64(field string) (uint64, error) {
	b, err := r.take(field, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// I32 reads a little-endian int32.
func (r *Reader) I32(field string) (int32, error) {
	v, err := r.U32(field)
	return int32(v), err //nolint:gosec // two's complement reinterpretation
}

// I64 reads a little-endian int64.
func (r *Reader) I64(field string) (int64, error) {
	v, err := r.U64(field)
	return int64(v), err //nolint:gosec // two's complement reinterpretation
}

// FString reads a length-prefixed string.
//
// A positive length L is followed by L-1 ASCII bytes and a NUL. A negative
// length is followed by |L|-1 UTF-16LE code units and a NUL pair. Zero is
// the empty string.
func (r *Reader) FString(field string) (string, error) {
	start := r.off
	l, err := r.I32(field)
	if err != nil {
		return "", err
	}
	switch {
	case l == 0:
		return "", nil
	case l > 0:
		b, err := r.take(field, uint64(l))
		if err != nil {
			r.off = start
			return "", err
		}
		return string(b[:len(b)-1]), nil
	default:
		units := -int64(l)
		b, err := r.take(field, uint64(units)*2)
		if err != nil {
			r.off = start
			return "", err
		}
		u := make([]uint16, units-1)
		for i := range u {
			u[i] = binary.LittleEndian.Uint16(b[i*2:])
		}
		return string(utf16.Decode(u)), nil
	}
}

// FStrings reads a u32 count followed by that many FStrings.
func (r *Reader) FStrings(field string) ([]string, error) {
	start := r.off
	n, err := r.U32(field)
	if err != nil {
		return nil, err
	}
	// Each FString needs at least its 4-byte prefix.
	if uint64(n)*4 > uint64(r.Remaining()) {
		r.off = start
		return nil, &DecodeError{Field: field, Offset: r.off, Need: uint64(n) * 4, Have: r.Remaining()}
	}
	out := make([]string, 0, n)
	for range n {
		s, err := r.FString(field)
		if err != nil {
			r.off = start
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ReadFString decodes one FString from buf at off and returns the value and
// the advanced offset.
func ReadFString(buf []byte, off int) (string, int, error) {
	r := &Reader{buf: buf}
	if err := r.Seek("fstring", uint64(max(off, 0))); err != nil {
		return "", off, err
	}
	s, err := r.FString("fstring")
	if err != nil {
		return "", off, err
	}
	return s, r.off, nil
}
