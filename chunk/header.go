package chunk

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // the format specifies SHA-1
	"fmt"

	"github.com/meigma/mochi/internal/codec"
	"github.com/meigma/mochi/internal/inflate"
	"github.com/meigma/mochi/manifest"
)

// Chunk file constants.
const (
	// Magic opens a chunk file header.
	Magic uint32 = 0xB1FE3AA2

	// minHeaderSize covers the fields every header version carries.
	minHeaderSize = 41

	// StoredCompressed marks a zlib-compressed payload.
	StoredCompressed uint8 = 0x01

	// StoredEncrypted marks an encrypted payload, which is not supported.
	StoredEncrypted uint8 = 0x02

	// HashTypeSHA1 is set in HashType when SHA1 is populated.
	HashTypeSHA1 uint8 = 0x02

	// zlibCMF is the first byte of a zlib stream with a 32K window.
	zlibCMF = 0x78
)

// Header is the fixed header of a chunk file.
type Header struct {
	Version        uint32
	HeaderSize     uint32
	CompressedSize uint32
	GUID           manifest.GUID
	Hash           uint64
	StoredAs       uint8

	// Present from header version 2.
	SHA1     [20]byte
	HashType uint8

	// Present from header version 3.
	UncompressedSize uint32
}

// Compressed reports whether the payload is zlib-compressed.
func (h Header) Compressed() bool {
	return h.StoredAs&StoredCompressed != 0
}

// ParseHeader decodes the header at the start of raw.
func ParseHeader(raw []byte) (Header, error) {
	var h Header
	r := codec.NewReader(raw)
	magic, err := r.U32("chunk magic")
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrChunkDecode, err)
	}
	if magic != Magic {
		return h, fmt.Errorf("%w: bad magic %08X", ErrChunkDecode, magic)
	}
	if err := readHeader(r, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrChunkDecode, err)
	}
	if h.HeaderSize < minHeaderSize || uint64(h.HeaderSize) > uint64(len(raw)) {
		return h, fmt.Errorf("%w: header size %d of %d bytes", ErrChunkDecode, h.HeaderSize, len(raw))
	}
	return h, nil
}

func readHeader(r *codec.Reader, h *Header) error {
	var err error
	if h.Version, err = r.U32("header version"); err != nil {
		return err
	}
	if h.HeaderSize, err = r.U32("header size"); err != nil {
		return err
	}
	if h.CompressedSize, err = r.U32("compressed size"); err != nil {
		return err
	}
	for i := range h.GUID {
		if h.GUID[i], err = r.U32("guid"); err != nil {
			return err
		}
	}
	if h.Hash, err = r.U64("rolling hash"); err != nil {
		return err
	}
	if h.StoredAs, err = r.U8("stored as"); err != nil {
		return err
	}
	if h.Version >= 2 {
		if err = r.Fixed("sha1", h.SHA1[:]); err != nil {
			return err
		}
		if h.HashType, err = r.U8("hash type"); err != nil {
			return err
		}
	}
	if h.Version >= 3 {
		if h.UncompressedSize, err = r.U32("uncompressed size"); err != nil {
			return err
		}
	}
	return nil
}

// Decoder turns raw chunk files into payloads.
type Decoder struct {
	pool   *inflate.Pool
	verify bool
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithVerifySHA1 checks a decoded payload against the header's SHA-1 when
// the header carries one. Verification is off by default.
func WithVerifySHA1(enabled bool) DecoderOption {
	return func(d *Decoder) {
		d.verify = enabled
	}
}

// NewDecoder creates a Decoder with a private inflater pool.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{pool: inflate.NewPool()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode returns the payload of a raw chunk file.
//
// A file with a chunk header is sliced past the header and inflated only
// when its storage mode says it is compressed. Two legacy shapes are also
// accepted: a header whose size byte is the zlib marker, meaning the stream
// starts right after the first eight bytes, and a bare zlib stream with no
// header at all.
func (d *Decoder) Decode(raw []byte) ([]byte, error) {
	switch {
	case len(raw) >= 10 && hasMagic(raw) && isZlibHeader(raw[8], raw[9]):
		return d.inflate(raw[8:], 0)
	case len(raw) >= 2 && !hasMagic(raw) && isZlibHeader(raw[0], raw[1]):
		return d.inflate(raw, 0)
	}

	h, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	if h.StoredAs&StoredEncrypted != 0 {
		return nil, fmt.Errorf("%w: %s: encrypted chunk", ErrChunkDecode, h.GUID)
	}

	body := raw[h.HeaderSize:]
	var payload []byte
	if h.Compressed() {
		if h.CompressedSize > 0 && uint64(h.CompressedSize) < uint64(len(body)) {
			body = body[:h.CompressedSize]
		}
		if payload, err = d.inflate(body, uint64(h.UncompressedSize)); err != nil {
			return nil, err
		}
	} else {
		payload = body
	}

	if d.verify && h.HashType&HashTypeSHA1 != 0 {
		sum := sha1.Sum(payload) //nolint:gosec // the format specifies SHA-1
		if !bytes.Equal(sum[:], h.SHA1[:]) {
			return nil, fmt.Errorf("%w: chunk %s sha1 %x, payload %x", ErrHashMismatch, h.GUID, h.SHA1, sum)
		}
	}
	return payload, nil
}

func (d *Decoder) inflate(src []byte, want uint64) ([]byte, error) {
	out, err := d.pool.Bytes(src, want)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChunkDecode, err)
	}
	return out, nil
}

func hasMagic(raw []byte) bool {
	return len(raw) >= 4 && raw[0] == 0xA2 && raw[1] == 0x3A && raw[2] == 0xFE && raw[3] == 0xB1
}

// isZlibHeader reports whether cmf, flg open a deflate zlib stream. The
// header check rules out a little-endian header size that happens to
// start with the same byte.
func isZlibHeader(cmf, flg byte) bool {
	return cmf == zlibCMF && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
