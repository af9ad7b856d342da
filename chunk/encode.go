package chunk

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // the format specifies SHA-1
	"fmt"
	"math"

	"github.com/klauspost/compress/zlib"

	"github.com/meigma/mochi/internal/codec"
	"github.com/meigma/mochi/manifest"
)

// headerSizeV3 is the size of a version 3 header.
const headerSizeV3 = 66

// Encode builds a version 3 chunk file around payload, zlib-compressing it
// when compress is set.
func Encode(guid manifest.GUID, hash uint64, payload []byte, compress bool) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("chunk: encode %s: payload of %d bytes too large", guid, len(payload))
	}
	body := payload
	var storedAs uint8
	if compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("chunk: encode %s: %w", guid, err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("chunk: encode %s: %w", guid, err)
		}
		body = buf.Bytes()
		storedAs = StoredCompressed
	}

	sum := sha1.Sum(payload) //nolint:gosec // the format specifies SHA-1
	var w codec.Writer
	w.PutU32(Magic)
	w.PutU32(3)
	w.PutU32(headerSizeV3)
	w.PutU32(uint32(len(body))) //nolint:gosec // compressed output stays near input size
	for _, word := range guid {
		w.PutU32(word)
	}
	w.PutU64(hash)
	w.PutU8(storedAs)
	w.PutBytes(sum[:])
	w.PutU8(HashTypeSHA1)
	w.PutU32(uint32(len(payload))) //nolint:gosec // checked above
	w.PutBytes(body)
	return w.Bytes(), nil
}
