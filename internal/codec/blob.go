package codec

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/meigma/mochi/internal/mochitype"
)

// Blob groups are three decimal digits per byte, "000" through "255".
const blobGroupLen = 3

// NumToBlob encodes the low groups bytes of n, least significant first.
func NumToBlob(n uint64, groups int) string {
	var sb strings.Builder
	sb.Grow(groups * blobGroupLen)
	for i := range groups {
		var b byte
		if i < 8 {
			b = byte(n >> (8 * i))
		}
		fmt.Fprintf(&sb, "%03d", b)
	}
	return sb.String()
}

// BlobToNum decodes a little-endian blob of at most eight groups.
func BlobToNum(blob string) (uint64, error) {
	b, err := BlobToBytes(blob)
	if err != nil {
		return 0, err
	}
	var n uint64
	for i, v := range b {
		if i >= 8 {
			if v != 0 {
				return 0, fmt.Errorf("%w: blob %q exceeds 64 bits", mochitype.ErrMalformedManifest, blob)
			}
			continue
		}
		n |= uint64(v) << (8 * i)
	}
	return n, nil
}

// BytesToBlob encodes every byte of b as a three-digit group.
func BytesToBlob(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * blobGroupLen)
	for _, v := range b {
		fmt.Fprintf(&sb, "%03d", v)
	}
	return sb.String()
}

// BlobToBytes decodes three-digit groups back into bytes.
func BlobToBytes(blob string) ([]byte, error) {
	if len(blob)%blobGroupLen != 0 {
		return nil, fmt.Errorf("%w: blob length %d is not a multiple of %d",
			mochitype.ErrMalformedManifest, len(blob), blobGroupLen)
	}
	out := make([]byte, 0, len(blob)/blobGroupLen)
	for i := 0; i < len(blob); i += blobGroupLen {
		group := blob[i : i+blobGroupLen]
		v, err := strconv.ParseUint(group, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: blob group %q", mochitype.ErrMalformedManifest, group)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

// HexToBlob converts a hex string to a blob. With reverse set the byte order
// is flipped, turning a big-endian hex number into a little-endian blob.
func HexToBlob(s string, reverse bool) (string, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: hex %q: %v", mochitype.ErrMalformedManifest, s, err)
	}
	if reverse {
		slices.Reverse(b)
	}
	return BytesToBlob(b), nil
}

// BlobToHex converts a blob to upper-case hex, flipping byte order when
// reverse is set. It is the inverse of HexToBlob for the same flag.
func BlobToHex(blob string, reverse bool) (string, error) {
	b, err := BlobToBytes(blob)
	if err != nil {
		return "", err
	}
	if reverse {
		slices.Reverse(b)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}
