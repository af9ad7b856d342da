package manifest

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"strings"
)

// GUID is a 128-bit chunk identifier stored as four little-endian words.
type GUID [4]uint32

// String renders the GUID as 32 upper-case hex digits, word by word.
func (g GUID) String() string {
	return fmt.Sprintf("%08X%08X%08X%08X", g[0], g[1], g[2], g[3])
}

// Bytes returns the 16-byte little-endian wire form.
func (g GUID) Bytes() []byte {
	b := make([]byte, 0, 16)
	for _, w := range g {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return b
}

// IsZero reports whether every word is zero.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// ParseGUID parses the 32-digit hex form produced by String. Dashes are
// ignored and case does not matter.
func ParseGUID(s string) (GUID, error) {
	clean := strings.ReplaceAll(s, "-", "")
	if len(clean) != 32 {
		return GUID{}, fmt.Errorf("%w: guid %q", ErrMalformedManifest, s)
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return GUID{}, fmt.Errorf("%w: guid %q", ErrMalformedManifest, s)
	}
	var g GUID
	for i := range g {
		g[i] = binary.BigEndian.Uint32(raw[i*4:])
	}
	return g, nil
}

// MarshalText implements encoding.TextMarshaler.
func (g GUID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *GUID) UnmarshalText(b []byte) error {
	v, err := ParseGUID(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// GroupFromGUID derives a data group from the GUID's wire bytes as
// crc32(guid) mod 100. Manifests carry an explicit group for every chunk;
// this is the fallback for sources that do not.
func GroupFromGUID(g GUID) uint8 {
	return uint8(crc32.ChecksumIEEE(g.Bytes()) % 100) //nolint:gosec // < 100
}
