package codec

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mochi/internal/mochitype"
)

func TestNumToBlob(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "018000000000", NumToBlob(18, 4))
	assert.Equal(t, "000001000000", NumToBlob(256, 4))
	assert.Equal(t, "255255255255255255255255", NumToBlob(math.MaxUint64, 8))
	assert.Equal(t, "001000000000000000000000000000", NumToBlob(1, 10))
}

func TestBlobNumRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n      uint64
		groups int
	}{
		{0, 4},
		{1, 4},
		{0xFFFFFFFF, 4},
		{123456789, 4},
		{0x0123456789ABCDEF, 8},
		{math.MaxUint64, 8},
		{42, 12},
	}
	for _, tt := range tests {
		blob := NumToBlob(tt.n, tt.groups)
		assert.Len(t, blob, tt.groups*3)
		got, err := BlobToNum(blob)
		require.NoError(t, err)
		assert.Equal(t, tt.n, got, "blob %s", blob)
	}
}

func TestHexBlobRoundTrip(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"00",
		"ff",
		"0A1B2C3D",
		"da39a3ee5e6b4b0d3255bfef95601890afd80709",
	}
	for _, in := range inputs {
		for _, reverse := range []bool{false, true} {
			blob, err := HexToBlob(in, reverse)
			require.NoError(t, err)
			out, err := BlobToHex(blob, reverse)
			require.NoError(t, err)
			assert.Equal(t, strings.ToUpper(in), out)
		}
	}
}

func TestHexToBlobReverse(t *testing.T) {
	t.Parallel()

	blob, err := HexToBlob("0102", true)
	require.NoError(t, err)
	assert.Equal(t, "002001", blob)

	blob, err = HexToBlob("0102", false)
	require.NoError(t, err)
	assert.Equal(t, "001002", blob)
}

func TestBlobMalformed(t *testing.T) {
	t.Parallel()

	for _, blob := range []string{"12", "256", "0a0", "-01"} {
		_, err := BlobToBytes(blob)
		assert.ErrorIs(t, err, mochitype.ErrMalformedManifest, blob)
	}
	_, err := BlobToNum(NumToBlob(0, 8) + "001")
	assert.ErrorIs(t, err, mochitype.ErrMalformedManifest)

	_, err = HexToBlob("zz", false)
	assert.ErrorIs(t, err, mochitype.ErrMalformedManifest)
}
