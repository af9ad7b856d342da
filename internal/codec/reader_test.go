package codec

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mochi/internal/mochitype"
)

func TestReaderPrimitives(t *testing.T) {
	t.Parallel()

	var w Writer
	w.PutU8(7)
	w.PutU32(0xDEADBEEF)
	w.PutU64(math.MaxUint64 - 1)
	w.PutI64(-5)
	w.PutBytes([]byte{1, 2, 3})

	r := NewReader(w.Bytes())
	u8, err := r.U8("u8")
	require.NoError(t, err)
	assert.Equal(t, uint8(7), u8)

	u32, err := r.U32("u32")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)

	u64, err := r.U64("u64")
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), u64)

	i64, err := r.I64("i64")
	require.NoError(t, err)
	assert.Equal(t, int64(-5), i64)

	var fixed [3]byte
	require.NoError(t, r.Fixed("fixed", fixed[:]))
	assert.Equal(t, [3]byte{1, 2, 3}, fixed)
	assert.Equal(t, 0, r.Remaining())
}

func TestReaderOutOfBounds(t *testing.T) {
	t.Parallel()

	r := NewReader([]byte{1, 2, 3})
	_, err := r.U32("size")
	require.Error(t, err)
	assert.ErrorIs(t, err, mochitype.ErrMalformedManifest)

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "size", de.Field)
	assert.Equal(t, uint64(4), de.Need)
	assert.Equal(t, 3, de.Have)
	assert.Equal(t, 0, r.Offset(), "failed read must not move the cursor")

	assert.Error(t, r.Seek("seek", 4))
	assert.NoError(t, r.Seek("seek", 3))
}

func TestFString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		encode  func(*Writer)
		want    string
		advance int
	}{
		{
			name:    "empty",
			encode:  func(w *Writer) { w.PutU32(0) },
			want:    "",
			advance: 4,
		},
		{
			name:    "ascii",
			encode:  func(w *Writer) { w.PutFString("Fortnite") },
			want:    "Fortnite",
			advance: 4 + 9,
		},
		{
			name:    "utf16",
			encode:  func(w *Writer) { w.PutFStringUTF16("Café") },
			want:    "Café",
			advance: 4 + 5*2,
		},
		{
			name:    "utf16 surrogate pair",
			encode:  func(w *Writer) { w.PutFString("a😀") },
			want:    "a😀",
			advance: 4 + 4*2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var w Writer
			tt.encode(&w)
			w.PutU8(0xFF) // trailing sentinel must remain unread

			got, next, err := ReadFString(w.Bytes(), 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.advance, next)
		})
	}
}

func TestFStringLengths(t *testing.T) {
	t.Parallel()

	// L = 4 yields exactly 3 ASCII characters.
	buf := binary.LittleEndian.AppendUint32(nil, 4)
	buf = append(buf, 'a', 'b', 'c', 0)
	s, next, err := ReadFString(buf, 0)
	require.NoError(t, err)
	assert.Len(t, s, 3)
	assert.Equal(t, 8, next)

	// L = -3 yields exactly 2 UTF-16 code units.
	buf = binary.LittleEndian.AppendUint32(nil, uint32(0xFFFFFFFD))
	buf = append(buf, 'h', 0, 'i', 0, 0, 0)
	s, next, err = ReadFString(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)
	assert.Equal(t, 10, next)
}

func TestFStringTruncated(t *testing.T) {
	t.Parallel()

	buf := binary.LittleEndian.AppendUint32(nil, 10)
	buf = append(buf, "abc"...)
	_, next, err := ReadFString(buf, 0)
	require.ErrorIs(t, err, mochitype.ErrMalformedManifest)
	assert.Equal(t, 0, next)

	buf = binary.LittleEndian.AppendUint32(nil, uint32(0x80000000))
	_, _, err = ReadFString(buf, 0)
	assert.ErrorIs(t, err, mochitype.ErrMalformedManifest)
}

func TestFStrings(t *testing.T) {
	t.Parallel()

	var w Writer
	w.PutFStrings([]string{"one", "", "three"})
	r := NewReader(w.Bytes())
	got, err := r.FStrings("tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "", "three"}, got)
	assert.Equal(t, 0, r.Remaining())

	// A count larger than the buffer could hold fails fast.
	bad := binary.LittleEndian.AppendUint32(nil, 1<<30)
	_, err = NewReader(bad).FStrings("tags")
	assert.ErrorIs(t, err, mochitype.ErrMalformedManifest)
}
