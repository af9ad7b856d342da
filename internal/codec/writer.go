package codec

import (
	"encoding/binary"
	"unicode/utf16"
)

// Writer appends encoded primitives to a growing buffer.
type Writer struct {
	buf []byte
}

// Bytes returns the encoded buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// PutU8 appends a byte.
func (w *Writer) PutU8(v uint8) { w.buf = append(w.buf, v) }

// PutU32 appends a little-endian uint32.
func (w *Writer) PutU32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

// PutU64 appends a little-endian uint64.
func (w *Writer) PutU64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// PutI64 appends a little-endian int64.
func (w *Writer) PutI64(v int64) { w.PutU64(uint64(v)) } //nolint:gosec // two's complement

// PutBytes appends raw bytes.
func (w *Writer) PutBytes(b []byte) { w.buf = append(w.buf, b...) }

// PutFString appends s as an FString, choosing the ASCII form when every rune
// is below 0x80 and the UTF-16 form otherwise.
func (w *Writer) PutFString(s string) {
	if s == "" {
		w.PutU32(0)
		return
	}
	for _, c := range s {
		if c >= 0x80 {
			w.PutFStringUTF16(s)
			return
		}
	}
	w.PutU32(uint32(len(s) + 1)) //nolint:gosec // manifest strings are short
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// PutFStringUTF16 appends s in the UTF-16LE FString form.
func (w *Writer) PutFStringUTF16(s string) {
	u := utf16.Encode([]rune(s))
	w.PutU32(uint32(-int32(len(u) + 1))) //nolint:gosec // manifest strings are short
	for _, c := range u {
		w.buf = binary.LittleEndian.AppendUint16(w.buf, c)
	}
	w.buf = append(w.buf, 0, 0)
}

// PutFStrings appends a u32 count and the strings.
func (w *Writer) PutFStrings(ss []string) {
	w.PutU32(uint32(len(ss))) //nolint:gosec // bounded by caller
	for _, s := range ss {
		w.PutFString(s)
	}
}

// PatchU32 overwrites the uint32 at off. It is used to back-fill section
// sizes once their content is known.
func (w *Writer) PatchU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf[off:], v)
}
