package manifest

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // the format specifies SHA-1
	"fmt"
	"math"

	"github.com/klauspost/compress/zlib"

	"github.com/meigma/mochi/internal/codec"
)

// Versions written by EncodeBinary.
const (
	encodeMetaVersion = 2
	encodeCDLVersion  = 0
	encodeFMLVersion  = 2
)

type encodeConfig struct {
	compress bool
	magic    bool
}

// EncodeOption configures binary encoding.
type EncodeOption func(*encodeConfig)

// WithCompression zlib-compresses the payload. Enabled by default.
func WithCompression(enabled bool) EncodeOption {
	return func(c *encodeConfig) {
		c.compress = enabled
	}
}

// WithoutMagic writes a zero magic, as some manifest sources do.
func WithoutMagic() EncodeOption {
	return func(c *encodeConfig) {
		c.magic = false
	}
}

// EncodeBinary serializes m into the binary container format. Chunks are
// written in GUID order so output is deterministic.
func EncodeBinary(m *Manifest, opts ...EncodeOption) ([]byte, error) {
	cfg := encodeConfig{compress: true, magic: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	var body codec.Writer
	encodeMeta(&body, m)
	encodeChunkDataList(&body, m)
	if err := encodeFileManifestList(&body, m); err != nil {
		return nil, err
	}
	payload := body.Bytes()
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("manifest: encode: payload of %d bytes: %w", len(payload), ErrMalformedManifest)
	}

	sum := sha1.Sum(payload) //nolint:gosec // the format specifies SHA-1
	stored := payload
	var storedAs uint8
	if cfg.compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("manifest: encode: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("manifest: encode: %w", err)
		}
		stored = buf.Bytes()
		storedAs = StoredCompressed
	}

	var out codec.Writer
	if cfg.magic {
		out.PutU32(ContainerMagic)
	} else {
		out.PutU32(0)
	}
	out.PutU32(ContainerHeaderSize)
	out.PutU32(uint32(len(payload))) //nolint:gosec // checked above
	out.PutU32(uint32(len(stored)))  //nolint:gosec // compressed is never much larger
	out.PutBytes(sum[:])
	out.PutU8(storedAs)
	out.PutU32(m.FileVersion)
	out.PutBytes(stored)
	return out.Bytes(), nil
}

func encodeMeta(w *codec.Writer, m *Manifest) {
	start := w.Len()
	w.PutU32(0)
	w.PutU8(encodeMetaVersion)
	w.PutU32(m.FileVersion)
	if m.IsFileData {
		w.PutU8(1)
	} else {
		w.PutU8(0)
	}
	w.PutU32(m.AppID)
	w.PutFString(m.AppName)
	w.PutFString(m.BuildVersion)
	w.PutFString(m.LaunchExe)
	w.PutFString(m.LaunchCommand)
	w.PutFStrings(m.PrereqIDs)
	w.PutFString(m.PrereqName)
	w.PutFString(m.PrereqPath)
	w.PutFString(m.PrereqArgs)
	w.PutFString(m.BuildID)
	w.PutFString(m.UninstallActionPath)
	w.PutFString(m.UninstallActionArgs)
	w.PatchU32(start, uint32(w.Len()-start)) //nolint:gosec // bounded by payload check
}

func encodeChunkDataList(w *codec.Writer, m *Manifest) {
	guids := sortedChunkGUIDs(m)
	start := w.Len()
	w.PutU32(0)
	w.PutU8(encodeCDLVersion)
	w.PutU32(uint32(len(guids))) //nolint:gosec // bounded by payload check
	for _, g := range guids {
		for _, word := range g {
			w.PutU32(word)
		}
	}
	for _, g := range guids {
		w.PutU64(m.Chunks[g].Hash)
	}
	for _, g := range guids {
		sha := m.Chunks[g].SHA1
		w.PutBytes(sha[:])
	}
	for _, g := range guids {
		c := m.Chunks[g]
		if c.GroupSet {
			w.PutU8(c.Group)
		} else {
			w.PutU8(GroupFromGUID(g))
		}
	}
	for _, g := range guids {
		w.PutU32(m.Chunks[g].WindowSize)
	}
	for _, g := range guids {
		w.PutI64(m.Chunks[g].FileSize)
	}
	w.PatchU32(start, uint32(w.Len()-start)) //nolint:gosec // bounded by payload check
}

func encodeFileManifestList(w *codec.Writer, m *Manifest) error {
	start := w.Len()
	w.PutU32(0)
	w.PutU8(encodeFMLVersion)
	w.PutU32(uint32(len(m.Files))) //nolint:gosec // bounded by payload check
	for i := range m.Files {
		w.PutFString(m.Files[i].Filename)
	}
	for i := range m.Files {
		w.PutFString(m.Files[i].SymlinkTarget)
	}
	for i := range m.Files {
		w.PutBytes(m.Files[i].Hash[:])
	}
	for i := range m.Files {
		w.PutU8(m.Files[i].Flags)
	}
	for i := range m.Files {
		w.PutFStrings(m.Files[i].InstallTags)
	}
	for i := range m.Files {
		parts := m.Files[i].ChunkParts
		w.PutU32(uint32(len(parts))) //nolint:gosec // bounded by payload check
		for _, p := range parts {
			w.PutU32(chunkPartRecordSize)
			for _, word := range p.GUID {
				w.PutU32(word)
			}
			w.PutU32(p.Offset)
			w.PutU32(p.Size)
		}
	}
	for i := range m.Files {
		switch len(m.Files[i].MD5) {
		case 0:
			w.PutU32(0)
		case 16:
			w.PutU32(1)
			w.PutBytes(m.Files[i].MD5)
		default:
			return fmt.Errorf("manifest: encode %s: md5 must be 16 bytes: %w", m.Files[i].Filename, ErrMalformedManifest)
		}
	}
	for i := range m.Files {
		w.PutFString(m.Files[i].MimeType)
	}
	for i := range m.Files {
		switch len(m.Files[i].SHA256) {
		case 0:
			w.PutBytes(make([]byte, 32))
		case 32:
			w.PutBytes(m.Files[i].SHA256)
		default:
			return fmt.Errorf("manifest: encode %s: sha256 must be 32 bytes: %w", m.Files[i].Filename, ErrMalformedManifest)
		}
	}
	w.PatchU32(start, uint32(w.Len()-start)) //nolint:gosec // bounded by payload check
	return nil
}
