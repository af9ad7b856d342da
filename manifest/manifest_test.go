package manifest

import (
	"bytes"
	"encoding/binary"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mochi/internal/codec"
)

var (
	guidA = GUID{0x11111111, 0x22222222, 0x33333333, 0x44444444}
	guidB = GUID{0xAAAAAAAA, 0xBBBBBBBB, 0xCCCCCCCC, 0xDDDDDDDD}
)

func testManifest() *Manifest {
	return &Manifest{
		FileVersion:  18,
		AppID:        1,
		AppName:      "TestApp",
		BuildVersion: "1.0.0-CL-1",
		BuildID:      "build-1",
		LaunchExe:    "Binaries/Win64/Test.exe",
		PrereqIDs:    []string{"vcredist"},
		Files: []FileEntry{
			{
				Filename:    "Content/foo.txt",
				Hash:        [20]byte{1, 2, 3},
				InstallTags: []string{"core"},
				MimeType:    "text/plain",
				ChunkParts: []ChunkPart{
					{GUID: guidA, Offset: 0, Size: 6},
					{GUID: guidB, Offset: 0, Size: 6},
				},
			},
		},
		Chunks: map[GUID]ChunkInfo{
			guidA: {GUID: guidA, Hash: 0x0123456789ABCDEF, Group: 7, GroupSet: true, WindowSize: 1 << 20, FileSize: 100},
			guidB: {GUID: guidB, Hash: 42, Group: 93, GroupSet: true, WindowSize: 1 << 20, FileSize: 200},
		},
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	t.Parallel()

	for _, compress := range []bool{true, false} {
		raw, err := EncodeBinary(testManifest(), WithCompression(compress))
		require.NoError(t, err)

		m, err := DecodeBinary(raw, WithVerifyHash(true))
		require.NoError(t, err)

		want := testManifest()
		assert.Equal(t, want.AppName, m.AppName)
		assert.Equal(t, want.BuildVersion, m.BuildVersion)
		assert.Equal(t, want.BuildID, m.BuildID)
		assert.Equal(t, want.FileVersion, m.FileVersion)
		assert.Equal(t, want.PrereqIDs, m.PrereqIDs)
		assert.Equal(t, want.Chunks, m.Chunks)

		require.Len(t, m.Files, 1)
		f := m.Files[0]
		assert.Equal(t, "Content/foo.txt", f.Filename)
		assert.Equal(t, []string{"core"}, f.InstallTags)
		assert.Equal(t, "text/plain", f.MimeType)
		require.Len(t, f.ChunkParts, 2)
		assert.Equal(t, uint64(0), f.ChunkParts[0].FileOffset)
		assert.Equal(t, uint64(6), f.ChunkParts[1].FileOffset)
		assert.Equal(t, uint64(12), f.Size())
	}
}

// handBuilt writes a payload field by field so the columnar order is checked
// independently of EncodeBinary.
func handBuilt(metaPad, partPad int) []byte {
	var w codec.Writer

	metaStart := w.Len()
	w.PutU32(0)
	w.PutU8(0)  // data version
	w.PutU32(5) // feature level
	w.PutU8(1)  // is file data
	w.PutU32(9) // app id
	w.PutFString("App")
	w.PutFString("2.0")
	w.PutFString("")
	w.PutFString("")
	w.PutU32(0) // prereq ids
	w.PutFString("")
	w.PutFString("")
	w.PutFString("")
	w.PutBytes(make([]byte, metaPad))
	w.PatchU32(metaStart, uint32(w.Len()-metaStart))

	cdlStart := w.Len()
	w.PutU32(0)
	w.PutU8(0)
	w.PutU32(2)
	for _, g := range []GUID{guidA, guidB} {
		for _, word := range g {
			w.PutU32(word)
		}
	}
	w.PutU64(0xA)
	w.PutU64(0xB)
	w.PutBytes(bytes.Repeat([]byte{0xA1}, 20))
	w.PutBytes(bytes.Repeat([]byte{0xB1}, 20))
	w.PutU8(3)
	w.PutU8(4)
	w.PutU32(1)
	w.PutU32(2)
	w.PutI64(10)
	w.PutI64(20)
	w.PatchU32(cdlStart, uint32(w.Len()-cdlStart))

	fmlStart := w.Len()
	w.PutU32(0)
	w.PutU8(0)
	w.PutU32(1)
	w.PutFString("dir\\foo.txt")
	w.PutFString("")
	w.PutBytes(make([]byte, 20))
	w.PutU8(0)
	w.PutU32(0) // install tags
	w.PutU32(2) // parts
	for i, g := range []GUID{guidA, guidB} {
		w.PutU32(uint32(chunkPartRecordSize + partPad))
		for _, word := range g {
			w.PutU32(word)
		}
		w.PutU32(uint32(i))
		w.PutU32(uint32(5 + i))
		w.PutBytes(make([]byte, partPad))
	}
	w.PatchU32(fmlStart, uint32(w.Len()-fmlStart))

	var out codec.Writer
	out.PutU32(ContainerMagic)
	out.PutU32(ContainerHeaderSize)
	out.PutU32(uint32(w.Len()))
	out.PutU32(uint32(w.Len()))
	out.PutBytes(make([]byte, 20))
	out.PutU8(0)
	out.PutU32(5)
	out.PutBytes(w.Bytes())
	return out.Bytes()
}

func TestDecodeBinaryColumnar(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		metaPad int
		partPad int
	}{
		{"exact sizes", 0, 0},
		{"trailing meta fields", 12, 0},
		{"larger chunk part records", 0, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := DecodeBinary(handBuilt(tt.metaPad, tt.partPad))
			require.NoError(t, err)

			assert.Equal(t, uint32(5), m.FileVersion)
			assert.Equal(t, uint32(9), m.AppID)
			assert.True(t, m.IsFileData)
			assert.Equal(t, "App", m.AppName)

			a := m.Chunks[guidA]
			b := m.Chunks[guidB]
			assert.Equal(t, uint64(0xA), a.Hash)
			assert.Equal(t, uint64(0xB), b.Hash)
			assert.Equal(t, byte(0xA1), a.SHA1[0])
			assert.Equal(t, byte(0xB1), b.SHA1[19])
			assert.Equal(t, uint8(3), a.Group)
			assert.Equal(t, uint8(4), b.Group)
			assert.Equal(t, uint32(2), b.WindowSize)
			assert.Equal(t, int64(20), b.FileSize)

			require.Len(t, m.Files, 1)
			f := m.Files[0]
			assert.Equal(t, "dir/foo.txt", f.Path())
			assert.Equal(t, []ChunkPart{
				{GUID: guidA, Offset: 0, Size: 5, FileOffset: 0},
				{GUID: guidB, Offset: 1, Size: 6, FileOffset: 5},
			}, f.ChunkParts)
		})
	}
}

func TestDecodeBinaryTruncated(t *testing.T) {
	t.Parallel()

	raw := handBuilt(0, 0)
	for n := range len(raw) {
		m, err := DecodeBinary(raw[:n])
		require.ErrorIs(t, err, ErrMalformedManifest, "prefix %d", n)
		assert.Nil(t, m)
	}
}

func TestDecodeBinaryMissingMagic(t *testing.T) {
	t.Parallel()

	raw, err := EncodeBinary(testManifest(), WithoutMagic())
	require.NoError(t, err)
	m, err := DecodeBinary(raw)
	require.NoError(t, err)
	assert.Equal(t, "TestApp", m.AppName)
}

func TestDecodeBinaryCorrupt(t *testing.T) {
	t.Parallel()

	raw, err := EncodeBinary(testManifest())
	require.NoError(t, err)

	t.Run("bad zlib stream", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(raw)
		copy(bad[ContainerHeaderSize:], []byte{0, 0, 0, 0})
		_, err := DecodeBinary(bad)
		assert.ErrorIs(t, err, ErrMalformedManifest)
	})

	t.Run("sha1 mismatch only when verifying", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(raw)
		bad[16] ^= 0xFF
		_, err := DecodeBinary(bad)
		require.NoError(t, err)
		_, err = DecodeBinary(bad, WithVerifyHash(true))
		assert.ErrorIs(t, err, ErrHashMismatch)
	})

	t.Run("declared size smaller than stream", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(raw)
		size := binary.LittleEndian.Uint32(bad[8:])
		binary.LittleEndian.PutUint32(bad[8:], size-1)
		_, err := DecodeBinary(bad)
		assert.ErrorIs(t, err, ErrMalformedManifest)
	})

	t.Run("encrypted payload", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(raw)
		bad[36] = StoredEncrypted
		_, err := DecodeBinary(bad)
		assert.ErrorIs(t, err, ErrMalformedManifest)
	})
}

func TestReadContainer(t *testing.T) {
	t.Parallel()

	raw, err := EncodeBinary(testManifest(), WithCompression(false))
	require.NoError(t, err)
	c, payload, err := ReadContainer(raw)
	require.NoError(t, err)
	assert.Equal(t, ContainerMagic, c.Magic)
	assert.False(t, c.Compressed())
	assert.Equal(t, uint32(18), c.Version)
	assert.Len(t, payload, int(c.SizeUncompressed))
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	in := testManifest()
	in.CloudDir = "https://cdn.example.com/Builds/Org/App/CloudDir"
	in.CDNTokens = url.Values{"f_token": {"abc"}}
	in.CustomFields = map[string]string{"Key": "Value"}

	data, err := in.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ManifestFileVersion":"018000000000"`)
	assert.Contains(t, string(data), `"Offset":"000000000000"`)
	assert.Contains(t, string(data), `"Size":"006000000000"`)
	assert.Contains(t, string(data), `"`+guidA.String()+`":"007"`)

	out, err := DecodeJSON(data)
	require.NoError(t, err)
	in.layout()
	// Window sizes are not part of the JSON representation.
	for g, c := range in.Chunks {
		c.WindowSize = 0
		in.Chunks[g] = c
	}
	assert.Equal(t, in.Chunks, out.Chunks)
	assert.Equal(t, in.Files[0].ChunkParts, out.Files[0].ChunkParts)
	assert.Equal(t, in.Files[0].Hash, out.Files[0].Hash)
	assert.Equal(t, in.CloudDir, out.CloudDir)
	assert.Equal(t, "abc", out.CDNTokens.Get("f_token"))
	assert.Equal(t, in.CustomFields, out.CustomFields)
	assert.Equal(t, in.FileVersion, out.FileVersion)
}

func TestDecodeJSONNumericFields(t *testing.T) {
	t.Parallel()

	doc := `{
		"ManifestFileVersion": "013000000000",
		"AppID": 123,
		"AppNameString": "Legacy",
		"BuildVersionString": "1",
		"FileManifestList": [{
			"Filename": "a.bin",
			"FileHash": "",
			"FileChunkParts": [{"Guid": "` + guidA.String() + `", "Offset": "004000000000", "Size": "002000000000"}]
		}],
		"ChunkHashList": {"` + guidA.String() + `": "001000000000000000000000"},
		"DataGroupList": {}
	}`
	m, err := DecodeJSON([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, uint32(13), m.FileVersion)
	assert.Equal(t, uint32(123), m.AppID)
	assert.False(t, m.Chunks[guidA].GroupSet)
	assert.Equal(t, uint64(1), m.Chunks[guidA].Hash)
	assert.Equal(t, ChunkPart{GUID: guidA, Offset: 4, Size: 2}, m.Files[0].ChunkParts[0])
}

func TestDecodeJSONMalformed(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{
		`{"ManifestFileVersion": "01"}`,
		`{"ChunkHashList": {"nothex": "000"}}`,
		`{not json`,
	} {
		_, err := DecodeJSON([]byte(doc))
		assert.ErrorIs(t, err, ErrMalformedManifest, doc)
	}
}

func TestSniff(t *testing.T) {
	t.Parallel()

	bin, err := EncodeBinary(testManifest())
	require.NoError(t, err)
	noMagic, err := EncodeBinary(testManifest(), WithoutMagic())
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want Kind
	}{
		{"binary", bin, KindBinary},
		{"binary without magic", noMagic, KindBinary},
		{"json", []byte(`{"AppNameString":"x"}`), KindJSON},
		{"json with whitespace", []byte("\n\t {}"), KindJSON},
		{"empty", nil, KindBinary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Sniff(tt.data, "test").Kind)
		})
	}
}

func TestDecodeNamesOrigin(t *testing.T) {
	t.Parallel()

	_, err := Decode(Sniff([]byte{1, 2, 3}, "https://cdn.example.com/m.manifest"))
	require.ErrorIs(t, err, ErrMalformedManifest)
	assert.Contains(t, err.Error(), "https://cdn.example.com/m.manifest")
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path, data, err := Save(dir, testManifest())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "TestApp1.0.0-CL-1.manifest"), path)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "TestApp", m.AppName)
	assert.Len(t, m.Chunks, 2)

	_, err = Load(filepath.Join(dir, "missing.manifest"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGUID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "11111111222222223333333344444444", guidA.String())
	g, err := ParseGUID("aaaaaaaa-bbbbbbbb-cccccccc-dddddddd")
	require.NoError(t, err)
	assert.Equal(t, guidB, g)

	_, err = ParseGUID("short")
	assert.ErrorIs(t, err, ErrMalformedManifest)

	assert.Equal(t, []byte{0x11, 0x11, 0x11, 0x11, 0x22, 0x22, 0x22, 0x22,
		0x33, 0x33, 0x33, 0x33, 0x44, 0x44, 0x44, 0x44}, guidA.Bytes())
	assert.Less(t, GroupFromGUID(guidA), uint8(100))
	assert.Less(t, GroupFromGUID(guidB), uint8(100))
}

func TestChunkGUIDs(t *testing.T) {
	t.Parallel()

	m := testManifest()
	m.Files = append(m.Files, FileEntry{
		Filename:   "b",
		ChunkParts: []ChunkPart{{GUID: guidB, Size: 1}, {GUID: guidA, Size: 1}},
	})
	assert.Equal(t, []GUID{guidA, guidB}, m.ChunkGUIDs())
	assert.Equal(t, uint64(14), m.TotalSize())
}
