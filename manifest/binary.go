package manifest

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // the format specifies SHA-1
	"fmt"

	"github.com/meigma/mochi/internal/codec"
	"github.com/meigma/mochi/internal/inflate"
)

// Container constants.
const (
	// ContainerMagic opens a binary manifest. Some sources omit it, so a
	// mismatch is tolerated.
	ContainerMagic uint32 = 0x44BEC00C

	// ContainerHeaderSize is the size of the fixed container header.
	ContainerHeaderSize = 41

	// StoredCompressed marks a zlib-compressed payload.
	StoredCompressed uint8 = 0x01

	// StoredEncrypted marks an encrypted payload, which is not supported.
	StoredEncrypted uint8 = 0x02
)

// Container is the fixed header of a binary manifest.
type Container struct {
	Magic            uint32
	HeaderSize       uint32
	SizeUncompressed uint32
	SizeCompressed   uint32
	SHA1             [20]byte
	StoredAs         uint8
	Version          uint32
}

// Compressed reports whether the payload is zlib-compressed.
func (c Container) Compressed() bool {
	return c.StoredAs&StoredCompressed != 0
}

var inflatePool = inflate.NewPool()

// DecodeOption configures binary decoding.
type DecodeOption func(*decodeState)

// WithVerifyHash checks the container SHA-1 against the decompressed payload.
// Verification is off by default.
func WithVerifyHash(enabled bool) DecodeOption {
	return func(s *decodeState) {
		s.verify = enabled
	}
}

// decodeState is threaded through the ordered decode steps. Each step reads
// from payload at cursor and fills one table.
type decodeState struct {
	verify bool

	raw       []byte
	container Container
	payload   []byte
	r         *codec.Reader

	meta metaTable
	cdl  chunkDataList
	fml  fileManifestList

	out *Manifest
}

type metaTable struct {
	size         uint32
	dataVersion  uint8
	featureLevel uint32
	isFileData   bool
	appID        uint32

	appName, buildVersion, launchExe, launchCommand string
	prereqIDs                                       []string
	prereqName, prereqPath, prereqArgs              string
	buildID                                         string
	uninstallPath, uninstallArgs                    string
}

type chunkDataList struct {
	size    uint32
	version uint8
	rows    []ChunkInfo
}

type fileManifestList struct {
	size    uint32
	version uint8
	rows    []FileEntry
}

type decodeStep struct {
	name string
	run  func(*decodeState) error
}

// binarySteps is the fixed decode sequence. The tables are columnar, so
// the order of reads inside each step is part of the wire format.
var binarySteps = []decodeStep{
	{"container", (*decodeState).readContainer},
	{"payload", (*decodeState).readPayload},
	{"meta", (*decodeState).readMeta},
	{"chunk data list", (*decodeState).readChunkDataList},
	{"file manifest list", (*decodeState).readFileManifestList},
	{"projection", (*decodeState).project},
}

// DecodeBinary decodes a binary manifest container.
//
// Any truncated read fails the whole decode and no partial manifest is
// returned. Errors wrap ErrMalformedManifest.
func DecodeBinary(raw []byte, opts ...DecodeOption) (*Manifest, error) {
	s := &decodeState{raw: raw}
	for _, opt := range opts {
		opt(s)
	}
	for _, step := range binarySteps {
		if err := step.run(s); err != nil {
			return nil, fmt.Errorf("manifest: %s: %w", step.name, err)
		}
	}
	return s.out, nil
}

// ReadContainer decodes only the container header and returns the raw,
// still possibly compressed, payload that follows it.
func ReadContainer(raw []byte) (Container, []byte, error) {
	s := &decodeState{raw: raw}
	if err := s.readContainer(); err != nil {
		return Container{}, nil, fmt.Errorf("manifest: container: %w", err)
	}
	return s.container, s.payload, nil
}

func (s *decodeState) readContainer() error {
	r := codec.NewReader(s.raw)
	c := &s.container
	var err error
	if c.Magic, err = r.U32("header magic"); err != nil {
		return err
	}
	if c.HeaderSize, err = r.U32("header size"); err != nil {
		return err
	}
	if c.SizeUncompressed, err = r.U32("uncompressed size"); err != nil {
		return err
	}
	if c.SizeCompressed, err = r.U32("compressed size"); err != nil {
		return err
	}
	if err = r.Fixed("header sha1", c.SHA1[:]); err != nil {
		return err
	}
	if c.StoredAs, err = r.U8("stored as"); err != nil {
		return err
	}
	if c.Version, err = r.U32("version"); err != nil {
		return err
	}

	// Newer headers may be longer than the fields read above. Honour the
	// declared size when it is plausible.
	start := uint64(r.Offset())
	if c.Magic == ContainerMagic && c.HeaderSize > ContainerHeaderSize && uint64(c.HeaderSize) <= uint64(r.Len()) {
		start = uint64(c.HeaderSize)
	}
	if err := r.Seek("payload", start); err != nil {
		return err
	}
	s.payload = s.raw[r.Offset():]
	return nil
}

func (s *decodeState) readPayload() error {
	c := s.container
	if c.StoredAs&StoredEncrypted != 0 {
		return fmt.Errorf("%w: encrypted payload", ErrMalformedManifest)
	}
	if c.Compressed() {
		src := s.payload
		if c.SizeCompressed > 0 && uint64(c.SizeCompressed) < uint64(len(src)) {
			src = src[:c.SizeCompressed]
		}
		out, err := inflatePool.Bytes(src, uint64(c.SizeUncompressed))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedManifest, err)
		}
		s.payload = out
	}
	if s.verify {
		sum := sha1.Sum(s.payload) //nolint:gosec // the format specifies SHA-1
		if !bytes.Equal(sum[:], c.SHA1[:]) {
			return fmt.Errorf("%w: container sha1 %x, payload %x", ErrHashMismatch, c.SHA1, sum)
		}
	}
	s.r = codec.NewReader(s.payload)
	return nil
}

func (s *decodeState) readMeta() error {
	r := s.r
	m := &s.meta
	start := uint64(r.Offset())
	var err error
	if m.size, err = r.U32("meta size"); err != nil {
		return err
	}
	if m.dataVersion, err = r.U8("meta data version"); err != nil {
		return err
	}
	if m.featureLevel, err = r.U32("feature level"); err != nil {
		return err
	}
	isFileData, err := r.U8("is file data")
	if err != nil {
		return err
	}
	m.isFileData = isFileData == 1
	if m.appID, err = r.U32("app id"); err != nil {
		return err
	}

	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"app name", &m.appName},
		{"build version", &m.buildVersion},
		{"launch exe", &m.launchExe},
		{"launch command", &m.launchCommand},
	} {
		if *f.dst, err = r.FString(f.name); err != nil {
			return err
		}
	}
	if m.prereqIDs, err = r.FStrings("prereq ids"); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"prereq name", &m.prereqName},
		{"prereq path", &m.prereqPath},
		{"prereq args", &m.prereqArgs},
	} {
		if *f.dst, err = r.FString(f.name); err != nil {
			return err
		}
	}
	if m.dataVersion >= 1 {
		if m.buildID, err = r.FString("build id"); err != nil {
			return err
		}
	}
	if m.dataVersion >= 2 {
		if m.uninstallPath, err = r.FString("uninstall action path"); err != nil {
			return err
		}
		if m.uninstallArgs, err = r.FString("uninstall action args"); err != nil {
			return err
		}
	}
	return r.Seek("meta end", start+uint64(m.size))
}

func (s *decodeState) readChunkDataList() error {
	r := s.r
	l := &s.cdl
	start := uint64(r.Offset())
	var err error
	if l.size, err = r.U32("cdl size"); err != nil {
		return err
	}
	if l.version, err = r.U8("cdl version"); err != nil {
		return err
	}
	count, err := r.U32("cdl count")
	if err != nil {
		return err
	}
	// Every row occupies at least 57 bytes across the columns.
	if uint64(count)*57 > uint64(r.Remaining()) {
		return fmt.Errorf("%w: chunk count %d exceeds buffer", ErrMalformedManifest, count)
	}
	rows := make([]ChunkInfo, count)

	for i := range rows {
		for w := range rows[i].GUID {
			if rows[i].GUID[w], err = r.U32("chunk guid"); err != nil {
				return err
			}
		}
	}
	for i := range rows {
		if rows[i].Hash, err = r.U64("chunk hash"); err != nil {
			return err
		}
	}
	for i := range rows {
		if err = r.Fixed("chunk sha1", rows[i].SHA1[:]); err != nil {
			return err
		}
	}
	for i := range rows {
		if rows[i].Group, err = r.U8("chunk group"); err != nil {
			return err
		}
		rows[i].GroupSet = true
	}
	for i := range rows {
		if rows[i].WindowSize, err = r.U32("chunk window size"); err != nil {
			return err
		}
	}
	for i := range rows {
		if rows[i].FileSize, err = r.I64("chunk file size"); err != nil {
			return err
		}
	}
	l.rows = rows
	return r.Seek("cdl end", start+uint64(l.size))
}

// chunkPartRecordSize is the size of a chunk part record as written by
// current producers: struct size, GUID, offset and size.
const chunkPartRecordSize = 28

func (s *decodeState) readFileManifestList() error {
	r := s.r
	l := &s.fml
	start := uint64(r.Offset())
	var err error
	if l.size, err = r.U32("fml size"); err != nil {
		return err
	}
	if l.version, err = r.U8("fml version"); err != nil {
		return err
	}
	count, err := r.U32("fml count")
	if err != nil {
		return err
	}
	// Filename, symlink, hash, flags, tag count and part count.
	if uint64(count)*37 > uint64(r.Remaining()) {
		return fmt.Errorf("%w: file count %d exceeds buffer", ErrMalformedManifest, count)
	}
	rows := make([]FileEntry, count)

	for i := range rows {
		if rows[i].Filename, err = r.FString("filename"); err != nil {
			return err
		}
	}
	for i := range rows {
		if rows[i].SymlinkTarget, err = r.FString("symlink target"); err != nil {
			return err
		}
	}
	for i := range rows {
		if err = r.Fixed("file hash", rows[i].Hash[:]); err != nil {
			return err
		}
	}
	for i := range rows {
		if rows[i].Flags, err = r.U8("file flags"); err != nil {
			return err
		}
	}
	for i := range rows {
		if rows[i].InstallTags, err = r.FStrings("install tags"); err != nil {
			return err
		}
	}
	for i := range rows {
		if rows[i].ChunkParts, err = readChunkParts(r); err != nil {
			return err
		}
	}
	if l.version >= 1 {
		for i := range rows {
			hasMD5, err := r.U32("has md5")
			if err != nil {
				return err
			}
			if hasMD5 != 0 {
				rows[i].MD5 = make([]byte, 16)
				if err := r.Fixed("file md5", rows[i].MD5); err != nil {
					return err
				}
			}
		}
		for i := range rows {
			if rows[i].MimeType, err = r.FString("mime type"); err != nil {
				return err
			}
		}
	}
	if l.version >= 2 {
		for i := range rows {
			var sum [32]byte
			if err := r.Fixed("file sha256", sum[:]); err != nil {
				return err
			}
			// Producers write zeros when the digest was not computed.
			if sum != ([32]byte{}) {
				rows[i].SHA256 = sum[:]
			}
		}
	}
	l.rows = rows
	return r.Seek("fml end", start+uint64(l.size))
}

// readChunkParts reads one file's count-prefixed list of part records.
func readChunkParts(r *codec.Reader) ([]ChunkPart, error) {
	n, err := r.U32("chunk part count")
	if err != nil {
		return nil, err
	}
	if uint64(n)*chunkPartRecordSize > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: chunk part count %d exceeds buffer", ErrMalformedManifest, n)
	}
	parts := make([]ChunkPart, n)
	for i := range parts {
		recordStart := uint64(r.Offset())
		structSize, err := r.U32("chunk part struct size")
		if err != nil {
			return nil, err
		}
		for w := range parts[i].GUID {
			if parts[i].GUID[w], err = r.U32("chunk part guid"); err != nil {
				return nil, err
			}
		}
		if parts[i].Offset, err = r.U32("chunk part offset"); err != nil {
			return nil, err
		}
		if parts[i].Size, err = r.U32("chunk part size"); err != nil {
			return nil, err
		}
		if structSize > chunkPartRecordSize {
			if err := r.Seek("chunk part end", recordStart+uint64(structSize)); err != nil {
				return nil, err
			}
		}
	}
	return parts, nil
}

func (s *decodeState) project() error {
	meta := s.meta
	m := &Manifest{
		FileVersion:         meta.featureLevel,
		AppID:               meta.appID,
		AppName:             meta.appName,
		BuildVersion:        meta.buildVersion,
		BuildID:             meta.buildID,
		IsFileData:          meta.isFileData,
		LaunchExe:           meta.launchExe,
		LaunchCommand:       meta.launchCommand,
		PrereqIDs:           meta.prereqIDs,
		PrereqName:          meta.prereqName,
		PrereqPath:          meta.prereqPath,
		PrereqArgs:          meta.prereqArgs,
		UninstallActionPath: meta.uninstallPath,
		UninstallActionArgs: meta.uninstallArgs,
		Files:               s.fml.rows,
		Chunks:              make(map[GUID]ChunkInfo, len(s.cdl.rows)),
	}
	for _, c := range s.cdl.rows {
		m.Chunks[c.GUID] = c
	}
	m.layout()
	s.out = m
	return nil
}
