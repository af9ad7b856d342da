// Package manifest decodes build manifests in both the binary container
// format and the legacy JSON representation, and models the file to chunk
// mapping they describe.
//
// A manifest lists every output file of a build as an ordered sequence of
// chunk parts. Each part copies a byte range out of a decompressed chunk
// payload; the parts of one file tile it contiguously, so a part's position
// in the output file is the sum of the sizes of the parts before it.
package manifest

import (
	"net/url"
	"slices"
	"strings"
)

// Manifest is the normalized description of one build of one app.
type Manifest struct {
	// FileVersion is the feature level. It selects the chunk directory
	// scheme used to build chunk URLs.
	FileVersion uint32

	AppID        uint32
	AppName      string
	BuildVersion string
	BuildID      string
	IsFileData   bool

	LaunchExe     string
	LaunchCommand string

	PrereqIDs  []string
	PrereqName string
	PrereqPath string
	PrereqArgs string

	UninstallActionPath string
	UninstallActionArgs string

	// Files is the file manifest list in manifest order.
	Files []FileEntry

	// Chunks is the chunk data list keyed by GUID.
	Chunks map[GUID]ChunkInfo

	// CustomFields carries free-form key/value pairs from JSON manifests.
	CustomFields map[string]string

	// CloudDir is the base URL chunk paths are resolved against. It is
	// bound when the manifest is fetched and is not part of either format.
	CloudDir string

	// CDNTokens holds signed-URL query parameters appended to chunk URLs.
	CDNTokens url.Values
}

// ChunkInfo is one row of the chunk data list.
type ChunkInfo struct {
	GUID GUID

	// Hash is the 64-bit rolling hash used in the chunk's remote path.
	Hash uint64

	SHA1 [20]byte

	// Group is the data group bucket (0-99). GroupSet is false when the
	// source did not carry an explicit group and one must be derived.
	Group    uint8
	GroupSet bool

	WindowSize uint32

	// FileSize is the size of the chunk file as stored remotely.
	FileSize int64
}

// FileEntry describes one output file.
type FileEntry struct {
	Filename      string
	SymlinkTarget string
	Hash          [20]byte
	Flags         uint8
	InstallTags   []string
	ChunkParts    []ChunkPart

	MD5      []byte
	MimeType string
	SHA256   []byte
}

// ChunkPart is a byte range of a decompressed chunk payload.
type ChunkPart struct {
	GUID   GUID
	Offset uint32
	Size   uint32

	// FileOffset is the position of the part in the output file. It is
	// derived from the sizes of the preceding parts and never read from the
	// wire.
	FileOffset uint64
}

// Size returns the total size of the file, the sum of its part sizes.
func (f *FileEntry) Size() uint64 {
	var n uint64
	for _, p := range f.ChunkParts {
		n += uint64(p.Size)
	}
	return n
}

// Layout recomputes FileOffset for every part and returns the parts.
func (f *FileEntry) Layout() []ChunkPart {
	var off uint64
	for i := range f.ChunkParts {
		f.ChunkParts[i].FileOffset = off
		off += uint64(f.ChunkParts[i].Size)
	}
	return f.ChunkParts
}

// Path returns the filename with forward slashes.
func (f *FileEntry) Path() string {
	return strings.ReplaceAll(f.Filename, "\\", "/")
}

// ChunkGUIDs returns the distinct chunk GUIDs referenced by any file, in
// sorted order.
func (m *Manifest) ChunkGUIDs() []GUID {
	seen := make(map[GUID]struct{})
	for i := range m.Files {
		for _, p := range m.Files[i].ChunkParts {
			seen[p.GUID] = struct{}{}
		}
	}
	out := make([]GUID, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b GUID) int {
		return slices.Compare(a[:], b[:])
	})
	return out
}

// TotalSize returns the sum of all file sizes.
func (m *Manifest) TotalSize() uint64 {
	var n uint64
	for i := range m.Files {
		n += m.Files[i].Size()
	}
	return n
}

// CacheName returns the file name used for the local manifest cache.
func (m *Manifest) CacheName() string {
	return m.AppName + m.BuildVersion + ".manifest"
}

func sortedChunkGUIDs(m *Manifest) []GUID {
	out := make([]GUID, 0, len(m.Chunks))
	for g := range m.Chunks {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b GUID) int {
		return slices.Compare(a[:], b[:])
	})
	return out
}

func (m *Manifest) layout() {
	for i := range m.Files {
		m.Files[i].Layout()
	}
}
