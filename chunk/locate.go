// Package chunk locates, downloads and decodes the content chunks a
// manifest's files are assembled from.
package chunk

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/meigma/mochi/manifest"
)

// ErrNoCloudDir is returned when a manifest has no base URL bound to it.
var ErrNoCloudDir = errors.New("chunk: manifest has no cloud dir")

// Location is a chunk and the URL it is served from.
type Location struct {
	GUID  manifest.GUID
	Hash  uint64
	Group uint8
	URL   string
}

// FileName is the cache file name for a chunk.
func FileName(guid manifest.GUID) string {
	return guid.String() + ".chunk"
}

// Dir returns the chunk directory for a manifest feature level.
func Dir(version uint32) string {
	switch {
	case version >= 15:
		return "ChunksV4"
	case version >= 6:
		return "ChunksV3"
	case version >= 3:
		return "ChunksV2"
	default:
		return "Chunks"
	}
}

// URL builds a chunk URL:
//
//	{cloudDir}/{Dir(version)}/{group:02d}/{hash:016X}_{guid}.chunk[?tokens]
func URL(guid manifest.GUID, hash uint64, group uint8, version uint32, cloudDir string, tokens url.Values) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s/%s/%02d/%016X_%s.chunk",
		strings.TrimSuffix(cloudDir, "/"), Dir(version), group, hash, guid)
	if len(tokens) > 0 {
		sb.WriteByte('?')
		sb.WriteString(tokens.Encode())
	}
	return sb.String()
}

// Locate resolves the URL of one chunk of m. The chunk's explicit data
// group is used when present; otherwise it is derived from the GUID.
func Locate(m *manifest.Manifest, guid manifest.GUID) (Location, error) {
	if m.CloudDir == "" {
		return Location{}, ErrNoCloudDir
	}
	info, ok := m.Chunks[guid]
	if !ok {
		return Location{}, fmt.Errorf("chunk %s: %w", guid, ErrMissingChunk)
	}
	group := info.Group
	if !info.GroupSet {
		group = manifest.GroupFromGUID(guid)
	}
	return Location{
		GUID:  guid,
		Hash:  info.Hash,
		Group: group,
		URL:   URL(guid, info.Hash, group, m.FileVersion, m.CloudDir, m.CDNTokens),
	}, nil
}

// LocateAll resolves every chunk listed in m, once per GUID, in GUID order.
func LocateAll(m *manifest.Manifest) ([]Location, error) {
	guids := make([]manifest.GUID, 0, len(m.Chunks))
	for g := range m.Chunks {
		guids = append(guids, g)
	}
	slices.SortFunc(guids, func(a, b manifest.GUID) int {
		return slices.Compare(a[:], b[:])
	})
	out := make([]Location, 0, len(guids))
	for _, g := range guids {
		loc, err := Locate(m, g)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, nil
}
