package manifest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/meigma/mochi/internal/codec"
)

// Blob widths used by the legacy JSON representation.
const (
	blobGroupsU32  = 4
	blobGroupsU64  = 8
	blobGroupsByte = 1
)

// legacyManifest is the JSON shape of a legacy manifest. Numeric fields are
// blob strings; GUID keyed maps use the 32-digit GUID form.
type legacyManifest struct {
	ManifestFileVersion blobNumber        `json:"ManifestFileVersion"`
	IsFileData          bool              `json:"bIsFileData"`
	AppID               blobNumber        `json:"AppID"`
	AppNameString       string            `json:"AppNameString"`
	BuildVersionString  string            `json:"BuildVersionString"`
	BuildID             string            `json:"BuildId,omitempty"`
	LaunchExeString     string            `json:"LaunchExeString"`
	LaunchCommand       string            `json:"LaunchCommand"`
	PrereqIDs           []string          `json:"PrereqIds"`
	PrereqName          string            `json:"PrereqName"`
	PrereqPath          string            `json:"PrereqPath"`
	PrereqArgs          string            `json:"PrereqArgs"`
	UninstallActionPath string            `json:"UninstallActionPath,omitempty"`
	UninstallActionArgs string            `json:"UninstallActionArgs,omitempty"`
	FileManifestList    []legacyFile      `json:"FileManifestList"`
	ChunkHashList       map[string]string `json:"ChunkHashList"`
	ChunkShaList        map[string]string `json:"ChunkShaList,omitempty"`
	DataGroupList       map[string]string `json:"DataGroupList"`
	ChunkFilesizeList   map[string]string `json:"ChunkFilesizeList,omitempty"`
	CustomFields        map[string]string `json:"CustomFields,omitempty"`
	CloudDir            string            `json:"CloudDir,omitempty"`
	CDNTokens           map[string]string `json:"CDNTokens,omitempty"`
}

type legacyFile struct {
	Filename       string            `json:"Filename"`
	FileHash       string            `json:"FileHash"`
	SymlinkTarget  string            `json:"SymlinkTarget,omitempty"`
	InstallTags    []string          `json:"InstallTags,omitempty"`
	FileChunkParts []legacyChunkPart `json:"FileChunkParts"`
}

type legacyChunkPart struct {
	GUID   string     `json:"Guid"`
	Offset blobNumber `json:"Offset"`
	Size   blobNumber `json:"Size"`
}

// blobNumber is a number carried as a blob string. Some producers write a
// plain JSON number instead, which is accepted on input.
type blobNumber struct {
	v      uint64
	groups int
}

func (b blobNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(codec.NumToBlob(b.v, b.groups))
}

func (b *blobNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '"' {
		v, err := strconv.ParseUint(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: number %s", ErrMalformedManifest, data)
		}
		b.v = v
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := codec.BlobToNum(s)
	if err != nil {
		return err
	}
	b.v = v
	b.groups = len(s) / 3
	return nil
}

// MarshalJSON encodes m in the legacy JSON representation.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	lm := legacyManifest{
		ManifestFileVersion: blobNumber{v: uint64(m.FileVersion), groups: blobGroupsU32},
		IsFileData:          m.IsFileData,
		AppID:               blobNumber{v: uint64(m.AppID), groups: blobGroupsU32},
		AppNameString:       m.AppName,
		BuildVersionString:  m.BuildVersion,
		BuildID:             m.BuildID,
		LaunchExeString:     m.LaunchExe,
		LaunchCommand:       m.LaunchCommand,
		PrereqIDs:           m.PrereqIDs,
		PrereqName:          m.PrereqName,
		PrereqPath:          m.PrereqPath,
		PrereqArgs:          m.PrereqArgs,
		UninstallActionPath: m.UninstallActionPath,
		UninstallActionArgs: m.UninstallActionArgs,
		FileManifestList:    make([]legacyFile, 0, len(m.Files)),
		ChunkHashList:       make(map[string]string, len(m.Chunks)),
		ChunkShaList:        make(map[string]string, len(m.Chunks)),
		DataGroupList:       make(map[string]string, len(m.Chunks)),
		ChunkFilesizeList:   make(map[string]string, len(m.Chunks)),
		CustomFields:        m.CustomFields,
		CloudDir:            m.CloudDir,
	}
	if lm.PrereqIDs == nil {
		lm.PrereqIDs = []string{}
	}
	for g, c := range m.Chunks {
		key := g.String()
		group := c.Group
		if !c.GroupSet {
			group = GroupFromGUID(g)
		}
		lm.ChunkHashList[key] = codec.NumToBlob(c.Hash, blobGroupsU64)
		lm.ChunkShaList[key] = hex.EncodeToString(c.SHA1[:])
		lm.DataGroupList[key] = codec.NumToBlob(uint64(group), blobGroupsByte)
		lm.ChunkFilesizeList[key] = codec.NumToBlob(uint64(c.FileSize), blobGroupsU64) //nolint:gosec // two's complement
	}
	for i := range m.Files {
		f := &m.Files[i]
		lf := legacyFile{
			Filename:       f.Filename,
			FileHash:       codec.BytesToBlob(f.Hash[:]),
			SymlinkTarget:  f.SymlinkTarget,
			InstallTags:    f.InstallTags,
			FileChunkParts: make([]legacyChunkPart, 0, len(f.ChunkParts)),
		}
		for _, p := range f.ChunkParts {
			lf.FileChunkParts = append(lf.FileChunkParts, legacyChunkPart{
				GUID:   p.GUID.String(),
				Offset: blobNumber{v: uint64(p.Offset), groups: blobGroupsU32},
				Size:   blobNumber{v: uint64(p.Size), groups: blobGroupsU32},
			})
		}
		lm.FileManifestList = append(lm.FileManifestList, lf)
	}
	if len(m.CDNTokens) > 0 {
		lm.CDNTokens = make(map[string]string, len(m.CDNTokens))
		for k := range m.CDNTokens {
			lm.CDNTokens[k] = m.CDNTokens.Get(k)
		}
	}
	return json.Marshal(lm)
}

// DecodeJSON decodes a legacy JSON manifest.
func DecodeJSON(data []byte) (*Manifest, error) {
	var lm legacyManifest
	if err := json.Unmarshal(data, &lm); err != nil {
		return nil, fmt.Errorf("manifest: json: %w: %v", ErrMalformedManifest, err)
	}
	m, err := lm.manifest()
	if err != nil {
		return nil, fmt.Errorf("manifest: json: %w", err)
	}
	return m, nil
}

// UnmarshalJSON implements json.Unmarshaler using the legacy representation.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	dec, err := DecodeJSON(data)
	if err != nil {
		return err
	}
	*m = *dec
	return nil
}

func (lm *legacyManifest) manifest() (*Manifest, error) {
	if lm.ManifestFileVersion.v > uint64(^uint32(0)) {
		return nil, fmt.Errorf("%w: manifest file version %d", ErrMalformedManifest, lm.ManifestFileVersion.v)
	}
	m := &Manifest{
		FileVersion:         uint32(lm.ManifestFileVersion.v),
		AppID:               uint32(lm.AppID.v), //nolint:gosec // app ids are 32-bit
		AppName:             lm.AppNameString,
		BuildVersion:        lm.BuildVersionString,
		BuildID:             lm.BuildID,
		IsFileData:          lm.IsFileData,
		LaunchExe:           lm.LaunchExeString,
		LaunchCommand:       lm.LaunchCommand,
		PrereqIDs:           lm.PrereqIDs,
		PrereqName:          lm.PrereqName,
		PrereqPath:          lm.PrereqPath,
		PrereqArgs:          lm.PrereqArgs,
		UninstallActionPath: lm.UninstallActionPath,
		UninstallActionArgs: lm.UninstallActionArgs,
		Files:               make([]FileEntry, 0, len(lm.FileManifestList)),
		Chunks:              make(map[GUID]ChunkInfo, len(lm.ChunkHashList)),
		CustomFields:        lm.CustomFields,
		CloudDir:            lm.CloudDir,
	}

	for key, blob := range lm.ChunkHashList {
		g, err := ParseGUID(key)
		if err != nil {
			return nil, err
		}
		hash, err := codec.BlobToNum(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s hash: %w", key, err)
		}
		c := ChunkInfo{GUID: g, Hash: hash}
		if group, ok := lm.DataGroupList[key]; ok {
			v, err := codec.BlobToNum(group)
			if err != nil || v > 255 {
				return nil, fmt.Errorf("%w: chunk %s group %q", ErrMalformedManifest, key, group)
			}
			c.Group = uint8(v)
			c.GroupSet = true
		}
		if sha, ok := lm.ChunkShaList[key]; ok && sha != "" {
			raw, err := hex.DecodeString(sha)
			if err != nil || len(raw) != len(c.SHA1) {
				return nil, fmt.Errorf("%w: chunk %s sha %q", ErrMalformedManifest, key, sha)
			}
			copy(c.SHA1[:], raw)
		}
		if size, ok := lm.ChunkFilesizeList[key]; ok {
			v, err := codec.BlobToNum(size)
			if err != nil {
				return nil, fmt.Errorf("chunk %s file size: %w", key, err)
			}
			c.FileSize = int64(v) //nolint:gosec // two's complement
		}
		m.Chunks[g] = c
	}

	for _, lf := range lm.FileManifestList {
		f := FileEntry{
			Filename:      lf.Filename,
			SymlinkTarget: lf.SymlinkTarget,
			InstallTags:   lf.InstallTags,
			ChunkParts:    make([]ChunkPart, 0, len(lf.FileChunkParts)),
		}
		if lf.FileHash != "" {
			raw, err := codec.BlobToBytes(lf.FileHash)
			if err != nil {
				return nil, fmt.Errorf("file %s hash: %w", lf.Filename, err)
			}
			copy(f.Hash[:], raw)
		}
		for _, lp := range lf.FileChunkParts {
			g, err := ParseGUID(lp.GUID)
			if err != nil {
				return nil, fmt.Errorf("file %s: %w", lf.Filename, err)
			}
			if lp.Offset.v > uint64(^uint32(0)) || lp.Size.v > uint64(^uint32(0)) {
				return nil, fmt.Errorf("%w: file %s part exceeds 32 bits", ErrMalformedManifest, lf.Filename)
			}
			f.ChunkParts = append(f.ChunkParts, ChunkPart{
				GUID:   g,
				Offset: uint32(lp.Offset.v),
				Size:   uint32(lp.Size.v),
			})
		}
		m.Files = append(m.Files, f)
	}

	if len(lm.CDNTokens) > 0 {
		m.CDNTokens = make(url.Values, len(lm.CDNTokens))
		for k, v := range lm.CDNTokens {
			m.CDNTokens.Set(k, v)
		}
	}
	m.layout()
	return m, nil
}
