package manifest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"unicode"
)

// Kind identifies the serialization of a manifest byte stream.
type Kind uint8

// Manifest serializations.
const (
	// KindBinary is the binary container format.
	KindBinary Kind = iota

	// KindJSON is the legacy JSON representation.
	KindJSON
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "binary"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Source is a manifest byte stream tagged with its serialization.
type Source struct {
	Kind Kind
	Data []byte

	// Origin names where the bytes came from, such as a URL or file path.
	// It is used in error messages.
	Origin string
}

// Sniff classifies data. A leading container magic selects KindBinary, a
// leading '{' after whitespace selects KindJSON, and anything else is
// treated as a binary container whose magic was omitted.
func Sniff(data []byte, origin string) Source {
	src := Source{Kind: KindBinary, Data: data, Origin: origin}
	if len(data) >= 4 && binary.LittleEndian.Uint32(data) == ContainerMagic {
		return src
	}
	for _, b := range data {
		if b < 0x80 && unicode.IsSpace(rune(b)) {
			continue
		}
		if b == '{' {
			src.Kind = KindJSON
		}
		break
	}
	return src
}

// Decode dispatches on the source kind.
func Decode(src Source, opts ...DecodeOption) (*Manifest, error) {
	var (
		m   *Manifest
		err error
	)
	switch src.Kind {
	case KindJSON:
		m, err = DecodeJSON(src.Data)
	case KindBinary:
		m, err = DecodeBinary(src.Data, opts...)
	default:
		err = fmt.Errorf("%w: unknown source kind %d", ErrMalformedManifest, src.Kind)
	}
	if err != nil && src.Origin != "" {
		return nil, fmt.Errorf("%s: %w", src.Origin, err)
	}
	return m, err
}

// Load reads and decodes a manifest file of either kind.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller-chosen path
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("manifest: %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return Decode(Sniff(data, path))
}

// Save writes m as legacy JSON to dir/m.CacheName() and returns the path and
// the bytes written. The file is replaced atomically.
func Save(dir string, m *Manifest) (string, []byte, error) {
	data, err := m.MarshalJSON()
	if err != nil {
		return "", nil, fmt.Errorf("manifest: encode %s: %w", m.AppName, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", nil, fmt.Errorf("manifest: %w", err)
	}
	name := m.CacheName()
	if !fs.ValidPath(name) || filepath.Base(name) != name {
		return "", nil, fmt.Errorf("manifest: cache name %q: %w", name, ErrMalformedManifest)
	}
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return "", nil, fmt.Errorf("manifest: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return "", nil, fmt.Errorf("manifest: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", nil, fmt.Errorf("manifest: write %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", nil, fmt.Errorf("manifest: write %s: %w", path, err)
	}
	return path, data, nil
}
