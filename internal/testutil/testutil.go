// Package testutil builds manifest and chunk fixtures and serves them over
// HTTP for tests.
package testutil

import (
	"crypto/sha1" //nolint:gosec // the manifest format records SHA-1 hashes
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/meigma/mochi/chunk"
	"github.com/meigma/mochi/manifest"
)

// File is one output file of a fixture.
type File struct {
	Name string
	Data []byte
}

// Fixture is a manifest whose files are cut from a run of small chunks.
type Fixture struct {
	Manifest *manifest.Manifest

	// Payloads holds the decoded payload of every chunk.
	Payloads map[manifest.GUID][]byte

	// Encoded holds every chunk as a chunk file. Odd chunks are
	// zlib-compressed, even ones stored raw.
	Encoded map[manifest.GUID][]byte
}

// BuildFixture lays the files of an app end to end and cuts the stream into
// chunks of chunkSize bytes. File parts follow chunk boundaries, so files
// larger than one chunk span several and small files share one.
func BuildFixture(tb testing.TB, app, build string, chunkSize int, files ...File) *Fixture {
	tb.Helper()
	if chunkSize <= 0 {
		tb.Fatalf("chunk size must be positive, got %d", chunkSize)
	}

	var stream []byte
	for _, f := range files {
		stream = append(stream, f.Data...)
	}

	fx := &Fixture{
		Manifest: &manifest.Manifest{
			FileVersion:  18,
			AppName:      app,
			BuildVersion: build,
			Chunks:       make(map[manifest.GUID]manifest.ChunkInfo),
		},
		Payloads: make(map[manifest.GUID][]byte),
		Encoded:  make(map[manifest.GUID][]byte),
	}

	var guids []manifest.GUID
	for i := 0; i*chunkSize < len(stream); i++ {
		payload := stream[i*chunkSize : min((i+1)*chunkSize, len(stream))]
		guid := manifest.GUID{uint32(i + 1), 0xA11CE, 0xB0B, 0xC0FFEE} //nolint:gosec // small test index
		hash := uint64(i+1) * 0x1111
		raw, err := chunk.Encode(guid, hash, payload, i%2 == 1)
		if err != nil {
			tb.Fatalf("encode chunk %d: %v", i, err)
		}
		fx.Manifest.Chunks[guid] = manifest.ChunkInfo{
			GUID:       guid,
			Hash:       hash,
			SHA1:       sha1.Sum(payload), //nolint:gosec // format hash
			Group:      uint8(i % 100),    //nolint:gosec // bounded by modulo
			GroupSet:   true,
			WindowSize: uint32(chunkSize), //nolint:gosec // small test size
			FileSize:   int64(len(raw)),
		}
		fx.Payloads[guid] = payload
		fx.Encoded[guid] = raw
		guids = append(guids, guid)
	}

	var pos int
	for _, f := range files {
		entry := manifest.FileEntry{
			Filename: f.Name,
			Hash:     sha1.Sum(f.Data), //nolint:gosec // format hash
		}
		for end := pos + len(f.Data); pos < end; {
			idx, off := pos/chunkSize, pos%chunkSize
			n := min(chunkSize-off, end-pos)
			entry.ChunkParts = append(entry.ChunkParts, manifest.ChunkPart{
				GUID:   guids[idx],
				Offset: uint32(off), //nolint:gosec // small test size
				Size:   uint32(n),   //nolint:gosec // small test size
			})
			pos += n
		}
		entry.Layout()
		fx.Manifest.Files = append(fx.Manifest.Files, entry)
	}
	return fx
}

// EncodeManifest returns the fixture manifest in binary form.
func (fx *Fixture) EncodeManifest(tb testing.TB) []byte {
	tb.Helper()
	data, err := manifest.EncodeBinary(fx.Manifest)
	if err != nil {
		tb.Fatalf("encode manifest: %v", err)
	}
	return data
}

// Serve registers the binary manifest and every chunk on s and returns the
// manifest URL. Chunks are served from the paths a manifest fetched from
// that URL resolves to.
func (fx *Fixture) Serve(tb testing.TB, s *Server) string {
	tb.Helper()
	app := fx.Manifest.AppName
	cloudDir := s.URL + "/Builds/" + app + "/CloudDir"
	s.Handle(strings.TrimPrefix(cloudDir, s.URL)+"/"+app+".manifest", fx.EncodeManifest(tb))
	for guid, raw := range fx.Encoded {
		s.Handle(fx.ChunkPath(s, guid), raw)
	}
	return cloudDir + "/" + app + ".manifest"
}

// ChunkPath returns the request path a chunk is served from on s.
func (fx *Fixture) ChunkPath(s *Server, guid manifest.GUID) string {
	info := fx.Manifest.Chunks[guid]
	cloudDir := s.URL + "/Builds/" + fx.Manifest.AppName + "/CloudDir"
	u := chunk.URL(guid, info.Hash, info.Group, fx.Manifest.FileVersion, cloudDir, nil)
	return strings.TrimPrefix(u, s.URL)
}

// Server is an httptest server with static routes, injectable failures and
// per-path hit counts.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	routes  map[string][]byte
	fail    map[string]int
	hits    map[string]int
	queries map[string]string
}

// NewServer starts a Server that is closed when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	s := &Server{
		routes:  make(map[string][]byte),
		fail:    make(map[string]int),
		hits:    make(map[string]int),
		queries: make(map[string]string),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	tb.Cleanup(s.Close)
	return s
}

// Handle serves body at path.
func (s *Server) Handle(path string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[path] = body
}

// Fail answers every request for path with status code.
func (s *Server) Fail(path string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[path] = code
}

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Query returns the raw query of the last request for path.
func (s *Server) Query(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[path]
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	s.queries[r.URL.Path] = r.URL.RawQuery
	code, failing := s.fail[r.URL.Path]
	body, ok := s.routes[r.URL.Path]
	s.mu.Unlock()

	switch {
	case failing:
		http.Error(w, http.StatusText(code), code)
	case !ok:
		http.NotFound(w, r)
	default:
		_, _ = w.Write(body)
	}
}
