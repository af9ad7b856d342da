package reassemble

import (
	"context"
	"crypto/sha1" //nolint:gosec // test fixture hashes
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mochi/manifest"
)

var (
	guidA = manifest.GUID{1, 2, 3, 4}
	guidB = manifest.GUID{5, 6, 7, 8}
)

type fakeChunks struct {
	mu       sync.Mutex
	payloads map[manifest.GUID][]byte
	reads    map[manifest.GUID]int
}

func newFakeChunks(payloads map[manifest.GUID][]byte) *fakeChunks {
	return &fakeChunks{payloads: payloads, reads: make(map[manifest.GUID]int)}
}

func (f *fakeChunks) Read(_ string, guid manifest.GUID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[guid]++
	p, ok := f.payloads[guid]
	if !ok {
		return nil, errors.New("not cached")
	}
	return p, nil
}

func helloManifest() *manifest.Manifest {
	return &manifest.Manifest{
		AppName: "App",
		Files: []manifest.FileEntry{{
			Filename: "dir\\foo.txt",
			ChunkParts: []manifest.ChunkPart{
				{GUID: guidA, Offset: 0, Size: 6},
				{GUID: guidB, Offset: 0, Size: 6},
			},
		}},
		Chunks: map[manifest.GUID]manifest.ChunkInfo{
			guidA: {GUID: guidA},
			guidB: {GUID: guidB},
		},
	}
}

func newTestReassembler(t *testing.T, chunks ChunkReader, opts ...Option) (*Reassembler, string) {
	t.Helper()
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)
	return New(chunks, sink, "App", opts...), dir
}

func TestPlan(t *testing.T) {
	t.Parallel()

	m := helloManifest()
	jobs, err := Plan(m, "")
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	require.NoError(t, job.Err)
	assert.Equal(t, "App/dir/foo.txt", job.Path)
	assert.Equal(t, uint64(12), job.Size)
	assert.Equal(t, uint64(0), job.File.ChunkParts[0].FileOffset)
	assert.Equal(t, uint64(6), job.File.ChunkParts[1].FileOffset)
}

func TestPlanPerFileErrors(t *testing.T) {
	t.Parallel()

	m := helloManifest()
	m.Files = append(m.Files,
		manifest.FileEntry{
			Filename:   "missing.bin",
			ChunkParts: []manifest.ChunkPart{{GUID: manifest.GUID{9, 9, 9, 9}, Size: 1}},
		},
		manifest.FileEntry{Filename: "../escape.txt"},
	)

	jobs, err := Plan(m, "App")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.NoError(t, jobs[0].Err)
	assert.ErrorIs(t, jobs[1].Err, ErrMissingChunk)
	assert.ErrorIs(t, jobs[2].Err, ErrInvalidPath)
}

func TestPlanRejectsBadApp(t *testing.T) {
	t.Parallel()

	for _, app := range []string{"..", "a/b", "."} {
		_, err := Plan(helloManifest(), app)
		assert.ErrorIs(t, err, ErrInvalidPath, app)
	}
	_, err := Plan(nil, "App")
	assert.Error(t, err)
}

func TestFileHelloWorld(t *testing.T) {
	t.Parallel()

	chunks := newFakeChunks(map[manifest.GUID][]byte{
		guidA: []byte("Hello "),
		guidB: []byte("World!"),
	})
	r, dir := newTestReassembler(t, chunks)

	jobs, err := Plan(helloManifest(), "App")
	require.NoError(t, err)
	require.NoError(t, r.File(context.Background(), jobs[0]))

	got, err := os.ReadFile(filepath.Join(dir, "App", "dir", "foo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", string(got))

	entries, err := os.ReadDir(filepath.Join(dir, "App", "dir"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileReusesConsecutiveChunk(t *testing.T) {
	t.Parallel()

	chunks := newFakeChunks(map[manifest.GUID][]byte{
		guidA: []byte("abcdef"),
		guidB: []byte("XYZ"),
	})
	r, dir := newTestReassembler(t, chunks)

	m := helloManifest()
	m.Files[0].ChunkParts = []manifest.ChunkPart{
		{GUID: guidA, Offset: 3, Size: 3},
		{GUID: guidA, Offset: 0, Size: 3},
		{GUID: guidB, Offset: 1, Size: 2},
		{GUID: guidA, Offset: 5, Size: 1},
	}
	jobs, err := Plan(m, "App")
	require.NoError(t, err)
	require.NoError(t, r.File(context.Background(), jobs[0]))

	got, err := os.ReadFile(filepath.Join(dir, "App", "dir", "foo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "defabcYZf", string(got))
	assert.Equal(t, 2, chunks.reads[guidA])
	assert.Equal(t, 1, chunks.reads[guidB])
}

func TestFileBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*FileJob)
	}{
		{
			name: "source overflow",
			mutate: func(j *FileJob) {
				j.File.ChunkParts[1].Offset = 1
			},
		},
		{
			name: "destination overflow",
			mutate: func(j *FileJob) {
				j.File.ChunkParts[1].FileOffset = 7
			},
		},
		{
			name: "short buffer",
			mutate: func(j *FileJob) {
				j.Size = 10
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chunks := newFakeChunks(map[manifest.GUID][]byte{
				guidA: []byte("Hello "),
				guidB: []byte("World!"),
			})
			r, dir := newTestReassembler(t, chunks)
			jobs, err := Plan(helloManifest(), "App")
			require.NoError(t, err)
			tt.mutate(&jobs[0])

			err = r.File(context.Background(), jobs[0])
			require.ErrorIs(t, err, ErrReassemblyBounds)
			assert.NoFileExists(t, filepath.Join(dir, "App", "dir", "foo.txt"))
		})
	}
}

func TestFileChunkReadError(t *testing.T) {
	t.Parallel()

	chunks := newFakeChunks(map[manifest.GUID][]byte{guidA: []byte("Hello ")})
	r, _ := newTestReassembler(t, chunks)
	jobs, err := Plan(helloManifest(), "App")
	require.NoError(t, err)

	err = r.File(context.Background(), jobs[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "part 1")
}

func TestFilePlanErrorPassesThrough(t *testing.T) {
	t.Parallel()

	r, _ := newTestReassembler(t, newFakeChunks(nil))
	err := r.File(context.Background(), FileJob{Path: "App/x", Err: ErrMissingChunk})
	assert.ErrorIs(t, err, ErrMissingChunk)
}

func TestFileVerifyHash(t *testing.T) {
	t.Parallel()

	payloads := map[manifest.GUID][]byte{
		guidA: []byte("Hello "),
		guidB: []byte("World!"),
	}

	m := helloManifest()
	m.Files[0].Hash = sha1.Sum([]byte("Hello World!")) //nolint:gosec // fixture
	r, _ := newTestReassembler(t, newFakeChunks(payloads), WithVerifyHash(true))
	jobs, err := Plan(m, "App")
	require.NoError(t, err)
	require.NoError(t, r.File(context.Background(), jobs[0]))

	m = helloManifest()
	m.Files[0].Hash = sha1.Sum([]byte("something else")) //nolint:gosec // fixture
	r, dir := newTestReassembler(t, newFakeChunks(payloads), WithVerifyHash(true))
	jobs, err = Plan(m, "App")
	require.NoError(t, err)
	require.ErrorIs(t, r.File(context.Background(), jobs[0]), ErrHashMismatch)
	assert.NoFileExists(t, filepath.Join(dir, "App", "dir", "foo.txt"))
}

func TestFileMemoryBudgetRespectsContext(t *testing.T) {
	t.Parallel()

	chunks := newFakeChunks(map[manifest.GUID][]byte{
		guidA: []byte("Hello "),
		guidB: []byte("World!"),
	})
	r, _ := newTestReassembler(t, chunks, WithMemoryBudget(4))
	require.True(t, r.mem.TryAcquire(4))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	jobs, err := Plan(helloManifest(), "App")
	require.NoError(t, err)
	assert.ErrorIs(t, r.File(ctx, jobs[0]), context.Canceled)

	r.mem.Release(4)
	assert.NoError(t, r.File(context.Background(), jobs[0]))
}

func TestFileSinkRejectsInvalidPath(t *testing.T) {
	t.Parallel()

	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	for _, p := range []string{"../x", "/abs", ".", ""} {
		_, err := sink.Writer(p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestFileSinkDiscard(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	w, err := sink.Writer("a/b.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Discard())

	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
