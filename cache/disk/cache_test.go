package disk

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	content := []byte("hello")
	n, err := c.Put("App", "A.chunk", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.True(t, c.Has("App", "A.chunk"))
	assert.False(t, c.Has("Other", "A.chunk"))

	f, ok := c.Get("App", "A.chunk")
	require.True(t, ok)
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, content, got)

	got, err = c.ReadFile("App", "A.chunk")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = os.Stat(filepath.Join(dir, "App", "A.chunk"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.SizeBytes())
}

func TestCacheReplace(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = c.Put("App", "A.chunk", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = c.Put("App", "A.chunk", strings.NewReader("second!"))
	require.NoError(t, err)

	got, err := c.ReadFile("App", "A.chunk")
	require.NoError(t, err)
	assert.Equal(t, "second!", string(got))
	assert.Equal(t, int64(7), c.SizeBytes())
}

func TestCacheReadFileMissing(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = c.ReadFile("App", "missing.chunk")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCacheInvalidNames(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	for _, tt := range []struct{ app, name string }{
		{"", "a"},
		{"..", "a"},
		{"App", "../escape"},
		{"App", `sub\file`},
		{"a/b", "c"},
	} {
		_, err := c.Put(tt.app, tt.name, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidPath, "%q/%q", tt.app, tt.name)
		assert.False(t, c.Has(tt.app, tt.name))
	}
}

func TestCacheDeleteAndPurge(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	_, err = c.Put("App", "A.chunk", strings.NewReader("aaaa"))
	require.NoError(t, err)
	_, err = c.Put("App", "B.chunk", strings.NewReader("bb"))
	require.NoError(t, err)
	_, err = c.Put("Keep", "C.chunk", strings.NewReader("c"))
	require.NoError(t, err)

	require.NoError(t, c.Delete("App", "B.chunk"))
	require.NoError(t, c.Delete("App", "B.chunk"), "second delete is a no-op")
	assert.Equal(t, int64(5), c.SizeBytes())

	freed, err := c.PurgeApp("App")
	require.NoError(t, err)
	assert.Equal(t, int64(4), freed)
	assert.Equal(t, int64(1), c.SizeBytes())

	_, err = os.Stat(filepath.Join(dir, "App"))
	assert.True(t, os.IsNotExist(err))
	assert.True(t, c.Has("Keep", "C.chunk"))
}

func TestCacheExistingSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "App"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "App", "A.chunk"), []byte("123"), 0o600))

	c, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.SizeBytes())
}

func TestCachePrune(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	_, err = c.Put("App", "old.chunk", strings.NewReader("0123456789"))
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "App", "old.chunk"), old, old))
	_, err = c.Put("App", "new.chunk", strings.NewReader("0123456789"))
	require.NoError(t, err)

	freed, err := c.Prune(10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), freed)
	assert.False(t, c.Has("App", "old.chunk"))
	assert.True(t, c.Has("App", "new.chunk"))
}

func TestCacheMaxBytes(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir(), WithMaxBytes(8))
	require.NoError(t, err)

	_, err = c.Put("App", "big.chunk", strings.NewReader("0123456789"))
	require.ErrorIs(t, err, ErrCacheFull)
	assert.False(t, c.Has("App", "big.chunk"))

	_, err = New(t.TempDir(), WithMaxBytes(-1))
	assert.Error(t, err)
	_, err = New("")
	assert.Error(t, err)
}

func TestCachePinnedAppSurvivesPrune(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithMaxBytes(20))
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	for _, app := range []string{"Active", "Other"} {
		_, err = c.Put(app, "a.chunk", strings.NewReader("0123456789"))
		require.NoError(t, err)
		require.NoError(t, os.Chtimes(filepath.Join(dir, app, "a.chunk"), old, old))
	}

	unpin, err := c.Pin("Active")
	require.NoError(t, err)

	// Room is made by evicting the unpinned app, even though the pinned
	// entry is just as old.
	_, err = c.Put("Active", "b.chunk", strings.NewReader("0123456789"))
	require.NoError(t, err)
	assert.True(t, c.Has("Active", "a.chunk"))
	assert.True(t, c.Has("Active", "b.chunk"))
	assert.False(t, c.Has("Other", "a.chunk"))

	// Nothing unpinned is left to evict.
	_, err = c.Put("Active", "c.chunk", strings.NewReader("0123456789"))
	require.ErrorIs(t, err, ErrCacheFull)
	assert.False(t, c.Has("Active", "c.chunk"))
	assert.Equal(t, int64(20), c.SizeBytes())

	unpin()
	unpin() // second call is a no-op

	_, err = c.Put("Active", "c.chunk", strings.NewReader("0123456789"))
	require.NoError(t, err)
	assert.True(t, c.Has("Active", "c.chunk"))
	assert.LessOrEqual(t, c.SizeBytes(), int64(20))
}

func TestCachePinNested(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	first, err := c.Pin("App")
	require.NoError(t, err)
	second, err := c.Pin("App")
	require.NoError(t, err)

	first()
	assert.True(t, c.isPinned("App"))
	second()
	assert.False(t, c.isPinned("App"))

	_, err = c.Pin("../escape")
	assert.ErrorIs(t, err, ErrInvalidPath)
}
