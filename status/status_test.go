package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkWriteRead(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "public", "status")
	sink := NewFileSink(dir)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	sink.now = func() time.Time { return fixed }

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, "App", Status{State: StateDownloading, Progress: 0.25}))
	require.NoError(t, sink.Write(ctx, "App", Status{State: StateComplete, Progress: 1}))

	got, err := sink.Read("App")
	require.NoError(t, err)
	assert.Equal(t, Status{State: StateComplete, Progress: 1, UpdatedAt: fixed}, got)

	raw, err := os.ReadFile(filepath.Join(dir, "App.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"complete","progress":1,"url":"","updatedAt":"2025-01-02T03:04:05Z"}`, string(raw))
}

func TestFileSinkReadAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := NewFileSink(dir)
	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, "A", Status{State: StateComplete, Progress: 1}))
	require.NoError(t, sink.Write(ctx, "B", Status{State: StateError, Error: "boom"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	all, err := sink.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, StateComplete, all["A"].State)
	assert.Equal(t, "boom", all["B"].Error)

	empty, err := NewFileSink(filepath.Join(dir, "missing")).ReadAll()
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFileSinkErrors(t *testing.T) {
	t.Parallel()

	sink := NewFileSink(t.TempDir())
	_, err := sink.Read("Missing")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, app := range []string{"", "..", "a/b", `a\b`} {
		assert.ErrorIs(t, sink.Write(context.Background(), app, Status{}), ErrInvalidPath, app)
	}
	assert.NoError(t, Discard.Write(context.Background(), "x", Status{}))
}
