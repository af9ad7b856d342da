// Package status records per-app pipeline state as small JSON documents
// for external observers.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meigma/mochi/internal/mochitype"
	"github.com/meigma/mochi/internal/pathutil"
)

var (
	ErrNotFound    = mochitype.ErrNotFound
	ErrInvalidPath = mochitype.ErrInvalidPath
)

// State is the pipeline phase an app is in.
type State string

// Pipeline states in the order they are reached.
const (
	StateDownloading    State = "downloading"
	StateReconstructing State = "reconstructing"
	StatePackaging      State = "packaging"
	StateUploading      State = "uploading"
	StateComplete       State = "complete"
	StateError          State = "error"
)

// Status is the document written for one app.
type Status struct {
	State     State     `json:"status"`
	Progress  float64   `json:"progress"`
	URL       string    `json:"url"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Sink receives status updates. Implementations must be safe for
// concurrent use.
type Sink interface {
	Write(ctx context.Context, app string, s Status) error
}

// Discard is a Sink that drops every update.
var Discard Sink = discard{}

type discard struct{}

func (discard) Write(context.Context, string, Status) error { return nil }

// FileSink stores each app's status as {dir}/{app}.json.
type FileSink struct {
	dir string
	now func() time.Time
}

// NewFileSink creates a FileSink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir, now: time.Now}
}

// Dir returns the status directory.
func (s *FileSink) Dir() string {
	return s.dir
}

// Write replaces the status document of app atomically.
func (s *FileSink) Write(_ context.Context, app string, st Status) error {
	path, err := s.path(app)
	if err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now().UTC()
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("status: encode: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("status: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".status-*")
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()        //nolint:errcheck // best-effort cleanup
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("status: write %s: %w", app, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("status: close %s: %w", app, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil { //nolint:gosec // status files are public
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("status: chmod %s: %w", app, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("status: rename %s: %w", app, err)
	}
	return nil
}

// Read returns the status of app.
func (s *FileSink) Read(app string) (Status, error) {
	path, err := s.path(app)
	if err != nil {
		return Status{}, err
	}
	return readFile(path, app)
}

// ReadAll returns the status of every app with a status document.
// Unreadable documents are skipped.
func (s *FileSink) ReadAll() (map[string]Status, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]Status{}, nil
		}
		return nil, fmt.Errorf("status: %w", err)
	}
	out := make(map[string]Status, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		app := strings.TrimSuffix(name, ".json")
		st, err := readFile(filepath.Join(s.dir, name), app)
		if err != nil {
			continue
		}
		out[app] = st
	}
	return out, nil
}

func (s *FileSink) path(app string) (string, error) {
	if !pathutil.ValidElem(app) {
		return "", fmt.Errorf("status: app %q: %w", app, ErrInvalidPath)
	}
	return filepath.Join(s.dir, app+".json"), nil
}

func readFile(path, app string) (Status, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is built from a validated app name
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Status{}, fmt.Errorf("status: %s: %w", app, ErrNotFound)
		}
		return Status{}, fmt.Errorf("status: %w", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("status: decode %s: %w", app, err)
	}
	return st, nil
}
