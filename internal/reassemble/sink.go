package reassemble

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/meigma/mochi/internal/pathutil"
)

// Committer is a writer whose output becomes visible only on Commit.
type Committer interface {
	Write(p []byte) (int, error)
	Commit() error
	Discard() error
}

// FileSink writes reassembled files under a destination directory.
//
// Files are written to a temporary file in the target directory and
// renamed into place on Commit, so a partially written file is never
// visible at its final path. All access goes through an os.Root, which
// keeps writes inside the destination even for hostile paths.
type FileSink struct {
	destDir string
	dirPerm os.FileMode
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithDirPerm sets the permissions for created directories.
func WithDirPerm(perm os.FileMode) FileSinkOption {
	return func(s *FileSink) {
		s.dirPerm = perm
	}
}

// NewFileSink creates a FileSink that writes to destDir, creating it if
// needed.
func NewFileSink(destDir string, opts ...FileSinkOption) (*FileSink, error) {
	s := &FileSink{
		destDir: destDir,
		dirPerm: 0o750,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(destDir, s.dirPerm); err != nil {
		return nil, fmt.Errorf("create destination %s: %w", destDir, err)
	}
	return s, nil
}

// Dir returns the destination directory.
func (s *FileSink) Dir() string {
	return s.destDir
}

// Writer returns a Committer for the slash-separated relative path.
// Parent directories are created as needed; concurrent creation of the
// same directory is not an error.
func (s *FileSink) Writer(path string) (Committer, error) {
	if !pathutil.ValidRel(path) {
		return nil, &fs.PathError{Op: "write", Path: path, Err: ErrInvalidPath}
	}
	destRel := filepath.FromSlash(path)

	root, err := os.OpenRoot(s.destDir)
	if err != nil {
		return nil, fmt.Errorf("open destination root %s: %w", s.destDir, err)
	}
	if err := root.MkdirAll(filepath.Dir(destRel), s.dirPerm); err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}

	tempFile, tempRel, err := createTempFile(root, filepath.Dir(destRel), ".mochi-")
	if err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &fileCommitter{
		path:     path,
		destRel:  destRel,
		tempFile: tempFile,
		tempRel:  tempRel,
		root:     root,
	}, nil
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	path     string
	destRel  string
	tempFile *os.File
	tempRel  string
	root     *os.Root
}

func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file and renames it over the final path.
func (c *fileCommitter) Commit() error {
	if err := c.tempFile.Close(); err != nil {
		return c.abort(fmt.Errorf("close %s: %w", c.path, err))
	}
	if err := c.root.Rename(c.tempRel, c.destRel); err != nil {
		return c.abort(fmt.Errorf("rename to %s: %w", c.path, err))
	}
	return c.root.Close()
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	_ = c.tempFile.Close() //nolint:errcheck // the file is being thrown away
	if err := c.root.Remove(c.tempRel); err != nil {
		_ = c.root.Close() //nolint:errcheck // best-effort cleanup
		return err
	}
	return c.root.Close()
}

// abort drops the temp file and root after a failed commit, returning err.
func (c *fileCommitter) abort(err error) error {
	_ = c.root.Remove(c.tempRel) //nolint:errcheck // best-effort cleanup
	_ = c.root.Close()           //nolint:errcheck // best-effort cleanup
	return err
}

func createTempFile(root *os.Root, dir, prefix string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		name, err := randomSuffix()
		if err != nil {
			return nil, "", err
		}
		relPath := filepath.Join(dir, prefix+name)
		f, err := root.OpenFile(relPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, relPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
