// Package reassemble rebuilds output files from decoded chunk payloads.
package reassemble

import (
	"fmt"
	"path"

	"github.com/meigma/mochi/internal/mochitype"
	"github.com/meigma/mochi/internal/pathutil"
	"github.com/meigma/mochi/manifest"
)

var (
	ErrReassemblyBounds = mochitype.ErrReassemblyBounds
	ErrMissingChunk     = mochitype.ErrMissingChunk
	ErrInvalidPath      = mochitype.ErrInvalidPath
	ErrHashMismatch     = mochitype.ErrHashMismatch
	ErrSizeOverflow     = mochitype.ErrSizeOverflow
)

// FileJob is one output file to rebuild.
type FileJob struct {
	// Path is the slash-separated destination relative to the asset root,
	// always prefixed with the app name.
	Path string

	// File is the manifest entry with FileOffset recomputed on every part.
	File *manifest.FileEntry

	Size uint64

	// Err is set when the file cannot be rebuilt at all. File returns it
	// without touching chunks.
	Err error
}

// Plan turns every file of m into a FileJob rooted at app. Problems with a
// single file are recorded on its job so that sibling files still run.
func Plan(m *manifest.Manifest, app string) ([]FileJob, error) {
	if m == nil {
		return nil, fmt.Errorf("reassemble: nil manifest")
	}
	if app == "" {
		app = m.AppName
	}
	if !pathutil.ValidElem(app) {
		return nil, fmt.Errorf("reassemble: app %q: %w", app, ErrInvalidPath)
	}

	jobs := make([]FileJob, len(m.Files))
	for i := range m.Files {
		f := &m.Files[i]
		job := FileJob{
			Path: path.Join(app, f.Path()),
			File: f,
		}
		f.Layout()
		job.Size, job.Err = checkFile(m, f)
		if job.Err == nil && !pathutil.ValidRel(f.Path()) {
			job.Err = fmt.Errorf("%q: %w", f.Filename, ErrInvalidPath)
		}
		jobs[i] = job
	}
	return jobs, nil
}

func checkFile(m *manifest.Manifest, f *manifest.FileEntry) (uint64, error) {
	var size uint64
	for i, p := range f.ChunkParts {
		if _, ok := m.Chunks[p.GUID]; !ok {
			return 0, fmt.Errorf("%s: part %d chunk %s: %w", f.Path(), i, p.GUID, ErrMissingChunk)
		}
		size += uint64(p.Size)
	}
	return size, nil
}
