package disk

import (
	"cmp"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

type cacheEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// walkEntries lists the committed entries under root. Temporary files of
// in-flight writes are skipped.
func walkEntries(root string) ([]cacheEntry, int64, error) {
	var (
		entries []cacheEntry
		total   int64
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".cache-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		entries = append(entries, cacheEntry{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	return entries, total, err
}

func dirSize(root string) (int64, error) {
	_, total, err := walkEntries(root)
	return total, err
}

// pruneDir removes the least recently modified entries until the total is
// at or below targetBytes. Entries whose app directory satisfies keep are
// never removed.
func pruneDir(root string, targetBytes int64, keep func(app string) bool) (freed, remaining int64, err error) {
	entries, remaining, err := walkEntries(root)
	if err != nil || remaining <= targetBytes {
		return 0, remaining, err
	}

	slices.SortFunc(entries, func(a, b cacheEntry) int {
		if c := a.modTime.Compare(b.modTime); c != 0 {
			return c
		}
		return cmp.Compare(a.path, b.path)
	})

	for _, e := range entries {
		if remaining <= targetBytes {
			break
		}
		if keep != nil && keep(appOf(root, e.path)) {
			continue
		}
		if err := os.Remove(e.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return freed, remaining, err
		}
		remaining -= e.size
		freed += e.size
	}
	return freed, remaining, nil
}

// appOf returns the first path element of path below root.
func appOf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	app, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return app
}
