package mochi

import "path/filepath"

// DefaultDataDir is used when no data directory is configured.
const DefaultDataDir = "data"

// Layout names the locations under a data directory.
type Layout struct {
	Root string
}

// ChunkDir holds downloaded chunks as {ChunkDir}/{App}/{GUID}.chunk.
func (l Layout) ChunkDir() string { return filepath.Join(l.Root, "chunk") }

// AssetDir holds reassembled files as {AssetDir}/{App}/...
func (l Layout) AssetDir() string { return filepath.Join(l.Root, "asset") }

// ManifestDir holds cached manifests as {App}{Build}.manifest.
func (l Layout) ManifestDir() string { return filepath.Join(l.Root, "manifest") }

// ArchiveDir holds packaged archives.
func (l Layout) ArchiveDir() string { return filepath.Join(l.Root, "archive") }

// ArchivePath is the archive written for app.
func (l Layout) ArchivePath(app string) string {
	return filepath.Join(l.ArchiveDir(), app+".zip")
}

// StatusDir holds per-app status documents.
func (l Layout) StatusDir() string { return filepath.Join(l.Root, "public", "status") }

// CatalogPath is the manifest catalog database.
func (l Layout) CatalogPath() string { return filepath.Join(l.Root, "catalog.db") }

// AuthPath is the persisted credentials file.
func (l Layout) AuthPath() string { return filepath.Join(l.Root, "auth.json") }
