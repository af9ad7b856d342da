// Package catalog indexes cached manifests so they can be found by
// catalog item id, app name or manifest file name.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	_ "modernc.org/sqlite"

	"github.com/meigma/mochi/internal/mochitype"
)

var ErrNotFound = mochitype.ErrNotFound

// ManifestExt is the file extension of cached manifests.
const ManifestExt = ".manifest"

// Record describes one cached manifest.
type Record struct {
	CatalogItemID string
	AppName       string
	BuildVersion  string

	// FileName is the cache file name under the manifest directory.
	FileName string

	// Digest is the digest of the manifest bytes as fetched.
	Digest    digest.Digest
	FetchedAt time.Time
}

// Store wraps the SQLite catalog database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("catalog: db path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.applyPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) applyPragmas(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA synchronous=NORMAL"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return err
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`); err != nil {
		return err
	}

	var version int
	if err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return err
	}
	for i, apply := range migrations {
		v := i + 1
		if version >= v {
			continue
		}
		if err = apply(ctx, tx); err != nil {
			return fmt.Errorf("catalog: migration %d: %w", v, err)
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)", v, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

var migrations = []func(context.Context, *sql.Tx) error{
	applyV1,
	applyV2,
}

func applyV1(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS manifests (
		app_name TEXT NOT NULL,
		build_version TEXT NOT NULL,
		catalog_item_id TEXT NOT NULL DEFAULT '',
		file_name TEXT NOT NULL,
		fetched_at TEXT NOT NULL,
		PRIMARY KEY(app_name, build_version)
	)`)
	return err
}

func applyV2(ctx context.Context, tx *sql.Tx) error {
	ddl := []string{
		`ALTER TABLE manifests ADD COLUMN digest TEXT NOT NULL DEFAULT ''`,
		`CREATE INDEX IF NOT EXISTS manifests_catalog_item_idx ON manifests(catalog_item_id)`,
		`CREATE INDEX IF NOT EXISTS manifests_file_name_idx ON manifests(file_name)`,
	}
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Put inserts or replaces the record for its app and build. An empty
// catalog item id does not clear one recorded earlier.
func (s *Store) Put(ctx context.Context, r Record) error {
	if r.AppName == "" || r.BuildVersion == "" {
		return errors.New("catalog: app name and build version required")
	}
	if r.FileName == "" {
		r.FileName = r.AppName + r.BuildVersion + ManifestExt
	}
	if r.FetchedAt.IsZero() {
		r.FetchedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO manifests(app_name, build_version, catalog_item_id, file_name, digest, fetched_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(app_name, build_version) DO UPDATE SET
	catalog_item_id = CASE WHEN excluded.catalog_item_id = '' THEN manifests.catalog_item_id ELSE excluded.catalog_item_id END,
	file_name = excluded.file_name,
	digest = excluded.digest,
	fetched_at = excluded.fetched_at`,
		r.AppName, r.BuildVersion, r.CatalogItemID, r.FileName, r.Digest.String(),
		r.FetchedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("catalog: put %s %s: %w", r.AppName, r.BuildVersion, err)
	}
	return nil
}

const selectRecord = `SELECT catalog_item_id, app_name, build_version, file_name, digest, fetched_at FROM manifests`

// Latest returns the record with the greatest build version of app.
// Build versions compare as strings.
func (s *Store) Latest(ctx context.Context, app string) (Record, error) {
	recs, err := s.query(ctx, selectRecord+` WHERE app_name = ? ORDER BY build_version DESC LIMIT 1`, app)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, fmt.Errorf("catalog: app %q: %w", app, ErrNotFound)
	}
	return recs[0], nil
}

// ByCatalogItem returns every build recorded for a catalog item.
func (s *Store) ByCatalogItem(ctx context.Context, id string) ([]Record, error) {
	if id == "" {
		return nil, nil
	}
	return s.query(ctx, selectRecord+` WHERE catalog_item_id = ? ORDER BY app_name, build_version`, id)
}

// ByFile returns the record cached under a manifest file name.
func (s *Store) ByFile(ctx context.Context, name string) (Record, error) {
	recs, err := s.query(ctx, selectRecord+` WHERE file_name = ? LIMIT 1`, name)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, fmt.Errorf("catalog: file %q: %w", name, ErrNotFound)
	}
	return recs[0], nil
}

// List returns every record ordered by app and build.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	return s.query(ctx, selectRecord+` ORDER BY app_name, build_version`)
}

// Resolve finds manifests by identifier, trying in order: a catalog item
// id (every build), an app name (latest build), a manifest file name, and
// a file name without its extension.
func (s *Store) Resolve(ctx context.Context, identifier string) ([]Record, error) {
	if identifier == "" {
		return nil, fmt.Errorf("catalog: empty identifier: %w", ErrNotFound)
	}
	recs, err := s.ByCatalogItem(ctx, identifier)
	if err != nil || len(recs) > 0 {
		return recs, err
	}

	lookups := []func() (Record, error){
		func() (Record, error) { return s.Latest(ctx, identifier) },
		func() (Record, error) { return s.ByFile(ctx, identifier) },
	}
	if !strings.HasSuffix(identifier, ManifestExt) {
		lookups = append(lookups, func() (Record, error) { return s.ByFile(ctx, identifier+ManifestExt) })
	}
	for _, lookup := range lookups {
		rec, err := lookup()
		if err == nil {
			return []Record{rec}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("catalog: %q: %w", identifier, ErrNotFound)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			dgst      string
			fetchedAt string
		)
		if err := rows.Scan(&r.CatalogItemID, &r.AppName, &r.BuildVersion, &r.FileName, &dgst, &fetchedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan: %w", err)
		}
		r.Digest = digest.Digest(dgst)
		if r.FetchedAt, err = time.Parse(time.RFC3339Nano, fetchedAt); err != nil {
			return nil, fmt.Errorf("catalog: fetched_at %q: %w", fetchedAt, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: rows: %w", err)
	}
	return out, nil
}
