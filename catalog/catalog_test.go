package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()
	records := []Record{
		{CatalogItemID: "item-1", AppName: "AppA", BuildVersion: "1.0", Digest: digest.FromString("a1")},
		{CatalogItemID: "item-1", AppName: "AppA", BuildVersion: "1.2", Digest: digest.FromString("a2")},
		{CatalogItemID: "item-2", AppName: "AppB", BuildVersion: "5.0"},
	}
	for _, r := range records {
		if err := store.Put(ctx, r); err != nil {
			t.Fatalf("Put %s %s: %v", r.AppName, r.BuildVersion, err)
		}
	}
}

func TestPutAndLatest(t *testing.T) {
	store := openTestStore(t)
	seed(t, store)

	got, err := store.Latest(context.Background(), "AppA")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.BuildVersion != "1.2" {
		t.Fatalf("build mismatch: %s", got.BuildVersion)
	}
	if got.FileName != "AppA1.2.manifest" {
		t.Fatalf("file name mismatch: %s", got.FileName)
	}
	if got.Digest != digest.FromString("a2") {
		t.Fatalf("digest mismatch: %s", got.Digest)
	}
	if got.FetchedAt.IsZero() {
		t.Fatalf("expected fetched_at")
	}

	if _, err := store.Latest(context.Background(), "Nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Latest missing: %v", err)
	}
}

func TestPutKeepsCatalogItem(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	when := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	if err := store.Put(ctx, Record{CatalogItemID: "item", AppName: "App", BuildVersion: "1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, Record{AppName: "App", BuildVersion: "1", FetchedAt: when}); err != nil {
		t.Fatalf("Put again: %v", err)
	}
	got, err := store.Latest(ctx, "App")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.CatalogItemID != "item" {
		t.Fatalf("catalog item lost: %q", got.CatalogItemID)
	}
	if !got.FetchedAt.Equal(when) {
		t.Fatalf("fetched_at mismatch: %s", got.FetchedAt)
	}

	if err := store.Put(ctx, Record{AppName: "App"}); err == nil {
		t.Fatalf("expected error for missing build version")
	}
}

func TestResolve(t *testing.T) {
	store := openTestStore(t)
	seed(t, store)
	ctx := context.Background()

	tests := []struct {
		identifier string
		want       []string
	}{
		{identifier: "item-1", want: []string{"AppA1.0", "AppA1.2"}},
		{identifier: "AppB", want: []string{"AppB5.0"}},
		{identifier: "AppA1.0.manifest", want: []string{"AppA1.0"}},
		{identifier: "AppA1.0", want: []string{"AppA1.0"}},
	}
	for _, tt := range tests {
		recs, err := store.Resolve(ctx, tt.identifier)
		if err != nil {
			t.Fatalf("Resolve %s: %v", tt.identifier, err)
		}
		if len(recs) != len(tt.want) {
			t.Fatalf("Resolve %s: got %d records, want %d", tt.identifier, len(recs), len(tt.want))
		}
		for i, r := range recs {
			if got := r.AppName + r.BuildVersion; got != tt.want[i] {
				t.Fatalf("Resolve %s[%d]: got %s, want %s", tt.identifier, i, got, tt.want[i])
			}
		}
	}

	for _, missing := range []string{"", "unknown", "unknown.manifest"} {
		if _, err := store.Resolve(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Resolve %q: %v", missing, err)
		}
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	seed(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	recs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error")
	}
}
