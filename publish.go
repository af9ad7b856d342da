package mochi

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/meigma/mochi/archive"
	"github.com/meigma/mochi/internal/pathutil"
	"github.com/meigma/mochi/manifest"
	"github.com/meigma/mochi/registry"
	"github.com/meigma/mochi/status"
)

// Archive zips the reassembled tree of app into the archive directory.
// Entry names start with "{app}/".
func (c *Client) Archive(ctx context.Context, app string) (archive.Result, error) {
	if err := validApp(app); err != nil {
		return archive.Result{}, err
	}
	c.emit(ProgressEvent{Stage: StageArchiving, App: app, Total: 1})
	res, err := c.archiver.Create(ctx, c.layout.AssetDir(), app, c.layout.ArchivePath(app))
	if err != nil {
		return archive.Result{}, err
	}
	c.emit(ProgressEvent{Stage: StageArchiving, App: app, Done: 1, Total: 1})
	return res, nil
}

// Publish pushes the archive of app to ref, which must carry a tag.
// The archive must have been created with Archive.
func (c *Client) Publish(ctx context.Context, app, ref string, opts ...registry.PublishOption) (ocispec.Descriptor, error) {
	if err := validApp(app); err != nil {
		return ocispec.Descriptor{}, err
	}
	path := c.layout.ArchivePath(app)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ocispec.Descriptor{}, fmt.Errorf("mochi: archive of %s: %w", app, ErrNotFound)
		}
		return ocispec.Descriptor{}, fmt.Errorf("mochi: %w", err)
	}
	c.emit(ProgressEvent{Stage: StagePublishing, App: app, Total: 1})
	desc, err := c.publisher.Publish(ctx, ref, path, append([]registry.PublishOption{registry.WithApp(app)}, opts...)...)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	c.emit(ProgressEvent{Stage: StagePublishing, App: app, Done: 1, Total: 1})
	return desc, nil
}

// CleanOption configures a Clean call.
type CleanOption func(*cleanConfig)

type cleanConfig struct {
	chunks bool
}

// WithCleanChunks also deletes the app's cached chunks.
func WithCleanChunks() CleanOption {
	return func(cfg *cleanConfig) {
		cfg.chunks = true
	}
}

// Clean removes the reassembled tree and the archive of app. Missing
// entries are not an error.
func (c *Client) Clean(app string, opts ...CleanOption) error {
	if err := validApp(app); err != nil {
		return err
	}
	cfg := cleanConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	var errs []error
	for _, p := range []string{filepath.Join(c.layout.AssetDir(), app), c.layout.ArchivePath(app)} {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
			continue
		}
		c.log().Debug("removed", "path", p)
	}
	if cfg.chunks {
		if _, err := c.cache.PurgeApp(app); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("mochi: clean %s: %w", app, err)
	}
	return nil
}

// Process runs the whole pipeline for m: sync, package, publish to ref,
// then clean the tree and archive. The app's status follows every stage
// and ends as complete with the published reference as its URL.
func (c *Client) Process(ctx context.Context, m *manifest.Manifest, ref string) (Result, ocispec.Descriptor, error) {
	res, err := c.sync(ctx, m, 0.5)
	if err != nil {
		return res, ocispec.Descriptor{}, err
	}
	if err := res.Err(); err != nil {
		return res, ocispec.Descriptor{}, err
	}
	app := m.AppName

	c.setStatus(ctx, app, status.Status{State: status.StatePackaging, Progress: 0.5})
	ar, err := c.Archive(ctx, app)
	if err != nil {
		c.failStatus(ctx, app, err)
		return res, ocispec.Descriptor{}, err
	}

	c.setStatus(ctx, app, status.Status{State: status.StateUploading, Progress: 0.8})
	desc, err := c.Publish(ctx, app, ref,
		registry.WithDigest(ar.Digest),
		registry.WithBuild(m.BuildVersion),
	)
	if err != nil {
		c.failStatus(ctx, app, err)
		return res, ocispec.Descriptor{}, err
	}

	url := publishedRef(ref, desc)
	c.setStatus(ctx, app, status.Status{State: status.StateComplete, Progress: 1, URL: url})
	if err := c.Clean(app); err != nil {
		c.log().Warn("clean failed", "app", app, "error", err)
	}
	c.log().Info("app published", "app", app, "ref", url)
	return res, desc, nil
}

// publishedRef pins ref to the pushed manifest digest.
func publishedRef(ref string, desc ocispec.Descriptor) string {
	repo := ref
	if i := strings.LastIndex(ref, ":"); i > strings.LastIndex(ref, "/") {
		repo = ref[:i]
	}
	return repo + "@" + desc.Digest.String()
}

// validApp rejects app names that are not a single path element.
func validApp(app string) error {
	if !pathutil.ValidElem(app) {
		return fmt.Errorf("mochi: app %q: %w", app, ErrInvalidPath)
	}
	return nil
}
