package mochi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/mochi/catalog"
	"github.com/meigma/mochi/manifest"
	"github.com/meigma/mochi/remote"
)

// FetchOption configures a FetchManifest call.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	catalogItem string
}

// WithCatalogItem records the catalog item id the manifest belongs to so
// it can later be loaded by that id.
func WithCatalogItem(id string) FetchOption {
	return func(cfg *fetchConfig) {
		cfg.catalogItem = id
	}
}

// FetchManifest downloads a manifest from the first distribution point that
// answers with a decodable manifest. The manifest is cached as legacy JSON
// under the manifest directory and recorded in the catalog.
func (c *Client) FetchManifest(ctx context.Context, points []remote.DistributionPoint, opts ...FetchOption) (*manifest.Manifest, error) {
	cfg := fetchConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	c.emit(ProgressEvent{Stage: StageFetchingManifest, Total: 1})
	m, raw, err := c.remote.Fetch(ctx, points)
	if err != nil {
		return nil, err
	}
	c.emit(ProgressEvent{Stage: StageFetchingManifest, App: m.AppName, Done: 1, Total: 1})

	path, _, err := manifest.Save(c.layout.ManifestDir(), m)
	if err != nil {
		return nil, err
	}
	rec := catalog.Record{
		CatalogItemID: cfg.catalogItem,
		AppName:       m.AppName,
		BuildVersion:  m.BuildVersion,
		FileName:      filepath.Base(path),
		Digest:        digest.FromBytes(raw),
		FetchedAt:     time.Now(),
	}
	if err := c.catalog.Put(ctx, rec); err != nil {
		return nil, err
	}
	c.log().Info("manifest cached", "app", m.AppName, "build", m.BuildVersion, "files", len(m.Files), "chunks", len(m.Chunks))
	return m, nil
}

// FetchArtifact asks the artifact API where the manifests of an item live
// and fetches each of them. The item id is recorded as the catalog item of
// every manifest.
func (c *Client) FetchArtifact(ctx context.Context, endpoint string, req remote.ArtifactRequest) ([]*manifest.Manifest, error) {
	list, err := remote.RequestManifestList(ctx, c.http, endpoint, req)
	if err != nil {
		return nil, err
	}
	if len(list.DownloadInfo) == 0 {
		return nil, fmt.Errorf("mochi: artifact %s: %w", req.ItemID, ErrNoDistributionPoint)
	}
	out := make([]*manifest.Manifest, 0, len(list.DownloadInfo))
	for _, info := range list.DownloadInfo {
		m, err := c.FetchManifest(ctx, info.DistributionPoints, WithCatalogItem(req.ItemID))
		if err != nil {
			return out, fmt.Errorf("mochi: %s %s: %w", info.AppName, info.BuildVersion, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// LoadManifest loads cached manifests by identifier: a catalog item id
// (every build), an app name (latest build), or a manifest file name with
// or without its extension. A path to an existing manifest file outside
// the cache is decoded directly.
func (c *Client) LoadManifest(ctx context.Context, identifier string) ([]*manifest.Manifest, error) {
	recs, err := c.catalog.Resolve(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		if info, statErr := os.Stat(identifier); statErr == nil && info.Mode().IsRegular() {
			m, loadErr := manifest.Load(identifier)
			if loadErr != nil {
				return nil, loadErr
			}
			return []*manifest.Manifest{m}, nil
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([]*manifest.Manifest, 0, len(recs))
	for _, rec := range recs {
		m, err := manifest.Load(filepath.Join(c.layout.ManifestDir(), rec.FileName))
		if err != nil {
			return nil, fmt.Errorf("mochi: load %s: %w", rec.FileName, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// emit forwards ev to the progress callback, if any.
func (c *Client) emit(ev ProgressEvent) {
	if c.progress != nil {
		c.progress(ev)
	}
}
