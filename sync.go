package mochi

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/meigma/mochi/chunk"
	"github.com/meigma/mochi/internal/reassemble"
	"github.com/meigma/mochi/internal/task"
	"github.com/meigma/mochi/manifest"
	"github.com/meigma/mochi/status"
)

// Report summarizes one stage of a sync. Failures are ordered by item and
// unwrap to the sentinel errors of this package.
type Report = task.Report

// Result is the outcome of a sync.
type Result struct {
	App        string
	Download   Report
	Reassemble Report
}

// OK reports whether every chunk downloaded and every file was rebuilt.
func (r Result) OK() bool {
	return r.Download.OK() && r.Reassemble.OK()
}

// Err joins the partial failures of both stages, or returns nil.
func (r Result) Err() error {
	return errors.Join(r.Download.Err(), r.Reassemble.Err())
}

// Download fetches every chunk of m into the chunk cache. Chunks already
// cached are skipped. A failed chunk does not stop the others; the report
// lists every failure.
//
// The error is non-nil only when the download could not start.
func (c *Client) Download(ctx context.Context, m *manifest.Manifest) (Report, error) {
	return c.download(ctx, m, nil)
}

func (c *Client) download(ctx context.Context, m *manifest.Manifest, onProgress func(float64)) (Report, error) {
	if m == nil {
		return Report{}, errNilManifest
	}
	locs, err := chunk.LocateAll(m)
	if err != nil {
		return Report{}, fmt.Errorf("mochi: locate chunks: %w", err)
	}
	app := m.AppName
	if err := c.checkCacheFits(m, locs); err != nil {
		return Report{}, err
	}
	unpin, err := c.cache.Pin(app)
	if err != nil {
		return Report{}, fmt.Errorf("mochi: %w", err)
	}
	defer unpin()
	c.log().Info("downloading chunks", "app", app, "chunks", len(locs), "concurrency", c.chunkConcurrency)

	report := task.Run(ctx, locs,
		func(ctx context.Context, loc chunk.Location) error {
			return c.chunks.Fetch(ctx, app, loc)
		},
		task.WithConcurrency(c.chunkConcurrency),
		task.WithRateLimit(c.rateLimit),
		task.WithName("download"),
		task.WithLogger(c.log()),
		task.WithProgress(func(p task.Progress) {
			c.emit(ProgressEvent{
				Stage:  StageDownloading,
				App:    app,
				Item:   locs[p.Index].GUID.String(),
				Done:   p.Completed,
				Failed: p.Failed,
				Total:  p.Total,
			})
			if onProgress != nil {
				onProgress(p.Ratio())
			}
		}),
	)
	c.log().Info("chunk download finished", "app", app, "succeeded", report.Succeeded, "failed", report.Failed())
	return report, nil
}

// checkCacheFits fails when the declared chunk file sizes of m add up to
// more than the cache limit, since the chunks of one app cannot be evicted
// while it is being synced.
func (c *Client) checkCacheFits(m *manifest.Manifest, locs []chunk.Location) error {
	if c.cacheMaxBytes <= 0 {
		return nil
	}
	var need int64
	for _, loc := range locs {
		need += max(m.Chunks[loc.GUID].FileSize, 0)
	}
	if need > c.cacheMaxBytes {
		return fmt.Errorf("mochi: %s needs %d bytes of chunks, cache limit is %d: %w", m.AppName, need, c.cacheMaxBytes, ErrCacheFull)
	}
	return nil
}

// Reassemble rebuilds every file of m under the asset directory from the
// cached chunks. Each file succeeds or fails on its own; a file is only
// visible at its final path once it was rebuilt completely.
//
// The error is non-nil only when reassembly could not start.
func (c *Client) Reassemble(ctx context.Context, m *manifest.Manifest) (Report, error) {
	return c.reassemble(ctx, m, nil)
}

func (c *Client) reassemble(ctx context.Context, m *manifest.Manifest, onProgress func(float64)) (Report, error) {
	if m == nil {
		return Report{}, errNilManifest
	}
	jobs, err := reassemble.Plan(m, m.AppName)
	if err != nil {
		return Report{}, fmt.Errorf("mochi: %w", err)
	}
	sink, err := reassemble.NewFileSink(c.layout.AssetDir())
	if err != nil {
		return Report{}, fmt.Errorf("mochi: asset dir: %w", err)
	}

	opts := []reassemble.Option{
		reassemble.WithVerifyHash(c.verifyHashes),
		reassemble.WithLogger(c.log()),
	}
	if c.memoryBudget > 0 {
		opts = append(opts, reassemble.WithMemoryBudget(c.memoryBudget))
	}
	r := reassemble.New(c.chunks, sink, m.AppName, opts...)
	app := m.AppName
	c.log().Info("reassembling files", "app", app, "files", len(jobs), "concurrency", c.reassemblyConcurrency)

	report := task.Run(ctx, jobs, r.File,
		task.WithConcurrency(c.reassemblyConcurrency),
		task.WithName("reassemble"),
		task.WithLogger(c.log()),
		task.WithProgress(func(p task.Progress) {
			c.emit(ProgressEvent{
				Stage:  StageReassembling,
				App:    app,
				Item:   jobs[p.Index].Path,
				Done:   p.Completed,
				Failed: p.Failed,
				Total:  p.Total,
			})
			if onProgress != nil {
				onProgress(p.Ratio())
			}
		}),
	)
	c.log().Info("reassembly finished", "app", app, "succeeded", report.Succeeded, "failed", report.Failed())
	return report, nil
}

// Sync downloads every chunk of m and then rebuilds every file. The app's
// status moves from downloading through reconstructing to complete, or to
// error when any chunk or file failed.
//
// With WithPurgeChunks the app's cached chunks are deleted after a fully
// successful sync.
func (c *Client) Sync(ctx context.Context, m *manifest.Manifest) (Result, error) {
	res, err := c.sync(ctx, m, 1)
	if err != nil || !res.OK() {
		return res, err
	}
	c.setStatus(ctx, m.AppName, status.Status{State: status.StateComplete, Progress: 1})
	return res, nil
}

// sync runs both stages, reporting status progress over [0, scale]. On
// failure the status is set to error; on success it is left for the caller.
func (c *Client) sync(ctx context.Context, m *manifest.Manifest, scale float64) (Result, error) {
	if m == nil {
		return Result{}, errNilManifest
	}
	app := m.AppName
	res := Result{App: app}
	half := scale / 2

	// Chunks of this app must outlive the download stage until every file
	// has been rebuilt from them.
	unpin, err := c.cache.Pin(app)
	if err != nil {
		c.failStatus(ctx, app, err)
		return res, fmt.Errorf("mochi: %w", err)
	}
	defer unpin()

	c.setStatus(ctx, app, status.Status{State: status.StateDownloading})
	dl, err := c.download(ctx, m, c.statusReporter(ctx, app, status.StateDownloading, 0, half))
	if err != nil {
		c.failStatus(ctx, app, err)
		return res, err
	}
	res.Download = dl

	c.setStatus(ctx, app, status.Status{State: status.StateReconstructing, Progress: half})
	re, err := c.reassemble(ctx, m, c.statusReporter(ctx, app, status.StateReconstructing, half, half))
	if err != nil {
		c.failStatus(ctx, app, err)
		return res, err
	}
	res.Reassemble = re

	if err := res.Err(); err != nil {
		c.failStatus(ctx, app, err)
		return res, nil
	}

	if c.purgeChunks {
		freed, err := c.cache.PurgeApp(app)
		if err != nil {
			c.log().Warn("chunk purge failed", "app", app, "error", err)
		} else {
			c.log().Info("chunks purged", "app", app, "bytes", freed)
		}
	}
	return res, nil
}

// statusReporter returns a progress hook that writes a status update each
// time the overall percentage changes. Stage ratios map onto
// [base, base+span].
func (c *Client) statusReporter(ctx context.Context, app string, state status.State, base, span float64) func(float64) {
	last := -1
	return func(ratio float64) {
		overall := base + ratio*span
		pct := int(math.Floor(overall * 100))
		if pct == last {
			return
		}
		last = pct
		c.setStatus(ctx, app, status.Status{State: state, Progress: float64(pct) / 100})
	}
}

func (c *Client) failStatus(ctx context.Context, app string, err error) {
	c.setStatus(ctx, app, status.Status{State: status.StateError, Error: err.Error()})
}
