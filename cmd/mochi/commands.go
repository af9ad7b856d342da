package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/meigma/mochi"
	"github.com/meigma/mochi/archive"
	"github.com/meigma/mochi/manifest"
	"github.com/meigma/mochi/registry"
	"github.com/meigma/mochi/remote"
	"github.com/meigma/mochi/status"
)

var stdout io.Writer = os.Stdout

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func needArgs(fs *flag.FlagSet, n int) error {
	if fs.NArg() != n {
		fs.Usage()
		return fmt.Errorf("%s: expected %d argument(s), got %d", fs.Name(), n, fs.NArg())
	}
	return nil
}

func runDecode(_ context.Context, _ *globals, args []string) error {
	fs := newFlagSet("decode")
	asJSON := fs.Bool("json", false, "print the manifest as legacy JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1); err != nil {
		return err
	}
	m, err := manifest.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	if *asJSON {
		data, err := m.MarshalJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, string(data))
		return err
	}
	printSummary(m)
	return nil
}

func printSummary(m *manifest.Manifest) {
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "app\t%s\n", m.AppName)
	fmt.Fprintf(tw, "build\t%s\n", m.BuildVersion)
	fmt.Fprintf(tw, "feature level\t%d\n", m.FileVersion)
	fmt.Fprintf(tw, "files\t%d\n", len(m.Files))
	fmt.Fprintf(tw, "chunks\t%d\n", len(m.Chunks))
	fmt.Fprintf(tw, "size\t%d\n", m.TotalSize())
	if m.LaunchExe != "" {
		fmt.Fprintf(tw, "launch\t%s %s\n", m.LaunchExe, m.LaunchCommand)
	}
	_ = tw.Flush()
}

func runFetch(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet("fetch")
	var urls listFlag
	fs.Var(&urls, "url", "manifest URL, tried in order (repeatable)")
	item := fs.String("catalog-item", "", "catalog item id to record")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(urls) == 0 {
		fs.Usage()
		return errors.New("fetch: at least one -url is required")
	}

	c, err := g.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	points := make([]remote.DistributionPoint, len(urls))
	for i, u := range urls {
		points[i] = remote.DistributionPoint{ManifestURL: u}
	}
	m, err := c.FetchManifest(ctx, points, mochi.WithCatalogItem(*item))
	if err != nil {
		return err
	}
	printSummary(m)
	return nil
}

func runArtifact(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet("artifact")
	artifactID := fs.String("artifact", "", "artifact id")
	namespace := fs.String("namespace", "", "catalog namespace")
	itemID := fs.String("item", "", "catalog item id")
	platform := fs.String("platform", remote.DefaultPlatform, "target platform")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *artifactID == "" || *itemID == "" {
		fs.Usage()
		return errors.New("artifact: -artifact and -item are required")
	}

	c, err := g.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	ms, err := c.FetchArtifact(ctx, remote.ArtifactURL(*artifactID), remote.ArtifactRequest{
		Namespace: *namespace,
		ItemID:    *itemID,
		Platform:  *platform,
	})
	for _, m := range ms {
		printSummary(m)
	}
	return err
}

func runDownload(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet("download")
	verify := fs.Bool("verify", false, "verify chunk and file hashes")
	purge := fs.Bool("purge", false, "delete cached chunks after a successful sync")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1); err != nil {
		return err
	}

	c, err := g.newClient(
		mochi.WithVerifyHashes(*verify),
		mochi.WithPurgeChunks(*purge),
		mochi.WithProgress(progressLogger(g)),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	ms, err := c.LoadManifest(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range ms {
		res, err := c.Sync(ctx, m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		g.logger.Info("sync finished", "app", m.AppName, "build", m.BuildVersion,
			"chunks", res.Download.Succeeded, "chunk_failures", res.Download.Failed(),
			"files", res.Reassemble.Succeeded, "file_failures", res.Reassemble.Failed())
		for _, f := range slices.Concat(res.Download.Failures, res.Reassemble.Failures) {
			g.logger.Warn("item failed", "app", m.AppName, "error", f.Err)
		}
		errs = append(errs, res.Err())
	}
	return errors.Join(errs...)
}

// progressLogger logs stage progress at most every tenth of the way.
func progressLogger(g *globals) mochi.ProgressFunc {
	last := map[mochi.ProgressStage]int{}
	return func(ev mochi.ProgressEvent) {
		step := int(ev.Ratio() * 10)
		if prev, ok := last[ev.Stage]; ok && prev == step && ev.Done != ev.Total {
			return
		}
		last[ev.Stage] = step
		g.logger.Info(ev.Stage.String(), "app", ev.App, "done", ev.Done, "failed", ev.Failed, "total", ev.Total)
	}
}

func runArchive(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet("archive")
	method := fs.String("method", archive.Deflate.String(), "compression: store, deflate or zstd")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1); err != nil {
		return err
	}
	m, err := archive.ParseMethod(*method)
	if err != nil {
		return err
	}

	c, err := g.newClient(mochi.WithArchiveMethod(m))
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Archive(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s\t%d files\t%d bytes\t%s\n", res.Path, res.Files, res.Size, res.Digest)
	return nil
}

// registryFlags are shared by publish and process.
type registryFlags struct {
	plainHTTP    bool
	dockerConfig bool
}

func (r *registryFlags) register(fs *flag.FlagSet) {
	fs.BoolVar(&r.plainHTTP, "plain-http", false, "talk to the registry over HTTP")
	fs.BoolVar(&r.dockerConfig, "docker-config", true, "use docker credentials")
}

func (r *registryFlags) option() mochi.Option {
	opts := []registry.Option{registry.WithPlainHTTP(r.plainHTTP)}
	if r.dockerConfig {
		opts = append(opts, registry.WithDockerConfig())
	}
	return mochi.WithRegistryOptions(opts...)
}

func runPublish(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet("publish")
	var tags listFlag
	fs.Var(&tags, "tag", "additional tag (repeatable)")
	var rf registryFlags
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 2); err != nil {
		return err
	}

	c, err := g.newClient(rf.option())
	if err != nil {
		return err
	}
	defer c.Close()

	desc, err := c.Publish(ctx, fs.Arg(0), fs.Arg(1), registry.WithTags(tags...))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, desc.Digest)
	return nil
}

func runProcess(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet("process")
	var rf registryFlags
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 2); err != nil {
		return err
	}

	c, err := g.newClient(rf.option(), mochi.WithPurgeChunks(true), mochi.WithProgress(progressLogger(g)))
	if err != nil {
		return err
	}
	defer c.Close()

	ms, err := c.LoadManifest(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if len(ms) != 1 {
		return fmt.Errorf("process: %q matches %d manifests; name one build", fs.Arg(0), len(ms))
	}
	_, desc, err := c.Process(ctx, ms[0], fs.Arg(1))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, desc.Digest)
	return nil
}

func runClean(_ context.Context, g *globals, args []string) error {
	fs := newFlagSet("clean")
	chunks := fs.Bool("chunks", false, "also delete cached chunks")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1); err != nil {
		return err
	}

	c, err := g.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	var opts []mochi.CleanOption
	if *chunks {
		opts = append(opts, mochi.WithCleanChunks())
	}
	return c.Clean(fs.Arg(0), opts...)
}

func runList(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet("list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := g.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	recs, err := c.Catalog().List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "APP\tBUILD\tCATALOG ITEM\tFILE\tFETCHED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.AppName, r.BuildVersion, r.CatalogItemID, r.FileName, r.FetchedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runStatus(_ context.Context, g *globals, args []string) error {
	fs := newFlagSet("status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sink := status.NewFileSink(mochi.Layout{Root: g.dataDir}.StatusDir())

	var out any
	switch fs.NArg() {
	case 0:
		all, err := sink.ReadAll()
		if err != nil {
			return err
		}
		out = all
	case 1:
		st, err := sink.Read(fs.Arg(0))
		if err != nil {
			return err
		}
		out = st
	default:
		fs.Usage()
		return errors.New("status: at most one app")
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
