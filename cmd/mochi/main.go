// Command mochi fetches build manifests, downloads their chunks and
// rebuilds the files they describe.
//
// Usage:
//
//	mochi [global flags] <command> [flags] [args]
//
// Commands:
//
//	decode    print a manifest file summary or its legacy JSON form
//	fetch     fetch a manifest from one or more distribution points
//	artifact  fetch every manifest of an artifact API item
//	download  sync the manifests matching an identifier
//	archive   zip an app's rebuilt files
//	publish   push an app's archive to an OCI registry
//	process   sync, archive, publish and clean in one go
//	clean     remove an app's rebuilt files and archive
//	list      print the manifest catalog
//	status    print pipeline status documents
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meigma/mochi"
)

type globals struct {
	dataDir     string
	verbose     bool
	concurrency int
	metricsAddr string
	userAgent   string
	logger      *slog.Logger
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, g *globals, args []string) error
}

var commands = []command{
	{"decode", "decode [-json] <file>", runDecode},
	{"fetch", "fetch -url URL [-url URL...] [-catalog-item ID]", runFetch},
	{"artifact", "artifact -artifact ID -namespace NS -item ID", runArtifact},
	{"download", "download [-verify] [-purge] <identifier>", runDownload},
	{"archive", "archive [-method deflate|store|zstd] <app>", runArchive},
	{"publish", "publish [-tag T...] [-plain-http] [-docker-config] <app> <ref>", runPublish},
	{"process", "process [-plain-http] [-docker-config] <identifier> <ref>", runProcess},
	{"clean", "clean [-chunks] <app>", runClean},
	{"list", "list", runList},
	{"status", "status [app]", runStatus},
}

func main() {
	os.Exit(run())
}

func run() int {
	g := &globals{}
	fs := flag.NewFlagSet("mochi", flag.ContinueOnError)
	fs.StringVar(&g.dataDir, "data", envOr("MOCHI_DATA_DIR", mochi.DefaultDataDir), "data directory (env MOCHI_DATA_DIR)")
	fs.BoolVar(&g.verbose, "v", false, "verbose logging")
	fs.IntVar(&g.concurrency, "concurrency", mochi.DefaultChunkConcurrency, "concurrent chunk downloads")
	fs.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	fs.StringVar(&g.userAgent, "user-agent", "", "override the manifest and chunk User-Agent")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}

	level := slog.LevelInfo
	if g.verbose {
		level = slog.LevelDebug
	}
	g.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if fs.NArg() == 0 {
		usage(fs)
		return 2
	}
	name, args := fs.Arg(0), fs.Args()[1:]
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := cmd.run(ctx, g, args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return 2
			}
			g.logger.Error(name+" failed", "error", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(os.Stderr, "mochi: unknown command %q\n", name)
	usage(fs)
	return 2
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: mochi [global flags] <command> [flags] [args]")
	fmt.Fprintln(os.Stderr, "\ncommands:")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", cmd.usage)
	}
	fmt.Fprintln(os.Stderr, "\nglobal flags:")
	fs.PrintDefaults()
}

// newClient builds a client from the global flags plus extra options.
func (g *globals) newClient(opts ...mochi.Option) (*mochi.Client, error) {
	all := []mochi.Option{
		mochi.WithDataDir(g.dataDir),
		mochi.WithChunkConcurrency(max(g.concurrency, 1)),
		mochi.WithLogger(g.logger),
		mochi.WithAuthFile(mochi.Layout{Root: g.dataDir}.AuthPath()),
	}
	if g.userAgent != "" {
		all = append(all, mochi.WithUserAgent(g.userAgent))
	}
	if g.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		all = append(all, mochi.WithMetrics(reg))
		g.serveMetrics(reg)
	}
	return mochi.NewClient(append(all, opts...)...)
}

func (g *globals) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: g.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		g.logger.Info("metrics listening", "addr", g.metricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Warn("metrics server stopped", "error", err)
		}
	}()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
