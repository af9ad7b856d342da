// Package archive packages a reassembled app directory as a ZIP file.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/mochi/internal/mochitype"
	"github.com/meigma/mochi/internal/pathutil"
)

var (
	ErrInvalidPath = mochitype.ErrInvalidPath
	ErrNotFound    = mochitype.ErrNotFound
)

// Method is a ZIP compression method.
type Method uint16

// Supported methods.
const (
	Store   Method = Method(zip.Store)
	Deflate Method = Method(zip.Deflate)
	Zstd    Method = Method(zstd.ZipMethodWinZip)
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case Store:
		return "store"
	case Deflate:
		return "deflate"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("method(%d)", uint16(m))
	}
}

// ParseMethod parses a method name as accepted by String.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "store", "none":
		return Store, nil
	case "deflate", "":
		return Deflate, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("archive: unknown method %q", s)
	}
}

// SkipCompressionFunc returns true when a file should be stored
// uncompressed.
type SkipCompressionFunc func(path string, info fs.FileInfo) bool

// DefaultSkipCompression skips files smaller than minSize and files with
// extensions of already-compressed formats.
func DefaultSkipCompression(minSize int64) SkipCompressionFunc {
	return func(p string, info fs.FileInfo) bool {
		if info != nil && minSize > 0 && info.Size() < minSize {
			return true
		}
		_, ok := compressedExts[strings.ToLower(filepath.Ext(p))]
		return ok
	}
}

// Result describes a written archive.
type Result struct {
	Path   string
	Files  int
	Bytes  uint64
	Size   int64
	Digest digest.Digest
}

// Archiver writes ZIP archives.
type Archiver struct {
	method Method
	skip   []SkipCompressionFunc
	logger *slog.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithMethod sets the compression method. The default is Deflate.
func WithMethod(m Method) Option {
	return func(a *Archiver) {
		a.method = m
	}
}

// WithSkipCompression adds predicates that store matching files
// uncompressed.
func WithSkipCompression(fns ...SkipCompressionFunc) Option {
	return func(a *Archiver) {
		a.skip = append(a.skip, fns...)
	}
}

// WithLogger sets the logger for archive creation.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archiver) {
		a.logger = logger
	}
}

// New creates an Archiver.
func New(opts ...Option) *Archiver {
	a := &Archiver{method: Deflate}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Archiver) log() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Create walks {srcRoot}/{app} and writes every regular file to dest as a
// ZIP entry named {app}/{relative path}. Entries are written in lexical
// order. Symbolic links are skipped. dest is replaced atomically.
func (a *Archiver) Create(ctx context.Context, srcRoot, app, dest string) (Result, error) {
	if !pathutil.ValidElem(app) {
		return Result{}, fmt.Errorf("archive: app %q: %w", app, ErrInvalidPath)
	}
	root, err := os.OpenRoot(filepath.Join(srcRoot, app))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("archive: %s: %w", app, ErrNotFound)
		}
		return Result{}, fmt.Errorf("archive: %w", err)
	}
	defer root.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return Result{}, fmt.Errorf("archive: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".archive-*")
	if err != nil {
		return Result{}, fmt.Errorf("archive: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()        //nolint:errcheck // best-effort cleanup
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
	}

	digester := digest.Canonical.Digester()
	counter := &countingWriter{w: io.MultiWriter(tmp, digester.Hash())}
	res, err := a.write(ctx, root, app, counter)
	if err != nil {
		cleanup()
		return Result{}, fmt.Errorf("archive: %s: %w", app, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return Result{}, fmt.Errorf("archive: close: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return Result{}, fmt.Errorf("archive: rename: %w", err)
	}

	res.Path = dest
	res.Size = counter.n
	res.Digest = digester.Digest()
	a.log().Info("archive created", "app", app, "path", dest, "files", res.Files, "size", res.Size, "method", a.method)
	return res, nil
}

func (a *Archiver) write(ctx context.Context, root *os.Root, app string, w io.Writer) (Result, error) {
	zw := zip.NewWriter(w)
	if a.method == Zstd {
		zw.RegisterCompressor(uint16(Zstd), zstd.ZipCompressor(zstd.WithEncoderConcurrency(1)))
	}

	var res Result
	buf := make([]byte, 32*1024)
	err := fs.WalkDir(root.FS(), ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		n, err := a.writeEntry(ctx, zw, root, app, p, buf)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		res.Files++
		res.Bytes += n
		return nil
	})
	if err != nil {
		_ = zw.Close() //nolint:errcheck // archive is discarded
		return Result{}, err
	}
	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("finish zip: %w", err)
	}
	return res, nil
}

func (a *Archiver) writeEntry(ctx context.Context, zw *zip.Writer, root *os.Root, app, p string, buf []byte) (uint64, error) {
	f, err := root.Open(filepath.FromSlash(p))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, err
	}
	hdr.Name = path.Join(app, p)
	hdr.Method = uint16(a.method)
	if a.method != Store && a.shouldSkipCompression(p, info) {
		hdr.Method = zip.Store
	}

	ew, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, err
	}
	return copyWithContext(ctx, ew, f, buf)
}

func (a *Archiver) shouldSkipCompression(p string, info fs.FileInfo) bool {
	for _, fn := range a.skip {
		if fn != nil && fn(p, info) {
			return true
		}
	}
	return false
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// copyWithContext copies src to dst, checking ctx between reads.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (uint64, error) {
	var written uint64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			if nw > 0 {
				written += uint64(nw) //nolint:gosec // nw is non-negative by io.Writer contract
			}
			if ew != nil {
				return written, ew
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if er != nil {
			if er == io.EOF {
				return written, nil
			}
			return written, er
		}
	}
}

var compressedExts = map[string]struct{}{
	".7z":   {},
	".bz2":  {},
	".gz":   {},
	".jpeg": {},
	".jpg":  {},
	".mp3":  {},
	".mp4":  {},
	".ogg":  {},
	".pak":  {},
	".png":  {},
	".rar":  {},
	".ucas": {},
	".webm": {},
	".webp": {},
	".xz":   {},
	".zip":  {},
	".zst":  {},
}
