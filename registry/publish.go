package registry

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"
	orasregistry "oras.land/oras-go/v2/registry"
)

// PublishOption configures a Publish operation.
type PublishOption func(*publishConfig)

type publishConfig struct {
	tags        []string
	annotations map[string]string
	digest      digest.Digest
	app         string
	build       string
	now         func() time.Time
}

// WithTags applies additional tags to the pushed manifest.
//
// The primary tag from the ref is always applied first.
func WithTags(tags ...string) PublishOption {
	return func(cfg *publishConfig) {
		cfg.tags = append(cfg.tags, tags...)
	}
}

// WithAnnotations sets custom manifest annotations.
//
// org.opencontainers.image.created and org.opencontainers.image.title are
// set automatically and can be overridden.
func WithAnnotations(annotations map[string]string) PublishOption {
	return func(cfg *publishConfig) {
		if cfg.annotations == nil {
			cfg.annotations = make(map[string]string, len(annotations))
		}
		maps.Copy(cfg.annotations, annotations)
	}
}

// WithDigest supplies the archive digest when it is already known,
// skipping a second read of the file.
func WithDigest(d digest.Digest) PublishOption {
	return func(cfg *publishConfig) {
		cfg.digest = d
	}
}

// WithApp records the application name on the manifest.
func WithApp(app string) PublishOption {
	return func(cfg *publishConfig) {
		cfg.app = app
	}
}

// WithBuild records the build version on the manifest.
func WithBuild(build string) PublishOption {
	return func(cfg *publishConfig) {
		cfg.build = build
	}
}

// withClock overrides the creation timestamp source.
func withClock(now func() time.Time) PublishOption {
	return func(cfg *publishConfig) {
		cfg.now = now
	}
}

// Publish pushes the ZIP archive at archivePath to ref.
//
// The archive becomes the single layer of an OCI artifact manifest with an
// empty config. The ref must include a tag (e.g. "registry.example/assets:v1").
func (p *Publisher) Publish(ctx context.Context, ref, archivePath string, opts ...PublishOption) (ocispec.Descriptor, error) {
	cfg := publishConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	tag, err := parseTag(ref)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	layer, err := layerDescriptor(archivePath, cfg.digest)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	p.log().Debug("publishing archive", "ref", ref, "digest", layer.Digest, "size", layer.Size)

	g, gctx := errgroup.WithContext(ctx)
	var configDesc ocispec.Descriptor
	g.Go(func() error {
		desc, pushErr := p.pushEmptyConfig(gctx, ref)
		if pushErr != nil {
			return fmt.Errorf("push config: %w", pushErr)
		}
		configDesc = desc
		return nil
	})
	g.Go(func() error {
		f, openErr := os.Open(archivePath)
		if openErr != nil {
			return fmt.Errorf("registry: open archive: %w", openErr)
		}
		defer f.Close() //nolint:errcheck // read-only file
		if pushErr := p.oci.PushBlob(gctx, ref, &layer, f); pushErr != nil {
			return fmt.Errorf("push archive blob: %w", mapError(pushErr))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return ocispec.Descriptor{}, err
	}

	manifest := buildManifest(&configDesc, &layer, &cfg)
	manifestDesc, err := p.oci.PushManifest(ctx, ref, tag, &manifest)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("push manifest: %w", mapError(err))
	}

	for _, extra := range cfg.tags {
		if tagErr := p.oci.Tag(ctx, ref, &manifestDesc, extra); tagErr != nil {
			return ocispec.Descriptor{}, fmt.Errorf("tag %q: %w", extra, mapError(tagErr))
		}
	}

	p.log().Info("archive published", "ref", ref, "manifest", manifestDesc.Digest, "tags", len(cfg.tags)+1)
	return manifestDesc, nil
}

// Resolve returns the manifest descriptor ref currently points to.
func (p *Publisher) Resolve(ctx context.Context, ref string) (ocispec.Descriptor, error) {
	parsed, err := orasregistry.ParseReference(ref)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %q: %v", ErrInvalidReference, ref, err)
	}
	if parsed.Reference == "" {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %q has no tag or digest", ErrInvalidReference, ref)
	}
	desc, err := p.oci.Resolve(ctx, ref, parsed.Reference)
	if err != nil {
		return ocispec.Descriptor{}, mapError(err)
	}
	return desc, nil
}

// parseTag returns the tag portion of ref, rejecting digest references.
func parseTag(ref string) (string, error) {
	parsed, err := orasregistry.ParseReference(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidReference, ref, err)
	}
	if parsed.Reference == "" {
		return "", fmt.Errorf("%w: reference must include a tag", ErrInvalidReference)
	}
	if _, err := parsed.Digest(); err == nil {
		return "", fmt.Errorf("%w: reference must include a tag, not a digest", ErrInvalidReference)
	}
	return parsed.Reference, nil
}

// layerDescriptor builds the archive layer descriptor, hashing the file
// when no digest was supplied.
func layerDescriptor(archivePath string, known digest.Digest) (ocispec.Descriptor, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("registry: stat archive: %w", err)
	}
	if !info.Mode().IsRegular() {
		return ocispec.Descriptor{}, fmt.Errorf("registry: %s is not a regular file", archivePath)
	}

	d := known
	if d == "" {
		f, err := os.Open(archivePath)
		if err != nil {
			return ocispec.Descriptor{}, fmt.Errorf("registry: open archive: %w", err)
		}
		defer f.Close() //nolint:errcheck // read-only file
		d, err = digest.Canonical.FromReader(f)
		if err != nil {
			return ocispec.Descriptor{}, fmt.Errorf("registry: digest archive: %w", err)
		}
	} else if err := d.Validate(); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	return ocispec.Descriptor{
		MediaType: MediaTypeArchive,
		Digest:    d,
		Size:      info.Size(),
		Annotations: map[string]string{
			ocispec.AnnotationTitle: filepath.Base(archivePath),
		},
	}, nil
}

// pushEmptyConfig pushes the empty JSON config blob required by OCI manifests.
func (p *Publisher) pushEmptyConfig(ctx context.Context, ref string) (ocispec.Descriptor, error) {
	config := []byte("{}")
	desc := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeEmptyJSON,
		Digest:    digest.FromBytes(config),
		Size:      int64(len(config)),
	}
	if err := p.oci.PushBlob(ctx, ref, &desc, bytes.NewReader(config)); err != nil {
		return ocispec.Descriptor{}, mapError(err)
	}
	return desc, nil
}

// buildManifest creates an OCI manifest for a packaged archive.
func buildManifest(configDesc, layer *ocispec.Descriptor, cfg *publishConfig) ocispec.Manifest {
	annotations := map[string]string{
		ocispec.AnnotationTitle: layer.Annotations[ocispec.AnnotationTitle],
	}
	if cfg.app != "" {
		annotations[AnnotationApp] = cfg.app
	}
	if cfg.build != "" {
		annotations[AnnotationBuild] = cfg.build
	}
	maps.Copy(annotations, cfg.annotations)
	if _, ok := annotations[ocispec.AnnotationCreated]; !ok {
		annotations[ocispec.AnnotationCreated] = cfg.now().UTC().Format(time.RFC3339)
	}

	return ocispec.Manifest{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: ArtifactType,
		Config:       *configDesc,
		Layers:       []ocispec.Descriptor{*layer},
		Annotations:  annotations,
	}
}
