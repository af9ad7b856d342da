package registry

import (
	"context"
	"io"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// OCIClient is the registry surface a Publisher needs: upload the archive
// and config blobs, write the manifest under a tag, and look tags up again.
// Tests swap in an in-memory implementation.
type OCIClient interface {
	// PushBlob uploads r as the blob described by desc. Digest and size
	// must already be set.
	PushBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor, r io.Reader) error
	PushManifest(ctx context.Context, repoRef, tag string, manifest *ocispec.Manifest) (ocispec.Descriptor, error)
	Tag(ctx context.Context, repoRef string, desc *ocispec.Descriptor, tag string) error
	Resolve(ctx context.Context, repoRef, ref string) (ocispec.Descriptor, error)
}
