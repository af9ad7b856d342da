package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/errcode"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// orasClient implements OCIClient on top of oras-go.
type orasClient struct {
	plainHTTP  bool
	authClient *auth.Client
}

func newORASClient(plainHTTP bool, userAgent string, store credentials.Store) *orasClient {
	return &orasClient{
		plainHTTP: plainHTTP,
		authClient: &auth.Client{
			Client: retry.DefaultClient,
			Cache:  auth.NewCache(),
			Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
				if store == nil {
					return auth.EmptyCredential, nil
				}
				return store.Get(ctx, hostport)
			},
			Header: http.Header{
				"User-Agent": []string{userAgent},
			},
		},
	}
}

// repository opens repoRef through the shared auth client so bearer
// tokens are reused between the blob and manifest pushes of one publish.
func (c *orasClient) repository(ref string) (*remote.Repository, error) {
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidReference, ref, err)
	}
	repo.PlainHTTP = c.plainHTTP
	repo.Client = c.authClient
	return repo, nil
}

func (c *orasClient) PushBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor, r io.Reader) error {
	if err := validateDescriptor(desc); err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: content reader is nil", ErrInvalidDescriptor)
	}
	repo, err := c.repository(repoRef)
	if err != nil {
		return err
	}

	// Republishing an unchanged build hits this path for every blob.
	exists, err := repo.Blobs().Exists(ctx, *desc)
	if err == nil && exists {
		return nil
	}
	if err := repo.Push(ctx, *desc, r); err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
		return mapError(err)
	}
	return nil
}

func (c *orasClient) PushManifest(ctx context.Context, repoRef, tag string, manifest *ocispec.Manifest) (ocispec.Descriptor, error) {
	if manifest == nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: manifest is nil", ErrInvalidDescriptor)
	}
	repo, err := c.repository(repoRef)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("registry: encode manifest: %w", err)
	}
	desc := ocispec.Descriptor{
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: manifest.ArtifactType,
		Digest:       digest.FromBytes(manifestJSON),
		Size:         int64(len(manifestJSON)),
	}
	if err := repo.PushReference(ctx, desc, bytes.NewReader(manifestJSON), tag); err != nil {
		return ocispec.Descriptor{}, mapError(err)
	}
	return desc, nil
}

func (c *orasClient) Tag(ctx context.Context, repoRef string, desc *ocispec.Descriptor, tag string) error {
	if err := validateDescriptor(desc); err != nil {
		return err
	}
	repo, err := c.repository(repoRef)
	if err != nil {
		return err
	}
	if err := repo.Tag(ctx, *desc, tag); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *orasClient) Resolve(ctx context.Context, repoRef, ref string) (ocispec.Descriptor, error) {
	repo, err := c.repository(repoRef)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc, err := repo.Resolve(ctx, ref)
	if err != nil {
		return ocispec.Descriptor{}, mapError(err)
	}
	return desc, nil
}

func validateDescriptor(desc *ocispec.Descriptor) error {
	switch {
	case desc == nil:
		return fmt.Errorf("%w: nil descriptor", ErrInvalidDescriptor)
	case desc.Size < 0:
		return fmt.Errorf("%w: size %d", ErrInvalidDescriptor, desc.Size)
	}
	if err := desc.Digest.Validate(); err != nil {
		return fmt.Errorf("%w: digest %q: %v", ErrInvalidDescriptor, desc.Digest, err)
	}
	return nil
}

// statusErrors maps registry HTTP status codes to package sentinels.
var statusErrors = map[int]error{
	http.StatusNotFound:     ErrNotFound,
	http.StatusUnauthorized: ErrUnauthorized,
	http.StatusForbidden:    ErrForbidden,
}

// mapError wraps oras errors with the matching sentinel so callers can
// use errors.Is without importing oras.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errdef.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var resp *errcode.ErrorResponse
	if errors.As(err, &resp) {
		if sentinel, ok := statusErrors[resp.StatusCode]; ok {
			return fmt.Errorf("%w: %v", sentinel, err)
		}
	}
	return err
}
