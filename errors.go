package mochi

import (
	"github.com/meigma/mochi/internal/mochitype"
	"github.com/meigma/mochi/registry"
)

// Errors re-exported from mochitype.
var (
	// ErrMalformedManifest is returned when a manifest cannot be decoded.
	ErrMalformedManifest = mochitype.ErrMalformedManifest

	// ErrChunkDownload is returned when a chunk cannot be fetched or cached.
	ErrChunkDownload = mochitype.ErrChunkDownload

	// ErrChunkDecode is returned when a cached chunk cannot be decoded.
	ErrChunkDecode = mochitype.ErrChunkDecode

	// ErrReassemblyBounds is returned when a chunk part falls outside its
	// chunk or its file.
	ErrReassemblyBounds = mochitype.ErrReassemblyBounds

	// ErrMissingChunk is returned when a file references an unlisted chunk.
	ErrMissingChunk = mochitype.ErrMissingChunk

	// ErrInvalidPath is returned for file or app names that escape their root.
	ErrInvalidPath = mochitype.ErrInvalidPath

	// ErrHashMismatch is returned when hash verification is enabled and
	// content does not match.
	ErrHashMismatch = mochitype.ErrHashMismatch

	// ErrSizeOverflow is returned when sizes exceed supported limits.
	ErrSizeOverflow = mochitype.ErrSizeOverflow

	// ErrNoDistributionPoint is returned when every manifest URL failed.
	ErrNoDistributionPoint = mochitype.ErrNoDistributionPoint

	// ErrNotFound is returned when a manifest or cached entry is missing.
	ErrNotFound = mochitype.ErrNotFound

	// ErrCredentialsExpired is returned when stored credentials are stale.
	ErrCredentialsExpired = mochitype.ErrCredentialsExpired

	// ErrCacheFull is returned when the chunk cache limit is too small for
	// the chunks of an app being synced.
	ErrCacheFull = mochitype.ErrCacheFull

	// ErrCanceled is recorded for work items never attempted.
	ErrCanceled = mochitype.ErrCanceled
)

// Errors re-exported from registry.
var (
	// ErrInvalidReference is returned when a registry reference is malformed.
	ErrInvalidReference = registry.ErrInvalidReference

	// ErrUnauthorized is returned when the registry rejects credentials.
	ErrUnauthorized = registry.ErrUnauthorized
)
