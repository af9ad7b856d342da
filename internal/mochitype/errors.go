// Package mochitype holds the types and sentinel errors shared between the
// public mochi packages so that none of them has to import another.
package mochitype

import "errors"

// Sentinel errors for manifest and chunk operations.
var (
	// ErrMalformedManifest is returned when a manifest buffer is truncated,
	// carries an undecodable compressed stream, or fails structural checks.
	ErrMalformedManifest = errors.New("mochi: malformed manifest")

	// ErrChunkDownload is returned when a chunk GET fails at the network
	// level or answers with a non-2xx status.
	ErrChunkDownload = errors.New("mochi: chunk download failed")

	// ErrChunkDecode is returned when a cached chunk cannot be inflated or
	// its storage mode is not supported.
	ErrChunkDecode = errors.New("mochi: chunk decode failed")

	// ErrReassemblyBounds is returned when a chunk part would read or write
	// outside its source payload or its output buffer.
	ErrReassemblyBounds = errors.New("mochi: chunk part out of bounds")

	// ErrMissingChunk is returned when a file references a chunk GUID that
	// the manifest's chunk table does not list.
	ErrMissingChunk = errors.New("mochi: chunk not listed in manifest")

	// ErrInvalidPath is returned when a manifest filename escapes the
	// output root or is otherwise not a valid relative path.
	ErrInvalidPath = errors.New("mochi: invalid path")

	// ErrHashMismatch is returned when digest verification is enabled and
	// content does not match the digest recorded in the manifest.
	ErrHashMismatch = errors.New("mochi: hash verification failed")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("mochi: size overflow")

	// ErrNoDistributionPoint is returned when every manifest URL failed.
	ErrNoDistributionPoint = errors.New("mochi: no distribution point succeeded")

	// ErrNotFound is returned when a manifest, record or cached entry does
	// not exist.
	ErrNotFound = errors.New("mochi: not found")

	// ErrCredentialsExpired is returned when an authenticated call is made
	// with credentials whose access token has expired.
	ErrCredentialsExpired = errors.New("mochi: credentials expired")

	// ErrCacheFull is returned when the chunk cache cannot make room for an
	// entry without evicting chunks that are still needed.
	ErrCacheFull = errors.New("mochi: chunk cache full")

	// ErrCanceled is recorded for work items that were never attempted
	// because the context ended first.
	ErrCanceled = errors.New("mochi: canceled before start")
)
