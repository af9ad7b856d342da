package manifest

import "github.com/meigma/mochi/internal/mochitype"

// Errors re-exported from mochitype.
var (
	// ErrMalformedManifest is returned for truncated or structurally invalid input.
	ErrMalformedManifest = mochitype.ErrMalformedManifest

	// ErrHashMismatch is returned when container verification is enabled and
	// the payload does not match the header digest.
	ErrHashMismatch = mochitype.ErrHashMismatch

	// ErrNotFound is returned when a chunk or cache file does not exist.
	ErrNotFound = mochitype.ErrNotFound
)
