package chunk

import "github.com/meigma/mochi/internal/mochitype"

// Errors re-exported from mochitype.
var (
	// ErrChunkDownload is returned when a chunk GET fails.
	ErrChunkDownload = mochitype.ErrChunkDownload

	// ErrChunkDecode is returned when a cached chunk cannot be decoded.
	ErrChunkDecode = mochitype.ErrChunkDecode

	// ErrMissingChunk is returned when a GUID is not in the chunk table.
	ErrMissingChunk = mochitype.ErrMissingChunk

	// ErrHashMismatch is returned when verification is enabled and a
	// payload does not match its recorded SHA-1.
	ErrHashMismatch = mochitype.ErrHashMismatch

	// ErrNotFound is returned when a chunk is not in the cache.
	ErrNotFound = mochitype.ErrNotFound
)
