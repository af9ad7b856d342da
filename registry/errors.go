package registry

import (
	"errors"

	"github.com/meigma/mochi/internal/mochitype"
)

// Sentinel errors for registry operations.
var (
	// ErrNotFound is returned when a blob, manifest or tag does not exist.
	// It is the same value as mochi.ErrNotFound.
	ErrNotFound = mochitype.ErrNotFound

	// ErrInvalidReference is returned when a reference string is malformed.
	ErrInvalidReference = errors.New("registry: invalid reference")

	// ErrInvalidDescriptor is returned when a descriptor is nil or has invalid fields.
	ErrInvalidDescriptor = errors.New("registry: invalid descriptor")

	// ErrUnauthorized is returned when authentication fails.
	ErrUnauthorized = errors.New("registry: unauthorized")

	// ErrForbidden is returned when access is denied.
	ErrForbidden = errors.New("registry: forbidden")
)
