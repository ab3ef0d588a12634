package breakpoint

import "errors"

// Errors for breakpoint persistence.
var (
	// ErrNoPersistPath is returned when saving or loading without a path.
	ErrNoPersistPath = errors.New("breakpoint persist path not set")

	// ErrUnsupportedVersion is returned for files written by a newer version.
	ErrUnsupportedVersion = errors.New("unsupported breakpoint file version")
)
