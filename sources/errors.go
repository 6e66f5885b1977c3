package sources

import "errors"

var (
	// ErrInvalidSource marks a source that fails validation (missing URL,
	// priority out of range).
	ErrInvalidSource = errors.New("sources: invalid source")

	// ErrDuplicateSource marks an insert whose URL is already registered.
	ErrDuplicateSource = errors.New("sources: duplicate source url")

	// ErrNotFound marks operations against a source ID that does not exist.
	ErrNotFound = errors.New("sources: source not found")
)
