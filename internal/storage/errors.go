package storage

import "errors"

// Storage errors for the success library.
var (
	// ErrNotFound is returned when a requested story does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input validation fails, e.g. an
	// empty token address or a SUCCESS finalize without time-to-peak.
	// Never retried: the caller sent bad data.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when finalizing a story that is
	// missing or already terminal. Terminal outcomes never revert.
	ErrInvalidTransition = errors.New("invalid outcome transition")

	// ErrUnavailable is returned when durable storage is unreachable.
	// Ingestion-side callers retry with backoff; the blacklist decision
	// path handles it per its fail-open policy instead.
	ErrUnavailable = errors.New("store unavailable")
)
