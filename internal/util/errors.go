package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingDestination is returned when a run is started without a destination root
	ErrMissingDestination = errors.New("destination directory is required")

	// ErrMissingSource is returned when a run is started without any source directory
	ErrMissingSource = errors.New("at least one source directory is required")

	// ErrServiceNotReady indicates the classification service never reported ready
	ErrServiceNotReady = errors.New("classification service not ready")

	// ErrLocked indicates another process holds the state database lock
	ErrLocked = errors.New("state database is locked by another process")

	// ErrEmptyFile marks zero-byte files, which are never hashed
	ErrEmptyFile = errors.New("empty file")

	// ErrPermission indicates a permission error
	ErrPermission = errors.New("permission denied")

	// ErrDiskFull indicates insufficient disk space
	ErrDiskFull = errors.New("disk full")
)
