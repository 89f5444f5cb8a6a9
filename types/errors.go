package types

import (
	"errors"
	"fmt"
)

// Lifecycle errors. Callers distinguish these with errors.Is so that, e.g.,
// idempotent-stop tooling can treat ErrNotRunning as success.
var (
	ErrNotFound       = errors.New("VM not found")
	ErrNotInitialized = errors.New("VM not initialized")
	ErrAlreadyExists  = errors.New("VM already exists")
	ErrAlreadyRunning = errors.New("VM already running")
	ErrNotRunning     = errors.New("VM not running")
	ErrNotStopped     = errors.New("VM could not be stopped")

	ErrResizeTooSmall           = errors.New("disk size can only grow")
	ErrInvalidDisplayResolution = errors.New("invalid display resolution, expected WIDTHxHEIGHT like 1024x768")

	ErrLocationNotFound = errors.New("storage location not found")
)

// Registry errors.
var (
	ErrInvalidImageFormat = errors.New("invalid image reference, expected image:tag")
	ErrTokenFetch         = errors.New("failed to fetch registry token")
	ErrManifestFetch      = errors.New("failed to fetch manifest")
	ErrDecompression      = errors.New("layer decompression failed")
)

// ValidationError is a parameter-level failure raised before any mutation.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// LayerDownloadError reports a layer download that failed after all retries.
type LayerDownloadError struct {
	Digest string
	Err    error
}

func (e *LayerDownloadError) Error() string {
	return fmt.Sprintf("download layer %s: %v", e.Digest, e.Err)
}

func (e *LayerDownloadError) Unwrap() error { return e.Err }

// MissingPartError reports a split-layer fragment absent during reassembly.
type MissingPartError struct {
	Part  int
	Total int
}

func (e *MissingPartError) Error() string {
	return fmt.Sprintf("missing disk part %d of %d", e.Part, e.Total)
}

// SizeMismatchError reports a reassembled disk whose size does not match the
// sum of the declared part sizes. Treated as fatal: a truncated disk image
// must never be silently accepted.
type SizeMismatchError struct {
	Got  int64
	Want int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("reassembled disk size %d does not match declared %d", e.Got, e.Want)
}
