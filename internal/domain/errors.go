package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.
// Infrastructure wraps its causes with these kinds: fmt.Errorf("%w: %w", kind, err).

var (
	// Storage errors
	ErrStorageUnavailable = errors.New("conversation store unavailable")
	ErrStorageWriteFailed = errors.New("conversation store write failed")
	ErrStorageCorrupt     = errors.New("conversation store entry is not valid text")

	// Model errors
	ErrModelNotFound         = errors.New("model not found")
	ErrModelResolutionFailed = errors.New("model resolution failed")
	ErrModelLoadFailed       = errors.New("model load failed")
	ErrModelCorrupted        = errors.New("model integrity check failed")
	ErrModelTooLarge         = errors.New("insufficient storage for model")
	ErrInvalidCatalog        = errors.New("invalid model catalog")

	// Inference errors
	ErrNoModelLoaded = errors.New("no model loaded")
	ErrInferenceBusy = errors.New("an inference run is already in progress")

	// Download errors
	ErrDownloadFailed = errors.New("model download failed")

	// Concurrency errors
	ErrLockUnavailable = errors.New("state lock unavailable")
)
