package model

import "errors"

var (
	// ErrDependencyUnavailable is returned when a required backend is not configured or unreachable.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrEmbeddingFailure is returned when the embedding model fails or returns no vectors.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrIngestionStep marks a failure that aborted an ingestion job.
	ErrIngestionStep = errors.New("ingestion step failure")
	// ErrJobNotFound is returned for unknown or evicted job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrDimensionMismatch is returned when a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)
