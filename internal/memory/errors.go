package memory

import "errors"

// Sentinel errors surfaced to collaborators. Callers test with errors.Is.
var (
	// ErrNotFound is returned when a record id is unknown or archived.
	ErrNotFound = errors.New("memory not found")
	// ErrInvalidInput rejects malformed ingestion input before scoring.
	ErrInvalidInput = errors.New("invalid ingestion input")
	// ErrPersistence wraps durable-store failures after retry exhaustion.
	ErrPersistence = errors.New("persistence failure")
)
