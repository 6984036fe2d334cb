// Package idgen generates unique identifiers for jobs, batches, and lock
// tokens. IDs are UUIDv4 strings; uniqueness is delegated to google/uuid
// rather than hand-rolled.
package idgen

import "github.com/google/uuid"

// NewJobID returns a new unique job id.
func NewJobID() string {
	return uuid.New().String()
}

// NewBatchID returns a new unique batch id.
func NewBatchID() string {
	return uuid.New().String()
}

// NewToken returns a new unique opaque token, used for lock ownership.
func NewToken() string {
	return uuid.New().String()
}

// NewInstanceID returns a new unique instance id for a coordinator
// participant when the caller doesn't supply one explicitly.
func NewInstanceID() string {
	return "instance-" + uuid.New().String()
}
