package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no job exists for the requested id. Store
// implementations also fold backend unavailability into ErrNotFound: callers
// treat missing state as "cannot confirm" rather than crash.
var ErrNotFound = errors.New("transcode job not found")

// Store persists TranscodeJob records, one record per id. Implementations are
// passive: they never mutate a job except through Create and Update.
type Store interface {
	// Create allocates an id, derives the output locations from baseName,
	// and persists the job with status Pending.
	Create(ctx context.Context, sourcePath, baseName string) (TranscodeJob, error)
	// Get returns the job for id, or ErrNotFound.
	Get(ctx context.Context, id string) (TranscodeJob, error)
	// Update merges the provided fields and refreshes UpdatedAt. An unknown
	// id yields ErrNotFound without side effects.
	Update(ctx context.Context, id string, update JobUpdate) (TranscodeJob, error)
	// ListLatestByBaseName folds all persisted jobs into the most recently
	// created record per base name.
	ListLatestByBaseName(ctx context.Context) (map[string]TranscodeJob, error)
	Close(ctx context.Context) error
}
