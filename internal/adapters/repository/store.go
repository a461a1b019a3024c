// Package repository persists session records.
package repository

import (
	"context"

	"github.com/okian/sitwell/internal/domain/model"
)

// Store provides read/write access to session records.
type Store interface {
	// Save upserts rec unless it would regress the stored record: snapshots
	// with fewer frames, and non-final snapshots of a finalized session, are
	// ignored. Returns true if rec was stored.
	Save(ctx context.Context, rec model.SessionRecord) (bool, error)

	// Get returns the record with id, or ErrNotFound.
	Get(ctx context.Context, id string) (model.SessionRecord, error)

	// List returns records ordered by start time, newest first. A non-positive
	// limit returns every record after offset.
	List(ctx context.Context, limit, offset int) ([]model.SessionRecord, error)

	// Delete removes the record with id, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) int

	// Close releases the store's resources.
	Close() error
}

// Supersedes reports whether next may replace prev.
func Supersedes(prev, next model.SessionRecord) bool {
	if prev.Finalized && !next.Finalized {
		return false
	}
	return next.TotalFrames >= prev.TotalFrames
}
