// Package storage defines the persistence interface for the fingerprint cache.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no cached fingerprint exists for the requested key.
var ErrNotFound = errors.New("fingerprint not found")

// Fingerprint is one cached image fingerprint, keyed by project and image
// identifier. Checksum is the SHA-256 hex digest of the image bytes the
// vector was computed from, so a changed file invalidates its cache entry.
type Fingerprint struct {
	Project    string
	Identifier string
	Checksum   string
	Dimensions int
	Vector     []float32
	CreatedAt  time.Time
}

// Store defines fingerprint cache persistence operations.
type Store interface {
	// Put inserts or replaces the fingerprint for (project, identifier).
	Put(ctx context.Context, fp *Fingerprint) error
	// Get returns the cached fingerprint, or ErrNotFound.
	Get(ctx context.Context, project, identifier string) (*Fingerprint, error)
	// Delete removes one fingerprint. Deleting an absent key is a no-op.
	Delete(ctx context.Context, project, identifier string) error
	// DeleteProject removes every fingerprint for a project and returns the
	// number removed.
	DeleteProject(ctx context.Context, project string) (int64, error)
	// ListProject returns all fingerprints for a project ordered by identifier.
	ListProject(ctx context.Context, project string) ([]*Fingerprint, error)

	// Count returns the total number of cached fingerprints.
	Count(ctx context.Context) (int64, error)
	// CountProject returns the number of cached fingerprints for a project.
	CountProject(ctx context.Context, project string) (int64, error)

	Close() error
}
