package backup

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one stored artifact object
type ObjectInfo struct {
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Backend persists and retrieves artifact byte streams by key.
//
// Put is atomic from the caller's perspective: it either fully succeeds and
// the object is readable thereafter, or it fails and leaves no readable
// partial object at that key. List may lag a just-completed Put on
// object-store implementations; callers reconcile against the manifest
// rather than trusting a listing.
type Backend interface {
	// Put writes the stream under key and returns the stored size once the
	// write is durable
	Put(ctx context.Context, key string, r io.Reader) (int64, error)

	// Get opens the object at key for reading
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns objects whose keys start with prefix
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes the object at key. Deleting a missing key is an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is present at key
	Exists(ctx context.Context, key string) (bool, error)

	// Type returns the provider type
	Type() StorageProviderType

	// HealthCheck verifies the backend is accessible and writable
	HealthCheck(ctx context.Context) error
}
