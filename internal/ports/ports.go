package ports

import (
	"context"
	"time"

	"ImageSync/internal/domain"
)

// PendingFilter narrows what the catalog reader enumerates.
// KeyExists is consulted for items that already carry a reference: a
// reference whose key is gone from the object store is pending work, the
// same as having no reference at all.
type PendingFilter struct {
	Limit     int
	KeyExists func(storageKey string) bool
}

// Catalog is the source-of-truth store for items and their image references.
type Catalog interface {
	Ping(ctx context.Context) error
	// EnumeratePending also reports how many candidates were skipped
	// because their reference is already intact, so the run report can
	// account for every item the reader looked at.
	EnumeratePending(ctx context.Context, filter PendingFilter) (items []domain.Item, skippedValid int, err error)
	UpsertImageRefs(ctx context.Context, refs []domain.ImageRef) error
}

// ObjectStore is the durable, append-only artifact store.
type ObjectStore interface {
	// List returns every artifact under the prefix; used once per run to
	// seed the in-memory dedup index.
	List(ctx context.Context, prefix string) ([]domain.Artifact, error)
	Exists(ctx context.Context, storageKey string) (bool, error)
	// Put is idempotent: writing identical content to an existing key is a
	// no-op success, writing different content fails with ErrKeyConflict.
	Put(ctx context.Context, storageKey, contentHash, contentType string, body []byte) error
}

// LockManager hands out short-lived per-item locks backed by a shared store.
// Implementations must fail closed: a backend error on Acquire reports the
// lock as not acquired, never as held.
type LockManager interface {
	Ping(ctx context.Context) error
	Acquire(ctx context.Context, itemID int64, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, itemID int64, owner string, ttl time.Duration) error
	Release(ctx context.Context, itemID int64, owner string) error
}

// ImageFetcher retrieves the image bytes behind an item's source URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, sourceURL string) (*domain.Payload, error)
}
