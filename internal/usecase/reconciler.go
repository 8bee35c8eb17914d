package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"ImageSync/internal/domain"
	"ImageSync/internal/ports"
)

// Reconciler is the single write path into the catalog's image references.
// Success acks are upserted (optionally grouped into batches); failures are
// only recorded for the report, so an item that failed keeps whatever
// reference it had and stays pending for a future run.
type Reconciler struct {
	catalog   ports.Catalog
	batchSize int
	logger    *slog.Logger

	mu        sync.Mutex
	buffered  []domain.ImageRef
	failures  []domain.Failure
	unwritten []int64
}

// NewReconciler builds a reconciler; batchSize <= 1 means write-through.
func NewReconciler(catalog ports.Catalog, batchSize int, logger *slog.Logger) *Reconciler {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Reconciler{catalog: catalog, batchSize: batchSize, logger: logger}
}

// Reconcile records the final storage key for an item. An empty key is
// rejected: the reconciler must never replace a reference with nothing.
func (r *Reconciler) Reconcile(ctx context.Context, itemID int64, storageKey string) error {
	if storageKey == "" {
		return fmt.Errorf("reconcile item %d: refusing empty storage key", itemID)
	}

	r.mu.Lock()
	r.buffered = append(r.buffered, domain.ImageRef{ItemID: itemID, StorageKey: storageKey})
	flush := len(r.buffered) >= r.batchSize
	r.mu.Unlock()

	if flush {
		// A failed flush loses the whole batch, not just the item that
		// filled it; Flush records every lost item, so the error is not
		// pinned on this one.
		if err := r.Flush(ctx); err != nil && r.logger != nil {
			r.logger.Warn("batch flush failed", "error", err)
		}
	}
	return nil
}

// ReconcileFailure records a failed item for the run report without touching
// its reference.
func (r *Reconciler) ReconcileFailure(itemID int64, err error) {
	r.mu.Lock()
	r.failures = append(r.failures, domain.Failure{
		ItemID:  itemID,
		Class:   string(domain.ClassOf(err)),
		Message: err.Error(),
	})
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Warn("item failed", "item", itemID, "class", string(domain.ClassOf(err)), "error", err)
	}
}

// Flush writes all buffered references as one grouped upsert. When the
// upsert fails, every item in the batch is recorded as a failure: their
// references never reached the catalog, no matter what their workers saw.
func (r *Reconciler) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.buffered
	r.buffered = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := r.catalog.UpsertImageRefs(ctx, batch); err != nil {
		r.mu.Lock()
		for _, ref := range batch {
			r.unwritten = append(r.unwritten, ref.ItemID)
			r.failures = append(r.failures, domain.Failure{
				ItemID:  ref.ItemID,
				Class:   string(domain.ClassOf(err)),
				Message: fmt.Sprintf("image ref not written: %v", err),
			})
		}
		r.mu.Unlock()
		return fmt.Errorf("flush %d image refs: %w", len(batch), err)
	}
	return nil
}

// Unwritten returns the ids whose reference upsert was lost to a failed
// flush. Those items fetched and stored fine but were never persisted.
func (r *Reconciler) Unwritten() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.unwritten))
	copy(out, r.unwritten)
	return out
}

// Failures returns the recorded per-item failures in arrival order.
func (r *Reconciler) Failures() []domain.Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Failure, len(r.failures))
	copy(out, r.failures)
	return out
}
