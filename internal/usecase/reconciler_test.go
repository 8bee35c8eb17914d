package usecase

import (
	"context"
	"errors"
	"testing"

	"ImageSync/internal/domain"
)

func TestReconcilerWriteThrough(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	catalog := newFakeCatalog()
	rec := NewReconciler(catalog, 1, nil)

	if err := rec.Reconcile(ctx, 1, "products/1_abc.jpg"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if ref := catalog.refOf(1); ref != "products/1_abc.jpg" {
		t.Fatalf("write-through did not persist immediately: %s", ref)
	}
}

func TestReconcilerBatching(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	catalog := newFakeCatalog()
	rec := NewReconciler(catalog, 3, nil)

	_ = rec.Reconcile(ctx, 1, "products/1_a.jpg")
	_ = rec.Reconcile(ctx, 2, "products/2_b.jpg")
	if catalog.upserts != 0 {
		t.Fatalf("batch flushed early: %d upserts", catalog.upserts)
	}

	_ = rec.Reconcile(ctx, 3, "products/3_c.jpg")
	if catalog.upserts != 3 {
		t.Fatalf("full batch did not flush: %d upserts", catalog.upserts)
	}

	_ = rec.Reconcile(ctx, 4, "products/4_d.jpg")
	if err := rec.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if ref := catalog.refOf(4); ref != "products/4_d.jpg" {
		t.Fatalf("final flush lost the tail: %s", ref)
	}
}

func TestReconcilerRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog(
		domain.Item{ID: 9, Ref: &domain.ImageRef{ItemID: 9, StorageKey: "products/9_good.jpg"}},
	)
	rec := NewReconciler(catalog, 1, nil)

	if err := rec.Reconcile(context.Background(), 9, ""); err == nil {
		t.Fatal("empty key must be rejected")
	}
	if ref := catalog.refOf(9); ref != "products/9_good.jpg" {
		t.Fatalf("existing reference was damaged: %s", ref)
	}
}

func TestReconcilerRecordsWholeBatchOnFailedFlush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	catalog := newFakeCatalog()
	catalog.upsertErr = errors.New("connection reset")
	rec := NewReconciler(catalog, 3, nil)

	_ = rec.Reconcile(ctx, 1, "products/1_a.jpg")
	_ = rec.Reconcile(ctx, 2, "products/2_b.jpg")
	_ = rec.Reconcile(ctx, 3, "products/3_c.jpg")

	unwritten := rec.Unwritten()
	if len(unwritten) != 3 {
		t.Fatalf("expected all 3 batch items lost, got %v", unwritten)
	}
	failures := rec.Failures()
	if len(failures) != 3 {
		t.Fatalf("expected a recorded failure per lost item, got %d", len(failures))
	}
	for i := int64(1); i <= 3; i++ {
		if ref := catalog.refOf(i); ref != "" {
			t.Fatalf("item %d reference persisted through a failed flush: %s", i, ref)
		}
	}
}

func TestReconcilerRecordsFailuresWithoutMutation(t *testing.T) {
	t.Parallel()

	catalog := newFakeCatalog(
		domain.Item{ID: 2, Ref: &domain.ImageRef{ItemID: 2, StorageKey: "products/2_good.jpg"}},
	)
	rec := NewReconciler(catalog, 1, nil)

	rec.ReconcileFailure(2, domain.Transient(errors.New("timeout")))
	rec.ReconcileFailure(7, domain.Permanent(errors.New("404")))

	failures := rec.Failures()
	if len(failures) != 2 {
		t.Fatalf("expected 2 recorded failures, got %d", len(failures))
	}
	if failures[0].Class != string(domain.ClassTransient) || failures[1].Class != string(domain.ClassPermanent) {
		t.Fatalf("failure classes wrong: %+v", failures)
	}
	if catalog.upserts != 0 {
		t.Fatal("failure recording wrote to the catalog")
	}
	if ref := catalog.refOf(2); ref != "products/2_good.jpg" {
		t.Fatalf("failure mutated a reference: %s", ref)
	}
}
