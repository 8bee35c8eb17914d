package objstore

import (
	"context"
	"errors"
	"testing"

	"ImageSync/internal/domain"
)

func TestMemoryStorePutIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Put(ctx, "products/1_abc.jpg", "abc", "image/jpeg", []byte("bytes")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := store.Put(ctx, "products/1_abc.jpg", "abc", "image/jpeg", []byte("bytes")); err != nil {
		t.Fatalf("identical re-put must be a no-op success: %v", err)
	}
	if store.PutCount() != 1 {
		t.Fatalf("expected exactly one stored upload, got %d", store.PutCount())
	}
}

func TestMemoryStorePutConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Put(ctx, "products/1_abc.jpg", "abc", "image/jpeg", []byte("one")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	err := store.Put(ctx, "products/1_abc.jpg", "def", "image/jpeg", []byte("two"))
	if !errors.Is(err, domain.ErrKeyConflict) {
		t.Fatalf("expected ErrKeyConflict, got %v", err)
	}

	// Conflicting content must never overwrite.
	artifacts, err := store.List(ctx, "products/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].ContentHash != "abc" {
		t.Fatalf("stored object was mutated: %+v", artifacts)
	}
}

func TestMemoryStoreListAndExists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	store.Seed("products/1_abc.jpg", "abc", []byte("x"))
	store.Seed("other/2_def.jpg", "def", []byte("y"))

	artifacts, err := store.List(ctx, "products/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].StorageKey != "products/1_abc.jpg" {
		t.Fatalf("unexpected listing: %+v", artifacts)
	}

	ok, err := store.Exists(ctx, "other/2_def.jpg")
	if err != nil || !ok {
		t.Fatalf("exists: %v %v", ok, err)
	}
	ok, err = store.Exists(ctx, "other/missing.jpg")
	if err != nil || ok {
		t.Fatalf("missing key reported present: %v %v", ok, err)
	}
}
