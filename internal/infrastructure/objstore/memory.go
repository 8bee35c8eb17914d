package objstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ImageSync/internal/domain"
	"ImageSync/internal/ports"
)

// MemoryStore is an in-process ObjectStore with the same put-if-absent
// semantics as the S3 adapter. Used by tests and by dry runs that need a
// store without credentials.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	puts    int
}

type memoryObject struct {
	body        []byte
	contentHash string
	contentType string
	storedAt    time.Time
}

var _ ports.ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Seed places an object directly, bypassing conflict checks. Test setup only.
func (m *MemoryStore) Seed(storageKey, contentHash string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[storageKey] = memoryObject{
		body:        body,
		contentHash: contentHash,
		storedAt:    time.Now(),
	}
}

// List returns artifacts under the prefix.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]domain.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var artifacts []domain.Artifact
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		artifacts = append(artifacts, domain.Artifact{
			StorageKey:  key,
			ContentHash: obj.contentHash,
			Size:        int64(len(obj.body)),
			StoredAt:    obj.storedAt,
		})
	}
	return artifacts, nil
}

// Exists reports whether the key is present.
func (m *MemoryStore) Exists(_ context.Context, storageKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[storageKey]
	return ok, nil
}

// Put stores the content unless the key already holds a different fingerprint.
func (m *MemoryStore) Put(_ context.Context, storageKey, contentHash, contentType string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.objects[storageKey]; ok {
		if existing.contentHash == contentHash {
			return nil
		}
		return fmt.Errorf("%w: key %s stored=%s new=%s",
			domain.ErrKeyConflict, storageKey, existing.contentHash, contentHash)
	}

	m.objects[storageKey] = memoryObject{
		body:        append([]byte(nil), body...),
		contentHash: contentHash,
		contentType: contentType,
		storedAt:    time.Now(),
	}
	m.puts++
	return nil
}

// PutCount returns how many uploads actually happened (no-op puts excluded).
func (m *MemoryStore) PutCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Delete removes a key. The pipeline never deletes; this exists so tests can
// fabricate dangling references.
func (m *MemoryStore) Delete(storageKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, storageKey)
}
