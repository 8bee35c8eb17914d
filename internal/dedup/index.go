// Package dedup holds the run-scoped index of artifacts already present in
// the object store, so duplicate detection is one map lookup instead of one
// remote call per item.
package dedup

import (
	"fmt"
	"mime"
	"strconv"
	"strings"
	"sync"

	"ImageSync/internal/domain"
)

const hashPrefixLen = 12

// Index maps item+fingerprint pairs to storage keys. It is shared across all
// workers in a run, so every access goes through the mutex.
type Index struct {
	mu     sync.RWMutex
	keys   map[string]struct{}
	byHash map[string]string
}

// New builds an index seeded from a store listing. Keys that do not follow
// the pipeline's naming scheme still count for existence checks but cannot
// serve fingerprint lookups.
func New(artifacts []domain.Artifact) *Index {
	idx := &Index{
		keys:   make(map[string]struct{}, len(artifacts)),
		byHash: make(map[string]string, len(artifacts)),
	}
	for _, a := range artifacts {
		idx.keys[a.StorageKey] = struct{}{}
		if itemID, hash, ok := ParseKey(a.StorageKey); ok {
			idx.byHash[hashRef(itemID, hash)] = a.StorageKey
		}
	}
	return idx
}

// HasKey reports whether the store held the key at listing time or a worker
// registered it during this run.
func (x *Index) HasKey(storageKey string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.keys[storageKey]
	return ok
}

// Lookup returns the storage key holding this fingerprint for the item.
func (x *Index) Lookup(itemID int64, contentHash string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	key, ok := x.byHash[hashRef(itemID, contentHash)]
	return key, ok
}

// Register records a freshly uploaded key so later duplicates within the same
// run are detected without re-listing the store.
func (x *Index) Register(itemID int64, contentHash, storageKey string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.keys[storageKey] = struct{}{}
	x.byHash[hashRef(itemID, contentHash)] = storageKey
}

// Len returns the number of known keys.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.keys)
}

func hashRef(itemID int64, contentHash string) string {
	return strconv.FormatInt(itemID, 10) + ":" + shortHash(contentHash)
}

func shortHash(contentHash string) string {
	if len(contentHash) > hashPrefixLen {
		return contentHash[:hashPrefixLen]
	}
	return contentHash
}

// BuildKey derives the storage key for an item's content:
// <prefix>/<item_id>_<hash12>.<ext>. The embedded fingerprint makes keys
// content-addressed, so byte-identical fetches always land on the same key.
func BuildKey(prefix string, itemID int64, contentHash, contentType string) string {
	return fmt.Sprintf("%s/%d_%s%s",
		strings.TrimSuffix(prefix, "/"), itemID, shortHash(contentHash), extensionFor(contentType))
}

// ParseKey recovers the item id and short fingerprint from a pipeline key.
func ParseKey(storageKey string) (itemID int64, contentHash string, ok bool) {
	base := storageKey
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	id, hash, found := strings.Cut(base, "_")
	if !found || hash == "" {
		return 0, "", false
	}
	itemID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return itemID, hash, true
}

func extensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	switch mt {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/avif":
		return ".avif"
	default:
		return ".bin"
	}
}
