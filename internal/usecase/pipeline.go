package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"ImageSync/internal/dedup"
	"ImageSync/internal/domain"
	"ImageSync/internal/ports"
)

// Pipeline is the per-item fetch-and-store worker: fetch, fingerprint,
// dedup-check, upload at most once. Catalog mutation is deliberately left to
// the Reconciler so fetch and persist stay independently retryable.
type Pipeline struct {
	fetcher ports.ImageFetcher
	store   ports.ObjectStore
	index   *dedup.Index
	prefix  string
	logger  *slog.Logger
}

// NewPipeline wires the worker's dependencies.
func NewPipeline(fetcher ports.ImageFetcher, store ports.ObjectStore, index *dedup.Index, prefix string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		store:   store,
		index:   index,
		prefix:  prefix,
		logger:  logger,
	}
}

// Process runs one item to its terminal state. It performs one network fetch
// and at most one upload; the result carries the chosen storage key or a
// classified error.
func (p *Pipeline) Process(ctx context.Context, item domain.Item) domain.Result {
	payload, err := p.fetcher.Fetch(ctx, item.SourceURL)
	if err != nil {
		return failure(item.ID, fmt.Errorf("fetch item %d: %w", item.ID, err))
	}

	sum := sha256.Sum256(payload.Body)
	contentHash := hex.EncodeToString(sum[:])

	if key, ok := p.index.Lookup(item.ID, contentHash); ok {
		p.debug("content already stored", "item", item.ID, "key", key)
		return domain.Result{ItemID: item.ID, Outcome: domain.OutcomeDeduplicated, StorageKey: key}
	}

	key := dedup.BuildKey(p.prefix, item.ID, contentHash, payload.ContentType)
	if err := p.store.Put(ctx, key, contentHash, payload.ContentType, payload.Body); err != nil {
		if errors.Is(err, domain.ErrKeyConflict) {
			return domain.Result{ItemID: item.ID, Outcome: domain.OutcomeInconsistent, Err: err}
		}
		return failure(item.ID, fmt.Errorf("store item %d: %w", item.ID, err))
	}
	p.index.Register(item.ID, contentHash, key)

	p.debug("stored new artifact", "item", item.ID, "key", key, "bytes", len(payload.Body))
	return domain.Result{ItemID: item.ID, Outcome: domain.OutcomeProcessed, StorageKey: key}
}

func failure(itemID int64, err error) domain.Result {
	outcome := domain.OutcomeFailed
	if domain.ClassOf(err) == domain.ClassInconsistent {
		outcome = domain.OutcomeInconsistent
	}
	return domain.Result{ItemID: itemID, Outcome: outcome, Err: err}
}

func (p *Pipeline) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
