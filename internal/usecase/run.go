package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ImageSync/internal/dedup"
	"ImageSync/internal/domain"
	"ImageSync/internal/ports"
)

// RunConfig tunes one orchestrator run.
type RunConfig struct {
	Concurrency   int
	QueueSize     int
	Limit         int
	DryRun        bool
	StorePrefix   string
	LockTTL       time.Duration
	RenewLocks    bool
	ItemTimeout   time.Duration
	BatchSize     int
	FailureSample int
}

func (c *RunConfig) applyDefaults() {
	if c.Concurrency < 1 {
		c.Concurrency = 8
	}
	if c.QueueSize < 1 {
		c.QueueSize = 2 * c.Concurrency
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 90 * time.Second
	}
	if c.FailureSample <= 0 {
		c.FailureSample = 20
	}
}

// OrchestratorDeps wires all driven adapters into the run orchestrator.
type OrchestratorDeps struct {
	Catalog ports.Catalog
	Store   ports.ObjectStore
	Locks   ports.LockManager
	Fetcher ports.ImageFetcher
	Logger  *slog.Logger
}

// Orchestrator owns the run lifecycle: enumerate, drain the work queue with
// a fixed worker pool, aggregate, report. Per-item failures never abort a
// run; only an unreachable catalog or lock store does.
type Orchestrator struct {
	catalog ports.Catalog
	store   ports.ObjectStore
	locks   ports.LockManager
	fetcher ports.ImageFetcher
	logger  *slog.Logger
	cfg     RunConfig
	owner   string
}

// NewOrchestrator constructs the orchestrator with a process-unique owner
// token used for every lock it takes.
func NewOrchestrator(deps OrchestratorDeps, cfg RunConfig) *Orchestrator {
	cfg.applyDefaults()
	host, _ := os.Hostname()
	return &Orchestrator{
		catalog: deps.Catalog,
		store:   deps.Store,
		locks:   deps.Locks,
		fetcher: deps.Fetcher,
		logger:  deps.Logger,
		cfg:     cfg,
		owner:   fmt.Sprintf("%s-%s", host, uuid.NewString()),
	}
}

// Run executes one full pass. The returned error is non-nil only for
// run-fatal conditions; a completed run with item failures returns the
// report and a nil error.
func (o *Orchestrator) Run(ctx context.Context) (domain.Report, error) {
	collector := newReportCollector(o.cfg.DryRun)

	if err := o.catalog.Ping(ctx); err != nil {
		return collector.finish(nil, 0), err
	}
	if !o.cfg.DryRun {
		if err := o.locks.Ping(ctx); err != nil {
			return collector.finish(nil, 0), err
		}
	}

	artifacts, err := o.store.List(ctx, o.cfg.StorePrefix)
	if err != nil {
		// Without the listing, dangling references are invisible and the
		// enumeration would be silently wrong; abort instead.
		return collector.finish(nil, 0), fmt.Errorf("index object store: %w", err)
	}
	index := dedup.New(artifacts)
	o.info("object store indexed", "keys", index.Len())

	items, skippedValid, err := o.catalog.EnumeratePending(ctx, ports.PendingFilter{
		Limit:     o.cfg.Limit,
		KeyExists: index.HasKey,
	})
	if err != nil {
		return collector.finish(nil, 0), fmt.Errorf("enumerate pending: %w", err)
	}
	collector.setEnumerated(len(items), skippedValid)
	o.info("enumerated pending items", "count", len(items), "skipped_valid", skippedValid, "dry_run", o.cfg.DryRun)

	if o.cfg.DryRun || len(items) == 0 {
		return collector.finish(nil, 0), nil
	}

	pipeline := NewPipeline(o.fetcher, o.store, index, o.cfg.StorePrefix, o.logger)
	reconciler := NewReconciler(o.catalog, o.cfg.BatchSize, o.logger)

	queue := make(chan domain.Item, o.cfg.QueueSize)
	go func() {
		defer close(queue)
		for _, item := range items {
			select {
			case queue <- item:
			case <-ctx.Done():
				// Stop feeding on cancellation; in-flight items finish
				// their current step and release their locks.
				return
			}
		}
	}()

	var group errgroup.Group
	for i := 0; i < o.cfg.Concurrency; i++ {
		group.Go(func() error {
			for item := range queue {
				// After cancellation only in-flight items finish; queued
				// items are dropped and stay pending for the next run.
				if ctx.Err() != nil {
					return nil
				}
				collector.add(o.handleItem(ctx, item, pipeline, reconciler))
			}
			return nil
		})
	}
	_ = group.Wait()

	// Flush on a fresh context so a cancelled run still persists what its
	// workers finished.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := reconciler.Flush(flushCtx); err != nil {
		o.warn("final flush failed", "error", err)
	}
	collector.failUnwritten(reconciler.Unwritten())

	return collector.finish(reconciler.Failures(), o.cfg.FailureSample), nil
}

// handleItem runs the strict per-item sequence: acquire, process, reconcile,
// release. The release is deferred so it happens on every exit path.
func (o *Orchestrator) handleItem(runCtx context.Context, item domain.Item, pipeline *Pipeline, reconciler *Reconciler) domain.Result {
	// Detached from run cancellation: once an item starts it may finish its
	// current step; the timeout is the only bound.
	itemCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), o.cfg.ItemTimeout)
	defer cancel()

	acquired, err := o.locks.Acquire(itemCtx, item.ID, o.owner, o.cfg.LockTTL)
	if err != nil {
		// Fail closed: an unreachable lock store means we do not hold the
		// lock, so the item is skipped, not processed.
		o.warn("lock acquire failed", "item", item.ID, "error", err)
		return domain.Result{ItemID: item.ID, Outcome: domain.OutcomeSkippedLocked, Err: err}
	}
	if !acquired {
		return domain.Result{ItemID: item.ID, Outcome: domain.OutcomeSkippedLocked}
	}
	defer func() {
		// A fresh context: the item deadline may already be gone, and an
		// unreleased lock stalls this item until the TTL runs out.
		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(itemCtx), 10*time.Second)
		defer releaseCancel()
		if err := o.locks.Release(releaseCtx, item.ID, o.owner); err != nil {
			o.warn("lock release failed", "item", item.ID, "error", err)
		}
	}()

	if o.cfg.RenewLocks {
		stopRenewal := o.renewLoop(itemCtx, item.ID)
		defer stopRenewal()
	}

	result := o.process(itemCtx, item, pipeline)

	switch result.Outcome {
	case domain.OutcomeProcessed, domain.OutcomeDeduplicated:
		if err := reconciler.Reconcile(itemCtx, item.ID, result.StorageKey); err != nil {
			reconciler.ReconcileFailure(item.ID, err)
			return domain.Result{ItemID: item.ID, Outcome: domain.OutcomeFailed, Err: err}
		}
	default:
		reconciler.ReconcileFailure(item.ID, result.Err)
	}
	return result
}

// process isolates worker panics so a single bad item cannot take down the
// pool or leak its lock.
func (o *Orchestrator) process(ctx context.Context, item domain.Item, pipeline *Pipeline) (result domain.Result) {
	defer func() {
		if r := recover(); r != nil {
			o.warn("worker panic", "item", item.ID, "panic", r)
			result = domain.Result{
				ItemID:  item.ID,
				Outcome: domain.OutcomeFailed,
				Err:     domain.Permanent(fmt.Errorf("worker panic: %v", r)),
			}
		}
	}()
	return pipeline.Process(ctx, item)
}

// renewLoop extends the lock at half-TTL intervals while the item is in
// flight, for fetches that may outlive the base TTL.
func (o *Orchestrator) renewLoop(ctx context.Context, itemID int64) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(o.cfg.LockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := o.locks.Renew(ctx, itemID, o.owner, o.cfg.LockTTL); err != nil {
					o.warn("lock renew failed", "item", itemID, "error", err)
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (o *Orchestrator) info(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Info(msg, args...)
	}
}

func (o *Orchestrator) warn(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, args...)
	}
}
