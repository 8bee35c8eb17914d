package usecase

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"ImageSync/internal/domain"
)

// reportCollector aggregates per-item results into the run report. Shared by
// all workers, so counting goes through the mutex.
type reportCollector struct {
	mu        sync.Mutex
	startedAt time.Time
	outcomes  map[int64]domain.Outcome
	report    domain.Report
}

func newReportCollector(dryRun bool) *reportCollector {
	now := time.Now()
	return &reportCollector{
		startedAt: now,
		outcomes:  make(map[int64]domain.Outcome),
		report:    domain.Report{StartedAt: now, DryRun: dryRun},
	}
}

func (c *reportCollector) setEnumerated(pending, skippedValid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.Pending = pending
	c.report.SkippedValid = skippedValid
}

func (c *reportCollector) add(result domain.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcomes[result.ItemID] = result.Outcome
	switch result.Outcome {
	case domain.OutcomeProcessed:
		c.report.Processed++
	case domain.OutcomeDeduplicated:
		c.report.Processed++
		c.report.Deduplicated++
	case domain.OutcomeSkippedLocked:
		c.report.SkippedLocked++
	case domain.OutcomeFailed:
		c.report.Failed++
	case domain.OutcomeInconsistent:
		c.report.Inconsistent++
	}
}

// failUnwritten reclassifies items whose reference upsert never persisted.
// Their workers counted them as processed before the batch flush failed;
// the catalog still has no reference, so the report must call them failed.
func (c *reportCollector) failUnwritten(ids []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		switch c.outcomes[id] {
		case domain.OutcomeProcessed:
			c.report.Processed--
		case domain.OutcomeDeduplicated:
			c.report.Processed--
			c.report.Deduplicated--
		default:
			continue
		}
		c.outcomes[id] = domain.OutcomeFailed
		c.report.Failed++
	}
}

func (c *reportCollector) finish(failures []domain.Failure, sample int) domain.Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sample > 0 && len(failures) > sample {
		failures = failures[:sample]
	}
	c.report.Failures = failures
	c.report.FinishedAt = time.Now()
	c.report.ElapsedSeconds = c.report.FinishedAt.Sub(c.startedAt).Seconds()
	return c.report
}

// WriteReport emits the report as a single JSON object.
func WriteReport(w io.Writer, report domain.Report) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	return nil
}
