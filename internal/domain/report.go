package domain

import "time"

// Failure is one sampled per-item failure carried into the run report.
type Failure struct {
	ItemID  int64  `json:"item_id"`
	Class   string `json:"class"`
	Message string `json:"message"`
}

// Report is the machine-parseable summary emitted at the end of a run.
// Processed counts successful reconciliations; Deduplicated is the subset
// that reused an already-stored artifact instead of uploading. SkippedValid
// counts items whose reference was already intact and were never enqueued.
type Report struct {
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	DryRun         bool      `json:"dry_run"`
	Pending        int       `json:"pending"`
	SkippedValid   int       `json:"skipped_valid"`
	Processed      int       `json:"processed"`
	Deduplicated   int       `json:"deduplicated"`
	SkippedLocked  int       `json:"skipped_locked"`
	Failed         int       `json:"failed"`
	Inconsistent   int       `json:"inconsistent"`
	Failures       []Failure `json:"failures,omitempty"`
}
