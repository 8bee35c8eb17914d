package domain

import "time"

// Item is one catalog entry that may need its image fetched in a run.
type Item struct {
	ID        int64
	SourceURL string
	Ref       *ImageRef
}

// ImageRef is the durable pointer from a catalog item to its stored image.
type ImageRef struct {
	ItemID     int64
	StorageKey string
	UpdatedAt  time.Time
}

// Artifact describes a content-addressed object in the store.
type Artifact struct {
	StorageKey  string
	ContentHash string
	Size        int64
	StoredAt    time.Time
}

// Payload is the raw bytes fetched for one item.
type Payload struct {
	Body        []byte
	ContentType string
	FetchedFrom string
}

// Outcome enumerates what happened to one item during a run.
type Outcome string

const (
	OutcomeProcessed     Outcome = "processed"
	OutcomeDeduplicated  Outcome = "deduplicated"
	OutcomeSkippedLocked Outcome = "skipped_locked"
	OutcomeFailed        Outcome = "failed"
	OutcomeInconsistent  Outcome = "inconsistent"
)

// Result is the terminal state of one item after a worker finished with it.
type Result struct {
	ItemID     int64
	Outcome    Outcome
	StorageKey string
	Err        error
}
