package staffing

import (
	"context"
	"time"
)

// SnapshotStore is the append-only observation log.
type SnapshotStore interface {
	// Append durably writes one snapshot. Readers observe the full record
	// or none. Returns a *StorageError on failure.
	Append(ctx context.Context, snap Snapshot) error
	// LatestPerSource returns exactly one snapshot per distinct source
	// name, the one with the maximum capture timestamp, ties broken by
	// insertion order.
	LatestPerSource(ctx context.Context) ([]Snapshot, error)
	// Range returns snapshots matching the query, inclusive bounds,
	// ordered by capture timestamp ascending.
	Range(ctx context.Context, q RangeQuery) ([]Snapshot, error)
	// SourceNames lists distinct source names in ascending order.
	SourceNames(ctx context.Context) ([]string, error)
}

// SourceRegistry manages the crawl target list.
type SourceRegistry interface {
	ListSources(ctx context.Context) ([]Source, error)
	AddSource(ctx context.Context, url string) (Source, error)
	UpdateSource(ctx context.Context, id int64, url string) error
	RemoveSource(ctx context.Context, id int64) error
	MarkSourceError(ctx context.Context, id int64) error
	ClearSourceError(ctx context.Context, id int64) error
}

// Store combines snapshot log and source registry behind one handle.
type Store interface {
	SnapshotStore
	SourceRegistry
	// Prune deletes snapshots captured before the cutoff and returns the
	// number of rows removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Fetcher fetches one source page and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// PromotionDetector decides whether a probe response needs a headless fetch.
type PromotionDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Extractor turns a fetched payload into a validated snapshot.
type Extractor interface {
	Extract(body []byte, sourceURL string, capturedAt time.Time) (Snapshot, error)
}

// RetryPolicy governs the per-source retry loop in the worker pool.
type RetryPolicy interface {
	ShouldRetry(kind FailureKind, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces cycle IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
