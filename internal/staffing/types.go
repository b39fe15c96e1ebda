// Package staffing defines core types shared across subsystems.
package staffing

import (
	"time"
)

// Unspecified marks optional snapshot fields the source page did not provide.
const Unspecified = "unspecified"

// Source is a registered external page the pipeline crawls.
type Source struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	ErrorFlag bool      `json:"error_flag"`
	AddedAt   time.Time `json:"added_at"`
}

// Snapshot is one immutable observation of a source's staffing counts.
// CapturedAt is always in the reference zone (JST).
type Snapshot struct {
	SourceName string    `json:"store_name"`
	Category   string    `json:"biz_type"`
	Genre      string    `json:"genre"`
	Area       string    `json:"area"`
	TotalStaff int       `json:"total_staff"`
	OnDuty     int       `json:"working_staff"`
	Free       int       `json:"active_staff"`
	URL        string    `json:"url"`
	ShiftTime  string    `json:"shift_time"`
	CapturedAt time.Time `json:"timestamp"`
}

// Rate derives the occupancy rate in percent, clamped to [0,100].
// A source with nobody on duty has a rate of zero.
func (s Snapshot) Rate() float64 {
	if s.OnDuty <= 0 {
		return 0
	}
	rate := (float64(s.OnDuty-s.Free) / float64(s.OnDuty)) * 100
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}

// FailureKind classifies a failed fetch attempt.
type FailureKind string

// Failure kinds produced by the fetch pipeline.
const (
	FailureNone     FailureKind = ""
	FailureTimeout  FailureKind = "timeout"
	FailureNetwork  FailureKind = "network"
	FailureProtocol FailureKind = "protocol"
	FailureParse    FailureKind = "parse"
)

// FetchRequest captures everything needed to fetch one source page.
type FetchRequest struct {
	URL         string
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// FetchOutcome is the per-source result of the worker pool: either a
// payload or a classified terminal failure. It is consumed immediately by
// the orchestrator and never persisted.
type FetchOutcome struct {
	Source   Source
	Response FetchResponse
	Attempts int
	Failure  FailureKind
	Err      error
}

// OK reports whether the fetch produced a usable payload.
func (o FetchOutcome) OK() bool {
	return o.Failure == FailureNone && o.Err == nil
}

// RangeQuery selects snapshots by optional source name and inclusive bounds.
// Zero bounds are open.
type RangeQuery struct {
	Source string
	Start  time.Time
	End    time.Time
}

// CycleState is the lifecycle state of the crawl orchestrator.
type CycleState string

// Orchestrator states.
const (
	CycleIdle    CycleState = "idle"
	CycleRunning CycleState = "running"
)

// CycleSummary records the outcome of one crawl cycle.
type CycleSummary struct {
	ID         string        `json:"id"`
	Started    time.Time     `json:"started_at"`
	Finished   time.Time     `json:"finished_at"`
	Sources    int           `json:"sources"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Appended   int           `json:"appended"`
	Pruned     int64         `json:"pruned"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
}
