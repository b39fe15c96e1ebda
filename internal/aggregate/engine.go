// Package aggregate derives read-side views from the snapshot log.
package aggregate

import (
	"math"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Engine computes aggregation views from store reads. All methods are
// read-only; on a store error they return a zero result and the error, and
// the API layer degrades the response instead of failing it.
type Engine struct {
	store staffing.SnapshotStore
	clock staffing.Clock
}

// New constructs an Engine.
func New(store staffing.SnapshotStore, clock staffing.Clock) *Engine {
	return &Engine{store: store, clock: clock}
}

// StoreStatus is one snapshot with its derived occupancy rate.
type StoreStatus struct {
	staffing.Snapshot
	Rate float64 `json:"rate"`
}

func withRate(snap staffing.Snapshot) StoreStatus {
	return StoreStatus{Snapshot: snap, Rate: round1(snap.Rate())}
}

// round1 keeps one decimal, matching what the consumers render.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
