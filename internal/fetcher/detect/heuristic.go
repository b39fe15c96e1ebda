// Package detect decides when a probe fetch must be promoted to headless.
package detect

import (
	"bytes"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Heuristic promotes a fetch when the static HTML is missing the staffing
// markup the extractor needs, which means the page builds its lists with
// JavaScript.
type Heuristic struct {
	MinBodyBytes int
}

// NewHeuristic creates a detector with the given minimum body size.
func NewHeuristic(minBodyBytes int) *Heuristic {
	if minBodyBytes == 0 {
		minBodyBytes = 1024
	}
	return &Heuristic{MinBodyBytes: minBodyBytes}
}

// staffingMarkers are fragments the extractor's selectors depend on. All of
// them missing from the static body means there is nothing to extract yet.
var staffingMarkers = [][]byte{
	[]byte("inPosition"),
	[]byte("girlslist"),
	[]byte("shiftbox"),
	[]byte(`class="standby"`),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(probe staffing.FetchResponse) bool {
	if probe.StatusCode != 200 {
		return false
	}
	body := probe.Body
	if len(body) < h.MinBodyBytes {
		return true
	}
	for _, marker := range staffingMarkers {
		if bytes.Contains(body, marker) {
			return false
		}
	}
	return true
}
