// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Clock implements staffing.Clock using time.Now in the reference zone.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in the reference zone.
func (Clock) Now() time.Time {
	return time.Now().In(staffing.Zone())
}
