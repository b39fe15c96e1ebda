// Package notify fans crawl-cycle summaries out to interested listeners.
package notify

import (
	"context"
	"sync"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Publisher delivers cycle summaries to subscribers. Publishing must not
// block the crawl loop.
type Publisher interface {
	Publish(ctx context.Context, summary staffing.CycleSummary) error
	Close() error
}

// Memory is an in-process Publisher backed by buffered channels. Slow
// subscribers lose summaries instead of stalling the publisher.
type Memory struct {
	mu     sync.Mutex
	subs   []chan staffing.CycleSummary
	closed bool
}

// NewMemory creates a Memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Subscribe registers a listener. The returned channel closes when the
// publisher closes.
func (m *Memory) Subscribe() <-chan staffing.CycleSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan staffing.CycleSummary, 8)
	if m.closed {
		close(ch)
		return ch
	}
	m.subs = append(m.subs, ch)
	return ch
}

// Publish implements Publisher.
func (m *Memory) Publish(_ context.Context, summary staffing.CycleSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	for _, ch := range m.subs {
		select {
		case ch <- summary:
		default:
		}
	}
	return nil
}

// Close implements Publisher.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	return nil
}

// Nop is a Publisher that discards everything.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, staffing.CycleSummary) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }
