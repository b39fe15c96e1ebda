// Package memory provides an in-process Store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Store keeps snapshots and sources in process memory. It implements
// staffing.Store and is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	snapshots []staffing.Snapshot
	sources   map[int64]staffing.Source
	nextID    int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		sources: make(map[int64]staffing.Source),
		nextID:  1,
	}
}

// Append implements staffing.SnapshotStore.
func (s *Store) Append(_ context.Context, snap staffing.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

// LatestPerSource implements staffing.SnapshotStore. Ties on the capture
// timestamp resolve to the later insertion.
func (s *Store) LatestPerSource(_ context.Context) ([]staffing.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]staffing.Snapshot)
	for _, snap := range s.snapshots {
		prev, ok := latest[snap.SourceName]
		if !ok || !snap.CapturedAt.Before(prev.CapturedAt) {
			latest[snap.SourceName] = snap
		}
	}

	out := make([]staffing.Snapshot, 0, len(latest))
	for _, snap := range latest {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SourceName < out[j].SourceName
	})
	return out, nil
}

// Range implements staffing.SnapshotStore.
func (s *Store) Range(_ context.Context, q staffing.RangeQuery) ([]staffing.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []staffing.Snapshot
	for _, snap := range s.snapshots {
		if q.Source != "" && snap.SourceName != q.Source {
			continue
		}
		if !q.Start.IsZero() && snap.CapturedAt.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && snap.CapturedAt.After(q.End) {
			continue
		}
		out = append(out, snap)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	return out, nil
}

// SourceNames implements staffing.SnapshotStore.
func (s *Store) SourceNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var names []string
	for _, snap := range s.snapshots {
		if _, ok := seen[snap.SourceName]; ok {
			continue
		}
		seen[snap.SourceName] = struct{}{}
		names = append(names, snap.SourceName)
	}
	sort.Strings(names)
	return names, nil
}

// ListSources implements staffing.SourceRegistry.
func (s *Store) ListSources(_ context.Context) ([]staffing.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]staffing.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddSource implements staffing.SourceRegistry.
func (s *Store) AddSource(_ context.Context, url string) (staffing.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, src := range s.sources {
		if src.URL == url {
			return staffing.Source{}, &staffing.StorageError{Op: "add_source", Err: staffing.ErrDuplicateSource}
		}
	}

	src := staffing.Source{
		ID:      s.nextID,
		URL:     url,
		AddedAt: time.Now().In(staffing.Zone()),
	}
	s.nextID++
	s.sources[src.ID] = src
	return src, nil
}

// UpdateSource implements staffing.SourceRegistry.
func (s *Store) UpdateSource(_ context.Context, id int64, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return &staffing.StorageError{Op: "update_source", Err: staffing.ErrSourceNotFound}
	}
	src.URL = url
	src.ErrorFlag = false
	s.sources[id] = src
	return nil
}

// RemoveSource implements staffing.SourceRegistry.
func (s *Store) RemoveSource(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[id]; !ok {
		return &staffing.StorageError{Op: "remove_source", Err: staffing.ErrSourceNotFound}
	}
	delete(s.sources, id)
	return nil
}

// MarkSourceError implements staffing.SourceRegistry.
func (s *Store) MarkSourceError(_ context.Context, id int64) error {
	return s.setErrorFlag(id, true, "mark_source_error")
}

// ClearSourceError implements staffing.SourceRegistry.
func (s *Store) ClearSourceError(_ context.Context, id int64) error {
	return s.setErrorFlag(id, false, "clear_source_error")
}

func (s *Store) setErrorFlag(id int64, flag bool, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return &staffing.StorageError{Op: op, Err: staffing.ErrSourceNotFound}
	}
	src.ErrorFlag = flag
	s.sources[id] = src
	return nil
}

// Prune implements staffing.Store.
func (s *Store) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.snapshots[:0]
	var removed int64
	for _, snap := range s.snapshots {
		if snap.CapturedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, snap)
	}
	s.snapshots = kept
	return removed, nil
}

// Close implements staffing.Store.
func (s *Store) Close() error {
	return nil
}
