package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

func snap(name string, capturedAt time.Time, onDuty, free int) staffing.Snapshot {
	return staffing.Snapshot{
		SourceName: name,
		Category:   staffing.Unspecified,
		Genre:      staffing.Unspecified,
		Area:       staffing.Unspecified,
		TotalStaff: onDuty,
		OnDuty:     onDuty,
		Free:       free,
		CapturedAt: capturedAt,
	}
}

func TestLatestPerSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, staffing.Zone())

	require.NoError(t, s.Append(ctx, snap("beta", base, 5, 2)))
	require.NoError(t, s.Append(ctx, snap("alpha", base.Add(time.Hour), 4, 1)))
	require.NoError(t, s.Append(ctx, snap("beta", base.Add(2*time.Hour), 6, 0)))

	latest, err := s.LatestPerSource(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "alpha", latest[0].SourceName)
	require.Equal(t, "beta", latest[1].SourceName)
	require.Equal(t, 6, latest[1].OnDuty)
}

func TestLatestPerSourceTieTakesLaterInsertion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	at := time.Date(2026, 1, 10, 12, 0, 0, 0, staffing.Zone())

	require.NoError(t, s.Append(ctx, snap("alpha", at, 5, 5)))
	require.NoError(t, s.Append(ctx, snap("alpha", at, 5, 1)))

	latest, err := s.LatestPerSource(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, 1, latest[0].Free)
}

func TestRangeFiltersAndOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, staffing.Zone())

	// Appended out of order on purpose.
	require.NoError(t, s.Append(ctx, snap("alpha", base.Add(3*time.Hour), 3, 0)))
	require.NoError(t, s.Append(ctx, snap("alpha", base.Add(time.Hour), 1, 0)))
	require.NoError(t, s.Append(ctx, snap("beta", base.Add(2*time.Hour), 2, 0)))

	got, err := s.Range(ctx, staffing.RangeQuery{Source: "alpha"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].CapturedAt.Before(got[1].CapturedAt))

	// Inclusive bounds.
	got, err = s.Range(ctx, staffing.RangeQuery{
		Start: base.Add(time.Hour),
		End:   base.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestSourceNames(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	at := time.Now()

	require.NoError(t, s.Append(ctx, snap("beta", at, 1, 0)))
	require.NoError(t, s.Append(ctx, snap("alpha", at, 1, 0)))
	require.NoError(t, s.Append(ctx, snap("beta", at, 1, 0)))

	names, err := s.SourceNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, names)
}

func TestSourceRegistry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	src, err := s.AddSource(ctx, "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, int64(1), src.ID)
	require.False(t, src.ErrorFlag)

	_, err = s.AddSource(ctx, "https://example.com/a")
	require.ErrorIs(t, err, staffing.ErrDuplicateSource)

	require.NoError(t, s.MarkSourceError(ctx, src.ID))
	list, err := s.ListSources(ctx)
	require.NoError(t, err)
	require.True(t, list[0].ErrorFlag)

	require.NoError(t, s.ClearSourceError(ctx, src.ID))
	list, _ = s.ListSources(ctx)
	require.False(t, list[0].ErrorFlag)

	// Updating replaces the URL and resets the error flag.
	require.NoError(t, s.MarkSourceError(ctx, src.ID))
	require.NoError(t, s.UpdateSource(ctx, src.ID, "https://example.com/b"))
	list, _ = s.ListSources(ctx)
	require.Equal(t, "https://example.com/b", list[0].URL)
	require.False(t, list[0].ErrorFlag)

	require.NoError(t, s.RemoveSource(ctx, src.ID))
	err = s.RemoveSource(ctx, src.ID)

	var storageErr *staffing.StorageError
	require.True(t, errors.As(err, &storageErr))
	require.ErrorIs(t, err, staffing.ErrSourceNotFound)
}

func TestPrune(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, staffing.Zone())

	require.NoError(t, s.Append(ctx, snap("alpha", base, 1, 0)))
	require.NoError(t, s.Append(ctx, snap("alpha", base.Add(time.Hour), 1, 0)))
	require.NoError(t, s.Append(ctx, snap("alpha", base.Add(2*time.Hour), 1, 0)))

	removed, err := s.Prune(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	got, err := s.Range(ctx, staffing.RangeQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, base.Add(2*time.Hour), got[0].CapturedAt)
}
