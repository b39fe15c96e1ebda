package staffing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotRateDerivation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		onDuty int
		free   int
		want   float64
	}{
		{"full occupancy", 10, 0, 100},
		{"half occupancy", 10, 5, 50},
		{"everyone free", 10, 10, 0},
		{"nobody on duty", 0, 0, 0},
		{"negative on duty", -1, 0, 0},
		{"free above on duty clamps to zero", 5, 8, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			snap := Snapshot{OnDuty: tc.onDuty, Free: tc.free}
			require.InDelta(t, tc.want, snap.Rate(), 0.0001)
		})
	}
}

func TestSnapshotRateAlwaysInBounds(t *testing.T) {
	t.Parallel()

	for onDuty := -2; onDuty <= 12; onDuty++ {
		for free := -2; free <= 14; free++ {
			rate := Snapshot{OnDuty: onDuty, Free: free}.Rate()
			require.GreaterOrEqual(t, rate, 0.0)
			require.LessOrEqual(t, rate, 100.0)
			if onDuty <= 0 {
				require.Zero(t, rate)
			}
		}
	}
}

func TestFetchOutcomeOK(t *testing.T) {
	t.Parallel()

	ok := FetchOutcome{Response: FetchResponse{StatusCode: 200}}
	require.True(t, ok.OK())

	failed := FetchOutcome{Failure: FailureTimeout, Err: &FetchError{Kind: FailureTimeout, URL: "https://example.com"}}
	require.False(t, failed.OK())
}

func TestZoneIsJST(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).In(Zone())
	require.Equal(t, 9, now.Hour())
}
