package aggregate

import (
	"context"
	"time"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// DownsampleCap is the target point count for downsampled history.
const DownsampleCap = 100

// HistoryQuery selects the history of one source. Zero bounds are open.
type HistoryQuery struct {
	Source     string
	Start      time.Time
	End        time.Time
	Downsample bool
}

// HistoryResult is the (possibly downsampled) time series of one source.
type HistoryResult struct {
	Points     []StoreStatus
	TotalCount int
	Sampled    bool
}

// History returns a source's snapshots in capture order. When downsampling
// is on and the range holds more than DownsampleCap points, a fixed stride
// thins the series; the first and last points always survive.
func (e *Engine) History(ctx context.Context, q HistoryQuery) (HistoryResult, error) {
	snaps, err := e.store.Range(ctx, staffing.RangeQuery{
		Source: q.Source,
		Start:  q.Start,
		End:    q.End,
	})
	if err != nil {
		return HistoryResult{}, err
	}

	res := HistoryResult{TotalCount: len(snaps)}
	if q.Downsample && len(snaps) > DownsampleCap {
		snaps = downsample(snaps, DownsampleCap)
		res.Sampled = true
	}

	res.Points = make([]StoreStatus, 0, len(snaps))
	for _, snap := range snaps {
		res.Points = append(res.Points, withRate(snap))
	}
	return res, nil
}

func downsample(snaps []staffing.Snapshot, target int) []staffing.Snapshot {
	stride := (len(snaps) + target - 1) / target
	out := make([]staffing.Snapshot, 0, target)
	for i := 0; i < len(snaps); i += stride {
		out = append(out, snaps[i])
	}
	// The series must end on the range's last observation.
	if last := snaps[len(snaps)-1]; !out[len(out)-1].CapturedAt.Equal(last.CapturedAt) {
		out[len(out)-1] = last
	}
	return out
}

// DailyPoint is the mean rate across all sources for one calendar day.
type DailyPoint struct {
	Date        string  `json:"date"`
	AvgRate     float64 `json:"avg_rate"`
	SampleCount int     `json:"sample_count"`
}

// DailyAverage computes per-day means over the whole retained history,
// ordered by date ascending.
func (e *Engine) DailyAverage(ctx context.Context) ([]DailyPoint, error) {
	snaps, err := e.store.Range(ctx, staffing.RangeQuery{})
	if err != nil {
		return nil, err
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	var dates []string
	for _, snap := range snaps {
		if snap.OnDuty <= 0 {
			continue
		}
		day := snap.CapturedAt.In(staffing.Zone()).Format("2006-01-02")
		if _, ok := counts[day]; !ok {
			dates = append(dates, day)
		}
		sums[day] += snap.Rate()
		counts[day]++
	}

	// Range returns snapshots in capture order, so dates are already
	// ascending.
	out := make([]DailyPoint, 0, len(dates))
	for _, day := range dates {
		out = append(out, DailyPoint{
			Date:        day,
			AvgRate:     round1(sums[day] / float64(counts[day])),
			SampleCount: counts[day],
		})
	}
	return out, nil
}
