package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Window selects the lookback period of the popularity ranking.
type Window string

// Ranking windows.
const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowAll   Window = "all"
)

// ParseWindow validates a window parameter. Empty defaults to week.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case "":
		return WindowWeek, nil
	case WindowDay, WindowWeek, WindowMonth, WindowAll:
		return Window(s), nil
	default:
		return "", fmt.Errorf("invalid window %q", s)
	}
}

// DefaultRankingLimit caps the ranking when the caller does not.
const DefaultRankingLimit = 20

// RankingQuery controls the popularity ranking.
type RankingQuery struct {
	Window   Window
	Category string
	Limit    int
}

// RankedSource is one entry of the popularity ranking. Sources with the
// same mean rate share a rank; ranks never skip.
type RankedSource struct {
	Rank        int     `json:"rank"`
	SourceName  string  `json:"store_name"`
	AvgRate     float64 `json:"avg_rate"`
	SampleCount int     `json:"sample_count"`
	Category    string  `json:"biz_type"`
	Genre       string  `json:"genre"`
	Area        string  `json:"area"`
}

// PopularityRanking orders sources by mean rate over the window. Windows
// are measured backwards from now; "all" spans the whole retained history.
func (e *Engine) PopularityRanking(ctx context.Context, q RankingQuery) ([]RankedSource, error) {
	var start time.Time
	now := e.clock.Now()
	switch q.Window {
	case WindowDay:
		start = now.Add(-24 * time.Hour)
	case WindowWeek, "":
		start = now.AddDate(0, 0, -7)
	case WindowMonth:
		start = now.AddDate(0, -1, 0)
	case WindowAll:
		// open start
	}

	snaps, err := e.store.Range(ctx, staffing.RangeQuery{Start: start})
	if err != nil {
		return nil, err
	}

	type acc struct {
		sum   float64
		count int
		last  staffing.Snapshot
	}
	byName := make(map[string]*acc)
	for _, snap := range snaps {
		if snap.OnDuty <= 0 {
			continue
		}
		if !matchesFilter(snap.Category, q.Category) {
			continue
		}
		a, ok := byName[snap.SourceName]
		if !ok {
			a = &acc{}
			byName[snap.SourceName] = a
		}
		a.sum += snap.Rate()
		a.count++
		a.last = snap
	}

	out := make([]RankedSource, 0, len(byName))
	for name, a := range byName {
		out = append(out, RankedSource{
			SourceName:  name,
			AvgRate:     round1(a.sum / float64(a.count)),
			SampleCount: a.count,
			Category:    a.last.Category,
			Genre:       a.last.Genre,
			Area:        a.last.Area,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgRate != out[j].AvgRate {
			return out[i].AvgRate > out[j].AvgRate
		}
		return out[i].SourceName < out[j].SourceName
	})

	rank := 0
	for i := range out {
		if i == 0 || out[i].AvgRate != out[i-1].AvgRate {
			rank++
		}
		out[i].Rank = rank
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultRankingLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
