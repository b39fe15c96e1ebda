package aggregate

import (
	"context"
	"sort"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// GroupStat is the latest-data rollup of one area or genre.
type GroupStat struct {
	Name        string  `json:"name"`
	StoreCount  int     `json:"store_count"`
	AvgRate     float64 `json:"avg_rate"`
	SampleCount int     `json:"sample_count"`
}

// AreaRollup groups the latest snapshot of every source by area. Sources
// with nobody on duty or without an area are skipped; groups smaller than
// minCount are filtered out.
func (e *Engine) AreaRollup(ctx context.Context, minCount int) ([]GroupStat, error) {
	return e.rollup(ctx, minCount, "", func(s staffing.Snapshot) string { return s.Area })
}

// GenreRollup groups the latest snapshot of every source by genre, with an
// optional category filter.
func (e *Engine) GenreRollup(ctx context.Context, category string, minCount int) ([]GroupStat, error) {
	return e.rollup(ctx, minCount, category, func(s staffing.Snapshot) string { return s.Genre })
}

func (e *Engine) rollup(ctx context.Context, minCount int, category string, key func(staffing.Snapshot) string) ([]GroupStat, error) {
	latest, err := e.store.LatestPerSource(ctx)
	if err != nil {
		return nil, err
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, snap := range latest {
		if snap.OnDuty <= 0 {
			continue
		}
		if !matchesFilter(snap.Category, category) {
			continue
		}
		k := key(snap)
		if k == "" || k == staffing.Unspecified {
			continue
		}
		sums[k] += snap.Rate()
		counts[k]++
	}

	out := make([]GroupStat, 0, len(counts))
	for k, n := range counts {
		if n < minCount {
			continue
		}
		out = append(out, GroupStat{
			Name:        k,
			StoreCount:  n,
			AvgRate:     round1(sums[k] / float64(n)),
			SampleCount: n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgRate != out[j].AvgRate {
			return out[i].AvgRate > out[j].AvgRate
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// SourceNames lists every distinct source name seen in the log.
func (e *Engine) SourceNames(ctx context.Context) ([]string, error) {
	return e.store.SourceNames(ctx)
}
