package aggregate

import (
	"context"
	"fmt"
	"sort"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// HourlyQuery narrows the hourly view to one source or one category.
type HourlyQuery struct {
	Source   string
	Category string
}

// HourlyBucket is the mean rate of one hour of day. AvgRate is nil when no
// observation fell into the bucket, so consumers can tell "no data" from
// "fully idle".
type HourlyBucket struct {
	Hour        int      `json:"hour"`
	HourLabel   string   `json:"hour_str"`
	AvgRate     *float64 `json:"avg_rate"`
	SampleCount int      `json:"sample_count"`
}

// TimeGroup is the mean rate over a named block of hours.
type TimeGroup struct {
	Hours []int   `json:"hours"`
	Avg   float64 `json:"avg"`
}

// HourlyAnalysis summarizes the 24 buckets.
type HourlyAnalysis struct {
	PeakHours  []HourlyBucket       `json:"peak_hours"`
	QuietHours []HourlyBucket       `json:"quiet_hours"`
	TimeGroups map[string]TimeGroup `json:"time_groups"`
	OverallAvg float64              `json:"overall_avg"`
}

// HourlyResult always carries exactly 24 buckets, hours 0 through 23.
type HourlyResult struct {
	Buckets  []HourlyBucket
	Analysis HourlyAnalysis
}

var timeGroupHours = map[string][]int{
	"morning":   {6, 7, 8, 9},
	"noon":      {10, 11, 12, 13},
	"afternoon": {14, 15, 16, 17},
	"evening":   {18, 19, 20, 21},
	"night":     {22, 23, 0, 1, 2, 3, 4, 5},
}

// HourlyAverage buckets the whole retained history by hour of day in the
// reference zone.
func (e *Engine) HourlyAverage(ctx context.Context, q HourlyQuery) (HourlyResult, error) {
	snaps, err := e.store.Range(ctx, staffing.RangeQuery{Source: q.Source})
	if err != nil {
		return HourlyResult{}, err
	}

	var sums [24]float64
	var counts [24]int
	for _, snap := range snaps {
		if snap.OnDuty <= 0 {
			continue
		}
		if !matchesFilter(snap.Category, q.Category) {
			continue
		}
		h := snap.CapturedAt.In(staffing.Zone()).Hour()
		sums[h] += snap.Rate()
		counts[h]++
	}

	buckets := make([]HourlyBucket, 24)
	for h := 0; h < 24; h++ {
		buckets[h] = HourlyBucket{
			Hour:        h,
			HourLabel:   fmt.Sprintf("%d:00", h),
			SampleCount: counts[h],
		}
		if counts[h] > 0 {
			avg := round1(sums[h] / float64(counts[h]))
			buckets[h].AvgRate = &avg
		}
	}

	return HourlyResult{Buckets: buckets, Analysis: analyze(buckets)}, nil
}

func analyze(buckets []HourlyBucket) HourlyAnalysis {
	byRate := make([]HourlyBucket, len(buckets))
	copy(byRate, buckets)
	sort.SliceStable(byRate, func(i, j int) bool {
		return bucketRate(byRate[i]) > bucketRate(byRate[j])
	})

	analysis := HourlyAnalysis{
		PeakHours:  byRate[:3],
		QuietHours: byRate[len(byRate)-3:],
		TimeGroups: make(map[string]TimeGroup, len(timeGroupHours)),
	}

	for name, hours := range timeGroupHours {
		var sum float64
		for _, h := range hours {
			sum += bucketRate(buckets[h])
		}
		analysis.TimeGroups[name] = TimeGroup{
			Hours: hours,
			Avg:   round1(sum / float64(len(hours))),
		}
	}

	var total float64
	for _, b := range buckets {
		total += bucketRate(b)
	}
	analysis.OverallAvg = round1(total / float64(len(buckets)))
	return analysis
}

// bucketRate treats empty buckets as zero for ordering and group means.
func bucketRate(b HourlyBucket) float64 {
	if b.AvgRate == nil {
		return 0
	}
	return *b.AvgRate
}
