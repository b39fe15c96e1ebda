package aggregate

import (
	"context"
	"strings"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Pagination limits for the current view.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// CurrentQuery filters and paginates the latest-per-source view.
type CurrentQuery struct {
	Category string
	Genre    string
	Area     string
	Search   string
	Page     int
	PerPage  int
}

// CurrentResult is one page of the latest-per-source view plus summary
// figures computed over the whole filtered set, not just the page.
type CurrentResult struct {
	Stores      []StoreStatus
	TotalCount  int
	ValidStores int
	AvgRate     float64
	MaxRate     float64
	TotalOnDuty int
	TotalFree   int
	Page        int
	PerPage     int
	TotalPages  int
	HasNext     bool
	HasPrev     bool
}

// Current returns the filtered latest snapshot of every source.
func (e *Engine) Current(ctx context.Context, q CurrentQuery) (CurrentResult, error) {
	latest, err := e.store.LatestPerSource(ctx)
	if err != nil {
		return CurrentResult{}, err
	}

	var filtered []staffing.Snapshot
	for _, snap := range latest {
		if !matchesFilter(snap.Category, q.Category) ||
			!matchesFilter(snap.Genre, q.Genre) ||
			!matchesFilter(snap.Area, q.Area) {
			continue
		}
		if q.Search != "" && !strings.Contains(snap.SourceName, q.Search) {
			continue
		}
		filtered = append(filtered, snap)
	}

	res := CurrentResult{TotalCount: len(filtered)}

	var totalOnDuty, totalFree int
	for _, snap := range filtered {
		if snap.OnDuty <= 0 {
			continue
		}
		res.ValidStores++
		totalOnDuty += snap.OnDuty
		totalFree += snap.Free
		if rate := snap.Rate(); rate > res.MaxRate {
			res.MaxRate = rate
		}
	}
	res.TotalOnDuty = totalOnDuty
	res.TotalFree = totalFree
	if totalOnDuty > 0 {
		res.AvgRate = (float64(totalOnDuty-totalFree) / float64(totalOnDuty)) * 100
	}
	res.AvgRate = round1(res.AvgRate)
	res.MaxRate = round1(res.MaxRate)

	page, perPage := q.Page, q.PerPage
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	res.Page = page
	res.PerPage = perPage
	res.TotalPages = (len(filtered) + perPage - 1) / perPage
	if res.TotalPages == 0 {
		res.TotalPages = 1
	}
	res.HasNext = page < res.TotalPages
	res.HasPrev = page > 1

	start := (page - 1) * perPage
	if start >= len(filtered) {
		res.Stores = []StoreStatus{}
		return res, nil
	}
	end := start + perPage
	if end > len(filtered) {
		end = len(filtered)
	}

	res.Stores = make([]StoreStatus, 0, end-start)
	for _, snap := range filtered[start:end] {
		res.Stores = append(res.Stores, withRate(snap))
	}
	return res, nil
}

// matchesFilter treats empty and "all" as no filter.
func matchesFilter(value, filter string) bool {
	return filter == "" || filter == "all" || value == filter
}
