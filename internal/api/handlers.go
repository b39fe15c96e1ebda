package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ytakeda/staffwatch/internal/aggregate"
	"github.com/ytakeda/staffwatch/internal/cache"
	"github.com/ytakeda/staffwatch/internal/staffing"
)

func (s *Server) getCurrent(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := aggregate.CurrentQuery{
		Category: qs.Get("biz_type"),
		Genre:    qs.Get("genre"),
		Area:     qs.Get("area"),
		Search:   qs.Get("search"),
		Page:     intParam(qs.Get("page"), 1),
		PerPage:  intParam(qs.Get("per_page"), aggregate.DefaultPerPage),
	}

	key := cache.Key(cache.OpCurrent, map[string]string{
		"biz_type": q.Category,
		"genre":    q.Genre,
		"area":     q.Area,
		"search":   q.Search,
		"page":     strconv.Itoa(q.Page),
		"per_page": strconv.Itoa(q.PerPage),
	})
	s.maybeRefresh(r, key)

	v, err := s.cache.Do(r.Context(), cache.OpCurrent, key, func(ctx context.Context) (any, error) {
		return s.engine.Current(ctx, q)
	})
	if err != nil {
		s.degraded(w, []aggregate.StoreStatus{}, err)
		return
	}
	res := v.(aggregate.CurrentResult)

	meta := s.newMeta()
	meta["total_count"] = res.TotalCount
	meta["valid_stores"] = res.ValidStores
	meta["avg_rate"] = res.AvgRate
	meta["max_rate"] = res.MaxRate
	meta["total_working_staff"] = res.TotalOnDuty
	meta["total_active_staff"] = res.TotalFree
	meta["page"] = res.Page
	meta["per_page"] = res.PerPage
	meta["total_pages"] = res.TotalPages
	meta["has_next"] = res.HasNext
	meta["has_prev"] = res.HasPrev
	s.respond(w, res.Stores, meta)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	source := qs.Get("store")
	if source == "" {
		s.badRequest(w, "store parameter is required")
		return
	}

	start, err := parseDate(qs.Get("start_date"), false)
	if err != nil {
		s.badRequest(w, "invalid start_date, expected YYYY-MM-DD")
		return
	}
	end, err := parseDate(qs.Get("end_date"), true)
	if err != nil {
		s.badRequest(w, "invalid end_date, expected YYYY-MM-DD")
		return
	}

	q := aggregate.HistoryQuery{
		Source:     source,
		Start:      start,
		End:        end,
		Downsample: qs.Get("optimize") != "0",
	}
	key := cache.Key(cache.OpHistory, map[string]string{
		"store":      source,
		"start_date": qs.Get("start_date"),
		"end_date":   qs.Get("end_date"),
		"optimize":   qs.Get("optimize"),
	})
	s.maybeRefresh(r, key)

	v, err := s.cache.Do(r.Context(), cache.OpHistory, key, func(ctx context.Context) (any, error) {
		return s.engine.History(ctx, q)
	})
	if err != nil {
		s.degraded(w, []aggregate.StoreStatus{}, err)
		return
	}
	res := v.(aggregate.HistoryResult)

	meta := s.newMeta()
	meta["store"] = source
	meta["total_count"] = res.TotalCount
	meta["returned_count"] = len(res.Points)
	meta["is_sampled"] = res.Sampled
	s.respond(w, res.Points, meta)
}

func (s *Server) getNames(w http.ResponseWriter, r *http.Request) {
	key := cache.Key(cache.OpNames, nil)
	s.maybeRefresh(r, key)

	v, err := s.cache.Do(r.Context(), cache.OpNames, key, func(ctx context.Context) (any, error) {
		return s.engine.SourceNames(ctx)
	})
	if err != nil {
		s.degraded(w, []string{}, err)
		return
	}
	names := v.([]string)

	meta := s.newMeta()
	meta["count"] = len(names)
	s.respond(w, names, meta)
}

func (s *Server) getHourly(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := aggregate.HourlyQuery{
		Source:   qs.Get("store"),
		Category: qs.Get("biz_type"),
	}
	key := cache.Key(cache.OpHourly, map[string]string{
		"store":    q.Source,
		"biz_type": q.Category,
	})
	s.maybeRefresh(r, key)

	v, err := s.cache.Do(r.Context(), cache.OpHourly, key, func(ctx context.Context) (any, error) {
		return s.engine.HourlyAverage(ctx, q)
	})
	if err != nil {
		s.degraded(w, []aggregate.HourlyBucket{}, err)
		return
	}
	res := v.(aggregate.HourlyResult)

	meta := s.newMeta()
	meta["store"] = orAll(q.Source)
	meta["biz_type"] = orAll(q.Category)
	meta["analysis"] = res.Analysis
	s.respond(w, res.Buckets, meta)
}

func (s *Server) getAreaStats(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	minCount := intParam(qs.Get("min_count"), 0)

	key := cache.Key(cache.OpArea, map[string]string{
		"min_count": qs.Get("min_count"),
	})
	s.maybeRefresh(r, key)

	v, err := s.cache.Do(r.Context(), cache.OpArea, key, func(ctx context.Context) (any, error) {
		return s.engine.AreaRollup(ctx, minCount)
	})
	if err != nil {
		s.degraded(w, []aggregate.GroupStat{}, err)
		return
	}
	stats := v.([]aggregate.GroupStat)

	meta := s.newMeta()
	meta["count"] = len(stats)
	s.respond(w, stats, meta)
}

func (s *Server) getDaily(w http.ResponseWriter, r *http.Request) {
	key := cache.Key(cache.OpDaily, nil)
	s.maybeRefresh(r, key)

	v, err := s.cache.Do(r.Context(), cache.OpDaily, key, func(ctx context.Context) (any, error) {
		return s.engine.DailyAverage(ctx)
	})
	if err != nil {
		s.degraded(w, []aggregate.DailyPoint{}, err)
		return
	}
	points := v.([]aggregate.DailyPoint)

	meta := s.newMeta()
	meta["count"] = len(points)
	s.respond(w, points, meta)
}

func (s *Server) getGenreRanking(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	category := qs.Get("biz_type")
	minCount := intParam(qs.Get("min_count"), 0)

	key := cache.Key(cache.OpGenre, map[string]string{
		"biz_type":  category,
		"min_count": qs.Get("min_count"),
	})
	s.maybeRefresh(r, key)

	v, err := s.cache.Do(r.Context(), cache.OpGenre, key, func(ctx context.Context) (any, error) {
		return s.engine.GenreRollup(ctx, category, minCount)
	})
	if err != nil {
		s.degraded(w, []aggregate.GroupStat{}, err)
		return
	}
	stats := v.([]aggregate.GroupStat)

	meta := s.newMeta()
	meta["biz_type"] = orAll(category)
	meta["count"] = len(stats)
	s.respond(w, stats, meta)
}

func (s *Server) getPopularRanking(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	window, err := aggregate.ParseWindow(qs.Get("window"))
	if err != nil {
		s.badRequest(w, "invalid window, expected day, week, month or all")
		return
	}
	q := aggregate.RankingQuery{
		Window:   window,
		Category: qs.Get("biz_type"),
		Limit:    intParam(qs.Get("limit"), aggregate.DefaultRankingLimit),
	}

	key := cache.Key(cache.OpPopular, map[string]string{
		"window":   string(window),
		"biz_type": q.Category,
		"limit":    strconv.Itoa(q.Limit),
	})
	s.maybeRefresh(r, key)

	v, err := s.cache.Do(r.Context(), cache.OpPopular, key, func(ctx context.Context) (any, error) {
		return s.engine.PopularityRanking(ctx, q)
	})
	if err != nil {
		s.degraded(w, []aggregate.RankedSource{}, err)
		return
	}
	ranking := v.([]aggregate.RankedSource)

	meta := s.newMeta()
	meta["window"] = string(window)
	meta["biz_type"] = orAll(q.Category)
	meta["count"] = len(ranking)
	s.respond(w, ranking, meta)
}

func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	if err := s.crawler.TriggerNow(r.Context()); err != nil {
		writeJSON(s.logger, w, http.StatusConflict, map[string]string{
			"status": "busy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) getCrawlStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.crawler.Status(), nil)
}

func (s *Server) maybeRefresh(r *http.Request, key string) {
	if r.URL.Query().Get("refresh") == "1" {
		s.cache.Refresh(key)
	}
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func orAll(v string) string {
	if v == "" {
		return "all"
	}
	return v
}

// parseDate reads a YYYY-MM-DD parameter in the reference zone. End dates
// extend to the last instant of the day so the bound stays inclusive.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, staffing.Zone())
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Second)
	}
	return t, nil
}
