package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ytakeda/staffwatch/internal/aggregate"
	"github.com/ytakeda/staffwatch/internal/cache"
	"github.com/ytakeda/staffwatch/internal/extract"
	uuidgen "github.com/ytakeda/staffwatch/internal/id/uuid"
	"github.com/ytakeda/staffwatch/internal/metrics"
	"github.com/ytakeda/staffwatch/internal/notify"
	"github.com/ytakeda/staffwatch/internal/orchestrator"
	"github.com/ytakeda/staffwatch/internal/staffing"
	"github.com/ytakeda/staffwatch/internal/storage/memory"
)

func init() {
	metrics.Init()
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type stubCrawler struct {
	busy      bool
	triggered int
}

func (c *stubCrawler) TriggerNow(context.Context) error {
	if c.busy {
		return staffing.ErrBusy
	}
	c.triggered++
	return nil
}

func (c *stubCrawler) Status() orchestrator.Status {
	state := staffing.CycleIdle
	if c.busy {
		state = staffing.CycleRunning
	}
	return orchestrator.Status{State: state}
}

func newTestServer(t *testing.T, store staffing.Store, crawler Crawler) *Server {
	t.Helper()
	clock := fixedClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, staffing.Zone())}
	engine := aggregate.New(store, clock)
	resultCache := cache.New(cache.Config{}, clock)
	if crawler == nil {
		crawler = &stubCrawler{}
	}
	return NewServer(engine, resultCache, store, crawler, clock, nil)
}

func seedSnapshots(t *testing.T, store staffing.Store) {
	t.Helper()
	at := time.Date(2026, 1, 10, 11, 0, 0, 0, staffing.Zone())
	for _, snap := range []staffing.Snapshot{
		{SourceName: "alpha", Category: "店舗型", Genre: "A", Area: "名古屋", TotalStaff: 10, OnDuty: 10, Free: 5, CapturedAt: at},
		{SourceName: "beta", Category: "派遣型", Genre: "B", Area: "栄", TotalStaff: 8, OnDuty: 8, Free: 0, CapturedAt: at},
	} {
		require.NoError(t, store.Append(context.Background(), snap))
	}
}

func doRequest(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (json.RawMessage, map[string]any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
		Meta map[string]any  `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Data, env.Meta
}

func TestGetCurrent(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedSnapshots(t, store)
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodGet, "/v1/stores/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	data, meta := decodeEnvelope(t, rec)
	var stores []map[string]any
	require.NoError(t, json.Unmarshal(data, &stores))
	require.Len(t, stores, 2)
	require.Contains(t, stores[0], "rate")

	require.EqualValues(t, 2, meta["total_count"])
	require.EqualValues(t, 2, meta["valid_stores"])
	require.Contains(t, meta, "avg_rate")
	require.Contains(t, meta, "current_time")
	require.Contains(t, meta["current_time"], "+09:00")
}

func TestGetCurrentFiltered(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedSnapshots(t, store)
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodGet, "/v1/stores/current?area=%E6%A0%84", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, meta := decodeEnvelope(t, rec)
	require.EqualValues(t, 1, meta["total_count"])
}

func TestGetHistoryRequiresStore(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, memory.New(), nil)
	rec := doRequest(t, s, http.MethodGet, "/v1/stores/history", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, meta := decodeEnvelope(t, rec)
	require.Contains(t, meta, "error")
}

func TestGetHistoryBadDate(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, memory.New(), nil)
	rec := doRequest(t, s, http.MethodGet, "/v1/stores/history?store=alpha&start_date=10-01-2026", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetHistory(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedSnapshots(t, store)
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodGet, "/v1/stores/history?store=alpha&start_date=2026-01-10&end_date=2026-01-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data, meta := decodeEnvelope(t, rec)

	var points []map[string]any
	require.NoError(t, json.Unmarshal(data, &points))
	require.Len(t, points, 1)
	require.Equal(t, "alpha", meta["store"])
	require.Equal(t, false, meta["is_sampled"])
}

func TestGetNames(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedSnapshots(t, store)
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodGet, "/v1/stores/names", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data, meta := decodeEnvelope(t, rec)

	var names []string
	require.NoError(t, json.Unmarshal(data, &names))
	require.Equal(t, []string{"alpha", "beta"}, names)
	require.EqualValues(t, 2, meta["count"])
}

func TestGetHourlyAlways24Buckets(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedSnapshots(t, store)
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodGet, "/v1/analysis/hourly", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data, meta := decodeEnvelope(t, rec)

	var buckets []struct {
		Hour    int      `json:"hour"`
		AvgRate *float64 `json:"avg_rate"`
	}
	require.NoError(t, json.Unmarshal(data, &buckets))
	require.Len(t, buckets, 24)
	require.NotNil(t, buckets[11].AvgRate)
	require.Nil(t, buckets[0].AvgRate)
	require.Contains(t, meta, "analysis")
}

func TestGetPopularBadWindow(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, memory.New(), nil)
	rec := doRequest(t, s, http.MethodGet, "/v1/ranking/popular?window=fortnight", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPopular(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedSnapshots(t, store)
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodGet, "/v1/ranking/popular?window=day", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data, meta := decodeEnvelope(t, rec)

	var ranking []map[string]any
	require.NoError(t, json.Unmarshal(data, &ranking))
	require.Len(t, ranking, 2)
	require.EqualValues(t, 1, ranking[0]["rank"])
	require.Equal(t, "beta", ranking[0]["store_name"])
	require.Equal(t, "day", meta["window"])
}

func TestDegradedViewStays200(t *testing.T) {
	t.Parallel()

	store := memory.New()
	require.NoError(t, store.Close())
	s := newTestServer(t, failingSnapshotStore{store}, nil)

	rec := doRequest(t, s, http.MethodGet, "/v1/stores/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data, meta := decodeEnvelope(t, rec)

	var stores []any
	require.NoError(t, json.Unmarshal(data, &stores))
	require.Empty(t, stores)
	require.Contains(t, meta, "error")
}

type failingSnapshotStore struct {
	staffing.Store
}

func (failingSnapshotStore) LatestPerSource(context.Context) ([]staffing.Snapshot, error) {
	return nil, &staffing.StorageError{Op: "latest_per_source", Err: context.DeadlineExceeded}
}

func TestTriggerCrawl(t *testing.T) {
	t.Parallel()

	crawler := &stubCrawler{}
	s := newTestServer(t, memory.New(), crawler)

	rec := doRequest(t, s, http.MethodPost, "/v1/crawl/trigger", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, crawler.triggered)

	crawler.busy = true
	rec = doRequest(t, s, http.MethodPost, "/v1/crawl/trigger", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

// gatedRunner holds the cycle until the test releases it, then fails any
// source whose context has already been cancelled.
type gatedRunner struct {
	release chan struct{}
}

func (r *gatedRunner) Run(ctx context.Context, sources []staffing.Source) []staffing.FetchOutcome {
	<-r.release
	body := `<html><body><p class="shopname">gamma</p>` +
		`<div class="shiftbox"><ul class="girlslist"><li>A</li><li>B</li></ul></div>` +
		`<section class="standby"><ul class="girlslist"><li>A</li></ul></section></body></html>`
	out := make([]staffing.FetchOutcome, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			out[i] = staffing.FetchOutcome{Source: src, Attempts: 1, Failure: staffing.FailureNetwork, Err: err}
			continue
		}
		out[i] = staffing.FetchOutcome{
			Source:   src,
			Attempts: 1,
			Response: staffing.FetchResponse{StatusCode: 200, Body: []byte(body)},
		}
	}
	return out
}

func TestTriggerCrawlCycleSurvivesRequestCompletion(t *testing.T) {
	t.Parallel()

	store := memory.New()
	_, err := store.AddSource(context.Background(), "https://example.com/gamma")
	require.NoError(t, err)

	clock := fixedClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, staffing.Zone())}
	resultCache := cache.New(cache.Config{}, clock)
	runner := &gatedRunner{release: make(chan struct{})}
	orch := orchestrator.New(store, runner, extract.New(), resultCache, notify.Nop{},
		clock, uuidgen.NewGenerator(), orchestrator.Config{Interval: time.Hour}, nil)
	s := NewServer(aggregate.New(store, clock), resultCache, store, orch, clock, nil)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	// The request finishes before the cycle does any work.
	resp, err := http.Post(srv.URL+"/v1/crawl/trigger", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	close(runner.release)
	orch.Wait()

	st := orch.Status()
	require.NotNil(t, st.Last)
	require.Equal(t, 1, st.Last.Succeeded)
	require.Zero(t, st.Last.Failed)
	require.Equal(t, 1, st.Last.Appended)

	snaps, err := store.Range(context.Background(), staffing.RangeQuery{})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}

func TestCrawlStatus(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, memory.New(), &stubCrawler{busy: true})
	rec := doRequest(t, s, http.MethodGet, "/v1/crawl/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data, _ := decodeEnvelope(t, rec)
	var st map[string]any
	require.NoError(t, json.Unmarshal(data, &st))
	require.Equal(t, "running", st["state"])
}

func TestSourcesCRUD(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, memory.New(), nil)

	rec := doRequest(t, s, http.MethodPost, "/v1/sources", []byte(`{"url":"https://example.com/a"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	data, _ := decodeEnvelope(t, rec)
	var src staffing.Source
	require.NoError(t, json.Unmarshal(data, &src))
	require.Equal(t, int64(1), src.ID)

	// Duplicate URL conflicts.
	rec = doRequest(t, s, http.MethodPost, "/v1/sources", []byte(`{"url":"https://example.com/a"}`))
	require.Equal(t, http.StatusConflict, rec.Code)

	// Relative URLs are rejected up front.
	rec = doRequest(t, s, http.MethodPost, "/v1/sources", []byte(`{"url":"not-a-url"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data, meta := decodeEnvelope(t, rec)
	var list []staffing.Source
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	require.EqualValues(t, 1, meta["count"])

	rec = doRequest(t, s, http.MethodPut, "/v1/sources/1", []byte(`{"url":"https://example.com/b"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodPut, "/v1/sources/99", []byte(`{"url":"https://example.com/c"}`))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s, http.MethodDelete, "/v1/sources/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodDelete, "/v1/sources/1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSourcesBulk(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, memory.New(), nil)
	body := []byte(`{"urls":["https://example.com/a","https://example.com/a","bogus"]}`)

	rec := doRequest(t, s, http.MethodPost, "/v1/sources/bulk", body)
	require.Equal(t, http.StatusOK, rec.Code)

	data, meta := decodeEnvelope(t, rec)
	var results []bulkSourceResult
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 3)
	require.Equal(t, "added", results[0].Status)
	require.Equal(t, "duplicate", results[1].Status)
	require.Equal(t, "rejected", results[2].Status)
	require.EqualValues(t, 1, meta["added"])
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, memory.New(), nil)

	rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
