package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ytakeda/staffwatch/internal/extract"
	"github.com/ytakeda/staffwatch/internal/metrics"
	"github.com/ytakeda/staffwatch/internal/notify"
	"github.com/ytakeda/staffwatch/internal/staffing"
	"github.com/ytakeda/staffwatch/internal/storage/memory"
)

func init() {
	metrics.Init()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().In(staffing.Zone()) }

type seqIDs struct {
	n int64
}

func (s *seqIDs) NewID() (string, error) {
	return "cycle-" + string(rune('0'+atomic.AddInt64(&s.n, 1))), nil
}

type stubRunner struct {
	outcomes func(sources []staffing.Source) []staffing.FetchOutcome
	started  chan struct{}
	release  chan struct{}
}

func (r *stubRunner) Run(_ context.Context, sources []staffing.Source) []staffing.FetchOutcome {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	return r.outcomesFor(sources)
}

func (r *stubRunner) outcomesFor(sources []staffing.Source) []staffing.FetchOutcome {
	if r.outcomes != nil {
		return r.outcomes(sources)
	}
	out := make([]staffing.FetchOutcome, len(sources))
	for i, src := range sources {
		out[i] = staffing.FetchOutcome{
			Source:   src,
			Attempts: 1,
			Response: staffing.FetchResponse{StatusCode: 200, Body: []byte(pageFor("store-" + src.URL))},
		}
	}
	return out
}

func pageFor(name string) string {
	return `<html><body><p class="shopname">` + name + `</p>` +
		`<div class="shiftbox"><ul class="girlslist"><li>A</li><li>B</li></ul></div>` +
		`<section class="standby"><ul class="girlslist"><li>A</li></ul></section></body></html>`
}

type countingInvalidator struct {
	calls int32
}

func (c *countingInvalidator) InvalidateAll() { atomic.AddInt32(&c.calls, 1) }

func newTestOrchestrator(t *testing.T, store staffing.Store, runner Runner) (*Orchestrator, *countingInvalidator, *notify.Memory) {
	t.Helper()
	inv := &countingInvalidator{}
	pub := notify.NewMemory()
	t.Cleanup(func() { pub.Close() })
	o := New(store, runner, extract.New(), inv, pub, systemClock{}, &seqIDs{},
		Config{Interval: time.Hour, Retention: 730 * 24 * time.Hour}, nil)
	return o, inv, pub
}

func TestTriggerNowRunsFullCycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	_, err := store.AddSource(ctx, "https://example.com/a")
	require.NoError(t, err)
	_, err = store.AddSource(ctx, "https://example.com/b")
	require.NoError(t, err)

	o, inv, pub := newTestOrchestrator(t, store, &stubRunner{})
	events := pub.Subscribe()

	require.NoError(t, o.TriggerNow(ctx))
	o.Wait()

	summary := <-events
	require.Equal(t, 2, summary.Sources)
	require.Equal(t, 2, summary.Succeeded)
	require.Zero(t, summary.Failed)
	require.Equal(t, 2, summary.Appended)
	require.NotEmpty(t, summary.ID)
	require.False(t, summary.Finished.Before(summary.Started))

	snaps, err := store.Range(ctx, staffing.RangeQuery{})
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	require.Equal(t, int32(1), atomic.LoadInt32(&inv.calls))

	st := o.Status()
	require.Equal(t, staffing.CycleIdle, st.State)
	require.NotNil(t, st.Last)
	require.Equal(t, 2, st.Last.Appended)
}

func TestTriggerNowWhileRunningReturnsBusy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	_, err := store.AddSource(ctx, "https://example.com/a")
	require.NoError(t, err)

	runner := &stubRunner{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	o, _, _ := newTestOrchestrator(t, store, runner)

	require.NoError(t, o.TriggerNow(ctx))
	<-runner.started

	require.Equal(t, staffing.CycleRunning, o.Status().State)
	require.ErrorIs(t, o.TriggerNow(ctx), staffing.ErrBusy)

	close(runner.release)
	o.Wait()
	require.Equal(t, staffing.CycleIdle, o.Status().State)

	// Idle again, so a new trigger is accepted.
	require.NoError(t, o.TriggerNow(ctx))
	o.Wait()
}

// cycleCtxRunner records the error state of the cycle's context at run time.
type cycleCtxRunner struct {
	stubRunner
	seenErr error
}

func (r *cycleCtxRunner) Run(ctx context.Context, sources []staffing.Source) []staffing.FetchOutcome {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	r.seenErr = ctx.Err()
	return r.stubRunner.outcomesFor(sources)
}

func TestTriggerNowCycleOutlivesCallerContext(t *testing.T) {
	t.Parallel()

	store := memory.New()
	_, err := store.AddSource(context.Background(), "https://example.com/a")
	require.NoError(t, err)

	runner := &cycleCtxRunner{stubRunner: stubRunner{}}
	runner.started = make(chan struct{}, 1)
	runner.release = make(chan struct{})
	o, _, pub := newTestOrchestrator(t, store, runner)
	events := pub.Subscribe()

	// The trigger context dies as soon as the call returns, the way an
	// HTTP request context does once the 202 is written.
	callerCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, o.TriggerNow(callerCtx))
	<-runner.started
	cancel()
	close(runner.release)
	o.Wait()

	require.NoError(t, runner.seenErr)
	summary := <-events
	require.Equal(t, 1, summary.Succeeded)
	require.Zero(t, summary.Failed)
	require.Equal(t, 1, summary.Appended)

	snaps, err := store.Range(context.Background(), staffing.RangeQuery{})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}

func TestTriggerNowCancelledCallerIsRejected(t *testing.T) {
	t.Parallel()

	o, _, _ := newTestOrchestrator(t, memory.New(), &stubRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, o.TriggerNow(ctx), context.Canceled)
}

func TestPartialFailureMarksAndClearsErrorFlag(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	good, err := store.AddSource(ctx, "https://example.com/good")
	require.NoError(t, err)
	bad, err := store.AddSource(ctx, "https://example.com/bad")
	require.NoError(t, err)
	// The good source failed last cycle; this cycle should clear it.
	require.NoError(t, store.MarkSourceError(ctx, good.ID))

	runner := &stubRunner{
		outcomes: func(sources []staffing.Source) []staffing.FetchOutcome {
			out := make([]staffing.FetchOutcome, len(sources))
			for i, src := range sources {
				if src.ID == bad.ID {
					out[i] = staffing.FetchOutcome{
						Source:   src,
						Attempts: 3,
						Failure:  staffing.FailureNetwork,
						Err:      errors.New("connection refused"),
					}
					continue
				}
				out[i] = staffing.FetchOutcome{
					Source:   src,
					Attempts: 1,
					Response: staffing.FetchResponse{StatusCode: 200, Body: []byte(pageFor("good"))},
				}
			}
			return out
		},
	}
	o, _, pub := newTestOrchestrator(t, store, runner)
	events := pub.Subscribe()

	require.NoError(t, o.TriggerNow(ctx))
	o.Wait()

	summary := <-events
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Appended)

	list, err := store.ListSources(ctx)
	require.NoError(t, err)
	for _, src := range list {
		switch src.ID {
		case good.ID:
			require.False(t, src.ErrorFlag)
		case bad.ID:
			require.True(t, src.ErrorFlag)
		}
	}
}

func TestExtractionFailureCountsAsRecordFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	_, err := store.AddSource(ctx, "https://example.com/a")
	require.NoError(t, err)

	runner := &stubRunner{
		outcomes: func(sources []staffing.Source) []staffing.FetchOutcome {
			return []staffing.FetchOutcome{{
				Source:   sources[0],
				Attempts: 1,
				Response: staffing.FetchResponse{StatusCode: 200, Body: []byte("<html><body>empty</body></html>")},
			}}
		},
	}
	o, _, pub := newTestOrchestrator(t, store, runner)
	events := pub.Subscribe()

	require.NoError(t, o.TriggerNow(ctx))
	o.Wait()

	summary := <-events
	require.Zero(t, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Zero(t, summary.Appended)
}

func TestCyclePrunesOldSnapshots(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	old := staffing.Snapshot{
		SourceName: "ancient",
		OnDuty:     1,
		CapturedAt: time.Now().In(staffing.Zone()).AddDate(-3, 0, 0),
	}
	require.NoError(t, store.Append(ctx, old))

	o, _, pub := newTestOrchestrator(t, store, &stubRunner{})
	events := pub.Subscribe()

	require.NoError(t, o.TriggerNow(ctx))
	o.Wait()

	summary := <-events
	require.Equal(t, int64(1), summary.Pruned)
}

func TestRunSchedulesFirstCycleAfterDelay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.New()
	_, err := store.AddSource(ctx, "https://example.com/a")
	require.NoError(t, err)

	runner := &stubRunner{started: make(chan struct{}, 1)}
	inv := &countingInvalidator{}
	o := New(store, runner, extract.New(), inv, notify.Nop{}, systemClock{}, &seqIDs{},
		Config{Interval: time.Hour, StartupDelay: 10 * time.Millisecond}, nil)

	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never started")
	}

	st := o.Status()
	require.NotNil(t, st.NextRunAt)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not exit on cancel")
	}
}
