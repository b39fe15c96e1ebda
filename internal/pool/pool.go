// Package pool implements the bounded fetch worker pool.
package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ytakeda/staffwatch/internal/metrics"
	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Config controls Pool behavior.
type Config struct {
	// Concurrency caps the number of in-flight fetches.
	Concurrency int
	// FetchTimeout bounds a single fetch attempt, retries excluded.
	FetchTimeout time.Duration
}

// Pool fans a source list out over a bounded set of fetch workers. Each
// source gets its own retry loop; a failure on one source never blocks or
// aborts the others.
type Pool struct {
	fetcher staffing.Fetcher
	retry   staffing.RetryPolicy
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Pool.
func New(fetcher staffing.Fetcher, retry staffing.RetryPolicy, cfg Config, logger *zap.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{fetcher: fetcher, retry: retry, cfg: cfg, logger: logger}
}

// Run fetches every source and returns one outcome per source, in the
// input order. It blocks until all fetches complete or the context ends;
// sources still waiting when the context ends report a timeout failure.
func (p *Pool) Run(ctx context.Context, sources []staffing.Source) []staffing.FetchOutcome {
	outcomes := make([]staffing.FetchOutcome, len(sources))
	sem := semaphore.NewWeighted(int64(p.cfg.Concurrency))

	var wg sync.WaitGroup
	for i, src := range sources {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = staffing.FetchOutcome{
				Source:  src,
				Failure: staffing.FailureTimeout,
				Err:     ctx.Err(),
			}
			continue
		}
		wg.Add(1)
		go func(i int, src staffing.Source) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = p.fetchSource(ctx, src)
		}(i, src)
	}
	wg.Wait()
	return outcomes
}

// fetchSource runs the retry loop for one source and classifies the
// terminal result.
func (p *Pool) fetchSource(ctx context.Context, src staffing.Source) staffing.FetchOutcome {
	metrics.IncActiveFetches()
	defer metrics.DecActiveFetches()

	start := time.Now()
	outcome := staffing.FetchOutcome{Source: src}

	for attempt := 1; ; attempt++ {
		outcome.Attempts = attempt

		resp, err := p.fetchOnce(ctx, src)
		if err == nil {
			outcome.Response = resp
			outcome.Failure = staffing.FailureNone
			outcome.Err = nil
			metrics.ObserveFetch("ok", time.Since(start))
			return outcome
		}

		kind := staffing.ClassifyFetchError(err)
		outcome.Failure = kind
		outcome.Err = err
		p.logger.Warn("fetch attempt failed",
			zap.String("url", src.URL),
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)

		if ctx.Err() != nil || p.retry == nil || !p.retry.ShouldRetry(kind, attempt) {
			metrics.ObserveFetch(string(kind), time.Since(start))
			return outcome
		}

		select {
		case <-ctx.Done():
			metrics.ObserveFetch(string(kind), time.Since(start))
			return outcome
		case <-time.After(p.retry.Backoff(attempt)):
		}
	}
}

func (p *Pool) fetchOnce(ctx context.Context, src staffing.Source) (staffing.FetchResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	return p.fetcher.Fetch(attemptCtx, staffing.FetchRequest{URL: src.URL})
}
