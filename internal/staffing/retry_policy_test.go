package staffing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldRetryByKind(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3)

	require.True(t, p.ShouldRetry(FailureTimeout, 0))
	require.True(t, p.ShouldRetry(FailureNetwork, 1))
	require.True(t, p.ShouldRetry(FailureProtocol, 2))
	require.False(t, p.ShouldRetry(FailureParse, 0))
	require.False(t, p.ShouldRetry(FailureNone, 0))
}

func TestShouldRetryStopsAtAttemptCeiling(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3)
	require.True(t, p.ShouldRetry(FailureTimeout, 2))
	require.False(t, p.ShouldRetry(FailureTimeout, 3))
	require.False(t, p.ShouldRetry(FailureTimeout, 10))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5)
	for attempt := 0; attempt < 8; attempt++ {
		d := p.Backoff(attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 5*time.Second)
	}
}

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

type plainNetErr struct{}

func (plainNetErr) Error() string   { return "connection refused" }
func (plainNetErr) Timeout() bool   { return false }
func (plainNetErr) Temporary() bool { return false }

func TestClassifyFetchError(t *testing.T) {
	t.Parallel()

	require.Equal(t, FailureNone, ClassifyFetchError(nil))
	require.Equal(t, FailureTimeout, ClassifyFetchError(context.DeadlineExceeded))
	require.Equal(t, FailureTimeout, ClassifyFetchError(timeoutNetErr{}))
	require.Equal(t, FailureNetwork, ClassifyFetchError(plainNetErr{}))
	require.Equal(t, FailureProtocol, ClassifyFetchError(errors.New("session detached")))

	wrapped := &FetchError{Kind: FailureNetwork, URL: "https://example.com", Err: errors.New("reset")}
	require.Equal(t, FailureNetwork, ClassifyFetchError(wrapped))
}
