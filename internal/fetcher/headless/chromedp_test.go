package headless

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

func TestNewLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := New(Config{MaxParallel: 4})
	require.NoError(t, err)
	defer fetcher.Close()
	require.Equal(t, 4, cap(fetcher.limiter))
}

func TestAcquireRespectsCancellation(t *testing.T) {
	t.Parallel()

	f := &Fetcher{limiter: make(chan struct{}, 1)}
	require.NoError(t, f.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, f.acquire(ctx))

	f.release()
	require.NoError(t, f.acquire(context.Background()))
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 204,
			URL:    "https://example.com/rendered",
		},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 204, status)
	require.Equal(t, "https://example.com/rendered", url)

	meta = newResponseMeta()
	status, url = meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, 200, status)
	require.Equal(t, "https://final", url)

	meta = newResponseMeta()
	status, url = meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 200, status)
	require.Equal(t, "https://req", url)
}

func TestResponseMetaIgnoresSubresources(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://cdn/img.png"},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 200, status)
	require.Equal(t, "https://req", url)
}

func TestNoopFetcher(t *testing.T) {
	t.Parallel()

	n := &Noop{Body: []byte("<html></html>")}
	resp, err := n.Fetch(context.Background(), staffing.FetchRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.True(t, resp.UsedHeadless)
	require.Equal(t, "https://example.com", resp.URL)
}
