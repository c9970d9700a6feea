package downloader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nyxcrawl/scrapyengine/config"
	"github.com/nyxcrawl/scrapyengine/request"
)

// stubTransport never touches the network; it returns a fixed response
// (or error) for every Fetch.
type stubTransport struct {
	resp *request.Response
	err  error
}

func (t *stubTransport) Fetch(ctx context.Context, r *request.Request) (*request.Response, error) {
	if t.err != nil {
		return nil, t.err
	}
	resp := *t.resp
	resp.Request = r
	return &resp, nil
}

func (t *stubTransport) Close() error { return nil }

func TestDownloaderFetchRoutesByScheme(t *testing.T) {
	transport := &stubTransport{resp: &request.Response{StatusCode: 200}}
	d := New(&config.Settings{}, nil, map[string]Transport{"https": transport})

	resp, err := d.Fetch(context.Background(), request.NewRequest("https://example.com/"))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}

func TestDownloaderFetchErrorsOnUnsupportedScheme(t *testing.T) {
	d := New(&config.Settings{}, nil, map[string]Transport{"https": &stubTransport{}})

	_, err := d.Fetch(context.Background(), request.NewRequest("ftp://example.com/"))
	require.Error(t, err)
}

func TestDownloaderCloseClosesEveryTransport(t *testing.T) {
	transport := &stubTransport{resp: &request.Response{StatusCode: 200}}
	d := New(&config.Settings{}, nil, map[string]Transport{"https": transport})
	require.NoError(t, d.Close())
}

func TestSlotAcquireEnforcesDownloadDelay(t *testing.T) {
	slot := newSlot(1, 40*time.Millisecond, false)

	start := time.Now()
	require.NoError(t, slot.Acquire(context.Background()))
	slot.Release()
	require.NoError(t, slot.Acquire(context.Background()))
	elapsed := time.Since(start)
	slot.Release()

	require.GreaterOrEqual(t, elapsed, 40*time.Millisecond, "second Acquire should wait out the configured delay")
}

func TestSlotAcquireLimitsConcurrency(t *testing.T) {
	slot := newSlot(1, 0, false)

	require.NoError(t, slot.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := slot.Acquire(ctx)
	require.Error(t, err, "a second Acquire should block until the first Release, and here time out first")

	slot.Release()
}

func TestDownloaderNeedsBackoutWhenSaturated(t *testing.T) {
	d := New(&config.Settings{ConcurrentRequests: 1}, nil, map[string]Transport{
		"https": &stubTransport{resp: &request.Response{StatusCode: 200}},
	})

	require.False(t, d.NeedsBackout(), "global semaphore starts with room")

	require.NoError(t, d.globalSem.Acquire(context.Background(), 1))
	defer d.globalSem.Release(1)

	require.True(t, d.NeedsBackout(), "a fully acquired global semaphore should report backout")
}
