package downloader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nyxcrawl/scrapyengine/config"
	"github.com/nyxcrawl/scrapyengine/enginerr"
	"github.com/nyxcrawl/scrapyengine/request"
	"github.com/nyxcrawl/scrapyengine/stats"
)

func retrySettings(times, priorityAdjust int, codes []int) *config.Settings {
	return &config.Settings{
		RetryTimes:          times,
		RetryPriorityAdjust: priorityAdjust,
		RetryHTTPCodes:      codes,
	}
}

// recordingMiddleware logs every hook it's asked to run, and can be
// configured to short-circuit or convert failures into retries.
type recordingMiddleware struct {
	baseMiddleware
	name       string
	priority   int
	calls      *[]string
	response   *request.Response
	retryOnReq *request.Request
	reqErr     error
}

func (m *recordingMiddleware) Name() string  { return m.name }
func (m *recordingMiddleware) Priority() int { return m.priority }

func (m *recordingMiddleware) ProcessRequest(ctx context.Context, r *request.Request) (*request.Response, *request.Request, error) {
	*m.calls = append(*m.calls, m.name+":request")
	if m.reqErr != nil {
		return nil, nil, m.reqErr
	}
	if m.response != nil {
		return m.response, nil, nil
	}
	if m.retryOnReq != nil {
		return nil, m.retryOnReq, nil
	}
	return nil, nil, nil
}

func (m *recordingMiddleware) ProcessResponse(ctx context.Context, resp *request.Response) (*request.Response, *request.Request, error) {
	*m.calls = append(*m.calls, m.name+":response")
	return nil, nil, nil
}

func TestChainSortsMiddlewareByPriorityAscending(t *testing.T) {
	var calls []string
	low := &recordingMiddleware{name: "low", priority: 10, calls: &calls}
	high := &recordingMiddleware{name: "high", priority: 100, calls: &calls}

	c := NewChain([]Middleware{high, low})
	handler := func(ctx context.Context, r *request.Request) (*request.Response, error) {
		return &request.Response{Request: r, StatusCode: 200}, nil
	}

	result := c.Run(context.Background(), request.NewRequest("https://example.com/"), handler)
	require.NoError(t, result.Err)

	require.Equal(t, []string{"low:request", "high:request", "high:response", "low:response"}, calls)
}

func TestChainProcessRequestShortCircuitsWithResponse(t *testing.T) {
	var calls []string
	stub := &request.Response{StatusCode: 304}
	mw := &recordingMiddleware{name: "cache", priority: 1, calls: &calls, response: stub}

	c := NewChain([]Middleware{mw})
	called := false
	handler := func(ctx context.Context, r *request.Request) (*request.Response, error) {
		called = true
		return nil, nil
	}

	result := c.Run(context.Background(), request.NewRequest("https://example.com/"), handler)
	require.NoError(t, result.Err)
	require.Same(t, stub, result.Response)
	require.False(t, called, "a short-circuit response must skip the terminal fetch")
}

func TestChainProcessRequestRetryBypassesFetch(t *testing.T) {
	var calls []string
	retryReq := request.NewRequest("https://example.com/retry")
	mw := &recordingMiddleware{name: "redirect", priority: 1, calls: &calls, retryOnReq: retryReq}

	c := NewChain([]Middleware{mw})
	called := false
	handler := func(ctx context.Context, r *request.Request) (*request.Response, error) {
		called = true
		return nil, nil
	}

	result := c.Run(context.Background(), request.NewRequest("https://example.com/"), handler)
	require.NoError(t, result.Err)
	require.Same(t, retryReq, result.Retry)
	require.False(t, called)
}

func TestChainHandleExceptionLetsMiddlewareRetry(t *testing.T) {
	retryMw := NewRetryMiddleware(retrySettings(2, 1, []int{503}), nil)
	c := NewChain([]Middleware{retryMw})

	handler := func(ctx context.Context, r *request.Request) (*request.Response, error) {
		return nil, enginerr.New(enginerr.Transient, "fake", "connection reset")
	}

	result := c.Run(context.Background(), request.NewRequest("https://example.com/"), handler)
	require.NoError(t, result.Err)
	require.NotNil(t, result.Retry)
	require.Equal(t, 1, result.Retry.Meta.RetryCount)
}

func TestChainHandleExceptionGivesUpWhenNoMiddlewareRetries(t *testing.T) {
	c := NewChain(nil)
	wantErr := errors.New("boom")
	handler := func(ctx context.Context, r *request.Request) (*request.Response, error) {
		return nil, wantErr
	}

	result := c.Run(context.Background(), request.NewRequest("https://example.com/"), handler)
	require.Equal(t, wantErr, result.Err)
}

func TestDefaultHeadersMiddlewareDoesNotOverrideExisting(t *testing.T) {
	m := NewDefaultHeadersMiddleware(map[string][]string{"User-Agent": {"engine/1.0"}})
	r := request.NewRequest("https://example.com/")
	r.Headers = map[string][]string{"User-Agent": {"custom/1.0"}}

	_, _, err := m.ProcessRequest(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, []string{"custom/1.0"}, r.Headers["User-Agent"])
}

func TestDefaultHeadersMiddlewareFillsMissing(t *testing.T) {
	m := NewDefaultHeadersMiddleware(map[string][]string{"Accept": {"*/*"}})
	r := request.NewRequest("https://example.com/")

	_, _, err := m.ProcessRequest(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, []string{"*/*"}, r.Headers["Accept"])
}

func TestDownloadTimeoutMiddlewareOnlySetsWhenUnset(t *testing.T) {
	m := NewDownloadTimeoutMiddleware(30_000_000_000)
	r := request.NewRequest("https://example.com/")

	_, _, err := m.ProcessRequest(context.Background(), r)
	require.NoError(t, err)
	require.EqualValues(t, 30_000_000_000, r.Meta.Timeout)
}

func TestRetryMiddlewareStopsAfterTimesExhausted(t *testing.T) {
	m := NewRetryMiddleware(retrySettings(1, 0, []int{503}), nil)
	r := request.NewRequest("https://example.com/")
	r.Meta.RetryCount = 1

	_, retry, err := m.ProcessException(context.Background(), r, enginerr.New(enginerr.Transient, "fake", "reset"))
	require.Error(t, err)
	require.Nil(t, retry)
	require.False(t, enginerr.IsRetryable(err), "an exhausted retry budget must be terminal, not retried again upstream")
}

func TestRetryMiddlewareIgnoresNonRetryableError(t *testing.T) {
	m := NewRetryMiddleware(retrySettings(3, 0, []int{503}), nil)
	r := request.NewRequest("https://example.com/")

	_, retry, err := m.ProcessException(context.Background(), r, enginerr.New(enginerr.Permanent, "fake", "bad request"))
	require.Error(t, err)
	require.Nil(t, retry)
}

func TestRetryMiddlewareResponseMatchesConfiguredCode(t *testing.T) {
	m := NewRetryMiddleware(retrySettings(3, 0, []int{503}), nil)
	r := request.NewRequest("https://example.com/")
	resp := &request.Response{Request: r, StatusCode: 503}

	_, retry, err := m.ProcessResponse(context.Background(), resp)
	require.NoError(t, err)
	require.NotNil(t, retry)
}

func TestRetryMiddlewareResponseIgnoresUnconfiguredCode(t *testing.T) {
	m := NewRetryMiddleware(retrySettings(3, 0, []int{503}), nil)
	r := request.NewRequest("https://example.com/")
	resp := &request.Response{Request: r, StatusCode: 200}

	newResp, retry, err := m.ProcessResponse(context.Background(), resp)
	require.NoError(t, err)
	require.Nil(t, retry)
	require.Nil(t, newResp)
}

func TestRetryMiddlewareSatisfiesMiddlewareInterface(t *testing.T) {
	var _ Middleware = NewRetryMiddleware(retrySettings(1, 0, nil), nil)
}

func TestChainHandleExceptionRetryIsNotDiscardedByNilError(t *testing.T) {
	retryMw := NewRetryMiddleware(retrySettings(2, 1, []int{503}), nil)
	c := NewChain([]Middleware{retryMw})

	handler := func(ctx context.Context, r *request.Request) (*request.Response, error) {
		return nil, enginerr.New(enginerr.Transient, "fake", "connection reset")
	}

	result := c.Run(context.Background(), request.NewRequest("https://example.com/"), handler)
	require.NoError(t, result.Err, "a middleware that produces a retry must not also report an error for it")
	require.NotNil(t, result.Retry)
}

func TestChainShortCircuitResponseSkipsMiddlewaresThatNeverSawTheRequest(t *testing.T) {
	var calls []string
	inner := &recordingMiddleware{name: "inner", priority: 1, calls: &calls}
	stub := &request.Response{StatusCode: 304}
	outer := &recordingMiddleware{name: "outer", priority: 2, calls: &calls, response: stub}

	c := NewChain([]Middleware{inner, outer})
	handler := func(ctx context.Context, r *request.Request) (*request.Response, error) {
		return &request.Response{Request: r, StatusCode: 200}, nil
	}

	result := c.Run(context.Background(), request.NewRequest("https://example.com/"), handler)
	require.NoError(t, result.Err)
	require.Same(t, stub, result.Response)
	require.Equal(t, []string{"inner:request", "outer:request", "inner:response"}, calls,
		"outer short-circuited before fetch, so its own ProcessResponse must not run")
}

func TestRetryMiddlewareResponseSurfacesTerminalFailureWhenBudgetExhausted(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := stats.New(reg)
	m := NewRetryMiddleware(retrySettings(1, 0, []int{503}), collector)
	r := request.NewRequest("https://example.com/")
	r.Meta.RetryCount = 1
	resp := &request.Response{Request: r, StatusCode: 503}

	newResp, retry, err := m.ProcessResponse(context.Background(), resp)
	require.Error(t, err, "a terminal 503 must not be passed through as a successful response")
	require.Nil(t, retry)
	require.Nil(t, newResp)
	require.False(t, enginerr.IsRetryable(err))
	require.Equal(t, float64(1), testutil.ToFloat64(collector.Errors.WithLabelValues("retry", "max_reached")))
}
