package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/nyxcrawl/scrapyengine/config"
	"github.com/nyxcrawl/scrapyengine/enginerr"
	"github.com/nyxcrawl/scrapyengine/proxy"
	"github.com/nyxcrawl/scrapyengine/request"
	"github.com/nyxcrawl/scrapyengine/stats"
)

// Priority bands for the built-in middlewares: headers and timeout set
// up near the front of the chain, proxy assignment after them. Exception
// hooks run in descending priority, so retry sits below the proxy
// middleware: a failed fetch reaches the proxy hook (which invalidates a
// dead proxy) before retry turns it into a retry request.
const (
	PriorityDefaultHeaders  = 400
	PriorityDownloadTimeout = 500
	PriorityRetry           = 550
	PriorityHTTPProxy       = 750
)

// DefaultHeadersMiddleware merges a fixed header set into every request
// that doesn't already set the same header, the Go analogue of
// DEFAULT_REQUEST_HEADERS.
type DefaultHeadersMiddleware struct {
	baseMiddleware
	Headers map[string][]string
}

func NewDefaultHeadersMiddleware(headers map[string][]string) *DefaultHeadersMiddleware {
	return &DefaultHeadersMiddleware{Headers: headers}
}

func (m *DefaultHeadersMiddleware) Name() string  { return "default_headers" }
func (m *DefaultHeadersMiddleware) Priority() int { return PriorityDefaultHeaders }

func (m *DefaultHeadersMiddleware) ProcessRequest(ctx context.Context, r *request.Request) (*request.Response, *request.Request, error) {
	if r.Headers == nil {
		r.Headers = make(map[string][]string)
	}
	for k, v := range m.Headers {
		if _, exists := r.Headers[k]; !exists {
			r.Headers[k] = v
		}
	}
	return nil, nil, nil
}

// DownloadTimeoutMiddleware sets Request.Meta.Timeout from the setting
// when a request doesn't already carry its own override.
type DownloadTimeoutMiddleware struct {
	baseMiddleware
	Default time.Duration
}

func NewDownloadTimeoutMiddleware(d time.Duration) *DownloadTimeoutMiddleware {
	return &DownloadTimeoutMiddleware{Default: d}
}

func (m *DownloadTimeoutMiddleware) Name() string  { return "download_timeout" }
func (m *DownloadTimeoutMiddleware) Priority() int { return PriorityDownloadTimeout }

func (m *DownloadTimeoutMiddleware) ProcessRequest(ctx context.Context, r *request.Request) (*request.Response, *request.Request, error) {
	if r.Meta.Timeout <= 0 {
		r.Meta.Timeout = m.Default
	}
	return nil, nil, nil
}

// HTTPProxyMiddleware assigns a proxy URL from the shared Pool to
// requests that don't already pin one, and invalidates the proxy on a
// transport exception so a dead proxy isn't handed out again.
type HTTPProxyMiddleware struct {
	baseMiddleware
	Pool *proxy.Pool
}

func NewHTTPProxyMiddleware(pool *proxy.Pool) *HTTPProxyMiddleware {
	return &HTTPProxyMiddleware{Pool: pool}
}

func (m *HTTPProxyMiddleware) Name() string  { return "http_proxy" }
func (m *HTTPProxyMiddleware) Priority() int { return PriorityHTTPProxy }

func (m *HTTPProxyMiddleware) ProcessRequest(ctx context.Context, r *request.Request) (*request.Response, *request.Request, error) {
	if r.Meta.ProxyURL != "" || m.Pool == nil {
		return nil, nil, nil
	}
	proxyURL, err := m.Pool.Get(ctx)
	if err != nil {
		return nil, nil, err
	}
	r.Meta.ProxyURL = proxyURL
	return nil, nil, nil
}

func (m *HTTPProxyMiddleware) ProcessException(ctx context.Context, r *request.Request, err error) (*request.Response, *request.Request, error) {
	if m.Pool != nil && r.Meta.ProxyURL != "" && enginerr.KindOf(err) == enginerr.ProxyFailure {
		m.Pool.Invalidate(ctx, r.Meta.ProxyURL, err.Error())
		// Clear the dead proxy so a retry of r is assigned a fresh one.
		r.Meta.ProxyURL = ""
	}
	return nil, nil, err
}

// RetryMiddleware retries a response carrying a configured retry-eligible
// status code, or a request that failed with a retryable error, up to
// Times attempts, incrementing Meta.RetryCount and bumping priority so
// retried requests don't starve behind fresh ones. Once the budget is
// exhausted the failure is surfaced as a terminal, non-retryable error
// rather than passed through as a response — a 503 that ran out of
// retries is a failure, not a success.
type RetryMiddleware struct {
	baseMiddleware
	Times          int
	PriorityAdjust int
	Codes          map[int]bool
	stats          *stats.Collector
}

func NewRetryMiddleware(s *config.Settings, collector *stats.Collector) *RetryMiddleware {
	codes := make(map[int]bool, len(s.RetryHTTPCodes))
	for _, c := range s.RetryHTTPCodes {
		codes[c] = true
	}
	return &RetryMiddleware{Times: s.RetryTimes, PriorityAdjust: s.RetryPriorityAdjust, Codes: codes, stats: collector}
}

func (m *RetryMiddleware) Name() string  { return "retry" }
func (m *RetryMiddleware) Priority() int { return PriorityRetry }

func (m *RetryMiddleware) ProcessResponse(ctx context.Context, resp *request.Response) (*request.Response, *request.Request, error) {
	if !m.Codes[resp.StatusCode] {
		return nil, nil, nil
	}
	reason := fmt.Sprintf("status %d", resp.StatusCode)
	retry := m.retryFor(resp.Request, reason)
	if retry == nil {
		return nil, nil, m.maxReached(reason)
	}
	return nil, retry, nil
}

func (m *RetryMiddleware) ProcessException(ctx context.Context, r *request.Request, err error) (*request.Response, *request.Request, error) {
	if !enginerr.IsRetryable(err) {
		return nil, nil, err
	}
	retry := m.retryFor(r, err.Error())
	if retry == nil {
		return nil, nil, enginerr.Wrap(enginerr.Permanent, "retry", m.maxReached(err.Error()).Message, err)
	}
	return nil, retry, nil
}

// maxReached records the retry/max_reached stat and returns the
// terminal error a caller should propagate once the retry budget is
// exhausted.
func (m *RetryMiddleware) maxReached(reason string) *enginerr.Error {
	if m.stats != nil {
		m.stats.IncError("retry", "max_reached")
	}
	return enginerr.New(enginerr.Permanent, "retry", fmt.Sprintf("retry budget of %d exhausted: %s", m.Times, reason))
}

func (m *RetryMiddleware) retryFor(r *request.Request, reason string) *request.Request {
	if r.Meta.RetryCount >= m.Times {
		return nil
	}
	clone := *r
	clone.Meta = r.Meta
	clone.Meta.RetryCount++
	clone.Priority = r.Priority + m.PriorityAdjust
	clone.Meta.Set("retry_reason", reason)
	return &clone
}
