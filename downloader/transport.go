package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nyxcrawl/scrapyengine/enginerr"
	"github.com/nyxcrawl/scrapyengine/request"
)

// Transport performs the actual network exchange for one Request. The
// downloader selects a Transport by URL scheme, so a future websocket or
// ftp transport can be added without touching the middleware chain.
type Transport interface {
	Fetch(ctx context.Context, r *request.Request) (*request.Response, error)
	Close() error
}

// HTTPTransport wraps resty.Client, the HTTP client the original
// fetcher built on. Per-request overrides (meta.ProxyURL, meta.Timeout)
// are applied on the request builder rather than the shared client, so
// one Downloader-wide HTTPTransport can still vary proxy and timeout
// per request.
type HTTPTransport struct {
	client         *resty.Client
	defaultTimeout time.Duration
}

// NewHTTPTransport builds an HTTPTransport with defaultTimeout applied
// when a request carries no meta.Timeout override.
func NewHTTPTransport(defaultTimeout time.Duration) *HTTPTransport {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(defaultTimeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		// Retries are the middleware chain's job (downloader.RetryMiddleware);
		// a retrying transport underneath it would retry twice over.
		SetRetryCount(0)
	return &HTTPTransport{client: client, defaultTimeout: defaultTimeout}
}

func (t *HTTPTransport) Fetch(ctx context.Context, r *request.Request) (*request.Response, error) {
	client := t.client
	if r.Meta.ProxyURL != "" {
		// resty.Client.SetProxy mutates the shared client's transport,
		// which would race across the Downloader's concurrently running
		// slots; a request carrying its own proxy gets its own client.
		client = resty.New().
			SetTimeout(t.defaultTimeout).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
			SetProxy(r.Meta.ProxyURL)
	}

	req := client.R().SetContext(ctx)

	if r.Meta.Timeout > 0 && r.Meta.Timeout != t.defaultTimeout {
		// resty has no per-request timeout hook; a request-scoped
		// context deadline gets the same effect without touching the
		// shared client's default.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Meta.Timeout)
		defer cancel()
		req.SetContext(ctx)
	}

	for k, vs := range r.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if len(r.Body) > 0 {
		req.SetBody(r.Body)
	}

	method := r.Method
	if method == "" {
		method = "GET"
	}

	resp, err := req.Execute(method, r.URL)
	if err != nil {
		kind := enginerr.Transient
		if r.Meta.ProxyURL != "" {
			kind = enginerr.ProxyFailure
		}
		return nil, enginerr.Wrap(kind, "downloader.http", fmt.Sprintf("fetch %s", r.URL), err)
	}

	finalURL := r.URL
	if resp.Request != nil && resp.Request.URL != "" {
		finalURL = resp.Request.URL
	}

	return &request.Response{
		Request:    r,
		StatusCode: resp.StatusCode(),
		Headers:    resp.Header(),
		Body:       resp.Body(),
		URL:        finalURL,
		Meta:       r.Meta,
	}, nil
}

func (t *HTTPTransport) Close() error { return nil }
