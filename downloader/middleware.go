package downloader

import (
	"context"

	"github.com/nyxcrawl/scrapyengine/request"
)

// Handler is the terminal step of the middleware chain: actually
// perform the fetch.
type Handler func(ctx context.Context, r *request.Request) (*request.Response, error)

// Middleware wraps Handler with a three-hook, symmetric contract mirroring
// the source's downloadermiddleware chain:
//
//   - ProcessRequest runs before the fetch, outermost-priority first.
//     Returning a non-nil *Response short-circuits the chain (a cached
//     response, a blocked-URL stub); returning a non-nil *Request
//     re-enqueues that request instead of continuing; nil/nil continues.
//   - ProcessResponse runs after a successful fetch, innermost-priority
//     first (reverse order from ProcessRequest) — the same symmetry the
//     original spec documents for its middleware stack.
//   - ProcessException runs when the handler or an earlier hook returned
//     an error, giving a middleware (retry, proxy rotation) a chance to
//     turn a failure into a *Request to try again.
type Middleware interface {
	Name() string
	Priority() int
	ProcessRequest(ctx context.Context, r *request.Request) (*request.Response, *request.Request, error)
	ProcessResponse(ctx context.Context, resp *request.Response) (*request.Response, *request.Request, error)
	ProcessException(ctx context.Context, r *request.Request, err error) (*request.Response, *request.Request, error)
}

// Chain runs an ordered list of Middleware around a terminal Handler.
type Chain struct {
	middlewares []Middleware // sorted ascending by Priority
}

// NewChain sorts middlewares by Priority ascending and returns a Chain.
func NewChain(middlewares []Middleware) *Chain {
	sorted := append([]Middleware(nil), middlewares...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Priority() > sorted[j].Priority(); j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return &Chain{middlewares: sorted}
}

// Result is what running the chain produced: exactly one of Response or
// Retry is set, unless Err is non-nil.
type Result struct {
	Response *request.Response
	Retry    *request.Request
	Err      error
}

// Run executes the full request -> fetch -> response pipeline for r.
func (c *Chain) Run(ctx context.Context, r *request.Request, fetch Handler) Result {
	for i, mw := range c.middlewares {
		resp, retry, err := mw.ProcessRequest(ctx, r)
		if err != nil {
			// mw itself raised; only the middlewares before it (closer to
			// the engine) ever saw this request, so exception handling
			// starts just below mw, not at the innermost middleware.
			return c.handleExceptionFrom(ctx, i-1, r, err)
		}
		if resp != nil {
			// mw short-circuited with its own response; middlewares after
			// it never ran ProcessRequest, and mw doesn't replay its own
			// response through ProcessResponse, so the response chain
			// starts just below it.
			return c.runProcessResponseFrom(ctx, i-1, resp)
		}
		if retry != nil {
			return Result{Retry: retry}
		}
	}

	resp, err := fetch(ctx, r)
	if err != nil {
		return c.handleExceptionFrom(ctx, len(c.middlewares)-1, r, err)
	}
	return c.runProcessResponseFrom(ctx, len(c.middlewares)-1, resp)
}

// runProcessResponseFrom runs ProcessResponse over middlewares startIdx
// down to 0 — the innermost-first order, beginning at whichever
// middleware actually produced or last saw the request, not necessarily
// the true innermost one.
func (c *Chain) runProcessResponseFrom(ctx context.Context, startIdx int, resp *request.Response) Result {
	for i := startIdx; i >= 0; i-- {
		mw := c.middlewares[i]
		newResp, retry, err := mw.ProcessResponse(ctx, resp)
		if err != nil {
			return c.handleExceptionFrom(ctx, i-1, resp.Request, err)
		}
		if retry != nil {
			return Result{Retry: retry}
		}
		if newResp != nil {
			resp = newResp
		}
	}
	return Result{Response: resp}
}

func (c *Chain) handleExceptionFrom(ctx context.Context, startIdx int, r *request.Request, err error) Result {
	for i := startIdx; i >= 0; i-- {
		mw := c.middlewares[i]
		resp, retry, hErr := mw.ProcessException(ctx, r, err)
		if hErr != nil {
			err = hErr
			continue
		}
		if resp != nil {
			return c.runProcessResponseFrom(ctx, i-1, resp)
		}
		if retry != nil {
			return Result{Retry: retry}
		}
	}
	return Result{Err: err}
}

// baseMiddleware gives built-ins a default ProcessRequest/ProcessResponse/
// ProcessException that simply continues the chain, so each one only
// overrides the hook it actually cares about.
type baseMiddleware struct{}

func (baseMiddleware) ProcessRequest(ctx context.Context, r *request.Request) (*request.Response, *request.Request, error) {
	return nil, nil, nil
}

func (baseMiddleware) ProcessResponse(ctx context.Context, resp *request.Response) (*request.Response, *request.Request, error) {
	return nil, nil, nil
}

func (baseMiddleware) ProcessException(ctx context.Context, r *request.Request, err error) (*request.Response, *request.Request, error) {
	return nil, nil, err
}
