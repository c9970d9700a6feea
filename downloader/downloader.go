// Package downloader fetches Requests through a priority-ordered
// middleware chain and a scheme-selected Transport, admitting work
// through a global concurrency semaphore plus a per-domain Slot that
// caps CONCURRENT_REQUESTS_PER_DOMAIN and applies DOWNLOAD_DELAY.
package downloader

import (
	"context"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nyxcrawl/scrapyengine/config"
	"github.com/nyxcrawl/scrapyengine/enginerr"
	"github.com/nyxcrawl/scrapyengine/request"
)

// Slot admits requests for one domain: at most concurrency in flight at
// once, each dispatch spaced at least delay (optionally randomized)
// after the previous one.
type Slot struct {
	mu            sync.Mutex
	sem           *semaphore.Weighted
	delay         time.Duration
	randomizeDelay bool
	lastDispatch  time.Time
}

func newSlot(concurrency int, delay time.Duration, randomizeDelay bool) *Slot {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Slot{
		sem:           semaphore.NewWeighted(int64(concurrency)),
		delay:         delay,
		randomizeDelay: randomizeDelay,
	}
}

// Acquire blocks until the slot has room and DOWNLOAD_DELAY has elapsed
// since the last dispatch from this domain.
func (s *Slot) Acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.mu.Lock()
	wait := s.waitLocked()
	s.lastDispatch = time.Now().Add(wait)
	s.mu.Unlock()
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			s.sem.Release(1)
			return ctx.Err()
		}
	}
	return nil
}

func (s *Slot) waitLocked() time.Duration {
	if s.delay <= 0 || s.lastDispatch.IsZero() {
		return 0
	}
	delay := s.delay
	if s.randomizeDelay {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
	}
	remaining := s.lastDispatch.Add(delay).Sub(time.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *Slot) Release() { s.sem.Release(1) }

// Downloader runs the middleware chain around a scheme-selected
// Transport, admitting every fetch through a global semaphore and a
// per-domain Slot.
type Downloader struct {
	settings    *config.Settings
	chain       *Chain
	transports  map[string]Transport
	globalSem   *semaphore.Weighted

	mu    sync.Mutex
	slots map[string]*Slot
}

// New builds a Downloader. transports maps URL scheme ("http", "https")
// to the Transport that serves it.
func New(s *config.Settings, middlewares []Middleware, transports map[string]Transport) *Downloader {
	concurrency := s.ConcurrentRequests
	if concurrency <= 0 {
		concurrency = 16
	}
	return &Downloader{
		settings:   s,
		chain:      NewChain(middlewares),
		transports: transports,
		globalSem:  semaphore.NewWeighted(int64(concurrency)),
		slots:      make(map[string]*Slot),
	}
}

func (d *Downloader) slotFor(domain string) *Slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.slots[domain]
	if !ok {
		perDomain := d.settings.ConcurrentRequestsPerDomain
		if perDomain <= 0 {
			perDomain = 8
		}
		s = newSlot(perDomain, d.settings.DownloadDelay, d.settings.RandomizeDownloadDelay)
		d.slots[domain] = s
	}
	return s
}

// NeedsBackout reports whether the global concurrency limit is
// currently saturated, a hint the engine uses to pace _next_request
// rather than busy-spinning on a full downloader.
func (d *Downloader) NeedsBackout() bool {
	if d.globalSem.TryAcquire(1) {
		d.globalSem.Release(1)
		return false
	}
	return true
}

// Fetch admits r through the global and per-domain slots, then runs it
// through the middleware chain and the scheme-selected Transport. When
// the chain returns a *request.Request (a retry), Fetch returns a nil
// Response and a nil error; FetchResult exposes the chain's own Result,
// retry request included, for callers that need to re-enqueue it.
func (d *Downloader) Fetch(ctx context.Context, r *request.Request) (*request.Response, error) {
	res := d.FetchResult(ctx, r)
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Response, nil
}

// FetchResult is Fetch's full-fidelity form, returning the Chain's
// Result directly so a caller can tell a short-circuited response from
// a retry request without inspecting Meta.
func (d *Downloader) FetchResult(ctx context.Context, r *request.Request) Result {
	u, err := url.Parse(r.URL)
	if err != nil {
		return Result{Err: enginerr.Wrap(enginerr.Permanent, "downloader", "parse url", err)}
	}

	if err := d.globalSem.Acquire(ctx, 1); err != nil {
		return Result{Err: err}
	}
	defer d.globalSem.Release(1)

	slot := d.slotFor(u.Hostname())
	if err := slot.Acquire(ctx); err != nil {
		return Result{Err: err}
	}
	defer slot.Release()

	transport, ok := d.transports[u.Scheme]
	if !ok {
		return Result{Err: enginerr.New(enginerr.Permanent, "downloader", "unsupported scheme: "+u.Scheme)}
	}

	return d.chain.Run(ctx, r, transport.Fetch)
}

// Close shuts down every registered Transport.
func (d *Downloader) Close() error {
	var firstErr error
	for _, t := range d.transports {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
