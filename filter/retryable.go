package filter

import (
	"context"
	"sync"
	"time"

	"github.com/nyxcrawl/scrapyengine/request"
)

// inflightEntry tracks when a fingerprint was admitted, so it can be
// evicted from the auxiliary set after ttl even if Release is never
// called (e.g. the worker holding it crashed).
type inflightEntry struct {
	at time.Time
}

// RetryableFilter decorates any Filter with a TTL-based "in-flight" set
// of the fingerprints Seen admitted. Release removes a fingerprint from
// both the inner filter and this auxiliary set, letting it be
// re-scheduled when the inner filter forgets it on Release. Seen answers
// from the inner filter alone, so in front of a BloomFilter, whose own
// Release is a no-op, a released request stays seen.
type RetryableFilter struct {
	inner Filter
	ttl   time.Duration

	mu       sync.Mutex
	inflight map[string]inflightEntry
}

// NewRetryableFilter wraps inner with in-flight tracking, evicting
// entries older than ttl on each Seen/Release call.
func NewRetryableFilter(inner Filter, ttl time.Duration) *RetryableFilter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RetryableFilter{
		inner:    inner,
		ttl:      ttl,
		inflight: make(map[string]inflightEntry),
	}
}

func (f *RetryableFilter) evictExpired() {
	cutoff := time.Now().Add(-f.ttl)
	for fp, e := range f.inflight {
		if e.at.Before(cutoff) {
			delete(f.inflight, fp)
		}
	}
}

func (f *RetryableFilter) Seen(ctx context.Context, r *request.Request) (bool, error) {
	fp, err := fingerprintOf(r)
	if err != nil {
		return false, err
	}

	seen, err := f.inner.Seen(ctx, r)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	f.evictExpired()
	if !seen {
		f.inflight[fp] = inflightEntry{at: time.Now()}
	}
	f.mu.Unlock()

	return seen, nil
}

func (f *RetryableFilter) Release(ctx context.Context, r *request.Request, reason string) error {
	fp, err := fingerprintOf(r)
	if err != nil {
		return err
	}
	if err := f.inner.Release(ctx, r, reason); err != nil {
		return err
	}
	f.mu.Lock()
	f.evictExpired()
	delete(f.inflight, fp)
	f.mu.Unlock()
	return nil
}

func (f *RetryableFilter) Clear(ctx context.Context) error {
	if err := f.inner.Clear(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.inflight = make(map[string]inflightEntry)
	f.mu.Unlock()
	return nil
}

func (f *RetryableFilter) Close() error { return f.inner.Close() }
