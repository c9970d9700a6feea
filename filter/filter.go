// Package filter implements request deduplication (the "dupefilter"):
// has this fingerprint been seen before, and can it be released back
// into circulation for a retry.
package filter

import (
	"context"

	"github.com/nyxcrawl/scrapyengine/request"
)

// Filter is the dedupe contract every backend implements. A backend
// error is always returned as *enginerr.Error with Kind == FilterBackend
// — it never collapses into a false "unseen" that would let a duplicate
// slip through, or a false "seen" that would silently drop new work.
type Filter interface {
	// Seen reports whether r's fingerprint has already been recorded,
	// recording it as a side effect if not (atomic add-if-absent).
	Seen(ctx context.Context, r *request.Request) (bool, error)
	// Release removes r's fingerprint so a subsequent Seen call treats
	// it as new again — used when a request is retried and must be
	// allowed back onto the queue.
	Release(ctx context.Context, r *request.Request, reason string) error
	// Clear discards all recorded fingerprints, used by SCHEDULER_FLUSH_ON_START
	// to start a job with a clean dedupe slate.
	Clear(ctx context.Context) error
	Close() error
}

func fingerprintOf(r *request.Request) (string, error) {
	return r.Fingerprint()
}
