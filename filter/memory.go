package filter

import (
	"context"
	"sync"

	"github.com/nyxcrawl/scrapyengine/request"
)

// MemoryFilter is a process-local dedupe set. Never shared across
// downloader instances; the default for single-process runs.
type MemoryFilter struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewMemoryFilter builds an empty MemoryFilter.
func NewMemoryFilter() *MemoryFilter {
	return &MemoryFilter{seen: make(map[string]struct{})}
}

func (f *MemoryFilter) Seen(ctx context.Context, r *request.Request) (bool, error) {
	fp, err := fingerprintOf(r)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[fp]; ok {
		return true, nil
	}
	f.seen[fp] = struct{}{}
	return false, nil
}

func (f *MemoryFilter) Release(ctx context.Context, r *request.Request, reason string) error {
	fp, err := fingerprintOf(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, fp)
	return nil
}

func (f *MemoryFilter) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = make(map[string]struct{})
	return nil
}

// add exposes the raw fingerprint set for DiskFilter's replay-on-open.
func (f *MemoryFilter) add(fp string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[fp] = struct{}{}
}

func (f *MemoryFilter) Close() error { return nil }
