package filter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nyxcrawl/scrapyengine/enginerr"
	"github.com/nyxcrawl/scrapyengine/request"
)

// DiskFilter wraps a MemoryFilter for the fast path and appends every
// newly-seen fingerprint to JOBDIR/requests.seen so a crashed run can
// resume without re-crawling what it already fetched. The append file
// is replayed into the in-memory set on construction.
type DiskFilter struct {
	mem  *MemoryFilter
	path string

	mu   sync.Mutex
	file *os.File
}

// NewDiskFilter opens (creating if needed) requests.seen under dir,
// replays its contents into an in-memory set, and leaves the file open
// for append.
func NewDiskFilter(dir string) (*DiskFilter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, enginerr.Wrap(enginerr.FilterBackend, "filter.disk", "mkdir jobdir", err)
	}
	path := filepath.Join(dir, "requests.seen")

	mem := NewMemoryFilter()
	if existing, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(existing)
		for scanner.Scan() {
			mem.add(scanner.Text())
		}
		existing.Close()
	} else if !os.IsNotExist(err) {
		return nil, enginerr.Wrap(enginerr.FilterBackend, "filter.disk", "replay requests.seen", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.FilterBackend, "filter.disk", "open requests.seen", err)
	}
	return &DiskFilter{mem: mem, path: path, file: f}, nil
}

func (f *DiskFilter) Seen(ctx context.Context, r *request.Request) (bool, error) {
	fp, err := fingerprintOf(r)
	if err != nil {
		return false, err
	}
	seen, err := f.mem.Seen(ctx, r)
	if err != nil {
		return false, err
	}
	if !seen {
		f.mu.Lock()
		_, werr := fmt.Fprintln(f.file, fp)
		f.mu.Unlock()
		if werr != nil {
			return false, enginerr.Wrap(enginerr.FilterBackend, "filter.disk", "append requests.seen", werr)
		}
	}
	return seen, nil
}

func (f *DiskFilter) Release(ctx context.Context, r *request.Request, reason string) error {
	// The append log is a write-once replay journal; releasing only
	// affects the in-memory view, matching the original's on-disk
	// dupefilter which never rewrites its log on retry either.
	return f.mem.Release(ctx, r, reason)
}

func (f *DiskFilter) Clear(ctx context.Context) error {
	if err := f.mem.Clear(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.file.Close(); err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "filter.disk", "close requests.seen", err)
	}
	nf, err := os.OpenFile(f.path, os.O_TRUNC|os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "filter.disk", "truncate requests.seen", err)
	}
	f.file = nf
	return nil
}

func (f *DiskFilter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}
