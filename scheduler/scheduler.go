// Package scheduler is the only component the engine talks to for
// queue operations: it bridges a queue.Queue with a filter.Filter,
// honoring Request.Meta.DontFilter and firing the request_dropped
// signal on a dedupe hit.
package scheduler

import (
	"context"
	"sync"

	"github.com/nyxcrawl/scrapyengine/config"
	"github.com/nyxcrawl/scrapyengine/enginerr"
	"github.com/nyxcrawl/scrapyengine/filter"
	"github.com/nyxcrawl/scrapyengine/queue"
	"github.com/nyxcrawl/scrapyengine/request"
	"github.com/nyxcrawl/scrapyengine/signal"
	"github.com/nyxcrawl/scrapyengine/stats"
)

// Scheduler mediates every request between the engine and the backing
// queue+filter pair. When SCHEDULER_QUEUE_CACHE is enabled, an
// in-memory cache queue sits in front of the shared backend queue —
// Next drains the cache first, Enqueue fills it first — draining back
// into the backend on Close so nothing held only in the cache is lost.
type Scheduler struct {
	q      queue.Queue
	f      filter.Filter
	cache  queue.Queue // nil unless SCHEDULER_QUEUE_CACHE is set
	disp   *signal.Dispatcher
	stats  *stats.Collector
	spider string

	mu     sync.Mutex
	closed bool
}

// New builds a Scheduler over q and f. If s.SchedulerQueueCache is set,
// an in-memory MemoryQueue fronts q.
func New(s *config.Settings, q queue.Queue, f filter.Filter, disp *signal.Dispatcher, collector *stats.Collector, spider string) *Scheduler {
	var cache queue.Queue
	if s.SchedulerQueueCache {
		cache = queue.NewMemoryQueue()
	}
	return &Scheduler{q: q, f: f, cache: cache, disp: disp, stats: collector, spider: spider}
}

// Enqueue applies the filter (unless Meta.DontFilter) and pushes r to
// the cache queue if present, otherwise the backend queue.
func (s *Scheduler) Enqueue(ctx context.Context, r *request.Request) (bool, error) {
	if !r.Meta.DontFilter {
		seen, err := s.f.Seen(ctx, r)
		if err != nil {
			return false, enginerr.Wrap(enginerr.FilterBackend, "scheduler", "filter seen", err)
		}
		if seen {
			if s.stats != nil {
				s.stats.RequestsDropped.WithLabelValues(s.spider, "duplicate").Inc()
			}
			s.fireDropped(ctx, r, "duplicate")
			return false, nil
		}
	}

	target := s.q
	if s.cache != nil {
		target = s.cache
	}
	if err := target.Push(ctx, r); err != nil {
		return false, enginerr.Wrap(enginerr.FilterBackend, "scheduler", "push", err)
	}
	if s.stats != nil {
		s.stats.RequestsScheduled.WithLabelValues(s.spider).Inc()
	}
	s.fireScheduled(ctx, r)
	return true, nil
}

// Next returns the highest-priority pending request, preferring the
// cache queue, or nil if nothing is pending right now. It never blocks:
// the engine's idle detection depends on distinguishing "empty now"
// from "will never be non-empty".
func (s *Scheduler) Next(ctx context.Context) (*request.Request, error) {
	if s.cache != nil {
		r, err := s.cache.Pop(ctx)
		if err != nil {
			return nil, err
		}
		if r != nil {
			return r, nil
		}
	}
	return s.q.Pop(ctx)
}

// HasPending reports whether either queue currently holds a request.
func (s *Scheduler) HasPending(ctx context.Context) (bool, error) {
	if s.cache != nil {
		n, err := s.cache.Size(ctx)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	n, err := s.q.Size(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close drains any cache queue back into the backend queue, then closes
// both the queue and the filter.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cache != nil {
		for {
			r, err := s.cache.Pop(ctx)
			if err != nil || r == nil {
				break
			}
			if err := s.q.Push(ctx, r); err != nil {
				break
			}
		}
		s.cache.Close()
	}
	if err := s.q.Close(); err != nil {
		return err
	}
	return s.f.Close()
}

func (s *Scheduler) fireScheduled(ctx context.Context, r *request.Request) {
	if s.disp == nil {
		return
	}
	s.disp.Fire(ctx, signal.Event{Name: signal.RequestScheduled, Source: s.spider, Data: map[string]any{"url": r.URL}})
}

func (s *Scheduler) fireDropped(ctx context.Context, r *request.Request, reason string) {
	if s.disp == nil {
		return
	}
	s.disp.Fire(ctx, signal.Event{Name: signal.RequestDropped, Source: s.spider, Data: map[string]any{"url": r.URL, "reason": reason}})
}
