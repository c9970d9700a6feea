package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/nyxcrawl/scrapyengine/request"
)

// memoryItem pairs a request with the monotonic sequence number that
// breaks priority ties in FIFO order.
type memoryItem struct {
	req      *request.Request
	priority int
	sequence int64
}

// memoryHeap is a max-heap on priority, min-heap on sequence within a
// priority band — the standard container/heap max-priority-queue idiom.
type memoryHeap []*memoryItem

func (h memoryHeap) Len() int { return len(h) }
func (h memoryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].sequence < h[j].sequence
}
func (h memoryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *memoryHeap) Push(x any)   { *h = append(*h, x.(*memoryItem)) }
func (h *memoryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// MemoryQueue is a process-local priority queue, the default backend
// and the fast front for SCHEDULER_QUEUE_CACHE.
type MemoryQueue struct {
	mu   sync.Mutex
	h    memoryHeap
	next int64
}

// NewMemoryQueue returns an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{h: make(memoryHeap, 0)}
}

func (q *MemoryQueue) Push(ctx context.Context, r *request.Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, &memoryItem{req: r, priority: r.Priority, sequence: q.next})
	q.next++
	return nil
}

func (q *MemoryQueue) PushBatch(ctx context.Context, rs []*request.Request) error {
	for _, r := range rs {
		if err := q.Push(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context) (*request.Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return nil, nil
	}
	item := heap.Pop(&q.h).(*memoryItem)
	return item.req, nil
}

func (q *MemoryQueue) PopN(ctx context.Context, n int) ([]*request.Request, error) {
	out := make([]*request.Request, 0, n)
	for i := 0; i < n; i++ {
		r, err := q.Pop(ctx)
		if err != nil {
			return out, err
		}
		if r == nil {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (q *MemoryQueue) Size(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(q.h.Len()), nil
}

func (q *MemoryQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.h = make(memoryHeap, 0)
	return nil
}

func (q *MemoryQueue) Close() error { return nil }
