// Package queue implements the pluggable request queue: the scheduler's
// backing store for pending requests, with memory, disk, Redis, and AMQP
// implementations behind one interface.
package queue

import (
	"context"

	"github.com/nyxcrawl/scrapyengine/request"
)

// Queue is the contract every backend implements. Highest priority
// first; requests of equal priority come back FIFO.
type Queue interface {
	Push(ctx context.Context, r *request.Request) error
	PushBatch(ctx context.Context, rs []*request.Request) error
	Pop(ctx context.Context) (*request.Request, error) // nil, nil when empty
	PopN(ctx context.Context, n int) ([]*request.Request, error)
	Size(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Close() error
}
