package queue

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/nyxcrawl/scrapyengine/enginerr"
	"github.com/nyxcrawl/scrapyengine/request"
)

// diskFormatVersion tags each record so a future on-disk format change
// can detect and reject (or migrate) older segment files.
const diskFormatVersion byte = 1

// DiskQueue layers a write-ahead segment file under JOBDIR/queue/ on top
// of a MemoryQueue: pushes append a length-prefixed record before
// updating the in-memory heap, so a crashed process can rebuild its
// pending set by replaying the segment on the next startup. Popped
// requests are not removed from the segment file — the file is a
// write-once log, truncated only when the queue is explicitly cleared.
type DiskQueue struct {
	mem  *MemoryQueue
	ser  Serializer
	mu   sync.Mutex
	file *os.File
	path string
}

// NewDiskQueue opens (or creates) queue.seg under dir, replays any
// existing records into the in-memory heap, and leaves the segment file
// open for append.
func NewDiskQueue(dir string, ser Serializer) (*DiskQueue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, enginerr.Wrap(enginerr.FilterBackend, "queue.disk", "mkdir jobdir/queue", err)
	}
	path := filepath.Join(dir, "queue.seg")
	mem := NewMemoryQueue()

	if existing, err := os.Open(path); err == nil {
		if err := replaySegment(existing, ser, mem); err != nil {
			existing.Close()
			return nil, err
		}
		existing.Close()
	} else if !os.IsNotExist(err) {
		return nil, enginerr.Wrap(enginerr.FilterBackend, "queue.disk", "open queue.seg", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.FilterBackend, "queue.disk", "open queue.seg for append", err)
	}
	return &DiskQueue{mem: mem, ser: ser, file: f, path: path}, nil
}

func replaySegment(r io.Reader, ser Serializer, mem *MemoryQueue) error {
	br := bufio.NewReader(r)
	ctx := context.Background()
	for {
		var header [5]byte
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return enginerr.Wrap(enginerr.FilterBackend, "queue.disk", "read segment header", err)
		}
		version := header[0]
		if version != diskFormatVersion {
			return enginerr.New(enginerr.FilterBackend, "queue.disk", fmt.Sprintf("unsupported segment format %d", version))
		}
		length := binary.BigEndian.Uint32(header[1:])
		payload := make([]byte, length)
		if _, err := io.ReadFull(br, payload); err != nil {
			return enginerr.Wrap(enginerr.FilterBackend, "queue.disk", "read segment record", err)
		}
		req, err := ser.Unmarshal(payload)
		if err != nil {
			return err
		}
		if err := mem.Push(ctx, req); err != nil {
			return err
		}
	}
}

func (q *DiskQueue) appendRecord(r *request.Request) error {
	payload, err := q.ser.Marshal(r)
	if err != nil {
		return err
	}
	var header [5]byte
	header[0] = diskFormatVersion
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.file.Write(header[:]); err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "queue.disk", "write segment header", err)
	}
	if _, err := q.file.Write(payload); err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "queue.disk", "write segment record", err)
	}
	return nil
}

func (q *DiskQueue) Push(ctx context.Context, r *request.Request) error {
	if err := q.appendRecord(r); err != nil {
		return err
	}
	return q.mem.Push(ctx, r)
}

func (q *DiskQueue) PushBatch(ctx context.Context, rs []*request.Request) error {
	for _, r := range rs {
		if err := q.Push(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (q *DiskQueue) Pop(ctx context.Context) (*request.Request, error) {
	return q.mem.Pop(ctx)
}

func (q *DiskQueue) PopN(ctx context.Context, n int) ([]*request.Request, error) {
	return q.mem.PopN(ctx, n)
}

func (q *DiskQueue) Size(ctx context.Context) (int64, error) {
	return q.mem.Size(ctx)
}

func (q *DiskQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.file.Truncate(0); err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "queue.disk", "truncate segment", err)
	}
	if _, err := q.file.Seek(0, io.SeekStart); err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "queue.disk", "seek segment", err)
	}
	return q.mem.Clear(ctx)
}

func (q *DiskQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.file.Close()
}
