package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/nyxcrawl/scrapyengine/request"
)

func newTestRedisClient(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

// allQueues exercises the same scenario against every backend that can
// run without an external broker.
func allQueues(t *testing.T) map[string]Queue {
	t.Helper()
	qs := map[string]Queue{
		"memory": NewMemoryQueue(),
		"redis":  NewRedisQueue(newTestRedisClient(t), "engine", "spider-a", JSONSerializer{}),
	}
	disk, err := NewDiskQueue(t.TempDir(), JSONSerializer{})
	require.NoError(t, err)
	qs["disk"] = disk
	return qs
}

func TestQueuePopOrdersByPriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	for name, q := range allQueues(t) {
		t.Run(name, func(t *testing.T) {
			low := request.NewRequest("https://example.com/low")
			low.Priority = 0
			high := request.NewRequest("https://example.com/high")
			high.Priority = 10
			second := request.NewRequest("https://example.com/second")
			second.Priority = 10

			require.NoError(t, q.Push(ctx, low))
			require.NoError(t, q.Push(ctx, high))
			require.NoError(t, q.Push(ctx, second))

			first, err := q.Pop(ctx)
			require.NoError(t, err)
			require.Equal(t, "https://example.com/high", first.URL)

			next, err := q.Pop(ctx)
			require.NoError(t, err)
			require.Equal(t, "https://example.com/second", next.URL, "equal priority should come back FIFO")

			last, err := q.Pop(ctx)
			require.NoError(t, err)
			require.Equal(t, "https://example.com/low", last.URL)
		})
	}
}

func TestQueuePopOnEmptyReturnsNilNil(t *testing.T) {
	ctx := context.Background()
	for name, q := range allQueues(t) {
		t.Run(name, func(t *testing.T) {
			r, err := q.Pop(ctx)
			require.NoError(t, err)
			require.Nil(t, r)
		})
	}
}

func TestQueueSizeAndClear(t *testing.T) {
	ctx := context.Background()
	for name, q := range allQueues(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, q.PushBatch(ctx, []*request.Request{
				request.NewRequest("https://example.com/1"),
				request.NewRequest("https://example.com/2"),
				request.NewRequest("https://example.com/3"),
			}))

			size, err := q.Size(ctx)
			require.NoError(t, err)
			require.EqualValues(t, 3, size)

			require.NoError(t, q.Clear(ctx))

			size, err = q.Size(ctx)
			require.NoError(t, err)
			require.EqualValues(t, 0, size)
		})
	}
}

func TestQueuePopNStopsAtEmpty(t *testing.T) {
	ctx := context.Background()
	for name, q := range allQueues(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, q.PushBatch(ctx, []*request.Request{
				request.NewRequest("https://example.com/1"),
				request.NewRequest("https://example.com/2"),
			}))

			got, err := q.PopN(ctx, 5)
			require.NoError(t, err)
			require.Len(t, got, 2)
		})
	}
}

func TestDiskQueueReplaysSegmentOnReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	q, err := NewDiskQueue(dir, JSONSerializer{})
	require.NoError(t, err)
	require.NoError(t, q.Push(ctx, request.NewRequest("https://example.com/a")))
	require.NoError(t, q.Close())

	reopened, err := NewDiskQueue(dir, JSONSerializer{})
	require.NoError(t, err)
	defer reopened.Close()

	size, err := reopened.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, size)
}

func TestDiskQueueClearTruncatesSegment(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	q, err := NewDiskQueue(dir, JSONSerializer{})
	require.NoError(t, err)
	require.NoError(t, q.Push(ctx, request.NewRequest("https://example.com/a")))
	require.NoError(t, q.Clear(ctx))
	require.NoError(t, q.Close())

	reopened, err := NewDiskQueue(dir, JSONSerializer{})
	require.NoError(t, err)
	defer reopened.Close()

	size, err := reopened.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, size, "a cleared segment should replay empty")
}

func TestSerializerRoundTrip(t *testing.T) {
	r := request.NewRequest("https://example.com/x")
	r.Priority = 5
	r.Meta.Set("depth", 2)

	for name, ser := range map[string]Serializer{
		"json":    JSONSerializer{},
		"msgpack": MsgpackSerializer{},
	} {
		t.Run(name, func(t *testing.T) {
			data, err := ser.Marshal(r)
			require.NoError(t, err)

			got, err := ser.Unmarshal(data)
			require.NoError(t, err)
			require.Equal(t, r.URL, got.URL)
			require.Equal(t, r.Priority, got.Priority)
		})
	}
}

func TestNewSerializerUnknownName(t *testing.T) {
	_, err := NewSerializer("protobuf")
	require.Error(t, err)
}
