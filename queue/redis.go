package queue

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/go-redis/redis/v8"

	"github.com/nyxcrawl/scrapyengine/enginerr"
	"github.com/nyxcrawl/scrapyengine/request"
)

// RedisQueue is the shared backend for multi-worker crawls: a sorted
// set per spider, scored so ZPOPMIN yields the highest declared
// priority first and, within a priority, the earliest-pushed request
// (FIFO tie-break) — the negation-plus-sequence trick that lets one
// numeric score encode a two-level sort.
type RedisQueue struct {
	client *redis.Client
	key    string
	ser    Serializer
	seq    int64
}

// NewRedisQueue builds a RedisQueue over {prefix}:{spider}:requests.
func NewRedisQueue(client *redis.Client, prefix, spider string, ser Serializer) *RedisQueue {
	return &RedisQueue{
		client: client,
		key:    fmt.Sprintf("%s:%s:requests", prefix, spider),
		ser:    ser,
	}
}

func (q *RedisQueue) score(priority int) float64 {
	seq := atomic.AddInt64(&q.seq, 1)
	return -float64(priority)*1e6 + float64(seq)
}

func (q *RedisQueue) Push(ctx context.Context, r *request.Request) error {
	data, err := q.ser.Marshal(r)
	if err != nil {
		return err
	}
	if err := q.client.ZAdd(ctx, q.key, &redis.Z{
		Score:  q.score(r.Priority),
		Member: data,
	}).Err(); err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "queue.redis", "zadd", err)
	}
	return nil
}

func (q *RedisQueue) PushBatch(ctx context.Context, rs []*request.Request) error {
	pipe := q.client.Pipeline()
	for _, r := range rs {
		data, err := q.ser.Marshal(r)
		if err != nil {
			return err
		}
		pipe.ZAdd(ctx, q.key, &redis.Z{Score: q.score(r.Priority), Member: data})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "queue.redis", "pipeline zadd", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (*request.Request, error) {
	result, err := q.client.ZPopMin(ctx, q.key, 1).Result()
	if err != nil {
		return nil, enginerr.Wrap(enginerr.FilterBackend, "queue.redis", "zpopmin", err)
	}
	if len(result) == 0 {
		return nil, nil
	}
	member, ok := result[0].Member.(string)
	if !ok {
		return nil, enginerr.New(enginerr.FilterBackend, "queue.redis", "unexpected zset member type")
	}
	return q.ser.Unmarshal([]byte(member))
}

func (q *RedisQueue) PopN(ctx context.Context, n int) ([]*request.Request, error) {
	results, err := q.client.ZPopMin(ctx, q.key, int64(n)).Result()
	if err != nil {
		return nil, enginerr.Wrap(enginerr.FilterBackend, "queue.redis", "zpopmin n", err)
	}
	out := make([]*request.Request, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		r, err := q.ser.Unmarshal([]byte(member))
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (q *RedisQueue) Size(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, enginerr.Wrap(enginerr.FilterBackend, "queue.redis", "zcard", err)
	}
	return n, nil
}

func (q *RedisQueue) Clear(ctx context.Context) error {
	if err := q.client.Del(ctx, q.key).Err(); err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "queue.redis", "del", err)
	}
	return nil
}

func (q *RedisQueue) Close() error { return nil }
