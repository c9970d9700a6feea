package filter

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/nyxcrawl/scrapyengine/enginerr"
	"github.com/nyxcrawl/scrapyengine/request"
)

// RedisFilter is the shared-exact dedupe backend: a Redis set keyed
// per-spider so every downloader instance working the same job sees the
// same dedupe state. SADD's return value distinguishes "already a
// member" from "newly added" atomically, so two workers racing on the
// same fingerprint never both treat it as new.
type RedisFilter struct {
	client *redis.Client
	key    string
}

// NewRedisFilter builds a RedisFilter namespaced under
// {prefix}:dupefilter:{spider}.
func NewRedisFilter(client *redis.Client, prefix, spider string) *RedisFilter {
	return &RedisFilter{
		client: client,
		key:    fmt.Sprintf("%s:dupefilter:%s", prefix, spider),
	}
}

func (f *RedisFilter) Seen(ctx context.Context, r *request.Request) (bool, error) {
	fp, err := fingerprintOf(r)
	if err != nil {
		return false, err
	}
	added, err := f.client.SAdd(ctx, f.key, fp).Result()
	if err != nil {
		return false, enginerr.Wrap(enginerr.FilterBackend, "filter.redis", "sadd", err)
	}
	// SAdd returns the number of elements actually added; 0 means it
	// was already a member.
	return added == 0, nil
}

func (f *RedisFilter) Release(ctx context.Context, r *request.Request, reason string) error {
	fp, err := fingerprintOf(r)
	if err != nil {
		return err
	}
	if err := f.client.SRem(ctx, f.key, fp).Err(); err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "filter.redis", "srem", err)
	}
	return nil
}

func (f *RedisFilter) Clear(ctx context.Context) error {
	if err := f.client.Del(ctx, f.key).Err(); err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "filter.redis", "del", err)
	}
	return nil
}

func (f *RedisFilter) Close() error { return nil }
