// Package proxy manages the shared proxy pool: a Redis sorted set is
// the canonical store of proxy health so every downloader instance in a
// distributed crawl sees the same view, fronted by a small in-process
// cache so Get doesn't round-trip to Redis on every request.
package proxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"

	"github.com/nyxcrawl/scrapyengine/enginerr"
)

// Pool hands out proxy URLs and tracks their health. Get refills the
// local cache from Redis whenever it drops below minCount; Invalidate
// removes a proxy from both the local cache and the canonical set. Each
// proxy also gets its own token-bucket limiter so many domain Slots
// drawing from the same shared pool can't pile concurrent requests onto
// one upstream proxy.
type Pool struct {
	client *redis.Client
	key    string // {prefix}:proxies

	mu        sync.Mutex
	cache     []string
	cursor    int
	minCount  int
	maxCount  int
	perProxy  rate.Limit
	burst     int
	limiters  map[string]*rate.Limiter
}

// New builds a Pool backed by the Redis sorted set at {prefix}:proxies,
// where each member's score is a health weight: a refill loads the
// highest-weighted members first, and Invalidate removes a member
// whatever its weight. perProxyRPS caps how many
// requests per second Get will release for any single proxy URL; <= 0
// disables the limiter.
func New(client *redis.Client, prefix string, minCount, maxCount int, perProxyRPS float64) *Pool {
	if minCount <= 0 {
		minCount = 4
	}
	if maxCount <= 0 {
		maxCount = 64
	}
	return &Pool{
		client:   client,
		key:      fmt.Sprintf("%s:proxies", prefix),
		minCount: minCount,
		maxCount: maxCount,
		perProxy: rate.Limit(perProxyRPS),
		burst:    1,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Seed adds proxyURLs to the canonical set with an initial health
// weight, used at startup to load a static proxy list.
func (p *Pool) Seed(ctx context.Context, proxyURLs []string) error {
	if len(proxyURLs) == 0 {
		return nil
	}
	members := make([]*redis.Z, len(proxyURLs))
	for i, u := range proxyURLs {
		members[i] = &redis.Z{Score: 1, Member: u}
	}
	if err := p.client.ZAdd(ctx, p.key, members...).Err(); err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "proxy.pool", "seed zadd", err)
	}
	return nil
}

// Get returns a proxy URL, round-robin over the local cache, refilling
// it from the canonical set first if it has dropped below minCount.
func (p *Pool) Get(ctx context.Context) (string, error) {
	p.mu.Lock()
	needsRefill := len(p.cache) < p.minCount
	p.mu.Unlock()

	if needsRefill {
		if err := p.Refill(ctx); err != nil {
			return "", err
		}
	}

	p.mu.Lock()
	if len(p.cache) == 0 {
		p.mu.Unlock()
		return "", enginerr.New(enginerr.ProxyFailure, "proxy.pool", "no proxies available")
	}
	proxyURL := p.cache[p.cursor%len(p.cache)]
	p.cursor++
	limiter := p.limiterLocked(proxyURL)
	p.mu.Unlock()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("proxy.pool: rate limit wait for %s: %w", proxyURL, err)
		}
	}
	return proxyURL, nil
}

// limiterLocked returns proxyURL's limiter, creating it on first use.
// Callers must hold p.mu.
func (p *Pool) limiterLocked(proxyURL string) *rate.Limiter {
	if p.perProxy <= 0 {
		return nil
	}
	l, ok := p.limiters[proxyURL]
	if !ok {
		l = rate.NewLimiter(p.perProxy, p.burst)
		p.limiters[proxyURL] = l
	}
	return l
}

// Refill pulls the maxCount highest-weighted proxies from the canonical
// Redis set into the local cache.
func (p *Pool) Refill(ctx context.Context) error {
	members, err := p.client.ZRevRange(ctx, p.key, 0, int64(p.maxCount-1)).Result()
	if err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "proxy.pool", "refill zrevrange", err)
	}
	p.mu.Lock()
	p.cache = members
	p.cursor = 0
	p.mu.Unlock()
	return nil
}

// Invalidate drops proxyURL from both the canonical set and the local
// cache, called on a non-allow-listed response status or a transport
// exception while using that proxy.
func (p *Pool) Invalidate(ctx context.Context, proxyURL, reason string) error {
	if err := p.client.ZRem(ctx, p.key, proxyURL).Err(); err != nil {
		return enginerr.Wrap(enginerr.FilterBackend, "proxy.pool", "invalidate zrem", err)
	}
	p.mu.Lock()
	for i, u := range p.cache {
		if u == proxyURL {
			p.cache = append(p.cache[:i], p.cache[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	return nil
}

// Size reports the canonical pool's proxy count.
func (p *Pool) Size(ctx context.Context) (int64, error) {
	n, err := p.client.ZCard(ctx, p.key).Result()
	if err != nil {
		return 0, enginerr.Wrap(enginerr.FilterBackend, "proxy.pool", "zcard", err)
	}
	return n, nil
}
