// Package crawlerctx holds the engine's process-scope state: effective
// settings, the named database-pool registry, the signal dispatcher,
// the stats collector, and the set of running spiders — passed
// explicitly to every component that needs it instead of living behind
// a package-level global.
package crawlerctx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nyxcrawl/scrapyengine/config"
	"github.com/nyxcrawl/scrapyengine/database"
	"github.com/nyxcrawl/scrapyengine/signal"
	"github.com/nyxcrawl/scrapyengine/stats"
)

// Context is created once at process start and torn down on final
// shutdown, shared by every spider run in this process.
type Context struct {
	Settings   *config.Settings
	DB         *database.Manager
	Dispatcher *signal.Dispatcher
	Stats      *stats.Collector
	Registry   *prometheus.Registry
	Logger     *slog.Logger

	mu      sync.RWMutex
	running map[string]struct{}
}

// New wires up a Context from settings: a database.Manager seeded from
// RedisAddr/MongoURI, a signal.Dispatcher fanning out over the same
// Redis client when present, and a stats.Collector registered against a
// fresh Registry (exposed via the admin server's /metrics endpoint).
func New(s *config.Settings, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dbManager := database.NewManagerFromSettings(s)
	if err := dbManager.ConnectAll(context.Background()); err != nil {
		return nil, fmt.Errorf("crawlerctx: connect backends: %w", err)
	}

	var redisClient *redis.Client
	if rdb, ok := dbManager.GetDatabase("redis"); ok {
		if rc, ok := rdb.(*database.RedisDatabase); ok {
			redisClient = rc.Client()
		}
	}

	registry := prometheus.NewRegistry()

	return &Context{
		Settings:   s,
		DB:         dbManager,
		Dispatcher: signal.New(redisClient, s.RedisPrefix, logger),
		Stats:      stats.New(registry),
		Registry:   registry,
		Logger:     logger,
		running:    make(map[string]struct{}),
	}, nil
}

// RedisClient is a convenience accessor for components (queue, filter,
// proxy pool factories) that need the shared Redis client directly.
func (c *Context) RedisClient() *redis.Client {
	rdb, ok := c.DB.GetDatabase("redis")
	if !ok {
		return nil
	}
	rc, ok := rdb.(*database.RedisDatabase)
	if !ok {
		return nil
	}
	return rc.Client()
}

// SpiderStarted records name as running.
func (c *Context) SpiderStarted(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running[name] = struct{}{}
}

// SpiderStopped removes name from the running set.
func (c *Context) SpiderStopped(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, name)
}

// RunningSpiders returns a snapshot of currently running spider names.
func (c *Context) RunningSpiders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.running))
	for name := range c.running {
		out = append(out, name)
	}
	return out
}

// Close tears down the dispatcher and every registered database
// connection, called once at final process shutdown.
func (c *Context) Close(ctx context.Context) error {
	if err := c.Dispatcher.Close(); err != nil {
		c.Logger.Error("crawlerctx: dispatcher close failed", "error", err)
	}
	return c.DB.DisconnectAll(ctx)
}
