// Package signal is the engine's named-event pub/sub: components fire
// signals (spider_opened, request_scheduled, item_scraped, ...) and
// anything — a stats collector, a spider's own idle handler, a sibling
// worker process — can subscribe without the engine knowing who's
// listening.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Name identifies a signal, matching the original engine's signal
// vocabulary one-for-one.
type Name string

const (
	SpiderOpened      Name = "spider_opened"
	SpiderIdle        Name = "spider_idle"
	SpiderClosed      Name = "spider_closed"
	SpiderError       Name = "spider_error"
	RequestScheduled  Name = "request_scheduled"
	RequestDropped    Name = "request_dropped"
	RequestReached    Name = "request_reached_downloader"
	ResponseDownloaded Name = "response_downloaded"
	ResponseReceived  Name = "response_received"
	ItemScraped       Name = "item_scraped"
	ItemDropped       Name = "item_dropped"
	EngineStarted     Name = "engine_started"
	EngineStopped     Name = "engine_stopped"
)

// Event is one signal firing, with whatever payload the caller attached.
type Event struct {
	Name      Name      `json:"name"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Handler observes a fired Event. Returning a non-nil error from a
// SpiderIdle handler is the DontCloseSpider-equivalent: the engine
// defers closing by one more heartbeat tick instead of shutting down.
type Handler func(ctx context.Context, ev Event) error

// Dispatcher is the in-process signal bus, with optional Redis fan-out
// so sibling worker processes on the same job observe the same signals.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler

	redis  *redis.Client
	prefix string
	logger *slog.Logger

	pubsub  *redis.PubSub
	stopCh  chan struct{}
	started bool
}

// New builds a Dispatcher. redisClient may be nil, in which case the
// dispatcher only fans out in-process.
func New(redisClient *redis.Client, prefix string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[Name][]Handler),
		redis:    redisClient,
		prefix:   prefix,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Connect subscribes to sibling processes' fan-out channel. A no-op if
// this Dispatcher was built without a Redis client.
func (d *Dispatcher) Connect(ctx context.Context) error {
	if d.redis == nil {
		return nil
	}
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	channel := fmt.Sprintf("%s:signals", d.prefix)
	d.pubsub = d.redis.Subscribe(ctx, channel)
	if _, err := d.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("signal: subscribe %s: %w", channel, err)
	}
	go d.consumeRemote(ctx)
	return nil
}

func (d *Dispatcher) consumeRemote(ctx context.Context) {
	ch := d.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				d.logger.Error("signal: bad remote payload", "error", err)
				continue
			}
			d.dispatchLocal(ctx, ev)
		}
	}
}

// Close stops Redis fan-out consumption. In-process handlers remain
// registered but Fire will no longer publish remotely.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	close(d.stopCh)
	if d.pubsub != nil {
		return d.pubsub.Close()
	}
	return nil
}

// On registers handler for name. Handlers run synchronously, in
// registration order, on the goroutine that calls Fire — callers that
// need async behavior should spawn their own goroutine inside the
// handler.
func (d *Dispatcher) On(name Name, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = append(d.handlers[name], handler)
}

// Fire runs every handler registered for ev.Name and, if a Redis client
// is configured, publishes ev for sibling processes. It returns the
// first handler error (used by the engine to detect the
// DontCloseSpider-equivalent signal from a SpiderIdle handler).
func (d *Dispatcher) Fire(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	err := d.dispatchLocal(ctx, ev)

	if d.redis != nil {
		data, mErr := json.Marshal(ev)
		if mErr != nil {
			d.logger.Error("signal: marshal", "name", ev.Name, "error", mErr)
		} else {
			channel := fmt.Sprintf("%s:signals", d.prefix)
			if pErr := d.redis.Publish(ctx, channel, data).Err(); pErr != nil {
				d.logger.Error("signal: publish", "name", ev.Name, "error", pErr)
			}
		}
	}
	return err
}

func (d *Dispatcher) dispatchLocal(ctx context.Context, ev Event) error {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers[ev.Name]...)
	d.mu.RUnlock()

	var first error
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			d.logger.Debug("signal: handler returned error", "name", ev.Name, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
