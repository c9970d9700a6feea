// Package engine implements the crawl engine's heartbeat loop: the
// goroutine/channel translation of the source engine's asyncio
// ExecutionEngine, driving the scheduler, downloader, and scraper
// through one spider's lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nyxcrawl/scrapyengine/config"
	"github.com/nyxcrawl/scrapyengine/downloader"
	"github.com/nyxcrawl/scrapyengine/enginerr"
	"github.com/nyxcrawl/scrapyengine/request"
	"github.com/nyxcrawl/scrapyengine/scheduler"
	"github.com/nyxcrawl/scrapyengine/scraper"
	"github.com/nyxcrawl/scrapyengine/signal"
	"github.com/nyxcrawl/scrapyengine/stats"
)

// FinishReason is why a spider closed, one per close_spider(reason=...)
// call site in the source engine, kept as a typed enum rather than a
// free string so callers can switch on it exhaustively.
type FinishReason string

const (
	ReasonFinished         FinishReason = "finished"
	ReasonCancelled        FinishReason = "cancelled"
	ReasonShutdown         FinishReason = "shutdown"
	ReasonShutdownSignal   FinishReason = "shutdown_signal"
	ReasonCloseTimeout     FinishReason = "closespider_timeout"
	ReasonCloseItemCount   FinishReason = "closespider_itemcount"
	ReasonClosePageCount   FinishReason = "closespider_pagecount"
	ReasonCloseErrorCount  FinishReason = "closespider_errorcount"
)

// ErrDontCloseSpider is the DontCloseSpider-equivalent sentinel: a
// spider_idle handler returns it to defer closing by one more
// heartbeat tick instead of letting the engine shut down.
var ErrDontCloseSpider = errors.New("engine: defer close, spider repopulated")

// Callbacks resolves a Request's named callback/errback to the
// Parser/Errback functions the scraper invokes, the Go stand-in for the
// source engine's attribute-based callback dispatch.
type Callbacks struct {
	Parsers  map[string]scraper.Parser
	Errbacks map[string]scraper.Errback
}

func (c Callbacks) parserFor(name string) scraper.Parser {
	if name == "" {
		name = "parse"
	}
	return c.Parsers[name]
}

func (c Callbacks) errbackFor(name string) scraper.Errback {
	return c.Errbacks[name]
}

// Engine runs one spider's crawl to completion.
type Engine struct {
	settings   *config.Settings
	sched      *scheduler.Scheduler
	dl         *downloader.Downloader
	scr        *scraper.Scraper
	dispatcher *signal.Dispatcher
	collector  *stats.Collector
	logger     *slog.Logger
	spider     string
	callbacks  Callbacks

	slot *slot

	mu          sync.Mutex
	running     bool
	closing     bool
	closeReason FinishReason
	startedAt   time.Time
	closeWait   chan struct{}
}

// New builds an Engine for one spider.
func New(s *config.Settings, sched *scheduler.Scheduler, dl *downloader.Downloader, scr *scraper.Scraper, dispatcher *signal.Dispatcher, collector *stats.Collector, logger *slog.Logger, spider string, callbacks Callbacks) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		settings:   s,
		sched:      sched,
		dl:         dl,
		scr:        scr,
		dispatcher: dispatcher,
		collector:  collector,
		logger:     logger,
		spider:     spider,
		callbacks:  callbacks,
		slot:       newSlot(),
		closeWait:  make(chan struct{}),
	}
}

// Start seeds the scheduler with startRequests, opens the spider, and
// runs the heartbeat loop until the spider closes or ctx is cancelled.
// It blocks until the spider has fully closed.
func (e *Engine) Start(ctx context.Context, startRequests []*request.Request) (FinishReason, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return "", fmt.Errorf("engine: already running")
	}
	e.running = true
	e.startedAt = time.Now()
	e.mu.Unlock()

	e.fire(ctx, signal.EngineStarted, nil)
	e.fire(ctx, signal.SpiderOpened, nil)

	for _, r := range startRequests {
		if _, err := e.sched.Enqueue(ctx, r); err != nil {
			e.logger.Error("engine: seed enqueue failed", "url", r.URL, "error", err)
		}
	}

	interval := e.settings.HeartbeatInterval
	if interval <= 0 {
		interval = config.DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	idleTicks := 0
	for {
		select {
		case <-ctx.Done():
			return e.shutdown(context.Background(), ReasonCancelled)
		case <-ticker.C:
			e.nextRequest(ctx)

			if reason := e.checkCloseTriggers(); reason != "" {
				return e.shutdown(context.Background(), reason)
			}

			idle, err := e.isIdle(ctx)
			if err != nil {
				e.logger.Error("engine: idle check failed", "error", err)
				continue
			}
			if !idle {
				idleTicks = 0
				continue
			}
			idleTicks++
			if idleTicks == 1 {
				if err := e.fireSpiderIdle(ctx); errors.Is(err, ErrDontCloseSpider) {
					idleTicks = 0
				}
				continue
			}
			if e.settings.CloseSpiderOnIdle {
				return e.shutdown(context.Background(), ReasonFinished)
			}
		}
	}
}

// nextRequest refills in-flight work up to CONCURRENT_REQUESTS, subject
// to downloader slot availability, mirroring _next_request.
func (e *Engine) nextRequest(ctx context.Context) {
	for {
		if e.isClosing() || e.dl.NeedsBackout() {
			return
		}
		r, err := e.sched.Next(ctx)
		if err != nil {
			e.logger.Error("engine: scheduler.Next failed", "error", err)
			return
		}
		if r == nil {
			return
		}
		key := e.slot.add()
		go e.dispatch(ctx, r, key)
	}
}

// dispatch fetches r and routes the outcome, then removes it from the
// slot; the next heartbeat tick picks up further work.
func (e *Engine) dispatch(ctx context.Context, r *request.Request, key *requestKey) {
	defer e.slot.remove(key)

	start := time.Now()
	result := e.dl.FetchResult(ctx, r)
	if e.collector != nil {
		e.collector.DownloadLatency.Observe(time.Since(start).Seconds())
	}

	switch {
	case result.Retry != nil:
		if _, err := e.sched.Enqueue(ctx, result.Retry); err != nil {
			e.logger.Error("engine: retry enqueue failed", "url", result.Retry.URL, "error", err)
		}
	case result.Err != nil:
		e.handleFailure(ctx, r, result.Err)
	case result.Response != nil:
		e.handleResponse(ctx, result.Response)
	}
}

func (e *Engine) handleFailure(ctx context.Context, r *request.Request, err error) {
	kind := enginerr.KindOf(err)
	if e.collector != nil {
		e.collector.IncError("downloader", kind.String())
	}
	e.logger.Error("engine: download failed", "url", r.URL, "kind", kind.String(), "error", err)
	e.fire(ctx, signal.SpiderError, map[string]any{"url": r.URL, "error": err.Error()})
	if errback := e.callbacks.errbackFor(r.Errback); errback != nil {
		errback(ctx, r, err)
	}
}

func (e *Engine) handleResponse(ctx context.Context, resp *request.Response) {
	if e.collector != nil {
		class := statusClass(resp.StatusCode)
		e.collector.IncPage(e.spider, class)
	}
	e.fire(ctx, signal.ResponseDownloaded, map[string]any{"url": resp.URL, "status": resp.StatusCode})
	e.fire(ctx, signal.ResponseReceived, map[string]any{"url": resp.URL, "status": resp.StatusCode})

	parse := e.callbacks.parserFor(resp.Request.Callback)
	if parse == nil {
		e.logger.Warn("engine: no parser registered for callback", "callback", resp.Request.Callback, "url", resp.URL)
		return
	}
	if err := e.scr.HandleResponse(ctx, resp, parse); err != nil {
		if e.collector != nil {
			e.collector.IncError("scraper", enginerr.KindOf(err).String())
		}
		e.fire(ctx, signal.SpiderError, map[string]any{"url": resp.URL, "error": err.Error()})
		if errback := e.callbacks.errbackFor(resp.Request.Errback); errback != nil {
			errback(ctx, resp.Request, err)
		}
	}
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// isIdle matches spider_is_idle: no pending scheduler work, nothing
// in-flight in the downloader/scraper slot.
func (e *Engine) isIdle(ctx context.Context) (bool, error) {
	if e.isClosing() {
		return false, nil
	}
	if e.slot.size() > 0 {
		return false, nil
	}
	pending, err := e.sched.HasPending(ctx)
	if err != nil {
		return false, err
	}
	return !pending, nil
}

func (e *Engine) fireSpiderIdle(ctx context.Context) error {
	return e.fire(ctx, signal.SpiderIdle, nil)
}

// checkCloseTriggers evaluates CLOSESPIDER_* against the stats
// collector, returning the first triggered FinishReason or "".
func (e *Engine) checkCloseTriggers() FinishReason {
	if e.collector == nil {
		return ""
	}
	s := e.settings
	if s.CloseSpiderTimeout > 0 && time.Since(e.startedAt) >= s.CloseSpiderTimeout {
		return ReasonCloseTimeout
	}
	if s.CloseSpiderItemCount > 0 && e.collector.ItemCount() >= int64(s.CloseSpiderItemCount) {
		return ReasonCloseItemCount
	}
	if s.CloseSpiderPageCount > 0 && e.collector.PageCount() >= int64(s.CloseSpiderPageCount) {
		return ReasonClosePageCount
	}
	if s.CloseSpiderErrorCount > 0 && e.collector.ErrorCount() >= int64(s.CloseSpiderErrorCount) {
		return ReasonCloseErrorCount
	}
	return ""
}

func (e *Engine) isClosing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closing
}

// shutdown drains in-flight work, closes every component in the same
// order as close_spider, and fires spider_closed/engine_stopped.
func (e *Engine) shutdown(ctx context.Context, reason FinishReason) (FinishReason, error) {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		<-e.closeWait
		return e.closeReason, nil
	}
	e.closing = true
	e.closeReason = reason
	e.mu.Unlock()

	e.logger.Info("engine: closing spider", "spider", e.spider, "reason", reason)

	deadline := e.settings.ShutdownTimeout
	if deadline <= 0 {
		deadline = config.DefaultShutdownTimeout
	}
	drained := e.slot.beginClosing()
	select {
	case <-drained:
	case <-time.After(deadline):
		e.logger.Warn("engine: shutdown deadline exceeded with requests still in flight", "spider", e.spider, "in_flight", e.slot.size())
	}

	if err := e.dl.Close(); err != nil {
		e.logger.Error("engine: downloader close failed", "error", err)
	}
	if err := e.sched.Close(ctx); err != nil {
		e.logger.Error("engine: scheduler close failed", "error", err)
	}

	e.fire(ctx, signal.SpiderClosed, map[string]any{"reason": string(reason)})
	e.fire(ctx, signal.EngineStopped, nil)

	e.logger.Info("engine: spider closed", "spider", e.spider, "reason", reason)
	close(e.closeWait)
	return reason, nil
}

func (e *Engine) fire(ctx context.Context, name signal.Name, data any) error {
	if e.dispatcher == nil {
		return nil
	}
	return e.dispatcher.Fire(ctx, signal.Event{Name: name, Source: e.spider, Data: data})
}
