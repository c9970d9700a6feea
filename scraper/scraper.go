// Package scraper runs a Response through the spider-middleware chain
// and the spider's own parser, classifying each produced value into a
// scheduler-bound Request or a pipeline-bound Item.
package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nyxcrawl/scrapyengine/config"
	"github.com/nyxcrawl/scrapyengine/enginerr"
	"github.com/nyxcrawl/scrapyengine/request"
	"github.com/nyxcrawl/scrapyengine/signal"
	"github.com/nyxcrawl/scrapyengine/stats"
)

// Parser is the request's callback (or the spider's default parse),
// invoked against a Response. A channel-based producer takes the place
// of the source engine's Python generator: the scraper ranges over the
// channel as values arrive instead of materializing a full slice.
type Parser func(ctx context.Context, resp *request.Response) (<-chan request.Output, error)

// Errback is invoked with the failed request and its error when a
// Transport/Downloader call for it never produced a Response.
type Errback func(ctx context.Context, r *request.Request, err error)

// SpiderMiddleware mirrors the downloader's Handler/next chain shape
// over the input/output/exception hooks a spider middleware exposes.
type SpiderMiddleware interface {
	Name() string
	Priority() int
	ProcessInput(ctx context.Context, resp *request.Response) error
	ProcessOutput(ctx context.Context, resp *request.Response, outputs []request.Output) ([]request.Output, error)
	ProcessException(ctx context.Context, resp *request.Response, err error) ([]request.Output, error)
}

// BaseSpiderMiddleware gives a middleware a no-op default for every
// hook it doesn't care to override.
type BaseSpiderMiddleware struct{}

func (BaseSpiderMiddleware) ProcessInput(ctx context.Context, resp *request.Response) error {
	return nil
}
func (BaseSpiderMiddleware) ProcessOutput(ctx context.Context, resp *request.Response, outputs []request.Output) ([]request.Output, error) {
	return outputs, nil
}
func (BaseSpiderMiddleware) ProcessException(ctx context.Context, resp *request.Response, err error) ([]request.Output, error) {
	return nil, err
}

// Sink receives classified output: ScheduleRequest for a *request.Request,
// HandleItem for a request.Item. Separate interfaces keep the scraper
// decoupled from the concrete scheduler/pipeline types.
type Sink interface {
	ScheduleRequest(ctx context.Context, r *request.Request) error
	HandleItem(ctx context.Context, item request.Item) error
}

// Scraper drives one Response through ProcessInput, the parser, output
// classification, and ProcessOutput, in that order, mirroring the
// original engine's scraper.py call_spider/_process_spidermw_output.
type Scraper struct {
	settings    *config.Settings
	middlewares []SpiderMiddleware // sorted ascending by priority
	sink        Sink
	dispatcher  *signal.Dispatcher
	collector   *stats.Collector
	logger      *slog.Logger
	spider      string
}

// New builds a Scraper, sorting middlewares by Priority ascending.
func New(s *config.Settings, middlewares []SpiderMiddleware, sink Sink, dispatcher *signal.Dispatcher, collector *stats.Collector, logger *slog.Logger, spider string) *Scraper {
	sorted := append([]SpiderMiddleware(nil), middlewares...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Priority() > sorted[j].Priority(); j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{settings: s, middlewares: sorted, sink: sink, dispatcher: dispatcher, collector: collector, logger: logger, spider: spider}
}

// HandleResponse runs resp through ProcessInput, parse, output
// classification (with depth enforcement), and ProcessOutput.
func (s *Scraper) HandleResponse(ctx context.Context, resp *request.Response, parse Parser) error {
	for _, mw := range s.middlewares {
		if err := mw.ProcessInput(ctx, resp); err != nil {
			return s.handleException(ctx, resp, err)
		}
	}

	outCh, err := parse(ctx, resp)
	if err != nil {
		return s.handleException(ctx, resp, err)
	}

	var outputs []request.Output
	for out := range outCh {
		outputs = append(outputs, out)
	}

	for _, mw := range s.middlewares {
		outputs, err = mw.ProcessOutput(ctx, resp, outputs)
		if err != nil {
			return s.handleException(ctx, resp, err)
		}
	}

	for _, out := range outputs {
		s.classify(ctx, resp, out)
	}
	return nil
}

func (s *Scraper) handleException(ctx context.Context, resp *request.Response, err error) error {
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		outputs, hErr := s.middlewares[i].ProcessException(ctx, resp, err)
		if hErr == nil {
			for _, out := range outputs {
				s.classify(ctx, resp, out)
			}
			return nil
		}
	}
	s.collector.Errors.WithLabelValues("scraper", enginerr.KindOf(err).String()).Inc()
	s.logger.Error("scraper: parser error", "spider", s.spider, "url", resp.URL, "error", err)
	return enginerr.Wrap(enginerr.ParserError, "scraper", fmt.Sprintf("parse %s", resp.URL), err)
}

// classify routes a parser output to the scheduler (Request, with depth
// enforcement) or the pipeline (Item); anything else is a logged warning
// plus an item_dropped-style stat.
func (s *Scraper) classify(ctx context.Context, resp *request.Response, out request.Output) {
	switch v := out.(type) {
	case *request.Request:
		v.Meta.Depth = resp.Meta.Depth + 1
		if s.settings.DepthLimit > 0 && v.Meta.Depth > s.settings.DepthLimit {
			s.collector.RequestsDropped.WithLabelValues(s.spider, "depth_limit").Inc()
			s.fireDropped(ctx, v, "depth_limit")
			return
		}
		if err := s.sink.ScheduleRequest(ctx, v); err != nil {
			s.logger.Error("scraper: schedule failed", "url", v.URL, "error", err)
		}
	case request.Item:
		if err := s.sink.HandleItem(ctx, v); err != nil {
			s.logger.Error("scraper: pipeline failed", "error", err)
			s.collector.ItemsDropped.WithLabelValues("pipeline_error").Inc()
			return
		}
		s.collector.IncItem()
		s.fireItemScraped(ctx, v)
	default:
		s.collector.ItemsDropped.WithLabelValues("unclassified_output").Inc()
		s.logger.Warn("scraper: dropped unclassified output", "spider", s.spider, "type", fmt.Sprintf("%T", out))
	}
}

func (s *Scraper) fireDropped(ctx context.Context, r *request.Request, reason string) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Fire(ctx, signal.Event{Name: signal.RequestDropped, Source: s.spider, Data: map[string]any{"url": r.URL, "reason": reason}})
}

func (s *Scraper) fireItemScraped(ctx context.Context, item request.Item) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Fire(ctx, signal.Event{Name: signal.ItemScraped, Source: s.spider, Data: item})
}
