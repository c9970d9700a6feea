// Package stats is the engine's counter/gauge registry, exported over
// Prometheus. It backs the per-run numbers the engine's idle/close
// decisions read (item count, error count, page count) as well as the
// operator-facing /metrics surface.
package stats

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector wraps the Prometheus vectors this engine exposes, plus a
// plain in-memory tally of the counters the engine's CLOSESPIDER_*
// checks need to read back synchronously (Prometheus counters are
// write-only from the collector's own perspective).
type Collector struct {
	RequestsScheduled *prometheus.CounterVec
	RequestsDropped   *prometheus.CounterVec
	ResponsesReceived *prometheus.CounterVec
	ItemsScraped      prometheus.Counter
	ItemsDropped      *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	DownloadLatency   prometheus.Histogram
	QueueSize         prometheus.Gauge
	InFlight          prometheus.Gauge
	Goroutines        prometheus.Gauge

	itemCount  int64
	pageCount  int64
	errorCount int64
}

// New registers this run's metric vectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with any
// process-wide default registry.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		RequestsScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_requests_scheduled_total",
			Help: "Requests accepted by the scheduler.",
		}, []string{"spider"}),
		RequestsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_requests_dropped_total",
			Help: "Requests dropped before dispatch, by reason.",
		}, []string{"spider", "reason"}),
		ResponsesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_responses_received_total",
			Help: "Responses returned by the downloader, by status class.",
		}, []string{"spider", "status_class"}),
		ItemsScraped: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_items_scraped_total",
			Help: "Items successfully handed to the pipeline chain.",
		}),
		ItemsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_items_dropped_total",
			Help: "Items dropped by a pipeline stage, by reason.",
		}, []string{"reason"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_errors_total",
			Help: "Errors observed, by component and kind.",
		}, []string{"component", "kind"}),
		DownloadLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_download_latency_seconds",
			Help:    "Time from Fetch call to Response/error.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_queue_size",
			Help: "Current pending-request count in the scheduler's queue.",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_requests_in_flight",
			Help: "Requests currently past admission, awaiting a response.",
		}),
		Goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_goroutines",
			Help: "runtime.NumGoroutine() sampled periodically.",
		}),
	}
}

// RunSystemSampler periodically updates Goroutines until stop is closed.
func (c *Collector) RunSystemSampler(stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// IncItem records one scraped item, both on the Prometheus counter and
// the local tally CLOSESPIDER_ITEMCOUNT compares against.
func (c *Collector) IncItem() {
	c.ItemsScraped.Inc()
	c.itemCount++
}

// IncPage records one response received, feeding CLOSESPIDER_PAGECOUNT.
func (c *Collector) IncPage(spider, statusClass string) {
	c.ResponsesReceived.WithLabelValues(spider, statusClass).Inc()
	c.pageCount++
}

// IncError records one error, feeding CLOSESPIDER_ERRORCOUNT.
func (c *Collector) IncError(component, kind string) {
	c.Errors.WithLabelValues(component, kind).Inc()
	c.errorCount++
}

// ItemCount returns the running total IncItem has recorded this run.
func (c *Collector) ItemCount() int64 { return c.itemCount }

// PageCount returns the running total IncPage has recorded this run.
func (c *Collector) PageCount() int64 { return c.pageCount }

// ErrorCount returns the running total IncError has recorded this run.
func (c *Collector) ErrorCount() int64 { return c.errorCount }
