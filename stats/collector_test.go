package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestCollector() *Collector {
	return New(prometheus.NewRegistry())
}

func TestCollectorIncItemUpdatesCounterAndTally(t *testing.T) {
	c := newTestCollector()

	c.IncItem()
	c.IncItem()

	require.EqualValues(t, 2, c.ItemCount())
	require.Equal(t, float64(2), testutil.ToFloat64(c.ItemsScraped))
}

func TestCollectorIncPageUpdatesTallyPerSpider(t *testing.T) {
	c := newTestCollector()

	c.IncPage("spider-a", "2xx")
	c.IncPage("spider-a", "4xx")

	require.EqualValues(t, 2, c.PageCount())
	require.Equal(t, float64(1), testutil.ToFloat64(c.ResponsesReceived.WithLabelValues("spider-a", "2xx")))
}

func TestCollectorIncErrorUpdatesTally(t *testing.T) {
	c := newTestCollector()

	c.IncError("downloader", "timeout")
	c.IncError("downloader", "timeout")
	c.IncError("scraper", "parse")

	require.EqualValues(t, 3, c.ErrorCount())
	require.Equal(t, float64(2), testutil.ToFloat64(c.Errors.WithLabelValues("downloader", "timeout")))
}

func TestCollectorIndependentRegistriesDontCollide(t *testing.T) {
	a := newTestCollector()
	b := newTestCollector()

	a.IncItem()

	require.EqualValues(t, 1, a.ItemCount())
	require.EqualValues(t, 0, b.ItemCount())
}
