package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nyxcrawl/scrapyengine/config"
	"github.com/nyxcrawl/scrapyengine/filter"
	"github.com/nyxcrawl/scrapyengine/queue"
	"github.com/nyxcrawl/scrapyengine/request"
	"github.com/nyxcrawl/scrapyengine/scheduler"
)

func newTestScheduler() *scheduler.Scheduler {
	return scheduler.New(&config.Settings{}, queue.NewMemoryQueue(), filter.NewMemoryFilter(), nil, nil, "spider-a")
}

func TestSinkHandleItemWritesToDefaultWriter(t *testing.T) {
	mem := NewMemoryWriter()
	sink := NewSink(newTestScheduler(), nil, map[string]Writer{"": mem}, nil, nil, nil, "spider-a")

	item := request.Item{Fields: map[string]interface{}{"url": "https://example.com/a"}}
	require.NoError(t, sink.HandleItem(context.Background(), item))

	require.Len(t, mem.Items(), 1)
	require.Equal(t, "https://example.com/a", mem.Items()[0].Fields["url"])
}

func TestSinkHandleItemRoutesBySinkName(t *testing.T) {
	def := NewMemoryWriter()
	named := NewMemoryWriter()
	sink := NewSink(newTestScheduler(), nil, map[string]Writer{"": def, "custom": named}, nil, nil, nil, "spider-a")

	item := request.Item{
		Fields:  map[string]interface{}{"url": "https://example.com/a"},
		Routing: request.Routing{Sink: "custom"},
	}
	require.NoError(t, sink.HandleItem(context.Background(), item))

	require.Empty(t, def.Items())
	require.Len(t, named.Items(), 1)
}

func TestSinkHandleItemErrorsWithoutMatchingWriter(t *testing.T) {
	sink := NewSink(newTestScheduler(), nil, map[string]Writer{}, nil, nil, nil, "spider-a")

	item := request.Item{Fields: map[string]interface{}{}, Routing: request.Routing{Sink: "missing"}}
	err := sink.HandleItem(context.Background(), item)
	require.Error(t, err)
}

func TestSinkHandleItemRunsProcessorChainFirst(t *testing.T) {
	chain := NewPipeline(&PipelineConfig{Name: "items"})
	chain.AddProcessor(newUpperProcessor())

	mem := NewMemoryWriter()
	sink := NewSink(newTestScheduler(), chain, map[string]Writer{"": mem}, nil, nil, nil, "spider-a")

	item := request.Item{Fields: map[string]interface{}{"name": "item"}}
	require.NoError(t, sink.HandleItem(context.Background(), item))

	require.Equal(t, "item!", mem.Items()[0].Fields["name"])
}

func TestSinkHandleItemDroppedByProcessorChainIsNotAnError(t *testing.T) {
	chain := NewPipeline(&PipelineConfig{Name: "items"})
	chain.AddProcessor(NewDeduplicatorProcessor("url"))

	mem := NewMemoryWriter()
	sink := NewSink(newTestScheduler(), chain, map[string]Writer{"": mem}, nil, nil, nil, "spider-a")

	item := request.Item{Fields: map[string]interface{}{"url": "https://example.com/a"}}
	require.NoError(t, sink.HandleItem(context.Background(), item))
	require.NoError(t, sink.HandleItem(context.Background(), item))

	require.Len(t, mem.Items(), 1, "the second item shares a url with the first and should be deduplicated, not written twice")
}

func TestSinkHandleItemDroppedByWriterIsNotAnError(t *testing.T) {
	dropWriter := writerFunc{
		name: "drop",
		fn:   func(ctx context.Context, item request.Item) error { return ErrDropItem },
	}
	sink := NewSink(newTestScheduler(), nil, map[string]Writer{"": dropWriter}, nil, nil, nil, "spider-a")

	item := request.Item{Fields: map[string]interface{}{}}
	require.NoError(t, sink.HandleItem(context.Background(), item))
}

func TestSinkScheduleRequestEnqueuesOnScheduler(t *testing.T) {
	sched := newTestScheduler()
	sink := NewSink(sched, nil, map[string]Writer{"": NewMemoryWriter()}, nil, nil, nil, "spider-a")

	require.NoError(t, sink.ScheduleRequest(context.Background(), request.NewRequest("https://example.com/a")))

	r, err := sched.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, r)
	require.Equal(t, "https://example.com/a", r.URL)
}

// writerFunc lets a test supply a Writer without declaring a named type
// for every scenario.
type writerFunc struct {
	name string
	fn   func(ctx context.Context, item request.Item) error
}

func (w writerFunc) Name() string { return w.name }
func (w writerFunc) Write(ctx context.Context, item request.Item) error { return w.fn(ctx, item) }

func TestFileWriterAppendsJSONLines(t *testing.T) {
	path := t.TempDir() + "/out.jsonl"
	w, err := NewFileWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Write(context.Background(), request.Item{Fields: map[string]interface{}{"a": 1}}))
	require.NoError(t, w.Write(context.Background(), request.Item{Fields: map[string]interface{}{"a": 2}}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var lines []map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var m map[string]interface{}
		if err := dec.Decode(&m); err != nil {
			break
		}
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	require.Equal(t, float64(1), lines[0]["a"])
}
