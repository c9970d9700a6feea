package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/nyxcrawl/scrapyengine/database"
	"github.com/nyxcrawl/scrapyengine/request"
	"github.com/nyxcrawl/scrapyengine/scheduler"
	"github.com/nyxcrawl/scrapyengine/signal"
	"github.com/nyxcrawl/scrapyengine/stats"
)

// ErrDropItem is the explicit sum-typed "drop this item" signal a
// Writer or Processor can return, replacing the source engine's
// DropItem exception with an ordinary Go error value. Returning it from
// Sink.HandleItem counts as a handled drop, not a pipeline failure.
var ErrDropItem = errors.New("pipeline: drop item")

// Writer persists an Item that has passed through the Processor chain.
// A real deployment plugs in CSV/Excel/SQL/Mongo writers as external
// collaborators; MemoryWriter, FileWriter and MongoWriter here are
// reference implementations, of which this engine's own tests exercise
// MemoryWriter and FileWriter.
type Writer interface {
	Name() string
	Write(ctx context.Context, item request.Item) error
}

// Sink implements scraper.Sink: ScheduleRequest hands a Request to the
// Scheduler, HandleItem runs the Item through the Processor chain and
// then the Writer selected by Item.Routing.Sink.
type Sink struct {
	sched    *scheduler.Scheduler
	chain    *Pipeline
	writers  map[string]Writer // "" is the default writer
	disp     *signal.Dispatcher
	stats    *stats.Collector
	logger   *slog.Logger
	spider   string
}

// NewSink builds a Sink. writers maps a Routing.Sink name to the Writer
// that handles it; writers[""] is used when an Item carries no routing
// hint.
func NewSink(sched *scheduler.Scheduler, chain *Pipeline, writers map[string]Writer, disp *signal.Dispatcher, collector *stats.Collector, logger *slog.Logger, spider string) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{sched: sched, chain: chain, writers: writers, disp: disp, stats: collector, logger: logger, spider: spider}
}

func (s *Sink) ScheduleRequest(ctx context.Context, r *request.Request) error {
	_, err := s.sched.Enqueue(ctx, r)
	return err
}

func (s *Sink) HandleItem(ctx context.Context, item request.Item) error {
	if s.chain != nil {
		processed, err := s.chain.Process(ctx, item.Fields)
		if err != nil {
			if errors.Is(err, ErrDropItem) {
				s.dropItem(ctx, "processor_dropped")
				return nil
			}
			return fmt.Errorf("pipeline: process item: %w", err)
		}
		if processed == nil {
			s.dropItem(ctx, "processor_dropped")
			return nil
		}
		if fields, ok := processed.(map[string]interface{}); ok {
			item.Fields = fields
		}
	}

	writer, ok := s.writers[item.Routing.Sink]
	if !ok {
		writer, ok = s.writers[""]
	}
	if !ok {
		return fmt.Errorf("pipeline: no writer registered for sink %q", item.Routing.Sink)
	}
	if err := writer.Write(ctx, item); err != nil {
		if errors.Is(err, ErrDropItem) {
			s.dropItem(ctx, "writer_dropped")
			return nil
		}
		return fmt.Errorf("pipeline: write item via %s: %w", writer.Name(), err)
	}
	return nil
}

func (s *Sink) dropItem(ctx context.Context, reason string) {
	if s.stats != nil {
		s.stats.ItemsDropped.WithLabelValues(reason).Inc()
	}
	if s.disp != nil {
		s.disp.Fire(ctx, signal.Event{Name: signal.ItemDropped, Source: s.spider, Data: map[string]any{"reason": reason}})
	}
}

// MemoryWriter collects items in process memory, the default sink for
// tests and for any Item whose Routing names no configured backend.
type MemoryWriter struct {
	mu    sync.Mutex
	items []request.Item
}

func NewMemoryWriter() *MemoryWriter { return &MemoryWriter{} }

func (w *MemoryWriter) Name() string { return "memory" }

func (w *MemoryWriter) Write(ctx context.Context, item request.Item) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, item)
	return nil
}

// Items returns a snapshot of everything written so far.
func (w *MemoryWriter) Items() []request.Item {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]request.Item(nil), w.items...)
}

// MongoWriter inserts each Item's Fields as a document into the Mongo
// collection named by its Routing (falling back to DefaultCollection),
// the reference sink for deployments that point MONGO_URI at a real
// cluster instead of writing to memory or a flat file.
type MongoWriter struct {
	db                *database.MongoDatabase
	DefaultCollection string
}

func NewMongoWriter(db *database.MongoDatabase, defaultCollection string) *MongoWriter {
	return &MongoWriter{db: db, DefaultCollection: defaultCollection}
}

func (w *MongoWriter) Name() string { return "mongo" }

func (w *MongoWriter) Write(ctx context.Context, item request.Item) error {
	coll := item.Routing.Collection
	if coll == "" {
		coll = w.DefaultCollection
	}
	doc := bson.M{}
	for k, v := range item.Fields {
		doc[k] = v
	}
	doc["_scraped_at"] = time.Now().UTC()
	_, err := w.db.Collection(coll).InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("mongo writer: insert into %s: %w", coll, err)
	}
	return nil
}

// FileWriter appends each Item's Fields as one JSON-lines record, the
// backend behind scrapyctl's `-o FILE` feed output flag.
type FileWriter struct {
	mu sync.Mutex
	f  *os.File
	enc *json.Encoder
}

func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file writer: open %s: %w", path, err)
	}
	return &FileWriter{f: f, enc: json.NewEncoder(f)}, nil
}

func (w *FileWriter) Name() string { return "file" }

func (w *FileWriter) Write(ctx context.Context, item request.Item) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(item.Fields); err != nil {
		return fmt.Errorf("file writer: encode: %w", err)
	}
	return nil
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
