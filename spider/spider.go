// Package spider is a compile-time builder-by-name table standing in
// for the original engine's runtime class lookup by fully qualified
// name: every spider registers a Definition under a fixed name at init
// time, and scrapyctl looks it up by that name instead of importing a
// string path.
package spider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nyxcrawl/scrapyengine/downloader"
	"github.com/nyxcrawl/scrapyengine/engine"
	"github.com/nyxcrawl/scrapyengine/pipeline"
	"github.com/nyxcrawl/scrapyengine/request"
	"github.com/nyxcrawl/scrapyengine/scraper"
)

// Definition is everything scrapyctl needs to run one spider: its seed
// requests, its callbacks, any spider/downloader middleware it adds on
// top of the engine's built-ins, and the item Processors its Sink runs
// before writing anything out.
type Definition struct {
	Name                  string
	StartRequests         func(args map[string]string) []*request.Request
	Callbacks             engine.Callbacks
	SpiderMiddlewares     []scraper.SpiderMiddleware
	DownloaderMiddlewares []downloader.Middleware
	ItemProcessors        []pipeline.Processor
}

var (
	mu       sync.RWMutex
	registry = make(map[string]*Definition)
)

// Register adds def to the registry, keyed by def.Name. Called from a
// spider package's init().
func Register(def *Definition) {
	mu.Lock()
	defer mu.Unlock()
	registry[def.Name] = def
}

// Lookup returns the named Definition, or false if nothing registered
// under that name.
func Lookup(name string) (*Definition, bool) {
	mu.RLock()
	defer mu.RUnlock()
	def, ok := registry[name]
	return def, ok
}

// Names returns every registered spider name, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MustLookup is Lookup, panicking instead of returning false — used by
// code that has already validated the name exists (e.g. after Names).
func MustLookup(name string) *Definition {
	def, ok := Lookup(name)
	if !ok {
		panic(fmt.Sprintf("spider: no definition registered for %q", name))
	}
	return def
}
