// Command scrapyctl is the engine's command-line front end:
// startproject, genspider, crawl, runspider, list, version, dispatched
// by hand over the standard flag package since no CLI framework fits
// a command set this small.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nyxcrawl/scrapyengine/admin"
	"github.com/nyxcrawl/scrapyengine/config"
	"github.com/nyxcrawl/scrapyengine/crawlerctx"
	"github.com/nyxcrawl/scrapyengine/database"
	"github.com/nyxcrawl/scrapyengine/dingtalk"
	"github.com/nyxcrawl/scrapyengine/downloader"
	"github.com/nyxcrawl/scrapyengine/engine"
	"github.com/nyxcrawl/scrapyengine/filter"
	"github.com/nyxcrawl/scrapyengine/lock"
	"github.com/nyxcrawl/scrapyengine/logging"
	"github.com/nyxcrawl/scrapyengine/pipeline"
	"github.com/nyxcrawl/scrapyengine/proxy"
	"github.com/nyxcrawl/scrapyengine/queue"
	"github.com/nyxcrawl/scrapyengine/scheduler"
	"github.com/nyxcrawl/scrapyengine/scraper"
	"github.com/nyxcrawl/scrapyengine/spider"
)

const version = "0.1.0"

// Exit codes follow the Unix convention of reserving 128+signal for
// terminations by signal; 130 is the conventional SIGINT exit code.
const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitInterrupt = 130
)

type repeatableFlag []string

func (r *repeatableFlag) String() string { return fmt.Sprint([]string(*r)) }
func (r *repeatableFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) == 0 {
		usage()
		return exitUsage
	}

	cmd, rest := argv[0], argv[1:]
	switch cmd {
	case "version":
		fmt.Println("scrapyctl", version)
		return exitOK
	case "list":
		return cmdList()
	case "startproject":
		return cmdStartProject(rest)
	case "genspider":
		return cmdGenSpider(rest)
	case "crawl":
		return cmdCrawl(rest)
	case "runspider":
		return cmdRunspider(rest)
	default:
		fmt.Fprintf(os.Stderr, "scrapyctl: unknown command %q\n", cmd)
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: scrapyctl <command> [flags]

commands:
  startproject <name>         scaffold a new project directory
  genspider <name> [-t TYPE]  scaffold a new spider file
  crawl <spider>              run a registered spider by name
  runspider <path>            run a spider file directly (unsupported: Go has no dynamic load)
  list                        list registered spider names
  version                     print scrapyctl's version

flags common to run commands:
  -s KEY=VALUE   settings override, repeatable
  -a KEY=VALUE   spider argument, repeatable
  -o FILE        feed output path`)
}

func cmdList() int {
	names := spider.Names()
	if len(names) == 0 {
		fmt.Println("(no spiders registered)")
		return exitOK
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return exitOK
}

func cmdStartProject(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "scrapyctl: startproject requires a project name")
		return exitUsage
	}
	name := args[0]
	dirs := []string{name, filepath.Join(name, "spiders")}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "scrapyctl: %v\n", err)
			return exitError
		}
	}
	fmt.Printf("New project %q created.\n", name)
	return exitOK
}

func cmdGenSpider(args []string) int {
	fs := flag.NewFlagSet("genspider", flag.ContinueOnError)
	spiderType := fs.String("t", "single", "spider template: single|crawl")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "scrapyctl: genspider requires a spider name")
		return exitUsage
	}
	fmt.Printf("Spider %q (%s template) would be generated; register it via spider.Register in your own package.\n", fs.Arg(0), *spiderType)
	return exitOK
}

func cmdRunspider(args []string) int {
	fmt.Fprintln(os.Stderr, "scrapyctl: runspider is not supported — Go has no dynamic source loading; compile the spider into scrapyctl and use `crawl <name>` instead")
	return exitUsage
}

func cmdCrawl(args []string) int {
	fs := flag.NewFlagSet("crawl", flag.ContinueOnError)
	var settingsOverrides, spiderArgs repeatableFlag
	outFile := fs.String("o", "", "feed output path (JSON lines)")
	configPath := fs.String("config", "", "path to a YAML settings file")
	fs.Var(&settingsOverrides, "s", "settings override KEY=VALUE, repeatable")
	fs.Var(&spiderArgs, "a", "spider argument KEY=VALUE, repeatable")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "scrapyctl: crawl requires a spider name")
		return exitUsage
	}
	spiderName := fs.Arg(0)

	def, ok := spider.Lookup(spiderName)
	if !ok {
		fmt.Fprintf(os.Stderr, "scrapyctl: no spider registered as %q (see `scrapyctl list`)\n", spiderName)
		return exitUsage
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrapyctl: %v\n", err)
		return exitError
	}
	for _, kv := range settingsOverrides {
		if err := settings.Apply(kv); err != nil {
			fmt.Fprintf(os.Stderr, "scrapyctl: %v\n", err)
			return exitUsage
		}
	}

	spiderArgMap, err := parseKV(spiderArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrapyctl: %v\n", err)
		return exitUsage
	}

	return runSpider(settings, def, spiderArgMap, *outFile)
}

func parseKV(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		idx := -1
		for i, c := range kv {
			if c == '=' {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("malformed argument %q, want KEY=VALUE", kv)
		}
		out[kv[:idx]] = kv[idx+1:]
	}
	return out, nil
}

// flushOnStart clears q and f before the first request is scheduled,
// the SCHEDULER_FLUSH_ON_START behavior. When the queue and filter are
// backed by Redis, several scrapyctl processes may race to flush the
// same spider's state at startup, so the flush itself runs under a
// short-lived distributed lock; whichever process loses the race skips
// its own flush rather than wiping state the winner just populated.
func flushOnStart(ctx context.Context, redisClient *redis.Client, q queue.Queue, f filter.Filter, spiderName string, logger *slog.Logger) error {
	doFlush := func(ctx context.Context) error {
		if err := q.Clear(ctx); err != nil {
			return fmt.Errorf("clear queue: %w", err)
		}
		if err := f.Clear(ctx); err != nil {
			return fmt.Errorf("clear filter: %w", err)
		}
		logger.Info("scrapyctl: flushed queue and dupefilter on start", "spider", spiderName)
		return nil
	}

	if redisClient == nil {
		return doFlush(ctx)
	}

	dl := lock.NewDistributedLock(redisClient, logger)
	err := dl.WithLock(ctx, "flush-on-start:"+spiderName, 30*time.Second, doFlush)
	if err != nil && strings.Contains(err.Error(), "could not acquire lock") {
		logger.Info("scrapyctl: another process is already flushing this spider's state, skipping", "spider", spiderName)
		return nil
	}
	return err
}

// runSpider wires one spider's full component graph — downloader,
// scheduler, scraper, pipeline sink, engine — from settings and a
// registered Definition, then runs it to completion or interruption.
func runSpider(settings *config.Settings, def *spider.Definition, args map[string]string, outFile string) int {
	if err := logging.Init(settings); err != nil {
		fmt.Fprintf(os.Stderr, "scrapyctl: %v\n", err)
		return exitError
	}
	logger := logging.GetLogger()

	cc, err := crawlerctx.New(settings, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrapyctl: %v\n", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adminServer := admin.New(cc)
	if err := adminServer.Start(); err != nil {
		logger.Error("scrapyctl: admin server failed to start", "error", err)
	}

	if alertSink := dingtalk.NewAlertSink(settings.DingtalkAccessToken, settings.DingtalkSecret, logger); alertSink != nil {
		alertSink.Attach(cc.Dispatcher)
	}

	redisClient := cc.RedisClient()

	q, err := queue.New(settings, redisClient, def.Name, logger)
	if err != nil {
		logger.Error("scrapyctl: build queue", "error", err)
		return exitError
	}
	f, err := filter.New(settings, redisClient, def.Name)
	if err != nil {
		logger.Error("scrapyctl: build filter", "error", err)
		return exitError
	}
	if settings.SchedulerFlushOnStart {
		if err := flushOnStart(ctx, redisClient, q, f, def.Name, logger); err != nil {
			logger.Error("scrapyctl: flush on start", "spider", def.Name, "error", err)
			return exitError
		}
	}

	sched := scheduler.New(settings, q, f, cc.Dispatcher, cc.Stats, def.Name)

	var transports = map[string]downloader.Transport{
		"http":  downloader.NewHTTPTransport(settings.DownloadTimeout),
		"https": downloader.NewHTTPTransport(settings.DownloadTimeout),
	}

	dlMiddlewares := append([]downloader.Middleware{
		downloader.NewDefaultHeadersMiddleware(nil),
		downloader.NewDownloadTimeoutMiddleware(settings.DownloadTimeout),
		downloader.NewRetryMiddleware(settings, cc.Stats),
	}, def.DownloaderMiddlewares...)
	if settings.UseProxy && redisClient != nil {
		pool := proxy.New(redisClient, settings.RedisPrefix, settings.ProxyMinCount, settings.ProxyMaxCount, settings.ProxyMaxRPS)
		dlMiddlewares = append(dlMiddlewares, downloader.NewHTTPProxyMiddleware(pool))
	}
	dl := downloader.New(settings, dlMiddlewares, transports)

	var defaultWriter pipeline.Writer = pipeline.NewMemoryWriter()
	if outFile != "" {
		fw, err := pipeline.NewFileWriter(outFile)
		if err != nil {
			logger.Error("scrapyctl: open feed output", "path", outFile, "error", err)
			return exitError
		}
		defer fw.Close()
		defaultWriter = fw
	}
	writers := map[string]pipeline.Writer{"": defaultWriter}
	if settings.MongoURI != "" {
		if rdb, ok := cc.DB.GetDatabase("mongo"); ok {
			if mdb, ok := rdb.(*database.MongoDatabase); ok {
				writers["mongo"] = pipeline.NewMongoWriter(mdb, def.Name)
			}
		}
	}
	chainBuilder := pipeline.NewBuilder(def.Name, logger)
	for _, proc := range def.ItemProcessors {
		chainBuilder.Add(proc)
	}
	sink := pipeline.NewSink(sched, chainBuilder.Build(), writers, cc.Dispatcher, cc.Stats, logger, def.Name)

	scr := scraper.New(settings, def.SpiderMiddlewares, sink, cc.Dispatcher, cc.Stats, logger, def.Name)

	eng := engine.New(settings, sched, dl, scr, cc.Dispatcher, cc.Stats, logger, def.Name, def.Callbacks)

	cc.SpiderStarted(def.Name)
	defer cc.SpiderStopped(def.Name)

	reason, err := eng.Start(ctx, def.StartRequests(args))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()
	adminServer.Stop(shutdownCtx)
	cc.Close(shutdownCtx)

	if err != nil {
		logger.Error("scrapyctl: spider run failed", "spider", def.Name, "error", err)
		return exitError
	}
	logger.Info("scrapyctl: spider finished", "spider", def.Name, "reason", reason)
	if ctx.Err() != nil {
		return exitInterrupt
	}
	return exitOK
}
