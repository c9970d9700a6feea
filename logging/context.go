package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	contextKeyLogger   contextKey = "logger"
	contextKeyJobID    contextKey = "job_id"
	contextKeySpiderID contextKey = "spider_id"
)

// ContextWithJobID returns a new context carrying the crawl job ID, the
// identifier shared across every request/response/item that job emits.
func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, contextKeyJobID, jobID)
}

// JobIDFromContext returns the job ID stashed by ContextWithJobID.
func JobIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyJobID).(string); ok {
		return v
	}
	return ""
}

// ContextWithSpiderID returns a new context carrying the spider name.
func ContextWithSpiderID(ctx context.Context, spiderID string) context.Context {
	return context.WithValue(ctx, contextKeySpiderID, spiderID)
}

// SpiderIDFromContext returns the spider name stashed by ContextWithSpiderID.
func SpiderIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeySpiderID).(string); ok {
		return v
	}
	return ""
}

// EnrichLogger attaches whatever job/spider identifiers are present on
// ctx to logger.
func EnrichLogger(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = GetLogger()
	}
	if jobID := JobIDFromContext(ctx); jobID != "" {
		logger = logger.With("job_id", jobID)
	}
	if spiderID := SpiderIDFromContext(ctx); spiderID != "" {
		logger = logger.With("spider", spiderID)
	}
	return logger
}

// ContextWithLogger returns a new context with an enriched logger
// attached, so downstream L(ctx) calls pick up job/spider fields
// automatically.
func ContextWithLogger(ctx context.Context) context.Context {
	logger := EnrichLogger(ctx, GetLogger())
	return WithContext(ctx, logger)
}
