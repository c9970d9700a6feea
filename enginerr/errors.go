// Package enginerr defines the error taxonomy shared across the crawl
// engine. Every failure that crosses a component boundary (downloader,
// scheduler, filter backend, scraper) is wrapped into an *Error so the
// engine can decide, in one place, whether to retry, drop, or abort.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the engine should react to it.
type Kind int

const (
	// Transient is a failure worth retrying: timeouts, connection resets,
	// 5xx-equivalent responses from a transport.
	Transient Kind = iota
	// ProxyFailure means the assigned proxy is bad; the engine should
	// mark it dead in the pool and retry the request through another one.
	ProxyFailure
	// Permanent means retrying will not help: 4xx-equivalent responses,
	// malformed requests, DNS failures that won't resolve differently.
	Permanent
	// ParserError comes from spider/parser code and never aborts the
	// engine; it's logged and the request is dropped.
	ParserError
	// FilterBackend is a dedupe/queue storage failure (Redis down, disk
	// full). Retryable at the storage level, not at the request level.
	FilterBackend
	// EngineFatal cannot be recovered from in place and triggers engine
	// shutdown (e.g. the scheduler's backing queue is unreachable at
	// startup).
	EngineFatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case ProxyFailure:
		return "proxy_failure"
	case Permanent:
		return "permanent"
	case ParserError:
		return "parser_error"
	case FilterBackend:
		return "filter_backend"
	case EngineFatal:
		return "engine_fatal"
	default:
		return "unknown"
	}
}

// Error is the engine's single error type. Component is the subsystem
// that raised it (e.g. "downloader", "scheduler.redis_queue"), used for
// log correlation and stats counters.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the engine should requeue the request that
// produced this error, rather than dropping it.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case Transient, ProxyFailure:
		return true
	default:
		return false
	}
}

// New creates an *Error with no underlying cause.
func New(kind Kind, component, message string) *Error {
	return &Error{Kind: kind, Component: component, Message: message}
}

// Wrap attaches kind/component context to an existing error. Returns nil
// if err is nil, so call sites can write `return enginerr.Wrap(...)`
// directly on a possibly-nil err without a guard.
func Wrap(kind Kind, component, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Component: component, Message: message, Cause: err}
}

// As reports whether err is (or wraps) an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is an *Error, and Transient
// otherwise — an unclassified error is treated as worth one retry rather
// than silently dropped.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Transient
}

// IsRetryable reports whether err should be retried, following the same
// unclassified-defaults-to-retryable rule as KindOf.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return true
}
