// Package telemetry wraps Sentry tracing and error capture. Every helper is a
// no-op when Sentry was never initialised, so callers never branch on it.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

const (
	serviceName  = "taxbot"
	flushTimeout = 5 * time.Second
)

// unsampledTransactions are probe endpoints that would otherwise dominate traces.
var unsampledTransactions = []string{"GET /health", "GET /metrics"}

type Config struct {
	DSN              string
	Environment      string
	Release          string
	TracesSampleRate float64
	Debug            bool
	Logger           *slog.Logger
}

// Init configures the global Sentry client and returns a flush function.
// An empty DSN disables telemetry. A client that fails to initialise is
// logged and treated the same way; it never stops the server.
func Init(cfg Config) (func(), error) {
	noop := func() {}
	if cfg.DSN == "" {
		return noop, nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate <= 0 || cfg.TracesSampleRate > 1 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           cfg.DSN,
		Environment:   cfg.Environment,
		Release:       cfg.Release,
		ServerName:    serviceName,
		EnableTracing: true,
		Debug:         cfg.Debug,
		TracesSampler: sampler(cfg.TracesSampleRate),
	})
	if err != nil {
		logger.Warn("sentry init failed, continuing without tracing", "error", err)
		return noop, nil
	}

	logger.Info("sentry tracing enabled",
		"environment", cfg.Environment,
		"sample_rate", cfg.TracesSampleRate,
	)
	return func() { sentry.Flush(flushTimeout) }, nil
}

// sampler drops probe transactions, lets child spans inherit their parent's
// decision and samples roots at rate.
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		if ctx.Span == nil {
			return rate
		}
		if isProbe(ctx.Span.Name) {
			return 0
		}
		var root sentry.SpanID
		if ctx.Span.ParentSpanID != root {
			if ctx.Span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

func isProbe(name string) bool {
	for _, probe := range unsampledTransactions {
		if name == probe || strings.HasSuffix(name, " "+probe) {
			return true
		}
	}
	return false
}

// SpanAttributes are the tags shared by corpus and answer spans.
type SpanAttributes struct {
	DocumentOrigin string
	Fingerprint    string
	Operation      string
}

func (a SpanAttributes) apply(span *sentry.Span) {
	if a.DocumentOrigin != "" {
		span.SetTag("document_origin", a.DocumentOrigin)
	}
	if a.Fingerprint != "" {
		span.SetTag("corpus_fingerprint", a.Fingerprint)
	}
	if a.Operation != "" {
		span.SetData("operation", a.Operation)
	}
}

// Span is a nil-safe handle over a Sentry span.
type Span struct {
	inner *sentry.Span
}

func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

func (s *Span) SetStatus(status sentry.SpanStatus) {
	if s.inner != nil {
		s.inner.Status = status
	}
}

func (s *Span) SetData(key string, value any) {
	if s.inner != nil {
		s.inner.SetData(key, value)
	}
}

// SetError marks the span failed and reports err on the span's hub.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	CaptureError(s.inner.Context(), err)
}

// StartSpan opens a child of the span already in ctx, or a new transaction
// named after the operation when there is none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}
	attrs.apply(span)
	return span.Context(), &Span{inner: span}
}

// StartTransaction always opens a root span, for work that is not part of a
// request such as scheduled corpus refreshes.
func StartTransaction(ctx context.Context, name, op string) (context.Context, *Span) {
	opts := []sentry.SpanOption{sentry.WithTransactionName(name)}
	if op != "" {
		opts = append(opts, sentry.WithOpName(op))
	}
	span := sentry.StartSpan(ctx, op, opts...)
	return span.Context(), &Span{inner: span}
}

func hubFor(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	hubFor(ctx).CaptureException(err)
}

func CaptureMessage(ctx context.Context, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	hubFor(ctx).CaptureMessage(msg)
}

// AddBreadcrumb records an info-level breadcrumb on the current scope.
func AddBreadcrumb(ctx context.Context, category, message string) {
	hubFor(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}, nil)
}
