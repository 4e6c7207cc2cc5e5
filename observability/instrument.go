// Package observability exports OpenTelemetry traces and metrics for pipeline events.
//
// Instrument subscribes to a middleware manager: every attempt becomes a span and the
// request, error, retry and latency instruments are updated as events arrive.
package observability

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/go-costops/middleware"
)

const (
	// ScopeName identifies the instrumentation scope
	ScopeName = "github.com/gaborage/go-costops"

	// SpanName is the name of the per-attempt span
	SpanName = "costops.request"

	MetricRequests = "costops.requests.total"
	MetricErrors   = "costops.errors.total"
	MetricRetries  = "costops.retries.total"
	MetricDuration = "costops.request.duration"
)

// Attribute keys set on spans and metrics
const (
	AttrMethod    = attribute.Key("http.request.method")
	AttrPath      = attribute.Key("url.path")
	AttrStatus    = attribute.Key("http.response.status_code")
	AttrRequestID = attribute.Key("costops.request_id")
	AttrAttempt   = attribute.Key("costops.attempt")
	AttrKind      = attribute.Key("costops.error.kind")
	AttrDelay     = attribute.Key("costops.retry.delay_ms")
)

type spanKey struct {
	id      string
	attempt int
}

// Instrumentation holds the subscriptions and instruments bound to one manager
type Instrumentation struct {
	tracer   trace.Tracer
	requests metric.Int64Counter
	errors   metric.Int64Counter
	retries  metric.Int64Counter
	duration metric.Float64Histogram

	mu    sync.Mutex
	spans map[spanKey]trace.Span

	unsubscribe func()
}

// Instrument subscribes to m's events and records them with tp and mp.
// Close removes the subscriptions and ends spans still in flight.
func Instrument(m *middleware.Manager, tp trace.TracerProvider, mp metric.MeterProvider) (*Instrumentation, error) {
	meter := mp.Meter(ScopeName)

	requests, err := CreateCounter(meter, MetricRequests, "Cost API attempts started")
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", MetricRequests, err)
	}
	errCounter, err := CreateCounter(meter, MetricErrors, "Cost API calls that failed, by error kind")
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", MetricErrors, err)
	}
	retries, err := CreateCounter(meter, MetricRetries, "Cost API retries scheduled")
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", MetricRetries, err)
	}
	duration, err := CreateHistogram(meter, MetricDuration, "Cost API response time in milliseconds", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", MetricDuration, err)
	}

	in := &Instrumentation{
		tracer:   tp.Tracer(ScopeName),
		requests: requests,
		errors:   errCounter,
		retries:  retries,
		duration: duration,
		spans:    make(map[spanKey]trace.Span),
	}
	in.unsubscribe = m.SubscribeAll(in.handle)
	return in, nil
}

// Close unsubscribes and ends any span whose attempt never finished
func (in *Instrumentation) Close() {
	in.unsubscribe()

	in.mu.Lock()
	defer in.mu.Unlock()
	for key, span := range in.spans {
		span.SetStatus(codes.Unset, "instrumentation closed")
		span.End()
		delete(in.spans, key)
	}
}

func (in *Instrumentation) handle(ev middleware.Event) {
	ctx := context.Background()

	switch e := ev.(type) {
	case middleware.RequestStart:
		parent := e.Context
		if parent == nil {
			parent = ctx
		}
		in.start(parent, e.Request)
	case middleware.RequestEnd:
		in.end(ctx, e.Response)
	case middleware.RequestError:
		in.fail(ctx, e.Error)
	case middleware.RetryAttempt:
		in.retry(ctx, e)
	}
}

func (in *Instrumentation) start(ctx context.Context, rc middleware.RequestContext) {
	attrs := []attribute.KeyValue{
		AttrMethod.String(rc.Request.Method),
		AttrPath.String(rc.Request.Path),
	}
	in.requests.Add(ctx, 1, metric.WithAttributes(attrs...))

	// The parent may already be canceled; only its span context is used.
	_, span := in.tracer.Start(context.WithoutCancel(ctx), SpanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(rc.CreatedAt),
		trace.WithAttributes(append(attrs,
			AttrRequestID.String(rc.ID),
			AttrAttempt.Int(rc.Attempt))...))

	in.mu.Lock()
	in.spans[spanKey{id: rc.ID, attempt: rc.Attempt}] = span
	in.mu.Unlock()
}

func (in *Instrumentation) take(rc middleware.RequestContext) (trace.Span, bool) {
	key := spanKey{id: rc.ID, attempt: rc.Attempt}
	in.mu.Lock()
	defer in.mu.Unlock()
	span, ok := in.spans[key]
	delete(in.spans, key)
	return span, ok
}

func (in *Instrumentation) end(ctx context.Context, resp middleware.ResponseContext) {
	in.duration.Record(ctx, float64(resp.Elapsed)/float64(time.Millisecond), metric.WithAttributes(
		AttrMethod.String(resp.Request.Request.Method),
		AttrStatus.Int(resp.StatusCode)))

	if span, ok := in.take(resp.Request); ok {
		span.SetAttributes(AttrStatus.Int(resp.StatusCode))
		span.SetStatus(codes.Ok, "")
		span.End()
	}
}

func (in *Instrumentation) fail(ctx context.Context, ec middleware.ErrorContext) {
	kind := "unknown"
	if ec.Err != nil {
		kind = ec.Err.Kind().String()
	}
	in.errors.Add(ctx, 1, metric.WithAttributes(
		AttrMethod.String(ec.Request.Request.Method),
		AttrKind.String(kind)))

	span, ok := in.take(ec.Request)
	if !ok {
		// The request chain failed before an attempt span was started
		return
	}
	span.SetAttributes(AttrKind.String(kind))
	if ec.Err != nil {
		if status := ec.Err.StatusCode(); status != 0 {
			span.SetAttributes(AttrStatus.Int(status))
		}
		span.RecordError(ec.Err)
		span.SetStatus(codes.Error, ec.Err.Message())
	} else {
		span.SetStatus(codes.Error, kind)
	}
	span.End()
}

func (in *Instrumentation) retry(ctx context.Context, e middleware.RetryAttempt) {
	kind := "unknown"
	if e.Err != nil {
		kind = e.Err.Kind().String()
	}
	in.retries.Add(ctx, 1, metric.WithAttributes(AttrKind.String(kind)))

	span, ok := in.take(e.Request)
	if !ok {
		return
	}
	span.AddEvent("retry scheduled", trace.WithAttributes(
		AttrKind.String(kind),
		AttrDelay.Int64(e.Delay.Milliseconds()),
		attribute.String("costops.retry.attempt", strconv.Itoa(e.Attempt))))
	if e.Err != nil {
		span.RecordError(e.Err)
	}
	span.SetStatus(codes.Error, kind)
	span.End()
}
