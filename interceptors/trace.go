package interceptors

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gaborage/go-costops/middleware"
)

const (
	// HeaderTraceParent is the W3C trace context header name
	HeaderTraceParent = "traceparent"

	// HeaderTraceState is the W3C trace context "tracestate" header name
	HeaderTraceState = "tracestate"

	// MetadataTraceParent is the metadata key holding the propagated traceparent
	MetadataTraceParent = "traceparent"
)

// RequestID stamps every logical call with a stable X-Request-ID.
// The context ID is reused so retries of the same call share one ID; a caller-supplied
// header wins over the generated one.
func RequestID() middleware.RequestInterceptor {
	return func(_ context.Context, rc middleware.RequestContext) (middleware.RequestContext, error) {
		id := rc.Request.Header.Get(HeaderRequestID)
		if id == "" {
			id = rc.ID
		}
		if id == "" {
			id = uuid.NewString()
		}
		rc.Request.Header.Set(HeaderRequestID, id)
		if rc.Metadata == nil {
			rc.Metadata = middleware.Metadata{}
		}
		rc.Metadata.SetString(MetadataRequestID, id)
		return rc, nil
	}
}

// TraceParent propagates W3C trace context. The active span in ctx is used when one
// exists; otherwise a fresh sampled traceparent is generated per attempt.
func TraceParent() middleware.RequestInterceptor {
	return func(ctx context.Context, rc middleware.RequestContext) (middleware.RequestContext, error) {
		if rc.Request.Header.Get(HeaderTraceParent) != "" {
			return rc, nil
		}

		tp := GenerateTraceParent()
		if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
			tp = FormatTraceParent(sc)
			if ts := sc.TraceState().String(); ts != "" {
				rc.Request.Header.Set(HeaderTraceState, ts)
			}
		}

		rc.Request.Header.Set(HeaderTraceParent, tp)
		if rc.Metadata == nil {
			rc.Metadata = middleware.Metadata{}
		}
		rc.Metadata.SetString(MetadataTraceParent, tp)
		return rc, nil
	}
}

// FormatTraceParent renders a span context as a traceparent header value
func FormatTraceParent(sc oteltrace.SpanContext) string {
	traceID := sc.TraceID()
	spanID := sc.SpanID()
	flags := "00"
	if sc.IsSampled() {
		flags = "01"
	}
	return "00-" + hex.EncodeToString(traceID[:]) + "-" + hex.EncodeToString(spanID[:]) + "-" + flags
}

// GenerateTraceParent creates a minimal W3C traceparent header value.
// Format: version(2)-trace-id(32)-span-id(16)-flags(2), e.g., "00-<32>-<16>-01"
func GenerateTraceParent() string {
	var traceID oteltrace.TraceID
	var spanID oteltrace.SpanID
	if _, err := crand.Read(traceID[:]); err != nil || !traceID.IsValid() {
		traceID[len(traceID)-1] = 0x01
	}
	if _, err := crand.Read(spanID[:]); err != nil || !spanID.IsValid() {
		spanID[len(spanID)-1] = 0x01
	}
	return "00-" + traceID.String() + "-" + spanID.String() + "-01"
}
