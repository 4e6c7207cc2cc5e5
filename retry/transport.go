package retry

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gaborage/go-costops/middleware"
)

// Reply is the raw outcome of one transport attempt that produced a response.
// Status codes are not interpreted by the transport; the controller classifies them.
type Reply struct {
	StatusCode int
	Header     nethttp.Header
	Body       []byte
	Elapsed    time.Duration
}

// Transport performs one attempt of a logical call.
// A non-nil error means no response was received.
type Transport interface {
	Send(ctx context.Context, rc middleware.RequestContext) (*Reply, error)
}

// TransportFunc adapts a function to the Transport interface
type TransportFunc func(ctx context.Context, rc middleware.RequestContext) (*Reply, error)

// Send calls f(ctx, rc)
func (f TransportFunc) Send(ctx context.Context, rc middleware.RequestContext) (*Reply, error) {
	return f(ctx, rc)
}

// BuildFunc produces the request context for a given attempt.
// It is invoked once per attempt so interceptors always see a fresh value.
type BuildFunc func(attempt int) middleware.RequestContext

// Static returns a BuildFunc that wraps req once and derives a new context per attempt,
// keeping the same request ID across retries.
func Static(req middleware.Request) BuildFunc {
	first := middleware.NewRequestContext(req)
	return func(attempt int) middleware.RequestContext {
		if attempt == 0 {
			return first.Clone()
		}
		return first.Derive(attempt)
	}
}
