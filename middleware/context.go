package middleware

import (
	nethttp "net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/gaborage/go-costops/apierror"
)

// Request describes an outbound API call independent of any transport
type Request struct {
	Method string
	Path   string
	Header nethttp.Header
	Query  url.Values
	Body   []byte
}

// Clone deep-copies the request
func (r Request) Clone() Request {
	out := Request{
		Method: r.Method,
		Path:   r.Path,
		Header: r.Header.Clone(),
		Query:  cloneValues(r.Query),
	}
	if r.Header == nil {
		out.Header = nethttp.Header{}
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return url.Values{}
	}
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// RequestContext is the value threaded through the request interceptor chain.
// It is created once per attempt; retries derive a new one sharing the same ID.
type RequestContext struct {
	ID        string
	Request   Request
	Metadata  Metadata
	CreatedAt time.Time
	Attempt   int
}

// NewRequestContext wraps req for the first attempt of a logical call
func NewRequestContext(req Request) RequestContext {
	return RequestContext{
		ID:        uuid.NewString(),
		Request:   req.Clone(),
		Metadata:  Metadata{},
		CreatedAt: time.Now(),
	}
}

// Clone deep-copies the context so the copy can be changed without aliasing
func (rc RequestContext) Clone() RequestContext {
	rc.Request = rc.Request.Clone()
	rc.Metadata = rc.Metadata.Clone()
	return rc
}

// Derive returns a fresh context for the given retry attempt of the same logical request
func (rc RequestContext) Derive(attempt int) RequestContext {
	out := rc.Clone()
	out.Attempt = attempt
	out.CreatedAt = time.Now()
	return out
}

// ResponseContext wraps a successful response and the request that produced it
type ResponseContext struct {
	Request    RequestContext
	StatusCode int
	Header     nethttp.Header
	Body       []byte
	Elapsed    time.Duration
	ReceivedAt time.Time
}

// Clone deep-copies the response context
func (rc ResponseContext) Clone() ResponseContext {
	rc.Request = rc.Request.Clone()
	rc.Header = rc.Header.Clone()
	if rc.Body != nil {
		rc.Body = append([]byte(nil), rc.Body...)
	}
	return rc
}

// ErrorContext wraps a classified failure and the request that produced it
type ErrorContext struct {
	Request    RequestContext
	Err        *apierror.Error
	OccurredAt time.Time
}

// NewErrorContext builds an ErrorContext stamped with the current time
func NewErrorContext(req RequestContext, err *apierror.Error) ErrorContext {
	return ErrorContext{
		Request:    req,
		Err:        err,
		OccurredAt: time.Now(),
	}
}

// Clone deep-copies the error context; the *apierror.Error itself is immutable
func (ec ErrorContext) Clone() ErrorContext {
	ec.Request = ec.Request.Clone()
	return ec
}
