package middleware

import (
	"context"
	"time"

	"github.com/gaborage/go-costops/apierror"
)

// EventType identifies a pipeline notification
type EventType int

const (
	EventRequestStart EventType = iota + 1
	EventRequestEnd
	EventRequestError
	EventRetryAttempt
)

// String returns the wire name of the event, e.g. "request:start"
func (t EventType) String() string {
	switch t {
	case EventRequestStart:
		return "request:start"
	case EventRequestEnd:
		return "request:end"
	case EventRequestError:
		return "request:error"
	case EventRetryAttempt:
		return "retry:attempt"
	default:
		return "unknown"
	}
}

// Event is implemented by every notification payload. The set is closed;
// handlers switch on the concrete type.
type Event interface {
	Type() EventType
	event()
}

// RequestStart fires after the request interceptor chain completes.
// Context is the attempt's context, so observers can parent work under the caller's span.
type RequestStart struct {
	Request RequestContext
	Context context.Context
}

// RequestEnd fires after the response interceptor chain completes
type RequestEnd struct {
	Response ResponseContext
}

// RequestError fires after the error interceptor chain completes
type RequestError struct {
	Error ErrorContext
}

// RetryAttempt fires immediately before the controller sleeps ahead of a retry.
// Attempt is the 0-indexed retry number.
type RetryAttempt struct {
	Request RequestContext
	Attempt int
	Err     *apierror.Error
	Delay   time.Duration
}

func (RequestStart) Type() EventType { return EventRequestStart }
func (RequestEnd) Type() EventType   { return EventRequestEnd }
func (RequestError) Type() EventType { return EventRequestError }
func (RetryAttempt) Type() EventType { return EventRetryAttempt }

func (RequestStart) event() {}
func (RequestEnd) event()   {}
func (RequestError) event() {}
func (RetryAttempt) event() {}

// Handler receives pipeline notifications. Handlers run synchronously on the
// calling goroutine and must not block for long.
type Handler func(Event)
