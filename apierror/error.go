// Package apierror defines the closed failure taxonomy of the cost-ops client.
//
// Every failure surfaced to callers is an *Error carrying a Kind, a human message,
// an optional machine code, a creation timestamp and kind-specific structured fields
// (status code, resource ID, retry-after, validation field and constraints).
// Classify maps raw transport outcomes onto the taxonomy and IsRetryable is the single
// source of truth for retry decisions.
package apierror

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Error is the typed failure returned by the client pipeline.
// It is immutable once constructed; accessors return copies of reference fields.
type Error struct {
	kind        Kind
	message     string
	code        string
	timestamp   time.Time
	statusCode  int
	requestID   string
	body        []byte
	retryAfter  time.Duration
	serverHint  bool
	resourceID  string
	field       string
	constraints map[string]string
	parameter   string
	attempts    int
	cause       error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString(e.kind.String())
	b.WriteString(" error: ")
	b.WriteString(e.message)

	var details []string
	if e.statusCode != 0 {
		details = append(details, fmt.Sprintf("status: %d", e.statusCode))
	}
	if e.resourceID != "" {
		details = append(details, "resource: "+e.resourceID)
	}
	if e.field != "" {
		details = append(details, "field: "+e.field)
	}
	if e.parameter != "" {
		details = append(details, "parameter: "+e.parameter)
	}
	if e.retryAfter > 0 {
		details = append(details, fmt.Sprintf("retry after: %v", e.retryAfter))
	}
	if e.attempts > 0 {
		details = append(details, fmt.Sprintf("attempts: %d", e.attempts))
	}
	if len(details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(details, ", "))
		b.WriteString(")")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any
func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind                { return e.kind }
func (e *Error) Message() string           { return e.message }
func (e *Error) Timestamp() time.Time      { return e.timestamp }
func (e *Error) StatusCode() int           { return e.statusCode }
func (e *Error) RequestID() string         { return e.requestID }
func (e *Error) RetryAfter() time.Duration { return e.retryAfter }
func (e *Error) ResourceID() string        { return e.resourceID }
func (e *Error) Field() string             { return e.field }
func (e *Error) Parameter() string         { return e.parameter }
func (e *Error) Attempts() int             { return e.attempts }

// Code returns the machine-facing code, defaulting to the kind name
func (e *Error) Code() string {
	if e.code != "" {
		return e.code
	}
	return e.kind.String()
}

// Body returns a copy of the response body that produced the error
func (e *Error) Body() []byte {
	if e.body == nil {
		return nil
	}
	out := make([]byte, len(e.body))
	copy(out, e.body)
	return out
}

// Constraints returns a copy of the validation constraints keyed by rule name
func (e *Error) Constraints() map[string]string {
	if len(e.constraints) == 0 {
		return nil
	}
	return maps.Clone(e.constraints)
}

// RetryAfterFromServer reports whether RetryAfter is guidance supplied by the server
// rather than the fallback used when a 429 carried none.
func (e *Error) RetryAfterFromServer() bool { return e.serverHint }

// Retryable reports whether the error kind is transient
func (e *Error) Retryable() bool { return IsRetryable(e.kind) }

// Option customizes an Error during construction
type Option func(*Error)

// WithCode sets the machine-facing error code
func WithCode(code string) Option {
	return func(e *Error) { e.code = code }
}

// WithStatus attaches the HTTP status code
func WithStatus(statusCode int) Option {
	return func(e *Error) { e.statusCode = statusCode }
}

// WithRequestID attaches the server-assigned request ID
func WithRequestID(id string) Option {
	return func(e *Error) { e.requestID = id }
}

// WithBody attaches a copy of the response body
func WithBody(body []byte) Option {
	return func(e *Error) {
		if body != nil {
			e.body = append([]byte(nil), body...)
		}
	}
}

// WithCause attaches the underlying error
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// WithTimestamp overrides the creation time
func WithTimestamp(ts time.Time) Option {
	return func(e *Error) { e.timestamp = ts }
}

func newError(kind Kind, message string, opts []Option) *Error {
	e := &Error{
		kind:      kind,
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// New creates an error of an arbitrary kind
func New(kind Kind, message string, opts ...Option) *Error {
	return newError(kind, message, opts)
}

// NewConfiguration creates a configuration error for the named parameter
func NewConfiguration(message, parameter string, opts ...Option) *Error {
	e := newError(KindConfiguration, message, opts)
	e.parameter = parameter
	return e
}

// NewValidation creates a validation error for a field and its violated constraints
func NewValidation(message, field string, constraints map[string]string, opts ...Option) *Error {
	e := newError(KindValidation, message, opts)
	e.field = field
	if len(constraints) > 0 {
		e.constraints = maps.Clone(constraints)
	}
	return e
}

// NewAuthentication creates an authentication (401) error
func NewAuthentication(message string, opts ...Option) *Error {
	return newError(KindAuthentication, message, opts)
}

// NewAuthorization creates an authorization (403) error
func NewAuthorization(message string, opts ...Option) *Error {
	return newError(KindAuthorization, message, opts)
}

// NewAPI creates a generic non-2xx API error
func NewAPI(message string, statusCode int, opts ...Option) *Error {
	e := newError(KindAPI, message, opts)
	e.statusCode = statusCode
	return e
}

// NewNetwork creates a transport-level error where no response was received
func NewNetwork(message string, cause error, opts ...Option) *Error {
	e := newError(KindNetwork, message, opts)
	e.cause = cause
	return e
}

// NewTimeout creates a timeout error
func NewTimeout(message string, cause error, opts ...Option) *Error {
	e := newError(KindTimeout, message, opts)
	e.cause = cause
	return e
}

// NewRateLimit creates a rate limit (429) error carrying the server's retry-after guidance.
// A positive retryAfter is treated as server guidance.
func NewRateLimit(message string, retryAfter time.Duration, opts ...Option) *Error {
	e := newError(KindRateLimit, message, opts)
	e.retryAfter = retryAfter
	e.serverHint = retryAfter > 0
	return e
}

// newFallbackRateLimit creates a rate limit error whose retry-after is a local default
func newFallbackRateLimit(message string, retryAfter time.Duration, opts ...Option) *Error {
	e := NewRateLimit(message, retryAfter, opts...)
	e.serverHint = false
	return e
}

// NewNotFound creates a not-found (404) error for the given resource identifier
func NewNotFound(message, resourceID string, opts ...Option) *Error {
	e := newError(KindNotFound, message, opts)
	e.resourceID = resourceID
	return e
}

// NewConflict creates a conflict (409) error
func NewConflict(message string, opts ...Option) *Error {
	return newError(KindConflict, message, opts)
}

// NewServer creates a server-side (5xx) error
func NewServer(message string, statusCode int, opts ...Option) *Error {
	e := newError(KindServer, message, opts)
	e.statusCode = statusCode
	return e
}

// NewCanceled creates an error for a call canceled by its caller
func NewCanceled(message string, cause error, opts ...Option) *Error {
	e := newError(KindCanceled, message, opts)
	e.cause = cause
	return e
}

// NewRetryExhausted wraps the last retryable failure after the retry budget ran out.
// It returns last unchanged when last is not of a retryable kind.
func NewRetryExhausted(last *Error, attempts int) *Error {
	if last == nil || !IsRetryable(last.kind) {
		return last
	}
	e := newError(KindRetryExhausted, fmt.Sprintf("all %d attempts failed", attempts), nil)
	e.attempts = attempts
	e.cause = last
	e.statusCode = last.statusCode
	e.requestID = last.requestID
	return e
}

// As extracts an *Error from err's chain
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown
func KindOf(err error) Kind {
	if apiErr, ok := As(err); ok {
		return apiErr.kind
	}
	return KindUnknown
}

// IsKind checks if err carries an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Last returns the inner error of a RetryExhausted error, or err itself otherwise
func Last(err *Error) *Error {
	if err == nil || err.kind != KindRetryExhausted {
		return err
	}
	if inner, ok := err.cause.(*Error); ok {
		return inner
	}
	return err
}
