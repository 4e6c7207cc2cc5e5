package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	nethttp "net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultRetryAfter is used when a 429 response carries no usable Retry-After value
	DefaultRetryAfter = 1 * time.Second

	// HeaderRetryAfter is the standard header carrying server retry guidance
	HeaderRetryAfter = "Retry-After"

	// HeaderRequestID is the header the API uses to identify a request
	HeaderRequestID = "X-Request-ID"
)

// Failure describes a raw transport outcome that did not succeed.
// Err is set when no response was received; otherwise StatusCode holds the non-2xx status.
type Failure struct {
	Err        error
	StatusCode int
	Header     nethttp.Header
	Body       []byte
	Path       string
	Elapsed    time.Duration
	Timeout    time.Duration
}

// errorBody is the subset of the API error payload the classifier understands
type errorBody struct {
	Message     string            `json:"message"`
	Error       string            `json:"error"`
	Code        string            `json:"code"`
	Field       string            `json:"field"`
	Constraints map[string]string `json:"constraints"`
	Errors      map[string]any    `json:"errors"`
	RetryAfter  *float64          `json:"retry_after"`
}

// Classify maps a raw failure onto exactly one Kind.
//
// Precedence: existing *Error, cancellation, transport timeout, other transport failure,
// late response, then status code (401, 403, 404, 409, 422, 429, 5xx, other).
func Classify(f Failure) *Error {
	if f.Err != nil {
		return classifyTransport(f)
	}

	if f.StatusCode >= 200 && f.StatusCode < 300 {
		return nil
	}

	body := parseErrorBody(f.Body)
	opts := []Option{
		WithStatus(f.StatusCode),
		WithBody(f.Body),
	}
	if id := f.Header.Get(HeaderRequestID); id != "" {
		opts = append(opts, WithRequestID(id))
	}
	if body.Code != "" {
		opts = append(opts, WithCode(body.Code))
	}

	if f.Timeout > 0 && f.Elapsed > f.Timeout {
		return NewTimeout(
			fmt.Sprintf("response received after %v (timeout %v)", f.Elapsed, f.Timeout),
			nil, opts...)
	}

	message := body.message(f.StatusCode)

	switch {
	case f.StatusCode == nethttp.StatusUnauthorized:
		return NewAuthentication(message, opts...)
	case f.StatusCode == nethttp.StatusForbidden:
		return NewAuthorization(message, opts...)
	case f.StatusCode == nethttp.StatusNotFound:
		return NewNotFound(message, ResourceIDFromPath(f.Path), opts...)
	case f.StatusCode == nethttp.StatusConflict:
		return NewConflict(message, opts...)
	case f.StatusCode == nethttp.StatusUnprocessableEntity:
		field, constraints := body.violation()
		return NewValidation(message, field, constraints, opts...)
	case f.StatusCode == nethttp.StatusTooManyRequests:
		if d, ok := retryAfter(f.Header, body); ok {
			return NewRateLimit(message, d, opts...)
		}
		return newFallbackRateLimit(message, DefaultRetryAfter, opts...)
	case f.StatusCode >= 500 && f.StatusCode < 600:
		return NewServer(message, f.StatusCode, opts...)
	default:
		return NewAPI(message, f.StatusCode, opts...)
	}
}

func classifyTransport(f Failure) *Error {
	if apiErr, ok := As(f.Err); ok {
		return apiErr
	}
	if errors.Is(f.Err, context.Canceled) {
		return NewCanceled("request canceled", f.Err)
	}
	if IsTimeoutError(f.Err) {
		msg := "request timed out"
		if f.Timeout > 0 {
			msg = fmt.Sprintf("request timed out after %v", f.Timeout)
		}
		return NewTimeout(msg, f.Err)
	}
	return NewNetwork("request execution failed", f.Err)
}

// IsTimeoutError reports whether err is a deadline or network timeout
func IsTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ResourceIDFromPath returns the trailing non-empty segment of a request path,
// ignoring any query string.
func ResourceIDFromPath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ParseRetryAfter parses a Retry-After value expressed either as delta-seconds
// or as an HTTP-date. ok is false when the value is empty or unparseable.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return secondsToDuration(secs)
	}
	if at, err := nethttp.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// maxRetryAfterSeconds is the largest delay in seconds a time.Duration can hold
const maxRetryAfterSeconds = float64(math.MaxInt64) / float64(time.Second)

// secondsToDuration converts a non-negative finite number of seconds.
// Values a time.Duration cannot represent are rejected.
func secondsToDuration(secs float64) (time.Duration, bool) {
	if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) || secs >= maxRetryAfterSeconds {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// retryAfter returns the server's retry guidance from the header or the body.
// ok is false when neither carries a usable value.
func retryAfter(header nethttp.Header, body errorBody) (time.Duration, bool) {
	if d, ok := ParseRetryAfter(header.Get(HeaderRetryAfter), time.Now()); ok {
		return d, true
	}
	if body.RetryAfter != nil {
		return secondsToDuration(*body.RetryAfter)
	}
	return 0, false
}

func parseErrorBody(raw []byte) errorBody {
	var body errorBody
	if len(raw) == 0 {
		return body
	}
	// Non-JSON bodies are fine; the status code alone drives classification.
	_ = json.Unmarshal(raw, &body)
	return body
}

func (b errorBody) message(statusCode int) string {
	switch {
	case b.Message != "":
		return b.Message
	case b.Error != "":
		return b.Error
	default:
		return fmt.Sprintf("request failed with status %d", statusCode)
	}
}

// violation returns the offending field and its constraints. When the body only
// carries an errors map, the lexically first field is reported.
func (b errorBody) violation() (string, map[string]string) {
	if b.Field != "" {
		return b.Field, b.Constraints
	}
	if len(b.Errors) == 0 {
		return "", b.Constraints
	}

	fields := make([]string, 0, len(b.Errors))
	for k := range b.Errors {
		fields = append(fields, k)
	}
	slices.Sort(fields)
	field := fields[0]

	constraints := map[string]string{}
	switch v := b.Errors[field].(type) {
	case string:
		constraints["message"] = v
	case map[string]any:
		for k, c := range v {
			constraints[k] = fmt.Sprint(c)
		}
	case []any:
		for i, c := range v {
			constraints[strconv.Itoa(i)] = fmt.Sprint(c)
		}
	}
	return field, constraints
}
