package apierror

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUsagePath = "/api/v1/usage/usage-123"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassifyStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		expected   Kind
	}{
		{name: "unauthorized", statusCode: nethttp.StatusUnauthorized, expected: KindAuthentication},
		{name: "forbidden", statusCode: nethttp.StatusForbidden, expected: KindAuthorization},
		{name: "not found", statusCode: nethttp.StatusNotFound, expected: KindNotFound},
		{name: "conflict", statusCode: nethttp.StatusConflict, expected: KindConflict},
		{name: "unprocessable", statusCode: nethttp.StatusUnprocessableEntity, expected: KindValidation},
		{name: "too many requests", statusCode: nethttp.StatusTooManyRequests, expected: KindRateLimit},
		{name: "internal server error", statusCode: nethttp.StatusInternalServerError, expected: KindServer},
		{name: "service unavailable", statusCode: nethttp.StatusServiceUnavailable, expected: KindServer},
		{name: "upper 5xx bound", statusCode: 599, expected: KindServer},
		{name: "bad request", statusCode: nethttp.StatusBadRequest, expected: KindAPI},
		{name: "teapot", statusCode: nethttp.StatusTeapot, expected: KindAPI},
		{name: "redirect", statusCode: nethttp.StatusMultipleChoices, expected: KindAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(Failure{StatusCode: tt.statusCode, Path: testUsagePath})
			require.NotNil(t, err)
			assert.Equal(t, tt.expected, err.Kind())
			assert.Equal(t, tt.statusCode, err.StatusCode())
		})
	}
}

func TestClassifySuccessReturnsNil(t *testing.T) {
	assert.Nil(t, Classify(Failure{StatusCode: nethttp.StatusOK}))
	assert.Nil(t, Classify(Failure{StatusCode: nethttp.StatusNoContent}))
}

func TestClassifyTransportErrors(t *testing.T) {
	t.Run("connection refused is network", func(t *testing.T) {
		cause := &url.Error{Op: "Get", URL: "http://127.0.0.1:1", Err: errors.New("connection refused")}
		err := Classify(Failure{Err: cause})
		assert.Equal(t, KindNetwork, err.Kind())
		assert.ErrorIs(t, err, cause)
	})

	t.Run("deadline exceeded is timeout", func(t *testing.T) {
		err := Classify(Failure{Err: context.DeadlineExceeded, Timeout: 5 * time.Second})
		assert.Equal(t, KindTimeout, err.Kind())
		assert.Contains(t, err.Error(), "5s")
	})

	t.Run("net timeout is timeout", func(t *testing.T) {
		err := Classify(Failure{Err: fmt.Errorf("dial: %w", timeoutNetError{})})
		assert.Equal(t, KindTimeout, err.Kind())
	})

	t.Run("canceled context is canceled", func(t *testing.T) {
		err := Classify(Failure{Err: fmt.Errorf("send: %w", context.Canceled)})
		assert.Equal(t, KindCanceled, err.Kind())
		assert.False(t, err.Retryable())
	})

	t.Run("typed error passes through", func(t *testing.T) {
		original := NewValidation("bad body", "amount", nil)
		err := Classify(Failure{Err: fmt.Errorf("interceptor: %w", original)})
		assert.Same(t, original, err)
	})

	t.Run("transport error wins over status", func(t *testing.T) {
		err := Classify(Failure{Err: errors.New("reset"), StatusCode: nethttp.StatusNotFound})
		assert.Equal(t, KindNetwork, err.Kind())
	})
}

func TestClassifyLateResponseIsTimeout(t *testing.T) {
	err := Classify(Failure{
		StatusCode: nethttp.StatusBadGateway,
		Elapsed:    3 * time.Second,
		Timeout:    time.Second,
	})
	assert.Equal(t, KindTimeout, err.Kind())
	assert.Equal(t, nethttp.StatusBadGateway, err.StatusCode())
}

func TestClassifyNotFoundResourceID(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{path: testUsagePath, expected: "usage-123"},
		{path: "/api/v1/pricing/gpt-4/", expected: "gpt-4"},
		{path: "/api/v1/costs/abc?range=24h", expected: "abc"},
		{path: "single", expected: "single"},
		{path: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := Classify(Failure{StatusCode: nethttp.StatusNotFound, Path: tt.path})
			assert.Equal(t, KindNotFound, err.Kind())
			assert.Equal(t, tt.expected, err.ResourceID())
		})
	}
}

func TestClassifyRateLimitRetryAfter(t *testing.T) {
	t.Run("delta seconds", func(t *testing.T) {
		h := nethttp.Header{}
		h.Set(HeaderRetryAfter, "5")
		err := Classify(Failure{StatusCode: nethttp.StatusTooManyRequests, Header: h})
		assert.Equal(t, 5*time.Second, err.RetryAfter())
		assert.True(t, err.RetryAfterFromServer())
	})

	t.Run("http date", func(t *testing.T) {
		h := nethttp.Header{}
		h.Set(HeaderRetryAfter, time.Now().Add(1*time.Hour).UTC().Format(nethttp.TimeFormat))
		err := Classify(Failure{StatusCode: nethttp.StatusTooManyRequests, Header: h})
		assert.InDelta(t, float64(time.Hour), float64(err.RetryAfter()), float64(2*time.Second))
	})

	t.Run("missing header uses fallback", func(t *testing.T) {
		err := Classify(Failure{StatusCode: nethttp.StatusTooManyRequests})
		assert.Equal(t, DefaultRetryAfter, err.RetryAfter())
		assert.False(t, err.RetryAfterFromServer())
	})

	t.Run("garbage header uses fallback", func(t *testing.T) {
		h := nethttp.Header{}
		h.Set(HeaderRetryAfter, "soon")
		err := Classify(Failure{StatusCode: nethttp.StatusTooManyRequests, Header: h})
		assert.Equal(t, DefaultRetryAfter, err.RetryAfter())
		assert.False(t, err.RetryAfterFromServer())
	})

	t.Run("oversized header uses fallback", func(t *testing.T) {
		h := nethttp.Header{}
		h.Set(HeaderRetryAfter, "99999999999")
		err := Classify(Failure{StatusCode: nethttp.StatusTooManyRequests, Header: h})
		assert.Equal(t, DefaultRetryAfter, err.RetryAfter())
		assert.False(t, err.RetryAfterFromServer())
	})

	t.Run("oversized body retry_after uses fallback", func(t *testing.T) {
		err := Classify(Failure{
			StatusCode: nethttp.StatusTooManyRequests,
			Body:       []byte(`{"retry_after":1e300}`),
		})
		assert.Equal(t, DefaultRetryAfter, err.RetryAfter())
		assert.False(t, err.RetryAfterFromServer())
	})

	t.Run("body retry_after when header absent", func(t *testing.T) {
		err := Classify(Failure{
			StatusCode: nethttp.StatusTooManyRequests,
			Body:       []byte(`{"message":"slow down","retry_after":2.5}`),
		})
		assert.Equal(t, 2500*time.Millisecond, err.RetryAfter())
		assert.Equal(t, "slow down", err.Message())
	})
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		value    string
		expected time.Duration
		ok       bool
	}{
		{name: "empty", value: "", ok: false},
		{name: "integer", value: "30", expected: 30 * time.Second, ok: true},
		{name: "fraction", value: "0.5", expected: 500 * time.Millisecond, ok: true},
		{name: "negative", value: "-1", ok: false},
		{name: "nan", value: "NaN", ok: false},
		{name: "infinite", value: "Inf", ok: false},
		{name: "overflowing seconds", value: "99999999999", ok: false},
		{name: "huge exponent", value: "1e300", ok: false},
		{name: "thousand days", value: "86400000", expected: 86400000 * time.Second, ok: true},
		{name: "past date clamps to zero", value: now.Add(-time.Minute).Format(nethttp.TimeFormat), expected: 0, ok: true},
		{name: "future date", value: now.Add(90 * time.Second).Format(nethttp.TimeFormat), expected: 90 * time.Second, ok: true},
		{name: "garbage", value: "tomorrow", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := ParseRetryAfter(tt.value, now)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestClassifyValidationBody(t *testing.T) {
	t.Run("explicit field and constraints", func(t *testing.T) {
		err := Classify(Failure{
			StatusCode: nethttp.StatusUnprocessableEntity,
			Body:       []byte(`{"message":"invalid usage","code":"usage.invalid","field":"tokens","constraints":{"min":"1"}}`),
		})
		assert.Equal(t, "tokens", err.Field())
		assert.Equal(t, map[string]string{"min": "1"}, err.Constraints())
		assert.Equal(t, "usage.invalid", err.Code())
		assert.Equal(t, "invalid usage", err.Message())
	})

	t.Run("errors map picks first field", func(t *testing.T) {
		err := Classify(Failure{
			StatusCode: nethttp.StatusUnprocessableEntity,
			Body:       []byte(`{"errors":{"zeta":"bad","model":"required"}}`),
		})
		assert.Equal(t, "model", err.Field())
		assert.Equal(t, map[string]string{"message": "required"}, err.Constraints())
	})

	t.Run("non json body", func(t *testing.T) {
		err := Classify(Failure{
			StatusCode: nethttp.StatusUnprocessableEntity,
			Body:       []byte("<html>oops</html>"),
		})
		assert.Equal(t, KindValidation, err.Kind())
		assert.Empty(t, err.Field())
		assert.Contains(t, err.Message(), "422")
	})
}

func TestClassifyCapturesRequestID(t *testing.T) {
	h := nethttp.Header{}
	h.Set(HeaderRequestID, "req-42")
	err := Classify(Failure{StatusCode: nethttp.StatusInternalServerError, Header: h})
	assert.Equal(t, "req-42", err.RequestID())
}
