package transport

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-costops/apierror"
	"github.com/gaborage/go-costops/logger"
	"github.com/gaborage/go-costops/middleware"
)

const (
	testAPIKeyHeader = "X-API-Key"
	testAPIKey       = "test-key"
	testJSONType     = "application/json"
)

type roundTripperFunc func(*nethttp.Request) (*nethttp.Response, error)

func (f roundTripperFunc) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	return f(req)
}

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	e := echo.New()
	e.HideBanner = true

	e.GET("/api/v1/usage/:id", func(c echo.Context) error {
		return c.JSON(nethttp.StatusOK, map[string]any{
			"id":         c.Param("id"),
			"range":      c.QueryParam("range"),
			"api_key":    c.Request().Header.Get(testAPIKeyHeader),
			"user_agent": c.Request().UserAgent(),
			"accept":     c.Request().Header.Get("Accept"),
		})
	})
	e.POST("/api/v1/usage", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		c.Response().Header().Set("X-Content-Type-Seen", c.Request().Header.Get(echo.HeaderContentType))
		return c.JSONBlob(nethttp.StatusCreated, body)
	})
	e.GET("/api/v1/limited", func(c echo.Context) error {
		c.Response().Header().Set("Retry-After", "5")
		return c.JSON(nethttp.StatusTooManyRequests, map[string]string{"message": "slow down"})
	})
	e.GET("/api/v1/slow", func(c echo.Context) error {
		select {
		case <-time.After(2 * time.Second):
		case <-c.Request().Context().Done():
		}
		return c.NoContent(nethttp.StatusOK)
	})

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func newTestTransport(t *testing.T, baseURL string, cfg Config, opts ...Option) *HTTP {
	t.Helper()
	cfg.BaseURL = baseURL
	tr, err := New(cfg, logger.Nop(), opts...)
	require.NoError(t, err)
	return tr
}

func requestContext(method, path string) middleware.RequestContext {
	return middleware.NewRequestContext(middleware.Request{Method: method, Path: path})
}

func TestNewValidatesBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
	}{
		{name: "empty", baseURL: ""},
		{name: "missing scheme", baseURL: "api.example.com"},
		{name: "unsupported scheme", baseURL: "ftp://api.example.com"},
		{name: "missing host", baseURL: "https://"},
		{name: "unparseable", baseURL: "http://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{BaseURL: tt.baseURL}, nil)
			assert.Error(t, err)
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	tr, err := New(Config{BaseURL: "https://api.example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, tr.Timeout())
	assert.Equal(t, DefaultTimeout, tr.client.Timeout)
	assert.Equal(t, DefaultUserAgent, tr.config.UserAgent)
	assert.Equal(t, DefaultMaxResponseBody, tr.config.MaxResponseBody)
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		path     string
		query    url.Values
		expected string
	}{
		{name: "simple", base: "https://api.example.com", path: "/v1/usage", expected: "https://api.example.com/v1/usage"},
		{name: "base with path", base: "https://api.example.com/api/", path: "v1/costs", expected: "https://api.example.com/api/v1/costs"},
		{name: "query", base: "https://api.example.com", path: "/v1/costs", query: url.Values{"range": {"24h"}}, expected: "https://api.example.com/v1/costs?range=24h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransport(t, tt.base, Config{})
			assert.Equal(t, tt.expected, tr.ResolveURL(tt.path, tt.query))
		})
	}
}

func TestSendGet(t *testing.T) {
	srv := newEchoServer(t)
	tr := newTestTransport(t, srv.URL, Config{
		UserAgent:      "costops-test/1.0",
		DefaultHeaders: map[string]string{testAPIKeyHeader: "default"},
	})

	rc := requestContext(nethttp.MethodGet, "/api/v1/usage/usage-123")
	rc.Request.Query.Set("range", "24h")
	rc.Request.Header.Set(testAPIKeyHeader, testAPIKey)

	reply, err := tr.Send(context.Background(), rc)

	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusOK, reply.StatusCode)
	assert.Positive(t, reply.Elapsed)
	assert.Contains(t, reply.Header.Get("Content-Type"), testJSONType)
	assert.JSONEq(t, `{"id":"usage-123","range":"24h","api_key":"test-key","user_agent":"costops-test/1.0","accept":"application/json"}`, string(reply.Body))
}

func TestSendPostSetsJSONContentType(t *testing.T) {
	srv := newEchoServer(t)
	tr := newTestTransport(t, srv.URL, Config{})

	rc := requestContext(nethttp.MethodPost, "/api/v1/usage")
	rc.Request.Body = []byte(`{"tokens":42}`)

	reply, err := tr.Send(context.Background(), rc)

	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusCreated, reply.StatusCode)
	assert.Equal(t, testJSONType, reply.Header.Get("X-Content-Type-Seen"))
	assert.JSONEq(t, `{"tokens":42}`, string(reply.Body))
}

func TestSendReturnsErrorStatusesUntouched(t *testing.T) {
	srv := newEchoServer(t)
	tr := newTestTransport(t, srv.URL, Config{})

	reply, err := tr.Send(context.Background(), requestContext(nethttp.MethodGet, "/api/v1/limited"))
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusTooManyRequests, reply.StatusCode)
	assert.Equal(t, "5", reply.Header.Get("Retry-After"))

	reply, err = tr.Send(context.Background(), requestContext(nethttp.MethodGet, "/api/v1/missing"))
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusNotFound, reply.StatusCode)
}

func TestSendTimeout(t *testing.T) {
	srv := newEchoServer(t)
	tr := newTestTransport(t, srv.URL, Config{Timeout: 50 * time.Millisecond})

	_, err := tr.Send(context.Background(), requestContext(nethttp.MethodGet, "/api/v1/slow"))

	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

func TestSendHonorsContextCancellation(t *testing.T) {
	srv := newEchoServer(t)
	tr := newTestTransport(t, srv.URL, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Send(ctx, requestContext(nethttp.MethodGet, "/api/v1/usage/x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendWithRoundTripper(t *testing.T) {
	var seen *nethttp.Request
	rt := roundTripperFunc(func(req *nethttp.Request) (*nethttp.Response, error) {
		seen = req
		return &nethttp.Response{
			StatusCode: nethttp.StatusAccepted,
			Header:     nethttp.Header{},
			Body:       nethttp.NoBody,
			Request:    req,
		}, nil
	})
	tr := newTestTransport(t, "https://api.example.com", Config{}, WithRoundTripper(rt))

	reply, err := tr.Send(context.Background(), requestContext("", "/v1/pricing"))

	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusAccepted, reply.StatusCode)
	require.NotNil(t, seen)
	assert.Equal(t, nethttp.MethodGet, seen.Method)
	assert.Equal(t, "https://api.example.com/v1/pricing", seen.URL.String())
}

func TestSendTransportFailure(t *testing.T) {
	rt := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
		return nil, errors.New("connection refused")
	})
	tr := newTestTransport(t, "https://api.example.com", Config{}, WithRoundTripper(rt))

	_, err := tr.Send(context.Background(), requestContext(nethttp.MethodGet, "/v1/usage"))
	assert.ErrorContains(t, err, "connection refused")
}

func TestSendRejectsOversizedBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		limit   int64
		wantErr bool
	}{
		{name: "below limit", body: `{"id":"u"}`, limit: 64},
		{name: "exactly at limit", body: "abcd", limit: 4},
		{name: "one byte over", body: "abcde", limit: 4, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := roundTripperFunc(func(req *nethttp.Request) (*nethttp.Response, error) {
				return &nethttp.Response{
					StatusCode: nethttp.StatusOK,
					Header:     nethttp.Header{},
					Body:       io.NopCloser(strings.NewReader(tt.body)),
					Request:    req,
				}, nil
			})
			tr := newTestTransport(t, "https://api.example.com", Config{MaxResponseBody: tt.limit}, WithRoundTripper(rt))

			reply, err := tr.Send(context.Background(), requestContext(nethttp.MethodGet, "/v1/usage"))

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.body, string(reply.Body))
				return
			}
			require.Error(t, err)
			apiErr, ok := apierror.As(err)
			require.True(t, ok)
			assert.Equal(t, apierror.KindAPI, apiErr.Kind())
			assert.Equal(t, CodeResponseTooLarge, apiErr.Code())
			assert.False(t, apiErr.Retryable())
		})
	}
}

func TestTruncate(t *testing.T) {
	tr := newTestTransport(t, "https://api.example.com", Config{MaxLoggedBody: 4})
	assert.Equal(t, []byte("abcd"), tr.truncate([]byte("abcdef")))
	assert.Equal(t, []byte("ab"), tr.truncate([]byte("ab")))
}
