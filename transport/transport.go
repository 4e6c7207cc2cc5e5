// Package transport sends pipeline requests over net/http.
//
// It joins the request path onto the API base URL, applies default headers and
// performs a single attempt. Status codes are returned untouched; retrying and
// classification belong to the retry controller.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gaborage/go-costops/apierror"
	"github.com/gaborage/go-costops/logger"
	"github.com/gaborage/go-costops/middleware"
	"github.com/gaborage/go-costops/retry"
)

const (
	// DefaultTimeout is the default per-attempt timeout
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent identifies the client to the API
	DefaultUserAgent = "go-costops"

	// DefaultMaxLoggedBody caps request and response payloads written to debug logs
	DefaultMaxLoggedBody = 2048

	// DefaultMaxResponseBody caps the response body read into memory
	DefaultMaxResponseBody int64 = 10 << 20

	// CodeResponseTooLarge marks a response whose body exceeded MaxResponseBody
	CodeResponseTooLarge = "response_too_large"

	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	headerUserAgent   = "User-Agent"
	contentTypeJSON   = "application/json"
)

// Config holds the transport settings
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	UserAgent      string
	DefaultHeaders map[string]string
	MaxLoggedBody  int

	// MaxResponseBody is the largest response body accepted, in bytes
	MaxResponseBody int64
}

// HTTP implements retry.Transport on top of an *http.Client
type HTTP struct {
	client  *nethttp.Client
	baseURL *url.URL
	config  Config
	logger  logger.Logger
}

var _ retry.Transport = (*HTTP)(nil)

// Option customizes the HTTP transport
type Option func(*HTTP)

// WithHTTPClient replaces the underlying client. Its Timeout is overwritten by Config.Timeout.
func WithHTTPClient(c *nethttp.Client) Option {
	return func(t *HTTP) {
		if c != nil {
			t.client = c
		}
	}
}

// WithRoundTripper sets the round tripper of the underlying client
func WithRoundTripper(rt nethttp.RoundTripper) Option {
	return func(t *HTTP) {
		if rt != nil {
			t.client.Transport = rt
		}
	}
}

// New creates an HTTP transport for the given base URL
func New(cfg Config, log logger.Logger, opts ...Option) (*HTTP, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: missing host", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxLoggedBody <= 0 {
		cfg.MaxLoggedBody = DefaultMaxLoggedBody
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = DefaultMaxResponseBody
	}
	if log == nil {
		log = logger.Nop()
	}

	t := &HTTP{
		client:  &nethttp.Client{},
		baseURL: base,
		config:  cfg,
		logger:  log,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.client.Timeout = cfg.Timeout
	return t, nil
}

// Timeout returns the per-attempt timeout
func (t *HTTP) Timeout() time.Duration { return t.config.Timeout }

// Send performs one HTTP round trip for rc
func (t *HTTP) Send(ctx context.Context, rc middleware.RequestContext) (*retry.Reply, error) {
	httpReq, err := t.buildRequest(ctx, rc)
	if err != nil {
		return nil, err
	}

	t.logRequest(rc, httpReq)

	start := time.Now()
	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := t.readBody(httpResp)
	if err != nil {
		return nil, err
	}

	reply := &retry.Reply{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		Elapsed:    time.Since(start),
	}
	t.logResponse(rc, reply)
	return reply, nil
}

// readBody reads at most MaxResponseBody bytes. A larger body is an API error,
// not a transport failure, so it is not retried.
func (t *HTTP) readBody(httpResp *nethttp.Response) ([]byte, error) {
	limit := t.config.MaxResponseBody
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, apierror.NewAPI(
			fmt.Sprintf("response body exceeds %d bytes", limit),
			httpResp.StatusCode,
			apierror.WithCode(CodeResponseTooLarge),
			apierror.WithRequestID(httpResp.Header.Get(apierror.HeaderRequestID)))
	}
	return body, nil
}

// ResolveURL joins path and query onto the base URL
func (t *HTTP) ResolveURL(path string, query url.Values) string {
	u := *t.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawPath = ""
	if len(query) > 0 {
		q := u.Query()
		for k, vals := range query {
			for _, v := range vals {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// buildRequest constructs an *http.Request and applies default and per-request headers
func (t *HTTP) buildRequest(ctx context.Context, rc middleware.RequestContext) (*nethttp.Request, error) {
	method := rc.Request.Method
	if method == "" {
		method = nethttp.MethodGet
	}

	var body io.Reader
	if rc.Request.Body != nil {
		body = bytes.NewReader(rc.Request.Body)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, method, t.ResolveURL(rc.Request.Path, rc.Request.Query), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	// Defaults first, request headers override them
	for key, value := range t.config.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, values := range rc.Request.Header {
		httpReq.Header.Del(key)
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	if httpReq.Header.Get(headerUserAgent) == "" {
		httpReq.Header.Set(headerUserAgent, t.config.UserAgent)
	}
	if httpReq.Header.Get(headerAccept) == "" {
		httpReq.Header.Set(headerAccept, contentTypeJSON)
	}
	if httpReq.Header.Get(headerContentType) == "" && rc.Request.Body != nil {
		httpReq.Header.Set(headerContentType, contentTypeJSON)
	}
	return httpReq, nil
}

func (t *HTTP) logRequest(rc middleware.RequestContext, httpReq *nethttp.Request) {
	logEvent := t.logger.Debug().
		Str("direction", "outbound").
		Str("request_id", rc.ID).
		Int("attempt", rc.Attempt).
		Str("method", httpReq.Method).
		Str("url", httpReq.URL.String()).
		Interface("headers", httpReq.Header)

	if len(rc.Request.Body) > 0 {
		logEvent.Bytes("body", t.truncate(rc.Request.Body))
	}
	logEvent.Msg("Cost API request")
}

func (t *HTTP) logResponse(rc middleware.RequestContext, reply *retry.Reply) {
	logEvent := t.logger.Debug().
		Str("direction", "inbound").
		Str("request_id", rc.ID).
		Int("attempt", rc.Attempt).
		Int("status", reply.StatusCode).
		Dur("elapsed", reply.Elapsed)

	if len(reply.Body) > 0 {
		logEvent.Bytes("body", t.truncate(reply.Body))
	}
	logEvent.Msg("Cost API response")
}

func (t *HTTP) truncate(b []byte) []byte {
	if len(b) <= t.config.MaxLoggedBody {
		return b
	}
	return b[:t.config.MaxLoggedBody]
}
