// Package costops is a resilient client for the cost-ops API.
//
// Every call runs through the same pipeline: request interceptors, a single transport
// attempt, status classification into the apierror taxonomy, bounded retries with
// exponential backoff for transient kinds, then the response or error interceptors.
// Failures are always *apierror.Error values.
//
//	client, err := costops.NewBuilder(log).
//		WithBaseURL("https://costs.example.com").
//		WithAPIKey(key).
//		WithRetries(3, time.Second, 30*time.Second).
//		Build()
//
//	usage, err := costops.GetJSON[Usage](ctx, client, "/api/v1/usage/u-1", nil)
package costops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gaborage/go-costops/apierror"
	"github.com/gaborage/go-costops/config"
	"github.com/gaborage/go-costops/interceptors"
	"github.com/gaborage/go-costops/logger"
	"github.com/gaborage/go-costops/metrics"
	"github.com/gaborage/go-costops/middleware"
	"github.com/gaborage/go-costops/observability"
	"github.com/gaborage/go-costops/retry"
	"github.com/gaborage/go-costops/validation"
)

// Request describes one API call
type Request = middleware.Request

// Response is a successful API response after the response interceptors ran
type Response struct {
	StatusCode int
	Header     nethttp.Header
	Body       []byte
	Elapsed    time.Duration
	RequestID  string
	Attempts   int
}

// Decode unmarshals the JSON body into v
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return apierror.NewAPI("failed to decode response body", r.StatusCode,
			apierror.WithCode("decode_failed"),
			apierror.WithRequestID(r.RequestID),
			apierror.WithBody(r.Body),
			apierror.WithCause(err))
	}
	return nil
}

func (r *Response) clone() *Response {
	out := *r
	out.Header = r.Header.Clone()
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out
}

// Client runs API calls through the middleware and retry pipeline.
// It is safe for concurrent use; every call owns its own retry state.
type Client struct {
	manager    *middleware.Manager
	controller *retry.Controller
	transport  retry.Transport
	logger     logger.Logger
	metrics    *metrics.Collector
	validator  *validation.Validator

	dedup   bool
	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight

	provider observability.Provider
	closers  []func()
}

// NewFromConfig builds a client from loaded configuration. A nil logger is created
// from the log section. Enabled observability gets its own SDK provider, released by Close.
func NewFromConfig(cfg *config.Config, log logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, apierror.NewConfiguration("configuration is required", "config")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, apierror.NewConfiguration(err.Error(), configParameter(err), apierror.WithCause(err))
	}
	if log == nil {
		log = logger.New(cfg.Log.Level, cfg.Log.Pretty)
	}

	b := NewBuilder(log).
		WithBaseURL(cfg.API.BaseURL).
		WithAPIKey(cfg.API.Key).
		WithTimeout(cfg.API.Timeout).
		WithUserAgent(cfg.API.UserAgent).
		WithMaxResponseBody(cfg.API.MaxResponseBody).
		WithRetries(cfg.Retry.MaxRetries, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay).
		WithJitter(cfg.Retry.Jitter).
		WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	var provider observability.Provider
	if cfg.Observability.Enabled {
		p, err := observability.NewProvider(observability.Config{
			Enabled:     true,
			ServiceName: cfg.Observability.ServiceName,
			Endpoint:    cfg.Observability.Endpoint,
			Protocol:    cfg.Observability.Protocol,
			Insecure:    cfg.Observability.Insecure,
		})
		if err != nil {
			return nil, apierror.NewConfiguration(err.Error(), "observability", apierror.WithCause(err))
		}
		provider = p
		b.WithTracing(p.TracerProvider(), p.MeterProvider())
	}

	c, err := b.Build()
	if err != nil {
		if provider != nil {
			_ = observability.Shutdown(provider, observability.DefaultShutdownTimeout)
		}
		return nil, err
	}
	c.provider = provider
	return c, nil
}

func configParameter(err error) string {
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Field
	}
	return "config"
}

// Middleware returns the manager holding the interceptor chains and subscriptions
func (c *Client) Middleware() *middleware.Manager { return c.manager }

// Metrics returns the Prometheus collector, or nil when none was configured
func (c *Client) Metrics() *metrics.Collector { return c.metrics }

// Subscribe registers handler for one event type and returns its unsubscribe function
func (c *Client) Subscribe(typ middleware.EventType, handler middleware.Handler) func() {
	return c.manager.Subscribe(typ, handler)
}

// Close detaches instrumentation and flushes an owned observability provider
func (c *Client) Close(ctx context.Context) error {
	for _, fn := range c.closers {
		fn()
	}
	c.closers = nil
	if c.provider == nil {
		return nil
	}
	return c.provider.Shutdown(ctx)
}

// Do runs req through the full pipeline
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c.dedup && (req.Method == nethttp.MethodGet || req.Method == "") && len(req.Body) == 0 {
		return c.doShared(ctx, req)
	}
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.controller.Execute(ctx, retry.Static(req), c.transport)
	if err != nil {
		return nil, err
	}
	id, _ := resp.Request.Metadata.String(interceptors.MetadataRequestID)
	if id == "" {
		id = resp.Request.ID
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		Elapsed:    resp.Elapsed,
		RequestID:  id,
		Attempts:   resp.Request.Attempt + 1,
	}, nil
}

// flight tracks the callers waiting on one shared GET.
// The shared call is canceled once every waiter has left.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// doShared coalesces identical in-flight GETs. Callers receive independent copies.
// The shared call is detached from any single caller's cancellation and each caller
// stops waiting when its own context is done.
func (c *Client) doShared(ctx context.Context, req Request) (*Response, error) {
	key := dedupKey(req)
	ch := c.join(ctx, key, req)
	defer c.leave(key)

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Response).clone(), nil
	case <-ctx.Done():
		return nil, apierror.NewCanceled("canceled while waiting for shared request", ctx.Err())
	}
}

func (c *Client) join(ctx context.Context, key string, req Request) <-chan singleflight.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flights == nil {
		c.flights = make(map[string]*flight)
	}
	f, ok := c.flights[key]
	if !ok {
		sharedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: sharedCtx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++

	shared := f.ctx
	return c.group.DoChan(key, func() (any, error) {
		return c.do(shared, req)
	})
}

func (c *Client) leave(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flights[key]
	if !ok {
		return
	}
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	delete(c.flights, key)
	// A canceled flight may still be unwinding; later callers must start a fresh one.
	c.group.Forget(key)
}

func dedupKey(req Request) string {
	var b strings.Builder
	b.WriteString(nethttp.MethodGet)
	b.WriteByte(' ')
	b.WriteString(req.Path)
	if len(req.Query) > 0 {
		b.WriteByte('?')
		b.WriteString(req.Query.Encode())
	}
	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte('\n')
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(strings.Join(req.Header[k], ","))
	}
	return b.String()
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: nethttp.MethodGet, Path: path, Query: query})
}

// Post sends body encoded as JSON
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.send(ctx, nethttp.MethodPost, path, body)
}

// Put sends body encoded as JSON
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.send(ctx, nethttp.MethodPut, path, body)
}

// Patch sends body encoded as JSON
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.send(ctx, nethttp.MethodPatch, path, body)
}

// Delete sends a DELETE request
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: nethttp.MethodDelete, Path: path})
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*Response, error) {
	payload, err := c.payload(body)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, Request{Method: method, Path: path, Body: payload})
}

// payload checks struct bodies against their validate tags and encodes them as JSON.
// Both failures are reported before the pipeline runs.
func (c *Client) payload(body any) ([]byte, error) {
	if err := c.validator.Struct(body); err != nil {
		return nil, err
	}
	return encodeBody(body)
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apierror.NewValidation("request body cannot be encoded as JSON", "body", nil,
			apierror.WithCode("validation.json"),
			apierror.WithCause(err))
	}
	return payload, nil
}

// DoJSON runs req and decodes the JSON response body into a T
func DoJSON[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	resp, err := c.Do(ctx, req)
	if err != nil {
		return out, err
	}
	err = resp.Decode(&out)
	return out, err
}

// GetJSON sends a GET request and decodes the response into a T
func GetJSON[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	return DoJSON[T](ctx, c, Request{Method: nethttp.MethodGet, Path: path, Query: query})
}

// PostJSON sends body as JSON and decodes the response into a T
func PostJSON[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	var out T
	payload, err := c.payload(body)
	if err != nil {
		return out, err
	}
	return DoJSON[T](ctx, c, Request{Method: nethttp.MethodPost, Path: path, Body: payload})
}
