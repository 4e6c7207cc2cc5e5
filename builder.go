package costops

import (
	"fmt"
	"maps"
	nethttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/go-costops/apierror"
	"github.com/gaborage/go-costops/backoff"
	"github.com/gaborage/go-costops/interceptors"
	"github.com/gaborage/go-costops/logger"
	"github.com/gaborage/go-costops/metrics"
	"github.com/gaborage/go-costops/middleware"
	"github.com/gaborage/go-costops/observability"
	"github.com/gaborage/go-costops/retry"
	"github.com/gaborage/go-costops/transport"
	"github.com/gaborage/go-costops/validation"
)

const (
	// DefaultBaseURL is used when no base URL is configured
	DefaultBaseURL = "http://localhost:8080"
)

// Builder provides a fluent interface for configuring the client
type Builder struct {
	logger logger.Logger

	baseURL        string
	apiKey         string
	timeout        time.Duration
	userAgent      string
	maxBody        int64
	defaultHeaders map[string]string

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	jitter     float64
	sleeper    retry.Sleeper

	rps   float64
	burst int

	transport    retry.Transport
	roundTripper nethttp.RoundTripper
	dedup        bool
	logCalls     bool

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	registerer     prometheus.Registerer
	namespace      string

	requestInterceptors  []middleware.RequestInterceptor
	responseInterceptors []middleware.ResponseInterceptor
	errorInterceptors    []middleware.ErrorInterceptor
}

// NewBuilder creates a new client builder with the default retry schedule
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{
		logger:         log,
		baseURL:        DefaultBaseURL,
		timeout:        transport.DefaultTimeout,
		defaultHeaders: make(map[string]string),
		maxRetries:     retry.DefaultMaxRetries,
		baseDelay:      backoff.DefaultBase,
		maxDelay:       backoff.DefaultCap,
		logCalls:       true,
	}
}

// WithBaseURL sets the API root every request path is joined onto
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.baseURL = baseURL
	return b
}

// WithAPIKey sends the key as a bearer token on every attempt
func (b *Builder) WithAPIKey(key string) *Builder {
	b.apiKey = key
	return b
}

// WithTimeout sets the per-attempt timeout
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.timeout = timeout
	return b
}

// WithUserAgent overrides the User-Agent header
func (b *Builder) WithUserAgent(userAgent string) *Builder {
	b.userAgent = userAgent
	return b
}

// WithMaxResponseBody caps the response body read into memory. Zero keeps the default.
func (b *Builder) WithMaxResponseBody(limit int64) *Builder {
	b.maxBody = limit
	return b
}

// WithDefaultHeader adds a header sent with every request unless the request sets it
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.defaultHeaders[key] = value
	return b
}

// WithRetries sets the retry budget and the exponential schedule
func (b *Builder) WithRetries(maxRetries int, baseDelay, maxDelay time.Duration) *Builder {
	b.maxRetries = maxRetries
	b.baseDelay = baseDelay
	b.maxDelay = maxDelay
	return b
}

// WithJitter randomizes each delay by up to the given fraction
func (b *Builder) WithJitter(jitter float64) *Builder {
	b.jitter = jitter
	return b
}

// WithSleeper replaces the backoff wait, mainly for tests
func (b *Builder) WithSleeper(s retry.Sleeper) *Builder {
	b.sleeper = s
	return b
}

// WithRateLimit enables a client-side token bucket of rps requests per second
func (b *Builder) WithRateLimit(rps float64, burst int) *Builder {
	b.rps = rps
	b.burst = burst
	return b
}

// WithTransport replaces the HTTP transport entirely
func (b *Builder) WithTransport(t retry.Transport) *Builder {
	b.transport = t
	return b
}

// WithRoundTripper sets the round tripper used by the default HTTP transport
func (b *Builder) WithRoundTripper(rt nethttp.RoundTripper) *Builder {
	b.roundTripper = rt
	return b
}

// WithDeduplication coalesces identical concurrent GET calls into one pipeline run
func (b *Builder) WithDeduplication() *Builder {
	b.dedup = true
	return b
}

// WithoutCallLogging disables the built-in logging interceptors
func (b *Builder) WithoutCallLogging() *Builder {
	b.logCalls = false
	return b
}

// WithTracing records spans and metrics for every attempt and wraps the default
// HTTP transport with otelhttp so the outgoing traceparent matches the client span.
func (b *Builder) WithTracing(tp trace.TracerProvider, mp metric.MeterProvider) *Builder {
	b.tracerProvider = tp
	b.meterProvider = mp
	return b
}

// WithPrometheus registers pipeline metrics with reg under namespace
func (b *Builder) WithPrometheus(reg prometheus.Registerer, namespace string) *Builder {
	b.registerer = reg
	b.namespace = namespace
	return b
}

// WithRequestInterceptor adds a request interceptor after the built-in ones
func (b *Builder) WithRequestInterceptor(fn middleware.RequestInterceptor) *Builder {
	b.requestInterceptors = append(b.requestInterceptors, fn)
	return b
}

// WithResponseInterceptor adds a response interceptor
func (b *Builder) WithResponseInterceptor(fn middleware.ResponseInterceptor) *Builder {
	b.responseInterceptors = append(b.responseInterceptors, fn)
	return b
}

// WithErrorInterceptor adds an error interceptor
func (b *Builder) WithErrorInterceptor(fn middleware.ErrorInterceptor) *Builder {
	b.errorInterceptors = append(b.errorInterceptors, fn)
	return b
}

func (b *Builder) retryConfig() retry.Config {
	return retry.Config{
		MaxRetries: b.maxRetries,
		Backoff:    backoff.New(b.baseDelay, b.maxDelay).WithJitter(b.jitter),
		Timeout:    b.timeout,
	}
}

// Build validates the configuration and creates the client.
// Invalid settings fail with a Configuration error.
func (b *Builder) Build() (*Client, error) {
	cfg := b.retryConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.rps < 0 {
		return nil, apierror.NewConfiguration("rate limit cannot be negative", "ratelimit.rps")
	}
	if b.maxBody < 0 {
		return nil, apierror.NewConfiguration("response body limit cannot be negative", "api.maxresponsebody")
	}

	t, err := b.buildTransport()
	if err != nil {
		return nil, err
	}

	c := &Client{
		manager:   middleware.NewManager(),
		transport: t,
		logger:    b.logger,
		validator: validation.New(),
		dedup:     b.dedup,
	}

	b.registerInterceptors(c.manager)

	if b.tracerProvider != nil || b.meterProvider != nil {
		tp, mp := b.tracing()
		inst, err := observability.Instrument(c.manager, tp, mp)
		if err != nil {
			return nil, apierror.NewConfiguration("failed to instrument client", "observability", apierror.WithCause(err))
		}
		c.closers = append(c.closers, inst.Close)
	}
	if b.registerer != nil {
		collector, err := registerCollector(b.registerer, b.namespace)
		if err != nil {
			return nil, err
		}
		c.metrics = collector
		c.closers = append(c.closers, collector.Attach(c.manager))
	}

	opts := []retry.Option{retry.WithLogger(b.logger)}
	if b.sleeper != nil {
		opts = append(opts, retry.WithSleeper(b.sleeper))
	}
	c.controller = retry.New(c.manager, cfg, opts...)
	return c, nil
}

func (b *Builder) buildTransport() (retry.Transport, error) {
	if b.transport != nil {
		return b.transport, nil
	}

	var opts []transport.Option
	rt := b.roundTripper
	if b.tracerProvider != nil {
		if rt == nil {
			rt = nethttp.DefaultTransport
		}
		tp, mp := b.tracing()
		rt = otelhttp.NewTransport(rt,
			otelhttp.WithTracerProvider(tp),
			otelhttp.WithMeterProvider(mp),
			otelhttp.WithPropagators(propagation.TraceContext{}))
	}
	if rt != nil {
		opts = append(opts, transport.WithRoundTripper(rt))
	}

	t, err := transport.New(transport.Config{
		BaseURL:         b.baseURL,
		Timeout:         b.timeout,
		UserAgent:       b.userAgent,
		DefaultHeaders:  maps.Clone(b.defaultHeaders),
		MaxResponseBody: b.maxBody,
	}, b.logger, opts...)
	if err != nil {
		return nil, apierror.NewConfiguration(err.Error(), "api.baseurl", apierror.WithCause(err))
	}
	return t, nil
}

// registerInterceptors installs the built-in chain: request ID, trace context,
// credentials and rate limiting run before caller interceptors; logging runs last.
func (b *Builder) registerInterceptors(m *middleware.Manager) {
	m.AddRequestInterceptor(interceptors.RequestID())
	m.AddRequestInterceptor(interceptors.TraceParent())
	if b.apiKey != "" {
		m.AddRequestInterceptor(interceptors.APIKey(b.apiKey))
	}
	if limiter := interceptors.NewLimiter(b.rps, b.burst); limiter != nil {
		m.AddRequestInterceptor(interceptors.RateLimit(limiter))
	}

	for _, fn := range b.requestInterceptors {
		m.AddRequestInterceptor(fn)
	}
	for _, fn := range b.responseInterceptors {
		m.AddResponseInterceptor(fn)
	}
	for _, fn := range b.errorInterceptors {
		m.AddErrorInterceptor(fn)
	}

	if b.logCalls {
		interceptors.NewLogging(b.logger).Register(m)
	}
}

// tracing fills a missing provider with a no-op one
func (b *Builder) tracing() (trace.TracerProvider, metric.MeterProvider) {
	tp, mp := b.tracerProvider, b.meterProvider
	noop := observability.NoopProvider()
	if tp == nil {
		tp = noop.TracerProvider()
	}
	if mp == nil {
		mp = noop.MeterProvider()
	}
	return tp, mp
}

// registerCollector turns a duplicate registration panic into a Configuration error
func registerCollector(reg prometheus.Registerer, namespace string) (collector *metrics.Collector, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apierror.NewConfiguration("failed to register prometheus metrics", "metrics",
				apierror.WithCause(fmt.Errorf("%v", r)))
		}
	}()
	return metrics.NewCollector(reg, namespace), nil
}
