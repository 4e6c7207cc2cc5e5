// Package retry drives a logical call through the middleware chains and the transport,
// retrying transient failures according to a backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gaborage/go-costops/apierror"
	"github.com/gaborage/go-costops/backoff"
	"github.com/gaborage/go-costops/logger"
	"github.com/gaborage/go-costops/middleware"
)

const (
	// DefaultMaxRetries is the default number of retries after the first attempt
	DefaultMaxRetries = 3

	// DefaultTimeout is the default per-attempt timeout reported to the classifier
	DefaultTimeout = 30 * time.Second

	// CodeInterceptorFailed is the error code for interceptor failures that carry no typed error
	CodeInterceptorFailed = "interceptor_failed"
)

// Config holds the retry budget and delay schedule
type Config struct {
	MaxRetries int
	Backoff    backoff.Policy
	Timeout    time.Duration
}

// DefaultConfig returns three retries on the default 1s/30s schedule
func DefaultConfig() Config {
	return Config{
		MaxRetries: DefaultMaxRetries,
		Backoff:    backoff.Default(),
		Timeout:    DefaultTimeout,
	}
}

// Validate checks the configuration values
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return apierror.NewConfiguration("max retries cannot be negative", "retry.maxretries")
	}
	if c.Timeout < 0 {
		return apierror.NewConfiguration("timeout cannot be negative", "api.timeout")
	}
	return c.Backoff.Validate()
}

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the latter case
type Sleeper func(ctx context.Context, d time.Duration) error

// State is the per-call retry bookkeeping. Every Execute owns its own State.
type State struct {
	Attempt    int
	MaxRetries int
	LastError  *apierror.Error
}

// Controller executes logical calls. It is safe for concurrent use.
type Controller struct {
	manager *middleware.Manager
	config  Config
	logger  logger.Logger
	sleep   Sleeper
}

// Option customizes a Controller
type Option func(*Controller)

// WithLogger sets the controller's logger
func WithLogger(log logger.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithSleeper replaces the backoff wait, mainly for tests
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) {
		if s != nil {
			c.sleep = s
		}
	}
}

// New creates a controller bound to manager. A nil manager gets an empty one.
func New(manager *middleware.Manager, cfg Config, opts ...Option) *Controller {
	if manager == nil {
		manager = middleware.NewManager()
	}
	c := &Controller{
		manager: manager,
		config:  cfg,
		logger:  logger.Nop(),
		sleep:   Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Manager returns the middleware manager the controller runs chains on
func (c *Controller) Manager() *middleware.Manager { return c.manager }

// Config returns the controller configuration
func (c *Controller) Config() Config { return c.config }

// Sleep is the default Sleeper backed by a timer
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs one logical call. On success it returns the response context produced
// by the response chain. Every failure is an *apierror.Error and has passed through the
// error chain exactly once.
func (c *Controller) Execute(ctx context.Context, build BuildFunc, transport Transport) (*middleware.ResponseContext, error) {
	if build == nil || transport == nil {
		return nil, apierror.NewConfiguration("build function and transport are required", "transport")
	}

	state := &State{MaxRetries: c.config.MaxRetries}
	if state.MaxRetries < 0 {
		state.MaxRetries = 0
	}

	for {
		rc := build(state.Attempt)
		resp, apiErr, terminal := c.attempt(ctx, rc, transport)
		if apiErr == nil {
			return resp, nil
		}
		state.LastError = apiErr

		if terminal || !apiErr.Retryable() {
			return nil, c.fail(ctx, rc, apiErr)
		}
		if state.Attempt >= state.MaxRetries {
			return nil, c.fail(ctx, rc, apierror.NewRetryExhausted(apiErr, state.Attempt+1))
		}

		delay := c.config.Backoff.DelayFor(state.Attempt, apiErr)
		c.manager.Notify(middleware.RetryAttempt{
			Request: rc,
			Attempt: state.Attempt,
			Err:     apiErr,
			Delay:   delay,
		})
		c.logger.Warn().
			Str("request_id", rc.ID).
			Str("path", rc.Request.Path).
			Int("attempt", state.Attempt).
			Str("kind", apiErr.Kind().String()).
			Dur("delay", delay).
			Msg("Retrying request")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, c.fail(ctx, rc, apierror.NewCanceled("canceled during backoff", err))
		}
		state.Attempt++
	}
}

// attempt runs the request chain, the transport and, on success, the response chain.
// terminal reports a failure that must not be retried regardless of its kind.
func (c *Controller) attempt(ctx context.Context, rc middleware.RequestContext, transport Transport) (*middleware.ResponseContext, *apierror.Error, bool) {
	if err := ctx.Err(); err != nil {
		return nil, apierror.NewCanceled("canceled before attempt", err), true
	}

	c.logger.Debug().
		Str("request_id", rc.ID).
		Str("method", rc.Request.Method).
		Str("path", rc.Request.Path).
		Int("attempt", rc.Attempt).
		Msg("Executing request")

	prepared, err := c.manager.ProcessRequest(ctx, rc)
	if err != nil {
		return nil, interceptorFailure(ctx, err), false
	}

	reply, err := transport.Send(ctx, prepared)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apierror.NewCanceled("canceled during transport call", err), true
		}
		return nil, apierror.Classify(apierror.Failure{
			Err:     err,
			Path:    prepared.Request.Path,
			Timeout: c.config.Timeout,
		}), false
	}
	if reply == nil {
		return nil, apierror.NewNetwork("transport returned no response", nil), false
	}

	if apiErr := apierror.Classify(apierror.Failure{
		StatusCode: reply.StatusCode,
		Header:     reply.Header,
		Body:       reply.Body,
		Path:       prepared.Request.Path,
		Elapsed:    reply.Elapsed,
		Timeout:    c.config.Timeout,
	}); apiErr != nil {
		return nil, apiErr, false
	}

	resp, err := c.manager.ProcessResponse(ctx, middleware.ResponseContext{
		Request:    prepared,
		StatusCode: reply.StatusCode,
		Header:     reply.Header,
		Body:       reply.Body,
		Elapsed:    reply.Elapsed,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		// The transport call already landed; retrying could repeat its side effects.
		return nil, interceptorFailure(ctx, err), true
	}
	return &resp, nil, false
}

// interceptorFailure maps an interceptor error onto the taxonomy
func interceptorFailure(ctx context.Context, err error) *apierror.Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apierror.NewCanceled("canceled in interceptor chain", err)
	}
	if apiErr, ok := apierror.As(err); ok {
		return apiErr
	}
	if errors.Is(err, context.Canceled) {
		return apierror.NewCanceled("canceled in interceptor chain", err)
	}
	return apierror.NewValidation(fmt.Sprintf("interceptor failed: %v", err), "", nil,
		apierror.WithCode(CodeInterceptorFailed),
		apierror.WithCause(err))
}

// fail runs the error chain once and returns the error to surface to the caller.
// The chain runs detached from cancellation so canceled calls are still observed.
func (c *Controller) fail(ctx context.Context, rc middleware.RequestContext, apiErr *apierror.Error) error {
	c.logger.Error().
		Err(apiErr).
		Str("request_id", rc.ID).
		Str("path", rc.Request.Path).
		Str("kind", apiErr.Kind().String()).
		Int("attempt", rc.Attempt).
		Msg("Request failed")

	out, err := c.manager.ProcessError(context.WithoutCancel(ctx), middleware.NewErrorContext(rc, apiErr))
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("request_id", rc.ID).
			Msg("Error interceptor failed")
		return apiErr
	}
	if out.Err == nil {
		return apiErr
	}
	return out.Err
}
