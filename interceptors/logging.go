package interceptors

import (
	"context"

	"github.com/gaborage/go-costops/logger"
	"github.com/gaborage/go-costops/middleware"
)

// Logging holds interceptors that log each phase of a call.
// Requests log at debug level once per attempt, responses at info and failures at error.
type Logging struct {
	logger logger.Logger
}

// NewLogging creates logging interceptors writing to log
func NewLogging(log logger.Logger) *Logging {
	if log == nil {
		log = logger.Nop()
	}
	return &Logging{logger: log}
}

// Request logs the outgoing attempt
func (l *Logging) Request(_ context.Context, rc middleware.RequestContext) (middleware.RequestContext, error) {
	l.logger.Debug().
		Str("direction", "outbound").
		Str("request_id", rc.ID).
		Str("method", rc.Request.Method).
		Str("path", rc.Request.Path).
		Int("attempt", rc.Attempt).
		Interface("headers", rc.Request.Header).
		Interface("metadata", rc.Metadata.Fields()).
		Msg("Cost API call started")
	return rc, nil
}

// Response logs the completed call
func (l *Logging) Response(_ context.Context, rc middleware.ResponseContext) (middleware.ResponseContext, error) {
	l.logger.Info().
		Str("direction", "inbound").
		Str("request_id", rc.Request.ID).
		Str("method", rc.Request.Request.Method).
		Str("path", rc.Request.Request.Path).
		Int("status", rc.StatusCode).
		Int("attempt", rc.Request.Attempt).
		Dur("elapsed", rc.Elapsed).
		Msg("Cost API call completed")
	return rc, nil
}

// Error logs the terminal failure of a call
func (l *Logging) Error(_ context.Context, ec middleware.ErrorContext) (middleware.ErrorContext, error) {
	event := l.logger.Error().
		Str("request_id", ec.Request.ID).
		Str("method", ec.Request.Request.Method).
		Str("path", ec.Request.Request.Path).
		Int("attempt", ec.Request.Attempt)
	if ec.Err != nil {
		event = event.
			Err(ec.Err).
			Str("kind", ec.Err.Kind().String()).
			Str("code", ec.Err.Code()).
			Bool("retryable", ec.Err.Retryable())
		if status := ec.Err.StatusCode(); status != 0 {
			event = event.Int("status", status)
		}
	}
	event.Msg("Cost API call failed")
	return ec, nil
}

// Register adds all three interceptors to m and returns a function removing them
func (l *Logging) Register(m *middleware.Manager) func() {
	unregister := []func(){
		m.AddRequestInterceptor(l.Request),
		m.AddResponseInterceptor(l.Response),
		m.AddErrorInterceptor(l.Error),
	}
	return func() {
		for _, fn := range unregister {
			fn()
		}
	}
}
