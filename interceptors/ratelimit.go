package interceptors

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/gaborage/go-costops/apierror"
	"github.com/gaborage/go-costops/middleware"
)

// RateLimit blocks each attempt until limiter grants a token.
// Cancellation while waiting fails the call as Canceled. A wait that could never be
// satisfied before the context deadline is reported as RateLimit.
func RateLimit(limiter *rate.Limiter) middleware.RequestInterceptor {
	return func(ctx context.Context, rc middleware.RequestContext) (middleware.RequestContext, error) {
		if limiter == nil {
			return rc, nil
		}
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return rc, apierror.NewCanceled("canceled waiting for rate limiter", err)
			}
			return rc, apierror.NewRateLimit("client-side rate limit would exceed deadline", 0,
				apierror.WithCode("client_rate_limit"),
				apierror.WithCause(err))
		}
		return rc, nil
	}
}

// NewLimiter builds a token bucket allowing rps requests per second with the given burst.
// A non-positive rps disables limiting and returns nil.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
