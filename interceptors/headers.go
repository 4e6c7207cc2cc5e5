// Package interceptors provides ready-made request, response and error interceptors
// for the middleware manager: credentials, default headers, request IDs, W3C trace
// context propagation, client-side rate limiting, logging and payload validation.
package interceptors

import (
	"context"
	"strings"

	"github.com/gaborage/go-costops/apierror"
	"github.com/gaborage/go-costops/middleware"
)

const (
	// HeaderAuthorization carries the bearer credential
	HeaderAuthorization = "Authorization"

	// HeaderAPIKey is the alternative credential header accepted by the API
	HeaderAPIKey = "X-API-Key"

	// HeaderRequestID correlates client and server logs
	HeaderRequestID = apierror.HeaderRequestID

	// MetadataRequestID is the metadata key holding the request ID
	MetadataRequestID = "request_id"
)

// APIKey sets "Authorization: Bearer <key>" on every attempt.
// An empty key fails the call with an Authentication error before anything is sent.
func APIKey(key string) middleware.RequestInterceptor {
	key = strings.TrimSpace(key)
	return func(_ context.Context, rc middleware.RequestContext) (middleware.RequestContext, error) {
		if key == "" {
			return rc, apierror.NewAuthentication("API key is not configured")
		}
		rc.Request.Header.Set(HeaderAuthorization, "Bearer "+key)
		return rc, nil
	}
}

// APIKeyHeader sets the X-API-Key header on every attempt
func APIKeyHeader(key string) middleware.RequestInterceptor {
	key = strings.TrimSpace(key)
	return func(_ context.Context, rc middleware.RequestContext) (middleware.RequestContext, error) {
		if key == "" {
			return rc, apierror.NewAuthentication("API key is not configured")
		}
		rc.Request.Header.Set(HeaderAPIKey, key)
		return rc, nil
	}
}

// DefaultHeaders sets headers the request does not already carry
func DefaultHeaders(headers map[string]string) middleware.RequestInterceptor {
	defaults := make(map[string]string, len(headers))
	for k, v := range headers {
		defaults[k] = v
	}
	return func(_ context.Context, rc middleware.RequestContext) (middleware.RequestContext, error) {
		for k, v := range defaults {
			if rc.Request.Header.Get(k) == "" {
				rc.Request.Header.Set(k, v)
			}
		}
		return rc, nil
	}
}
