package observability

import "errors"

// ErrNilConfig is returned when Validate is called on a nil Config pointer.
var ErrNilConfig = errors.New("observability: config is nil")

// ErrMissingServiceName is returned when observability is enabled but no service name is configured.
var ErrMissingServiceName = errors.New("observability: service name is required when observability is enabled")

// ErrMissingEndpoint is returned when an OTLP protocol is selected without an endpoint.
var ErrMissingEndpoint = errors.New("observability: endpoint is required for otlp export")

// ErrInvalidSampleRate is returned when the trace sample rate is outside the valid range [0.0, 1.0].
var ErrInvalidSampleRate = errors.New("observability: trace sample rate must be between 0.0 and 1.0")

// ErrInvalidProtocol is returned when the protocol is not "http", "grpc" or "stdout".
var ErrInvalidProtocol = errors.New("observability: protocol must be 'http', 'grpc' or 'stdout'")

// ErrInvalidEndpointFormat is returned when an OTLP endpoint carries a URL scheme.
// Both OTLP exporters expect "host:port".
var ErrInvalidEndpointFormat = errors.New("observability: endpoint must be host:port without scheme")
