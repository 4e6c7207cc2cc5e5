package observability

import (
	"fmt"
	"strings"
	"time"
)

const (
	// ProtocolHTTP exports over OTLP/HTTP
	ProtocolHTTP = "http"
	// ProtocolGRPC exports over OTLP/gRPC
	ProtocolGRPC = "grpc"
	// ProtocolStdout pretty-prints telemetry to stdout for local development
	ProtocolStdout = "stdout"

	defaultSampleRate     = 1.0
	defaultBatchTimeout   = 5 * time.Second
	defaultExportTimeout  = 30 * time.Second
	defaultMetricInterval = 60 * time.Second
)

// Config holds OpenTelemetry export settings
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	Protocol       string
	Insecure       bool
	Headers        map[string]string
	SampleRate     float64
	BatchTimeout   time.Duration
	ExportTimeout  time.Duration
	MetricInterval time.Duration
}

// ApplyDefaults fills zero values with production-safe defaults
func (c *Config) ApplyDefaults() {
	if c.Protocol == "" {
		c.Protocol = ProtocolHTTP
	}
	if c.SampleRate == 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaultBatchTimeout
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = defaultExportTimeout
	}
	if c.MetricInterval <= 0 {
		c.MetricInterval = defaultMetricInterval
	}
}

// Validate checks an enabled configuration
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return ErrInvalidSampleRate
	}

	switch c.Protocol {
	case ProtocolStdout:
		return nil
	case ProtocolHTTP, ProtocolGRPC:
	default:
		return fmt.Errorf("protocol '%s': %w", c.Protocol, ErrInvalidProtocol)
	}

	if c.Endpoint == "" {
		return ErrMissingEndpoint
	}
	// OTLP exporters take host:port; schemes belong in the insecure flag
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint '%s': %w", c.Endpoint, ErrInvalidEndpointFormat)
	}
	return nil
}
