package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config is the complete client configuration
type Config struct {
	API           APIConfig           `koanf:"api" json:"api" yaml:"api"`
	Retry         RetryConfig         `koanf:"retry" json:"retry" yaml:"retry"`
	RateLimit     RateLimitConfig     `koanf:"ratelimit" json:"ratelimit" yaml:"ratelimit"`
	Log           LogConfig           `koanf:"log" json:"log" yaml:"log"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability" yaml:"observability"`

	// k holds the underlying Koanf instance for access to custom keys
	k *koanf.Koanf `json:"-" yaml:"-"`
}

// APIConfig holds the remote API settings
type APIConfig struct {
	BaseURL   string        `koanf:"baseurl" json:"baseurl" yaml:"baseurl"`
	Key       string        `koanf:"key" json:"-" yaml:"key"`
	Timeout   time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout"`
	UserAgent string        `koanf:"useragent" json:"useragent" yaml:"useragent"`

	// MaxResponseBody caps the response body read into memory, in bytes
	MaxResponseBody int64 `koanf:"maxresponsebody" json:"maxresponsebody" yaml:"maxresponsebody"`
}

// RetryConfig holds the retry budget and backoff schedule
type RetryConfig struct {
	MaxRetries int           `koanf:"maxretries" json:"maxretries" yaml:"maxretries"`
	BaseDelay  time.Duration `koanf:"basedelay" json:"basedelay" yaml:"basedelay"`
	MaxDelay   time.Duration `koanf:"maxdelay" json:"maxdelay" yaml:"maxdelay"`
	Jitter     float64       `koanf:"jitter" json:"jitter" yaml:"jitter"`
}

// RateLimitConfig holds the client-side token bucket. A zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `koanf:"rps" json:"rps" yaml:"rps"`
	Burst int     `koanf:"burst" json:"burst" yaml:"burst"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}

// ObservabilityConfig holds OpenTelemetry export settings
type ObservabilityConfig struct {
	Enabled     bool   `koanf:"enabled" json:"enabled" yaml:"enabled"`
	ServiceName string `koanf:"servicename" json:"servicename" yaml:"servicename"`
	Endpoint    string `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`
	Protocol    string `koanf:"protocol" json:"protocol" yaml:"protocol"`
	Insecure    bool   `koanf:"insecure" json:"insecure" yaml:"insecure"`
}
