package config

import (
	"net/url"
	"slices"
	"strings"
)

// Observability export protocols
const (
	ProtocolHTTP   = "http"
	ProtocolGRPC   = "grpc"
	ProtocolStdout = "stdout"
)

var logLevels = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}

// Validate checks cfg and returns the first *ConfigError found
func Validate(cfg *Config) error {
	if err := validateAPI(&cfg.API); err != nil {
		return err
	}
	if err := validateRetry(&cfg.Retry); err != nil {
		return err
	}
	if err := validateRateLimit(&cfg.RateLimit); err != nil {
		return err
	}
	if err := validateLog(&cfg.Log); err != nil {
		return err
	}
	return validateObservability(&cfg.Observability)
}

func validateAPI(cfg *APIConfig) error {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return NewMissingFieldError("api.baseurl")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewInvalidFieldError("api.baseurl", "must be an absolute http or https url", nil)
	}
	if cfg.Timeout <= 0 {
		return NewInvalidFieldError("api.timeout", "must be positive", nil)
	}
	if cfg.MaxResponseBody < 0 {
		return NewInvalidFieldError("api.maxresponsebody", "cannot be negative", nil)
	}
	return nil
}

func validateRetry(cfg *RetryConfig) error {
	if cfg.MaxRetries < 0 {
		return NewInvalidFieldError("retry.maxretries", "cannot be negative", nil)
	}
	if cfg.BaseDelay < 0 {
		return NewInvalidFieldError("retry.basedelay", "cannot be negative", nil)
	}
	if cfg.MaxDelay < 0 {
		return NewInvalidFieldError("retry.maxdelay", "cannot be negative", nil)
	}
	if cfg.MaxDelay > 0 && cfg.BaseDelay > cfg.MaxDelay {
		return NewInvalidFieldError("retry.basedelay", "cannot exceed retry.maxdelay", nil)
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		return NewInvalidFieldError("retry.jitter", "must be between 0 and 1", nil)
	}
	return nil
}

func validateRateLimit(cfg *RateLimitConfig) error {
	if cfg.RPS < 0 {
		return NewInvalidFieldError("ratelimit.rps", "cannot be negative", nil)
	}
	if cfg.RPS > 0 && cfg.Burst < 1 {
		return NewInvalidFieldError("ratelimit.burst", "must be at least 1 when rate limiting is enabled", nil)
	}
	return nil
}

func validateLog(cfg *LogConfig) error {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	cfg.Level = strings.ToLower(cfg.Level)
	if !slices.Contains(logLevels, cfg.Level) {
		return NewInvalidFieldError("log.level", "unknown level", logLevels)
	}
	return nil
}

func validateObservability(cfg *ObservabilityConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.ServiceName == "" {
		return NewMissingFieldError("observability.servicename")
	}
	protocols := []string{ProtocolHTTP, ProtocolGRPC, ProtocolStdout}
	if !slices.Contains(protocols, cfg.Protocol) {
		return NewInvalidFieldError("observability.protocol", "unsupported protocol", protocols)
	}
	if cfg.Protocol != ProtocolStdout && cfg.Endpoint == "" {
		return NewMissingFieldError("observability.endpoint")
	}
	return nil
}
