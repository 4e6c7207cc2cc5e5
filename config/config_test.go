package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBaseURL = "https://costs.example.com"
)

func noEnv() []string { return nil }

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(WithFile(filepath.Join(t.TempDir(), "missing.yaml")), WithEnviron(noEnv))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, "go-costops", cfg.API.UserAgent)
	assert.EqualValues(t, 10<<20, cfg.API.MaxResponseBody)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Zero(t, cfg.Retry.Jitter)
	assert.Zero(t, cfg.RateLimit.RPS)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Observability.Enabled)
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costops.yaml")
	yaml := []byte(`
api:
  baseurl: https://file.example.com
  timeout: 10s
retry:
  maxretries: 5
  basedelay: 200ms
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	environ := func() []string {
		return []string{
			"COSTOPS_API_BASEURL=" + testBaseURL,
			"COSTOPS_API_KEY=sk-env",
			"COSTOPS_RETRY_JITTER=0.2",
			"COSTOPS_RATELIMIT_RPS=5",
			"COSTOPS_RATELIMIT_BURST=10",
			"UNRELATED_VAR=ignored",
		}
	}

	cfg, err := Load(WithFile(path), WithEnviron(environ))
	require.NoError(t, err)

	assert.Equal(t, testBaseURL, cfg.API.BaseURL, "env overrides file")
	assert.Equal(t, "sk-env", cfg.API.Key)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout, "file overrides defaults")
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.BaseDelay)
	assert.InDelta(t, 0.2, cfg.Retry.Jitter, 1e-9)
	assert.InDelta(t, 5.0, cfg.RateLimit.RPS, 1e-9)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.False(t, cfg.exists("unrelated.var"))
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costops.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [unclosed"), 0o600))

	_, err := Load(WithFile(path), WithEnviron(noEnv))
	assert.Error(t, err)
}

func TestLoadFromBytes(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
api:
  baseurl: https://costs.example.com
log:
  level: DEBUG
observability:
  enabled: true
  protocol: stdout
custom:
  budget: 250
  window: 15m
`))
	require.NoError(t, err)

	assert.Equal(t, testBaseURL, cfg.API.BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Observability.Enabled)
	assert.Equal(t, 250, cfg.GetInt("custom.budget"))
	assert.Equal(t, 15*time.Minute, cfg.GetDuration("custom.window"))
	assert.Equal(t, "fallback", cfg.GetString("custom.missing", "fallback"))
	assert.True(t, cfg.GetBool("custom.flag", true))
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		field    string
		category string
	}{
		{name: "relative base url", yaml: "api: {baseurl: /v1}", field: "api.baseurl", category: "invalid"},
		{name: "empty base url", yaml: "api: {baseurl: ''}", field: "api.baseurl", category: "missing"},
		{name: "zero timeout", yaml: "api: {timeout: 0s}", field: "api.timeout", category: "invalid"},
		{name: "negative body limit", yaml: "api: {maxresponsebody: -1}", field: "api.maxresponsebody", category: "invalid"},
		{name: "negative retries", yaml: "retry: {maxretries: -1}", field: "retry.maxretries", category: "invalid"},
		{name: "base above cap", yaml: "retry: {basedelay: 1m, maxdelay: 30s}", field: "retry.basedelay", category: "invalid"},
		{name: "jitter out of range", yaml: "retry: {jitter: 1.5}", field: "retry.jitter", category: "invalid"},
		{name: "zero burst", yaml: "ratelimit: {rps: 2, burst: 0}", field: "ratelimit.burst", category: "invalid"},
		{name: "bad log level", yaml: "log: {level: loud}", field: "log.level", category: "invalid"},
		{name: "missing otlp endpoint", yaml: "observability: {enabled: true, protocol: grpc}", field: "observability.endpoint", category: "missing"},
		{name: "unknown protocol", yaml: "observability: {enabled: true, protocol: kafka}", field: "observability.protocol", category: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Equal(t, tt.category, cfgErr.Category)
		})
	}
}

func TestConfigErrorFormatting(t *testing.T) {
	err := NewMissingFieldError("api.key")
	assert.Equal(t, "config_missing: api.key required set COSTOPS_API_KEY env var or add api.key to costops.yaml", err.Error())

	err = NewInvalidFieldError("log.level", "unknown level", []string{"info", "debug"})
	assert.Equal(t, "config_invalid: log.level unknown level must be one of: info, debug", err.Error())
}

func TestGettersOnNilConfig(t *testing.T) {
	var cfg *Config
	assert.Equal(t, "x", cfg.GetString("a", "x"))
	assert.Zero(t, cfg.GetInt("a"))
	assert.Equal(t, time.Second, cfg.GetDuration("a", time.Second))
}
