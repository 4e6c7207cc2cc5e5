// Package config loads client configuration from defaults, an optional YAML file and
// COSTOPS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultFile is the YAML file read when present in the working directory
	DefaultFile = "costops.yaml"

	// EnvPrefix prefixes every environment variable the loader reads
	EnvPrefix = "COSTOPS_"
)

// Option customizes Load
type Option func(*loadOptions)

type loadOptions struct {
	files   []string
	environ func() []string
}

// WithFile adds a YAML file to load after the defaults. Missing files are skipped.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.files = append(o.files, path) }
}

// WithEnviron replaces os.Environ as the source of environment variables
func WithEnviron(environ func() []string) Option {
	return func(o *loadOptions) { o.environ = environ }
}

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. YAML configuration files
// 3. Default values (lowest priority)
func Load(opts ...Option) (*Config, error) {
	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.files) == 0 {
		o.files = []string{DefaultFile}
	}

	k := koanf.New(".")
	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	for _, path := range o.files {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// YAML files are optional
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := loadEnv(k, o.environ); err != nil {
		return nil, err
	}
	return finalize(k)
}

// LoadFromBytes loads defaults overlaid with a YAML document. Environment variables are ignored.
func LoadFromBytes(data []byte) (*Config, error) {
	k := koanf.New(".")
	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finalize(k)
}

func loadEnv(k *koanf.Koanf, environ func() []string) error {
	provider := envprovider.Provider(".", envprovider.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			// COSTOPS_RETRY_MAXRETRIES -> retry.maxretries
			key = strings.TrimPrefix(key, EnvPrefix)
			return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
		},
		EnvironFunc: environ,
	})
	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

func finalize(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"api.baseurl":         "http://localhost:8080",
		"api.timeout":         "30s",
		"api.useragent":       "go-costops",
		"api.maxresponsebody": 10 << 20,

		"retry.maxretries": 3,
		"retry.basedelay":  "1s",
		"retry.maxdelay":   "30s",
		"retry.jitter":     0.0,

		"ratelimit.rps":   0.0,
		"ratelimit.burst": 1,

		"log.level":  "info",
		"log.pretty": false,

		"observability.enabled":     false,
		"observability.servicename": "go-costops",
		"observability.protocol":    ProtocolHTTP,
		"observability.insecure":    false,
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
