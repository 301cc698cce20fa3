// Package config loads taskorch settings from a YAML or JSON file and
// TASKORCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	errs "taskorch/internal/errors"
	"taskorch/internal/observability"
	"taskorch/internal/orchestrator"
	"taskorch/internal/registry"
)

// EnvPrefix is prepended to every environment override, with dots mapped to
// underscores: TASKORCH_ORCHESTRATOR_CONCURRENCY.
const EnvPrefix = "TASKORCH"

// Index kinds accepted by cache.index.
const (
	IndexLinear  = "linear"
	IndexChromem = "chromem"
)

// Config is the full runtime configuration.
type Config struct {
	Orchestrator   OrchestratorConfig          `mapstructure:"orchestrator"`
	Cache          CacheConfig                 `mapstructure:"cache"`
	Retry          errs.RetryPolicy            `mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig        `mapstructure:"circuit_breaker"`
	Backends       []BackendConfig             `mapstructure:"backends"`
	RegistryFile   string                      `mapstructure:"registry_file"`
	Server         ServerConfig                `mapstructure:"server"`
	Logging        LoggingConfig               `mapstructure:"logging"`
	Metrics        MetricsConfig               `mapstructure:"metrics"`
	Tracing        observability.TracingConfig `mapstructure:"tracing"`
	Tokens         TokensConfig                `mapstructure:"tokens"`
}

// OrchestratorConfig extends orchestrator.Config with the id strategy.
type OrchestratorConfig struct {
	orchestrator.Config `mapstructure:",squash"`
	IDStrategy          string `mapstructure:"id_strategy"`
}

type CacheConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Threshold     float64 `mapstructure:"threshold"`
	MaxEntries    int     `mapstructure:"max_entries"`
	Index         string  `mapstructure:"index"`
	Dimensions    int     `mapstructure:"dimensions"`
	EmbeddingMemo int     `mapstructure:"embedding_memo"`
}

type CircuitBreakerConfig struct {
	Enabled                   bool `mapstructure:"enabled"`
	errs.CircuitBreakerConfig `mapstructure:",squash"`
}

// BackendConfig is a model descriptor plus how to reach it. Simulated
// backends answer locally and ignore the endpoint.
type BackendConfig struct {
	registry.Descriptor `mapstructure:",squash"`
	Simulated           bool          `mapstructure:"simulated"`
	SimulatedLatency    time.Duration `mapstructure:"simulated_latency"`
	SimulatedFailEvery  int           `mapstructure:"simulated_fail_every"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	EnableCORS   bool          `mapstructure:"enable_cors"`
	AdminToken   string        `mapstructure:"admin_token"`
	Debug        bool          `mapstructure:"debug"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TokensConfig struct {
	// Encoding names a tiktoken encoding. Empty selects the heuristic counter.
	Encoding string `mapstructure:"encoding"`
}

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	file      string
	overrides map[string]any
}

// WithFile reads path in addition to defaults and environment.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.file = path }
}

// WithOverrides sets keys with the highest precedence.
func WithOverrides(values map[string]any) Option {
	return func(o *loadOptions) { o.overrides = values }
}

// Load resolves defaults, then the config file, then the environment, then
// overrides, and validates the result.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if options.file != "" {
		v.SetConfigFile(options.file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", options.file, err)
		}
	}
	for key, value := range options.overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	for i := range cfg.Backends {
		cfg.Backends[i].Credential = os.ExpandEnv(cfg.Backends[i].Credential)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("orchestrator.concurrency", orchestrator.DefaultConcurrency)
	v.SetDefault("orchestrator.queue_capacity", 0)
	v.SetDefault("orchestrator.task_timeout", time.Duration(0))
	v.SetDefault("orchestrator.status_history", 10000)
	v.SetDefault("orchestrator.aging_after", time.Duration(0))
	v.SetDefault("orchestrator.id_strategy", "ksuid")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.threshold", 0.95)
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.index", IndexLinear)
	v.SetDefault("cache.dimensions", 256)
	v.SetDefault("cache.embedding_memo", 4096)

	retry := errs.DefaultRetryPolicy()
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.base_delay", retry.BaseDelay)
	v.SetDefault("retry.max_delay", retry.MaxDelay)
	v.SetDefault("retry.jitter", retry.JitterFactor)

	breaker := errs.DefaultCircuitBreakerConfig()
	v.SetDefault("circuit_breaker.enabled", false)
	v.SetDefault("circuit_breaker.failure_threshold", breaker.FailureThreshold)
	v.SetDefault("circuit_breaker.success_threshold", breaker.SuccessThreshold)
	v.SetDefault("circuit_breaker.open_timeout", breaker.OpenTimeout)

	v.SetDefault("registry_file", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("tracing.zipkin_endpoint", "http://localhost:9411/api/v2/spans")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "taskorch")
	v.SetDefault("tracing.service_version", "dev")

	v.SetDefault("tokens.encoding", "")
}

// Validate rejects settings the runtime cannot honour. All problems are
// reported together.
func (c Config) Validate() error {
	var problems []error
	if c.Orchestrator.Concurrency < 1 {
		problems = append(problems, fmt.Errorf("orchestrator.concurrency must be >= 1, got %d", c.Orchestrator.Concurrency))
	}
	if c.Orchestrator.QueueCapacity < 0 {
		problems = append(problems, fmt.Errorf("orchestrator.queue_capacity must be >= 0, got %d", c.Orchestrator.QueueCapacity))
	}
	if c.Orchestrator.StatusHistory < 0 {
		problems = append(problems, fmt.Errorf("orchestrator.status_history must be >= 0, got %d", c.Orchestrator.StatusHistory))
	}
	if c.Orchestrator.TaskTimeout < 0 || c.Orchestrator.AgingAfter < 0 {
		problems = append(problems, errors.New("orchestrator durations must be >= 0"))
	}
	if c.Cache.Threshold <= 0 || c.Cache.Threshold > 1 {
		problems = append(problems, fmt.Errorf("cache.threshold must be in (0,1], got %g", c.Cache.Threshold))
	}
	if c.Cache.MaxEntries < 0 || c.Cache.Dimensions < 0 || c.Cache.EmbeddingMemo < 0 {
		problems = append(problems, errors.New("cache sizes must be >= 0"))
	}
	switch c.Cache.Index {
	case IndexLinear, IndexChromem:
	default:
		problems = append(problems, fmt.Errorf("cache.index must be %q or %q, got %q", IndexLinear, IndexChromem, c.Cache.Index))
	}
	if c.Retry.MaxAttempts < 0 {
		problems = append(problems, fmt.Errorf("retry.max_attempts must be >= 0, got %d", c.Retry.MaxAttempts))
	}

	seen := make(map[string]struct{}, len(c.Backends))
	for i, b := range c.Backends {
		if err := b.Descriptor.Validate(); err != nil {
			problems = append(problems, fmt.Errorf("backends[%d]: %w", i, err))
			continue
		}
		if _, dup := seen[b.Name]; dup {
			problems = append(problems, fmt.Errorf("backends[%d]: duplicate backend name %q", i, b.Name))
		}
		seen[b.Name] = struct{}{}
		if !b.Simulated && strings.TrimSpace(b.Endpoint) == "" {
			problems = append(problems, fmt.Errorf("backends[%d]: %s needs an endpoint or simulated: true", i, b.Name))
		}
	}
	return errors.Join(problems...)
}

// Descriptors returns the registry descriptors of the configured backends.
func (c Config) Descriptors() []registry.Descriptor {
	out := make([]registry.Descriptor, 0, len(c.Backends))
	for _, b := range c.Backends {
		out = append(out, b.Descriptor)
	}
	return out
}
