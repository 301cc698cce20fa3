// Package bootstrap assembles the orchestrator, its backends and the HTTP
// server from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"taskorch/internal/backend"
	"taskorch/internal/config"
	"taskorch/internal/id"
	"taskorch/internal/logging"
	"taskorch/internal/observability"
	"taskorch/internal/orchestrator"
	"taskorch/internal/registry"
	"taskorch/internal/semcache"
	"taskorch/internal/server"
	"taskorch/internal/tokens"
)

const shutdownTimeout = 10 * time.Second

// Runtime is the assembled process.
type Runtime struct {
	Config         config.Config
	Orchestrator   *orchestrator.Orchestrator
	Server         *server.Server
	Registry       *registry.Registry
	Pool           *backend.Pool
	Cache          *semcache.ResultCache
	Tracer         *observability.TracerProvider
	BackendMetrics *observability.BackendMetrics

	logger logging.Logger
}

type builder struct {
	cfg        config.Config
	logger     logging.Logger
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	version    string
}

// Option customises Build.
type Option func(*builder)

// WithVersion sets the version reported by /healthz.
func WithVersion(version string) Option {
	return func(b *builder) { b.version = version }
}

// Build wires every component. registerer receives all Prometheus
// collectors; when it is also a Gatherer it backs /metrics.
func Build(cfg config.Config, logger logging.Logger, registerer prometheus.Registerer, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	b := &builder{
		cfg:        cfg,
		logger:     logging.OrNop(logger),
		registerer: registerer,
		gatherer:   prometheus.DefaultGatherer,
	}
	if b.registerer == nil {
		b.registerer = prometheus.DefaultRegisterer
	}
	if g, ok := b.registerer.(prometheus.Gatherer); ok {
		b.gatherer = g
	}
	for _, opt := range opts {
		opt(b)
	}
	return b.build()
}

func (b *builder) build() (*Runtime, error) {
	reg, err := LoadRegistry(b.cfg)
	if err != nil {
		return nil, err
	}

	backendMetrics, err := observability.NewBackendMetrics(observability.MetricsConfig{
		Enabled:    b.cfg.Metrics.Enabled,
		Registerer: b.registerer,
	})
	if err != nil {
		return nil, err
	}
	pool := b.buildPool(backendMetrics)

	cache, err := b.buildCache()
	if err != nil {
		return nil, err
	}

	tracer, err := observability.NewTracerProvider(b.cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}

	strategy, err := id.ParseStrategy(b.cfg.Orchestrator.IDStrategy)
	if err != nil {
		return nil, err
	}

	deps := orchestrator.Dependencies{
		Registry: reg,
		Backend:  pool,
		Tokens:   tokens.New(b.cfg.Tokens.Encoding),
		IDs:      id.NewGenerator(strategy),
		Logger:   b.componentLogger("orchestrator"),
		Metrics:  orchestrator.MustNewMetrics(b.registerer),
		Tracer:   tracer,
	}
	if cache != nil {
		deps.Cache = cache
	}
	orch, err := orchestrator.New(b.cfg.Orchestrator.Config, deps)
	if err != nil {
		return nil, err
	}

	srv := server.New(orch, server.Config{
		Addr:         b.cfg.Server.Addr,
		EnableCORS:   b.cfg.Server.EnableCORS,
		AdminToken:   b.cfg.Server.AdminToken,
		Debug:        b.cfg.Server.Debug,
		ReadTimeout:  b.cfg.Server.ReadTimeout,
		WriteTimeout: b.cfg.Server.WriteTimeout,
	}, server.Options{
		Logger:   b.componentLogger("server"),
		Gatherer: b.gatherer,
		Version:  b.version,
	})

	b.logger.Info("Runtime built: %d models, %d dedicated adapters, cache=%t, concurrency=%d",
		reg.Len(), len(pool.Models()), cache != nil, b.cfg.Orchestrator.Concurrency)

	return &Runtime{
		Config:         b.cfg,
		Orchestrator:   orch,
		Server:         srv,
		Registry:       reg,
		Pool:           pool,
		Cache:          cache,
		Tracer:         tracer,
		BackendMetrics: backendMetrics,
		logger:         b.logger,
	}, nil
}

// LoadRegistry registers the configured backends, then any models from the
// registry file.
func LoadRegistry(cfg config.Config) (*registry.Registry, error) {
	reg := registry.New()
	if err := reg.RegisterAll(cfg.Descriptors()); err != nil {
		return nil, fmt.Errorf("register backends: %w", err)
	}
	if cfg.RegistryFile != "" {
		models, err := registry.LoadFile(cfg.RegistryFile)
		if err != nil {
			return nil, err
		}
		if err := reg.RegisterAll(models); err != nil {
			return nil, fmt.Errorf("register %s: %w", cfg.RegistryFile, err)
		}
	}
	return reg, nil
}

// buildPool gives each configured backend its own decorated adapter. Models
// without one, such as those from the registry file or added at runtime,
// fall back to the shared HTTP adapter.
func (b *builder) buildPool(recorder backend.Recorder) *backend.Pool {
	logger := b.componentLogger("backend")
	httpBackend := backend.NewHTTPBackend(backend.HTTPOptions{Logger: logger})

	pool := backend.NewPool()
	for _, bc := range b.cfg.Backends {
		var base backend.Backend = httpBackend
		if bc.Simulated {
			base = backend.NewSimulated(bc.Name, backend.SimulatedOptions{
				Latency:   bc.SimulatedLatency,
				FailEvery: bc.SimulatedFailEvery,
			})
		}
		pool.Register(bc.Name, backend.Chain(base, b.middlewares(bc.Name, recorder, logger)...))
	}
	pool.SetFallback(backend.Chain(httpBackend, b.middlewares("fallback", recorder, logger)...))
	return pool
}

func (b *builder) middlewares(name string, recorder backend.Recorder, logger logging.Logger) []backend.Middleware {
	mws := []backend.Middleware{
		backend.WithMetrics(recorder),
		backend.WithRetry(b.cfg.Retry, logger),
	}
	if b.cfg.CircuitBreaker.Enabled {
		mws = append(mws, backend.WithCircuitBreaker(name, b.cfg.CircuitBreaker.CircuitBreakerConfig, logger))
	}
	return mws
}

func (b *builder) buildCache() (*semcache.ResultCache, error) {
	cc := b.cfg.Cache
	if !cc.Enabled {
		return nil, nil
	}

	var embedder semcache.EmbeddingProvider = semcache.NewHashEmbedder(cc.Dimensions)
	if cc.EmbeddingMemo > 0 {
		memo, err := semcache.NewMemoizedEmbedder(embedder, cc.EmbeddingMemo)
		if err != nil {
			return nil, err
		}
		embedder = memo
	}

	var index semcache.VectorIndex
	switch cc.Index {
	case config.IndexChromem:
		chromemIndex, err := semcache.NewChromemIndex("taskorch-results")
		if err != nil {
			return nil, err
		}
		index = chromemIndex
	default:
		index = semcache.NewLinearIndex()
	}

	return semcache.New(embedder, index, semcache.Options{
		Threshold:  cc.Threshold,
		MaxEntries: cc.MaxEntries,
		Logger:     b.componentLogger("semcache"),
	})
}

func (b *builder) componentLogger(component string) logging.Logger {
	if sl, ok := b.logger.(*logging.SlogLogger); ok {
		return sl.WithComponent(component)
	}
	return b.logger
}

// Run serves until ctx is done or a component fails, then shuts everything
// down.
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.Orchestrator.Run(gctx)
	})
	g.Go(func() error {
		return r.Server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return r.Server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	return errors.Join(runErr, r.Close(context.Background()))
}

// Close flushes telemetry.
func (r *Runtime) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	var errs []error
	if err := r.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}
	if err := r.BackendMetrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
	}
	r.logger.Info("Runtime stopped")
	return errors.Join(errs...)
}
