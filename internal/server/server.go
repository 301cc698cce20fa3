// Package server exposes the orchestrator over HTTP: task submission and
// polling, model administration, a websocket event stream and /metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskorch/internal/logging"
	"taskorch/internal/orchestrator"
	"taskorch/internal/registry"
	"taskorch/internal/task"
)

// Service is the orchestrator surface the HTTP layer drives.
type Service interface {
	SubmitTask(ctx context.Context, sub task.Submission) (string, error)
	TaskStatus(taskID string) (orchestrator.Status, bool)
	Snapshot() orchestrator.Snapshot
	Models() []registry.Descriptor
	RegisterModel(d registry.Descriptor) error
	Subscribe(buffer int) (<-chan orchestrator.Event, func())
}

// Config holds listener settings.
type Config struct {
	Addr         string
	EnableCORS   bool
	AdminToken   string
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig mirrors the config package defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Options carries optional collaborators.
type Options struct {
	Logger logging.Logger
	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
	Version  string
}

// Server is the HTTP front end.
type Server struct {
	svc        Service
	cfg        Config
	logger     logging.Logger
	gatherer   prometheus.Gatherer
	version    string
	startTime  time.Time
	engine     *gin.Engine
	httpServer *http.Server
	wsUpgrader websocket.Upgrader

	// done is closed on Shutdown so open websocket streams end.
	done     chan struct{}
	doneOnce sync.Once
	streams  sync.WaitGroup
}

// New builds the router. Call Start to listen or use Handler directly.
func New(svc Service, cfg Config, opts Options) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		svc:       svc,
		cfg:       cfg,
		logger:    logging.OrNop(opts.Logger),
		gatherer:  opts.Gatherer,
		version:   opts.Version,
		startTime: time.Now(),
		engine:    gin.New(),
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.version == "" {
		s.version = "dev"
	}

	s.engine.Use(RequestLogger(s.logger))
	s.engine.Use(RecoveryMiddleware(s.logger))
	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		corsConfig.AllowWebSockets = true
		s.engine.Use(cors.New(corsConfig))
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/api/events", s.handleEvents)

	api := s.engine.Group("/api")
	api.Use(JSONMiddleware())

	tasks := api.Group("/tasks")
	{
		tasks.POST("", s.handleSubmit)
		tasks.GET("/:id", s.handleTaskStatus)
	}

	api.GET("/stats", s.handleStats)

	models := api.Group("/models")
	{
		models.GET("", s.handleListModels)
		models.PUT("/:name", AdminAuthMiddleware(s.cfg.AdminToken), s.handleRegisterModel)
	}
}

// Handler returns the router for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server on %s", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown closes event streams and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	s.doneOnce.Do(func() { close(s.done) })

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down HTTP server: %v", err)
		return err
	}
	s.streams.Wait()
	return nil
}
