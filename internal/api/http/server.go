// Package http exposes the run's status and control surface: health,
// metrics, run state, recent step metrics, config dump, and
// pause/resume/stop control.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ZefanW/verl-prime/internal/infrastructure/repository/postgres"
	"github.com/ZefanW/verl-prime/internal/observability/logging"
	"github.com/ZefanW/verl-prime/internal/observability/metrics"
	"github.com/ZefanW/verl-prime/pkg/config"
)

// StepLister reads recent step metrics for the status API
type StepLister interface {
	ListSteps(ctx context.Context, runID string, limit int) ([]postgres.StepRecord, error)
}

// Server wraps the gin engine and its HTTP listener
type Server struct {
	cfg    config.ServerConfig
	engine *gin.Engine
	server *http.Server
	logger logging.Logger
}

// Dependencies wires the API's collaborators; Steps may be nil when no
// tracking store is configured
type Dependencies struct {
	Config    config.ServerConfig
	Driver    runDriver
	Steps     StepLister
	Logger    logging.Logger
	Collector *metrics.MetricsCollector
}

// NewServer builds the router and handlers
func NewServer(deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(deps.Logger))
	if deps.Collector != nil {
		engine.Use(requestMetrics(deps.Collector))
	}
	if deps.Config.EnableCORS {
		engine.Use(cors.New(cors.Config{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	if deps.Config.RateLimitPerSec > 0 {
		engine.Use(rateLimit(deps.Config.RateLimitPerSec))
	}

	h := &handlers{driver: deps.Driver, steps: deps.Steps}

	engine.GET("/healthz", h.health)
	if deps.Collector != nil {
		engine.GET("/metrics", gin.WrapH(deps.Collector.Handler()))
	}

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/run", h.runStatus)
		v1.GET("/run/config", h.runConfig)
		v1.GET("/run/steps", h.runSteps)
		v1.POST("/run/pause", h.pause)
		v1.POST("/run/resume", h.resume)
		v1.POST("/run/stop", h.stop)
	}

	return &Server{
		cfg:    deps.Config,
		engine: engine,
		logger: deps.Logger,
	}
}

// Start listens in the background and returns immediately
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: s.engine,
	}
	go func() {
		s.logger.Info("http server listening", logging.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", logging.Error(err))
		}
	}()
}

// Shutdown drains in-flight requests within the configured timeout
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Engine exposes the router for tests
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
