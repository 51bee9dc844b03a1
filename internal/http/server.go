// Package http provides the HTTP API for taskrelay.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/lifecycle"
	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/reminder"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Sweeper runs one reminder sweep on demand.
type Sweeper interface {
	RunSweep(ctx context.Context) (*reminder.SweepResult, error)
}

// HealthFunc reports whether a backing dependency is reachable.
type HealthFunc func(ctx context.Context) error

// Server provides HTTP endpoints for taskrelay.
type Server struct {
	echo     *echo.Echo
	svc      *lifecycle.Service
	sweeper  Sweeper
	logger   *logging.Logger
	config   *Config
	gatherer prometheus.Gatherer
	health   HealthFunc
	metrics  *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer exposes the gatherer's metrics on GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithHealthCheck makes GET /health report the result of fn.
func WithHealthCheck(fn HealthFunc) Option {
	return func(s *Server) {
		s.health = fn
	}
}

// WithHTTPMetrics records request metrics with m.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates a new HTTP server. sweeper may be nil, in which case
// POST /api/v1/reminders/run answers 501.
func NewServer(svc *lifecycle.Service, sweeper Sweeper, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("lifecycle service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		svc:     svc,
		sweeper: sweeper,
		logger:  logger.Named("http"),
		config:  cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.HTTPErrorHandler = s.errorHandler

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}

	s.registerRoutes()

	return s, nil
}

// requestLogger puts the request id on the request context and logs each
// request once it has been handled.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(req.Context(), id)
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/tasks", s.handleSubmit)
	v1.GET("/tasks/:id", s.handleGet)
	v1.GET("/tasks/:id/audit", s.handleAudit)

	v1.POST("/tasks/:id/approve", s.action(s.approve))
	v1.POST("/tasks/:id/reject", s.action(s.reject))
	v1.POST("/tasks/:id/complete", s.action(s.complete))
	v1.POST("/tasks/:id/confirm", s.action(s.confirm))
	v1.POST("/tasks/:id/extension", s.action(s.requestExtension))
	v1.POST("/tasks/:id/extension/resolve", s.action(s.resolveExtension))
	v1.POST("/tasks/:id/read", s.action(s.markRead))

	v1.POST("/reminders/run", s.handleRunSweep)
}

// handleHealth reports ok unless the configured health check fails.
func (s *Server) handleHealth(c echo.Context) error {
	if s.health != nil {
		if err := s.health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		}
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
