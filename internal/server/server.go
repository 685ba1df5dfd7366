// Package server exposes the reconciliation engine over HTTP: state and
// history reads, dispute lookups, evidence resolution, and a WebSocket
// event stream.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meridianlabs/escrowsync/internal/archive"
	"github.com/meridianlabs/escrowsync/internal/config"
	"github.com/meridianlabs/escrowsync/internal/escrow"
	"github.com/meridianlabs/escrowsync/internal/evidence"
	"github.com/meridianlabs/escrowsync/internal/health"
	"github.com/meridianlabs/escrowsync/internal/idgen"
	"github.com/meridianlabs/escrowsync/internal/logging"
	"github.com/meridianlabs/escrowsync/internal/metrics"
	"github.com/meridianlabs/escrowsync/internal/mirror"
	"github.com/meridianlabs/escrowsync/internal/ratelimit"
	"github.com/meridianlabs/escrowsync/internal/security"
)

// Server wraps the HTTP server and its dependencies. The escrow service,
// dispute resolver, and broker are mandatory; archive, evidence, and
// mirror are optional and their endpoints answer 503 when absent.
type Server struct {
	cfg      *config.Config
	svc      *escrow.Service
	resolver *escrow.DisputeResolver
	broker   *escrow.Broker
	store    archive.Store
	evidence *evidence.Client
	mirror   *mirror.Client
	checks   *health.Registry

	router  *gin.Engine
	httpSrv *http.Server
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	ready atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithArchive enables the archived-event endpoints.
func WithArchive(store archive.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithEvidence enables the evidence resolution endpoint.
func WithEvidence(c *evidence.Client) Option {
	return func(s *Server) { s.evidence = c }
}

// WithMirror enables the address transaction lookup endpoint.
func WithMirror(c *mirror.Client) Option {
	return func(s *Server) { s.mirror = c }
}

// WithHealthRegistry sets the subsystem health registry.
func WithHealthRegistry(r *health.Registry) Option {
	return func(s *Server) { s.checks = r }
}

// New creates a server.
func New(cfg *config.Config, svc *escrow.Service, resolver *escrow.DisputeResolver, broker *escrow.Broker, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		resolver: resolver,
		broker:   broker,
		logger:   logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.checks == nil {
		s.checks = health.NewRegistry(0)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	limiterCfg := ratelimit.DefaultConfig()
	if cfg.RateLimitRPM > 0 {
		limiterCfg.RequestsPerMinute = cfg.RateLimitRPM
	}
	if cfg.RateLimitBurst > 0 {
		limiterCfg.BurstSize = cfg.RateLimitBurst
	}
	s.limiter = ratelimit.New(limiterCfg)
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(nil))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.limiter.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws/events", s.eventStreamHandler)

	v1 := s.router.Group("/v1")
	v1.GET("/transactions/:id/state", s.transactionStateHandler)
	v1.GET("/transactions/:id/history", s.transactionHistoryHandler)
	v1.GET("/transactions/:id/events", s.archivedEventsHandler)
	v1.GET("/disputes/:id/transaction", s.disputeTransactionHandler)
	v1.GET("/evidence", s.evidenceHandler)
	v1.GET("/address/:address/transactions", s.addressTransactionsHandler)
	v1.GET("/events/recent", s.recentEventsHandler)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// SetReady flips the readiness probe. The main wires this once the
// watcher and clients are up.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.ready.Store(true)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests with a deadline.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.limiter.Stop()
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

func generateRequestID() string {
	return idgen.Hex(8)
}
