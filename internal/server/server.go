// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ShahiTechnovation/proofScore/internal/activity"
	"github.com/ShahiTechnovation/proofScore/internal/attest"
	"github.com/ShahiTechnovation/proofScore/internal/config"
	"github.com/ShahiTechnovation/proofScore/internal/events"
	"github.com/ShahiTechnovation/proofScore/internal/health"
	"github.com/ShahiTechnovation/proofScore/internal/idgen"
	"github.com/ShahiTechnovation/proofScore/internal/ledger"
	"github.com/ShahiTechnovation/proofScore/internal/logging"
	"github.com/ShahiTechnovation/proofScore/internal/metrics"
	"github.com/ShahiTechnovation/proofScore/internal/pipeline"
	"github.com/ShahiTechnovation/proofScore/internal/ratelimit"
	"github.com/ShahiTechnovation/proofScore/internal/retry"
	"github.com/ShahiTechnovation/proofScore/internal/scoring"
	"github.com/ShahiTechnovation/proofScore/internal/security"
	"github.com/ShahiTechnovation/proofScore/internal/submit"
	"github.com/ShahiTechnovation/proofScore/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	node         *ledger.Client
	source       activity.Source
	store        *activity.Store
	orchestrator *pipeline.Orchestrator
	hub          *events.Hub
	checks       *health.Registry
	rateLimiter  *ratelimit.Limiter
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSource overrides the on-ledger metrics source (for testing)
func WithSource(src activity.Source) Option {
	return func(s *Server) {
		s.source = src
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	logFormat := "text"
	if cfg.IsProduction() {
		logFormat = "json"
	}

	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, logFormat),
	}

	// Apply options first (may set source/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Ledger node client, shared by the metrics source and the submitter
	s.node = ledger.NewClient(cfg.LedgerURL, ledger.WithLogger(s.logger))

	// Metrics source (on-ledger unless injected)
	if s.source == nil {
		s.source = activity.NewLedgerSource(s.node, cfg.ProgramID)
	}

	// Cached metrics store
	s.store = activity.NewStore(s.source,
		activity.WithCache(cfg.CacheCapacity, cfg.CacheTTL),
		activity.WithLogger(s.logger),
	)

	// Scoring engine with the default policy
	engine := scoring.NewEngine()

	// Attestation generator over the simulated prover
	prover := attest.NewSimulatedProver(attest.WithProveLatency(cfg.ProverLatency))
	generator := attest.NewGenerator(prover, attest.WithGeneratorLogger(s.logger))

	// Ledger submitter
	submitter, err := submit.New(s.node, submit.Config{
		Program:  cfg.ProgramID,
		MinScore: cfg.MinScore,
	},
		submit.WithLogger(s.logger),
		submit.WithConfirmPolicy(retry.Policy{
			Interval:    cfg.ConfirmInterval,
			MaxAttempts: cfg.ConfirmAttempts,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create submitter: %w", err)
	}

	// Event hub for WebSocket streaming
	s.hub = events.NewHub(s.logger)
	s.logger.Info("event streaming enabled")

	// Pipeline orchestrator
	s.orchestrator = pipeline.NewOrchestrator(s.store, engine, generator, submitter,
		pipeline.WithNotifier(s.hub),
		pipeline.WithLogger(s.logger),
	)

	// Health checks
	s.checks = health.NewRegistry()
	s.checks.Register("node", health.Simple("node", s.node.Health))

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.FromRPS(s.cfg.RateLimitRPS))
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		// Log level based on status code
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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info endpoint
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	h := pipeline.NewHandler(s.orchestrator, s.store, s.cfg.PrivateKey)
	h.RegisterRoutes(v1)
	h.RegisterAdminRoutes(v1)

	// WebSocket event stream (step progress and issued scores)
	v1.GET("/events", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "proofScore",
		"description": "Credit score attestations for ledger accounts",
		"version":     "0.1.0",
		"program":     s.cfg.ProgramID,
		"scoreRange":  gin.H{"min": scoring.BaseScore, "max": scoring.MaxScore},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"node", s.cfg.LedgerURL,
			"program", s.cfg.ProgramID,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start event hub
	go s.hub.Run(runCtx)

	// Sample cache occupancy into Prometheus gauges
	go metrics.StartCacheStatsCollector(runCtx, s.store, 15*time.Second)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, gauge collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
