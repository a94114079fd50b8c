// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/fraudgate/internal/amplifier"
	"github.com/mbd888/fraudgate/internal/analytics"
	"github.com/mbd888/fraudgate/internal/audit"
	"github.com/mbd888/fraudgate/internal/circuitbreaker"
	"github.com/mbd888/fraudgate/internal/config"
	"github.com/mbd888/fraudgate/internal/decision"
	"github.com/mbd888/fraudgate/internal/events"
	"github.com/mbd888/fraudgate/internal/guard"
	"github.com/mbd888/fraudgate/internal/health"
	"github.com/mbd888/fraudgate/internal/kvstore"
	"github.com/mbd888/fraudgate/internal/logging"
	"github.com/mbd888/fraudgate/internal/metrics"
	"github.com/mbd888/fraudgate/internal/realtime"
	"github.com/mbd888/fraudgate/internal/review"
	"github.com/mbd888/fraudgate/internal/risk"
	"github.com/mbd888/fraudgate/internal/riskmemory"
	"github.com/mbd888/fraudgate/internal/security"
	"github.com/mbd888/fraudgate/internal/traces"
	"github.com/mbd888/fraudgate/internal/validation"
	"github.com/mbd888/fraudgate/internal/webhooks"
)

// Version is reported on /health and to the tracer.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	// db is nil when running on in-memory stores.
	db     *sql.DB
	kv     kvstore.Store
	redis  *kvstore.RedisStore
	ownsKV bool

	amplifier *amplifier.Amplifier
	engine    *decision.Engine
	pipeline  *audit.Pipeline
	reviews   *review.Service
	emitter   *events.MultiEmitter
	hub       *realtime.Hub
	health    *health.Registry

	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc
	pipelineDone   chan struct{}
	shutdownTraces func(context.Context) error
	drainDelay     time.Duration

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

// WithKVStore injects the shared key-value store (for testing)
func WithKVStore(kv kvstore.Store) Option {
	return func(s *Server) {
		s.kv = kv
	}
}

// WithDrainDelay overrides how long Shutdown waits for load balancers to
// stop sending traffic.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, cfg.TraceSampleRatio, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTraces = shutdownTraces

	// Durable stores (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		auditStore  audit.Store
		reviewStore review.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		auditStore = audit.NewPostgresStore(db)
		reviewStore = review.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "dsn", maskDSN(cfg.DatabaseURL))
	} else {
		auditStore = audit.NewMemoryStore()
		reviewStore = review.NewMemoryStore()
		s.logger.Warn("using in-memory audit storage (data will be lost on restart)")
	}

	// Shared KV store (Redis if REDIS_URL set, otherwise in-memory)
	if s.kv == nil {
		if cfg.RedisURL != "" {
			rs, err := kvstore.OpenRedis(ctx, cfg.RedisURL)
			if err != nil {
				s.closeStores()
				return nil, fmt.Errorf("failed to connect to redis: %w", err)
			}
			s.kv, s.redis, s.ownsKV = rs, rs, true
			s.logger.Info("using Redis key-value store", "url", maskDSN(cfg.RedisURL))
		} else {
			s.kv = kvstore.NewMemoryStore()
			s.logger.Warn("using in-memory key-value store (single instance only)")
		}
	}

	// Synchronous decision path
	g := guard.New(s.kv, guard.Config{
		DedupTTL:       cfg.DedupTTL,
		VelocityWindow: cfg.VelocityWindow,
		VelocityMax:    cfg.VelocityMax,
	}, s.logger)
	memory := riskmemory.New(s.kv, cfg.RiskMemoryTTL)
	scorer := risk.NewScorer(risk.DefaultWeights())
	s.amplifier = amplifier.New(s.loadModel(),
		amplifier.WithBudget(cfg.InferenceBudget),
		amplifier.WithBreaker(circuitbreaker.New(5, 30*time.Second)),
		amplifier.WithLogger(s.logger),
	)

	// Review workflow
	s.reviews = review.NewService(reviewStore, memory, s.logger)

	// Outbound event sinks
	s.hub = realtime.NewHub(s.logger)
	s.emitter = events.NewMultiEmitter(s.logger)
	s.emitter.SetBreaker(circuitbreaker.New(5, time.Minute))
	s.emitter.Add("log", events.NewLogEmitter(s.logger))
	s.emitter.Add("realtime", s.hub)
	if cfg.KafkaEnabled() {
		k, err := events.NewKafkaEmitter(cfg.KafkaBrokers, cfg.KafkaTopic, s.logger)
		if err != nil {
			s.logger.Warn("kafka sink disabled", "error", err)
		} else {
			s.emitter.Add("kafka", k)
			s.logger.Info("kafka sink enabled", "topic", cfg.KafkaTopic)
		}
	}
	if cfg.PubSubEnabled() {
		p, err := events.NewPubSubEmitter(ctx, cfg.PubSubProject, cfg.PubSubTopic)
		if err != nil {
			s.logger.Warn("pubsub sink disabled", "error", err)
		} else {
			s.emitter.Add("pubsub", p)
			s.logger.Info("pubsub sink enabled", "project", cfg.PubSubProject, "topic", cfg.PubSubTopic)
		}
	}

	if cfg.AlertsEnabled() {
		sev, err := webhooks.ParseSeverity(cfg.AlertMinSeverity)
		if err != nil {
			s.logger.Warn("alert severity invalid, using critical", "error", err)
			sev = events.SeverityCritical
		}
		s.emitter.Add("alerts", webhooks.NewDispatcher(cfg.AlertWebhookURL, s.logger,
			webhooks.WithSecret(cfg.AlertWebhookSecret),
			webhooks.WithMinSeverity(sev),
		))
		s.logger.Info("alert webhook enabled", "min_severity", sev)
	}

	// Asynchronous audit pipeline
	hot := audit.NewHotCache(s.kv, cfg.HotCacheSize)
	counters := audit.NewCounters(s.kv)
	auditCfg := audit.DefaultConfig()
	auditCfg.QueueSize = cfg.AuditQueueSize
	s.pipeline = audit.NewPipeline(auditStore, auditCfg,
		audit.WithHotCache(hot),
		audit.WithCounters(counters),
		audit.WithReviewQueue(s.reviews),
		audit.WithMemory(memory),
		audit.WithEmitter(s.emitter),
		audit.WithDeadLetters(s.kv),
		audit.WithLogger(s.logger),
	)

	decCfg := decision.DefaultConfig()
	decCfg.MLBlockThreshold = cfg.MLBlockThreshold
	decCfg.MLReviewThreshold = cfg.MLReviewThreshold
	decCfg.LatencyCeiling = cfg.LatencyCeiling
	decCfg.EngineVersion = cfg.EngineVersion
	decCfg.PolicyVersion = cfg.PolicyVersion
	if s.amplifier.Available() {
		decCfg.ModelVersion = s.amplifier.ModelVersion()
	}
	s.engine = decision.NewEngine(decCfg, g, memory, scorer, s.amplifier,
		decision.WithAuditor(s.pipeline),
		decision.WithLogger(s.logger),
	)

	// Health checks
	s.health = health.NewRegistry()
	s.health.Register("kv", health.PingCheck("kv", s.kv))
	if s.db != nil {
		s.health.Register("postgres", health.DBCheck("postgres", s.db))
	}
	s.health.RegisterOptional("model", health.ModelCheck(s.amplifier))

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes(analytics.NewService(counters, hot, auditStore), auditStore)

	s.healthy.Store(true)

	return s, nil
}

// loadModel loads the amplifier model. Any failure leaves the engine in
// rules-only mode rather than refusing to start.
func (s *Server) loadModel() amplifier.Classifier {
	if !s.cfg.MLEnabled {
		s.logger.Info("amplifier disabled, running rules only")
		return nil
	}
	m, err := amplifier.LoadLogisticModel(s.cfg.ModelPath)
	if err != nil {
		s.logger.Warn("amplifier model unavailable, running rules only",
			"path", s.cfg.ModelPath,
			"error", err,
		)
		return nil
	}
	s.logger.Info("amplifier model loaded", "model_version", m.Version())
	return m
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
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

	// CORS for the dashboard
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

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
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
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
			logger.Debug("request completed",
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

func (s *Server) setupRoutes(analyticsSvc *analytics.Service, auditStore audit.Store) {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	decision.NewHandler(s.engine).RegisterRoutes(v1)
	analytics.NewHandler(analyticsSvc).RegisterRoutes(v1)
	review.NewHandler(s.reviews).RegisterRoutes(v1)
	audit.NewHandler(auditStore, s.pipeline).RegisterRoutes(v1)

	v1.GET("/stream", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	v1.GET("/stream/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Engine    string          `json:"engine_version"`
	Policy    string          `json:"policy_version"`
	Model     string          `json:"model_version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Audit     gin.H           `json:"audit"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	report := s.health.CheckAll(c.Request.Context())

	httpStatus := http.StatusOK
	if !report.Healthy() {
		httpStatus = http.StatusServiceUnavailable
	}

	cfg := s.engine.Config()
	c.JSON(httpStatus, HealthResponse{
		Status:  string(report.State),
		Version: Version,
		Engine:  cfg.EngineVersion,
		Policy:  cfg.PolicyVersion,
		Model:   s.amplifier.ModelVersion(),
		Checks:  report.Checks,
		Audit: gin.H{
			"queue_depth": s.pipeline.Len(),
			"processed":   s.pipeline.Processed(),
			"failed":      s.pipeline.Failed(),
		},
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// startBackground launches the audit consumer, the realtime hub and the DB
// stats collector. They stop when ctx is cancelled.
func (s *Server) startBackground(ctx context.Context) {
	s.pipelineDone = make(chan struct{})
	go func() {
		defer close(s.pipelineDone)
		s.pipeline.Run(ctx)
	}()

	go s.hub.Run(ctx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(ctx, s.db, 15*time.Second)
	}
}

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

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"engine_version", s.cfg.EngineVersion,
			"policy_version", s.cfg.PolicyVersion,
			"model_version", s.amplifier.ModelVersion(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.startBackground(runCtx)

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
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server. In-flight requests finish first so
// their decisions reach the audit queue, then the audit consumer drains.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Stop background goroutines; the pipeline drains what is queued
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	if s.pipelineDone != nil {
		select {
		case <-s.pipelineDone:
			s.logger.Info("audit pipeline drained",
				"processed", s.pipeline.Processed(),
				"failed", s.pipeline.Failed(),
			)
		case <-ctx.Done():
			s.logger.Error("audit pipeline did not drain in time", "queued", s.pipeline.Len())
		}
	}

	if err := s.emitter.Close(); err != nil {
		s.logger.Error("event sink close error", "error", err)
	}

	s.closeStores()

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

func (s *Server) closeStores() {
	if s.ownsKV && s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
