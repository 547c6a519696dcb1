// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/midpay/internal/bank"
	"github.com/mbd888/midpay/internal/chain"
	"github.com/mbd888/midpay/internal/config"
	"github.com/mbd888/midpay/internal/escrow"
	"github.com/mbd888/midpay/internal/health"
	"github.com/mbd888/midpay/internal/keys"
	"github.com/mbd888/midpay/internal/logging"
	"github.com/mbd888/midpay/internal/metrics"
	"github.com/mbd888/midpay/internal/mirror"
	"github.com/mbd888/midpay/internal/ratelimit"
	"github.com/mbd888/midpay/internal/realtime"
	"github.com/mbd888/midpay/internal/security"
	"github.com/mbd888/midpay/internal/validation"
)

// Server wraps the HTTP server and dependencies.
type Server struct {
	cfg           *config.Config
	ledger        *bank.Ledger
	chain         *chain.Chain
	keyring       *keys.Manager
	escrowService *escrow.Service
	txMirror      *mirror.Mirror
	realtimeHub   *realtime.Hub
	healthChecks  *health.Registry
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil unless DATABASE_URL is set
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Account storage: Postgres if DATABASE_URL is set, file-backed if
	// DATA_DIR is set, in-memory otherwise.
	var store bank.Store
	switch {
	case cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.db = db

		pgStore := bank.NewPostgresStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate bank store", "error", err)
		}
		store = pgStore
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.txMirror = mirror.New(db)
		if err := s.txMirror.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate mirror", "error", err)
		}
		s.logger.Info("chain mirror enabled")
	case cfg.DataDir != "":
		fs, err := bank.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		store = fs
		s.logger.Info("using file storage", "dir", cfg.DataDir)
	default:
		store = bank.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.ledger = bank.New(store)
	if err := s.ledger.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap accounts: %w", err)
	}
	s.logger.Info("accounts seeded",
		"a", bank.InitialBalanceA,
		"b", bank.InitialBalanceB,
	)

	keyring, err := keys.NewManager(bank.PartyA, bank.PartyB, bank.PartyEscrow)
	if err != nil {
		return nil, fmt.Errorf("create keyring: %w", err)
	}
	s.keyring = keyring

	s.chain = chain.New(cfg.Difficulty)
	s.logger.Info("chain initialized", "difficulty", cfg.Difficulty)

	s.realtimeHub = realtime.NewHub(s.logger)

	s.escrowService = escrow.NewService(s.ledger, s.chain, s.keyring, escrow.NewMemoryStore()).
		WithBroadcaster(s.realtimeHub)
	if s.txMirror != nil {
		s.escrowService = s.escrowService.WithMirror(s.txMirror)
	}

	s.setupHealthChecks()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
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

func (s *Server) setupHealthChecks() {
	s.healthChecks = health.NewRegistry()

	s.healthChecks.Register("chain", func(ctx context.Context) health.Status {
		if err := s.chain.Check(); err != nil {
			return health.Fail("chain", err.Error())
		}
		return health.OK("chain")
	})

	s.healthChecks.Register("ledger", func(ctx context.Context) health.Status {
		if _, err := s.ledger.GetBalance(ctx, bank.PartyEscrow); err != nil {
			return health.Fail("ledger", err.Error())
		}
		return health.OK("ledger")
	})

	if s.txMirror != nil {
		s.healthChecks.Register("mirror", func(ctx context.Context) health.Status {
			if err := s.txMirror.Ping(ctx); err != nil {
				return health.Fail("mirror", err.Error())
			}
			return health.OK("mirror")
		})
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

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
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Dashboard page
	s.router.GET("/", dashboardHandler)

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/api/v1")

	escrow.NewHandler(s.escrowService).RegisterRoutes(v1)
	bank.NewHandler(s.ledger).RegisterRoutes(v1)

	v1.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthChecks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
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
		"name":        "midpay",
		"description": "Escrow payments sealed into a proof-of-work chain",
		"version":     "0.1.0",
		"parties":     []string{bank.PartyA, bank.PartyB, bank.PartyEscrow},
		"difficulty":  s.chain.Difficulty(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
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

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"difficulty", s.cfg.Difficulty,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Escrow returns the escrow service; the MCP server shares it so both
// surfaces operate on the same chain and ledger.
func (s *Server) Escrow() *escrow.Service {
	return s.escrowService
}

// Ledger returns the account ledger.
func (s *Server) Ledger() *bank.Ledger {
	return s.ledger
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
