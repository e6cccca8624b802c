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

	"github.com/closedesk/closedesk/internal/access"
	"github.com/closedesk/closedesk/internal/billing"
	"github.com/closedesk/closedesk/internal/config"
	"github.com/closedesk/closedesk/internal/crm"
	"github.com/closedesk/closedesk/internal/logging"
	"github.com/closedesk/closedesk/internal/metrics"
	"github.com/closedesk/closedesk/internal/ratelimit"
	"github.com/closedesk/closedesk/internal/realtime"
	"github.com/closedesk/closedesk/internal/security"
	"github.com/closedesk/closedesk/internal/tenant"
	"github.com/closedesk/closedesk/internal/validation"
	"github.com/closedesk/closedesk/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	tenants      tenant.Store
	resolver     *tenant.Resolver
	billingSvc   *billing.Service
	accessSvc    *access.Service
	accessStore  access.Store
	crmStore     crm.Store
	webhookStore webhooks.Store
	emitter      *webhooks.Emitter
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
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

// WithTenantStore injects a tenant store (for testing)
func WithTenantStore(store tenant.Store) Option {
	return func(s *Server) {
		s.tenants = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var billingStore billing.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		tenantStore := tenant.NewPostgresStore(db)
		if err := tenantStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate tenant store", "error", err)
		}
		if s.tenants == nil {
			s.tenants = tenantStore
		}

		pgBilling := billing.NewPostgresStore(db)
		if err := pgBilling.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate billing store", "error", err)
		}
		billingStore = pgBilling

		accessStore := access.NewPostgresStore(db)
		if err := accessStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate access store", "error", err)
		}
		s.accessStore = accessStore

		crmStore := crm.NewPostgresStore(db)
		if err := crmStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate crm store", "error", err)
		}
		s.crmStore = crmStore

		webhookStore := webhooks.NewPostgresStore(db)
		if err := webhookStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate webhook store", "error", err)
		}
		s.webhookStore = webhookStore
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		if s.tenants == nil {
			s.tenants = tenant.NewMemoryStore()
		}
		billingStore = billing.NewMemoryStore()
		s.accessStore = access.NewMemoryStore()
		s.crmStore = crm.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
	}

	// Seed the built-in plan catalogue. Existing rows win.
	for i := range billing.TemplatePlans {
		p := billing.TemplatePlans[i]
		if _, err := billingStore.GetPlan(ctx, p.ID); errors.Is(err, billing.ErrPlanNotFound) {
			now := time.Now().UTC()
			p.CreatedAt, p.UpdatedAt = now, now
			if err := billingStore.CreatePlan(ctx, &p); err != nil {
				s.logger.Warn("failed to seed plan", "plan_id", p.ID, "error", err)
			}
		}
	}

	// Tenant resolution
	s.resolver = tenant.NewResolver(s.tenants,
		tenant.WithDefaultTenant(cfg.DefaultTenantID),
		tenant.WithReservedSubdomains(cfg.ReservedSubdomains),
	)

	// Billing / feature gate
	billingOpts := []billing.ServiceOption{}
	if cfg.StripeSecretKey != "" {
		billingOpts = append(billingOpts, billing.WithStripeKey(cfg.StripeSecretKey))
		s.logger.Info("stripe provisioning enabled")
	}
	s.billingSvc = billing.NewService(s.tenants, billingStore, billingOpts...)

	// Users / permission gate
	s.accessSvc = access.NewService(s.accessStore)

	// Outbound webhooks for CRM events
	s.emitter = webhooks.NewEmitter(webhooks.NewDispatcher(s.webhookStore), s.logger)

	// Realtime hub for WebSocket streaming of CRM events
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

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

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Tenant resolution (before rate limiting so buckets are per tenant)
	s.router.Use(tenant.Middleware(s.resolver))

	// Rate limiting, keyed by tenant
	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	limiterCfg.BurstSize = s.cfg.RateLimitRPM / 10
	if limiterCfg.BurstSize < 10 {
		limiterCfg.BurstSize = 10
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Caller identity (set by the auth proxy)
	s.router.Use(access.Identify())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
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

// requireAdmin gates platform-admin routes on the X-Admin-Secret header.
// With no secret configured, admin routes are open in development and
// closed in production.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsProduction() {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "admin_disabled",
					"message": "Admin API is not configured.",
				})
				return
			}
			c.Next()
			return
		}
		if c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication_required",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// WebSocket for real-time CRM events, bound to the resolved tenant
	s.router.GET("/ws", tenant.RequireActiveTenant(), func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request, tenant.IDFromContext(c))
	})

	tenantHandler := tenant.NewHandler(s.tenants, s.billingSvc)
	billingHandler := billing.NewHandler(s.billingSvc)
	accessHandler := access.NewHandler(s.accessSvc, s.accessStore)
	crmHandler := crm.NewHandler(s.crmStore, s.realtimeHub, s.emitter)
	webhookHandler := webhooks.NewHandler(s.webhookStore)

	// V1 API group
	v1 := s.router.Group("/api/v1")

	// PUBLIC ROUTES (no tenant required)
	billingHandler.RegisterRoutes(v1) // GET /plans
	v1.GET("/tenant", s.currentTenantHandler)

	// TENANT ROUTES (resolved, active tenant required)
	scoped := v1.Group("")
	scoped.Use(tenant.RequireActiveTenant())
	{
		billingHandler.RegisterTenantRoutes(scoped) // subscription, usage

		// CRM surface, gated on the crm plan feature
		crmGroup := scoped.Group("")
		crmGroup.Use(billing.RequireFeature(s.billingSvc, billing.FeatureCRM))
		crmHandler.RegisterRoutes(crmGroup)

		// Pipeline analytics need their own plan feature
		analytics := scoped.Group("")
		analytics.Use(billing.RequireFeature(s.billingSvc, billing.FeaturePipelineAnalytics))
		crmHandler.RegisterAnalyticsRoutes(analytics)

		// User and role management, locked behind the permission gate
		users := scoped.Group("")
		users.Use(access.RequirePermission(s.accessSvc, access.PermManageUsers))
		accessHandler.RegisterRoutes(users)

		// Outbound webhooks ride on the apiAccess plan feature
		hooks := scoped.Group("")
		hooks.Use(billing.RequireFeature(s.billingSvc, billing.FeatureAPIAccess))
		webhookHandler.RegisterRoutes(hooks)

		// Partner surface: customer provisioning, branding, stats.
		// Branding/custom-domain work is the whiteLabel feature.
		partner := scoped.Group("")
		partner.Use(billing.RequireFeature(s.billingSvc, billing.FeatureWhiteLabel))
		tenantHandler.RegisterPartnerRoutes(partner)
	}

	// PLATFORM ADMIN ROUTES (X-Admin-Secret)
	admin := s.router.Group("/admin")
	admin.Use(s.requireAdmin())
	{
		tenantHandler.RegisterAdminRoutes(admin)
		billingHandler.RegisterAdminRoutes(admin)
	}
}

// currentTenantHandler returns the resolved tenant, if any. Useful for
// clients to confirm which tenant their host/header resolves to.
func (s *Server) currentTenantHandler(c *gin.Context) {
	t, ok := tenant.FromContext(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "tenant_required",
			"message": "No tenant could be resolved for this request.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
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
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
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
		"name":        "Closedesk",
		"description": "Multi-tenant sales CRM platform",
		"version":     "0.1.0",
		"baseDomain":  s.cfg.BaseDomain,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
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
			"base_domain", s.cfg.BaseDomain,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// DB stats for Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

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

	// Cancel the context for background goroutines (hub, collectors)
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

	// Close database connection pool
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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
