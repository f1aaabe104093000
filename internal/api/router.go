// Package api wires together all HTTP routes for the sales-assistant backend.
//
// Route grouping:
//   - /health and /version are unauthenticated and carry no rate limit.
//   - /api/v1/ routes resolve the caller identity (an optional bearer JWT),
//     are rate limited per preset and are written to the access log.
//   - The AI endpoints additionally require an HMAC request signature when a
//     signing secret is configured.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/pablocopete/IBM/internal/aigateway"
	"github.com/pablocopete/IBM/internal/apierror"
	"github.com/pablocopete/IBM/internal/api/intel"
	"github.com/pablocopete/IBM/internal/api/security"
	"github.com/pablocopete/IBM/internal/audit"
	"github.com/pablocopete/IBM/internal/config"
	"github.com/pablocopete/IBM/internal/db/repositories"
	"github.com/pablocopete/IBM/internal/egress"
	"github.com/pablocopete/IBM/internal/jobs"
	"github.com/pablocopete/IBM/internal/middleware"
	"github.com/pablocopete/IBM/internal/monitor"
	"github.com/pablocopete/IBM/internal/ratelimit"
	"github.com/pablocopete/IBM/internal/safego"
)

// Version is reported by /version. It is overridden at build time.
var Version = "0.1.0"

// SecurityMonitor is everything the routes need from *monitor.Monitor.
type SecurityMonitor interface {
	security.Monitor
	middleware.AccessRecorder
	middleware.RateLimitReporter
}

// Pinger reports database reachability for the health check.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services are the collaborators the routes are built from.
type Services struct {
	DB       Pinger
	Monitor  SecurityMonitor
	Analyzer intel.Analyzer
	// Limiter is nil when rate limiting is disabled.
	Limiter *ratelimit.Limiter
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	sweeper   *ratelimit.Sweeper
	retention *jobs.RetentionJob
	alerts    *audit.MultiShipper
	redis     *ratelimit.RedisStore
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweeper.Stop()
	}
	if bg.retention != nil {
		bg.retention.Stop()
	}
	if bg.alerts != nil {
		if err := bg.alerts.Close(); err != nil {
			slog.Warn("failed to close alert shippers", "error", err)
		}
	}
	if bg.redis != nil {
		if err := bg.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter builds the repositories, monitor, rate limiter, egress guard and AI
// gateway from cfg, starts the background jobs and returns the configured engine.
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	bg := &BackgroundServices{}

	// Security events use database/sql directly; the other tables go through sqlx.
	sqlxDB := sqlx.NewDb(db, "postgres")
	eventRepo := repositories.NewSecurityEventRepository(db)
	attemptRepo := repositories.NewAuthAttemptRepository(sqlxDB, repositories.LockoutPolicy{
		Threshold: cfg.Monitor.LockoutThreshold,
		Window:    cfg.Monitor.LockoutWindow,
	})
	accessRepo := repositories.NewAccessLogRepository(sqlxDB)

	alerts, err := audit.NewMultiShipper(shipperConfigs(cfg.Audit))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize alert shippers: %w", err)
	}
	bg.alerts = alerts
	slog.Info("security alert shippers configured", "count", alerts.Len())

	mon := monitor.New(monitor.Stores{
		Events:   eventRepo,
		Attempts: attemptRepo,
		Access:   accessRepo,
		Lockout:  attemptRepo,
	}, monitor.Config{
		UnusualActivityThreshold: cfg.Monitor.UnusualActivityThreshold,
		UnusualActivityWindow:    cfg.Monitor.UnusualActivityWindow,
		FailedLoginThreshold:     cfg.Monitor.FailedLoginThreshold,
		FailedLoginWindow:        cfg.Monitor.FailedLoginWindow,
	}, monitor.WithAlerter(alerts))

	var limiter *ratelimit.Limiter
	if cfg.Security.RateLimiting.Enabled {
		store, err := newRateLimitStore(cfg, bg)
		if err != nil {
			bg.Shutdown()
			return nil, nil, err
		}
		limiter = ratelimit.New(store)

		bg.sweeper = ratelimit.NewSweeper(store, cfg.Security.RateLimiting.SweepInterval)
		safego.Go("rate-limit-sweeper", func() { bg.sweeper.Start(context.Background()) })
	} else {
		slog.Warn("rate limiting is disabled")
	}

	guard := egress.NewGuard(egressWhitelist(cfg.Security.Egress.Whitelist),
		egress.WithReporter(mon),
		egress.WithTimeout(cfg.Security.Egress.Timeout),
	)
	gateway := aigateway.NewClient(guard, aigateway.Config{
		URL:    cfg.AIGateway.URL,
		APIKey: cfg.AIGateway.APIKey,
		Model:  cfg.AIGateway.Model,
	})
	if cfg.AIGateway.APIKey == "" {
		slog.Warn("AI gateway API key is not configured; AI endpoints will fail")
	}

	bg.retention = jobs.NewRetentionJob([]jobs.RetentionTarget{
		{Table: "security_events", Purger: eventRepo},
		{Table: "auth_attempts", Purger: attemptRepo},
		{Table: "api_access_log", Purger: accessRepo},
	}, cfg.Monitor.RetentionDays, cfg.Monitor.CleanupInterval)
	safego.Go("retention-job", func() { bg.retention.Start(context.Background()) })

	router := newEngine(cfg, Services{
		DB:       db,
		Monitor:  mon,
		Analyzer: aigateway.NewService(gateway),
		Limiter:  limiter,
	})
	return router, bg, nil
}

func newRateLimitStore(cfg *config.Config, bg *BackgroundServices) (ratelimit.Store, error) {
	switch backend := cfg.Security.RateLimiting.Backend; backend {
	case "", "memory":
		slog.Info("rate limit store initialised", "backend", "memory")
		return ratelimit.NewMemoryStore(), nil
	case "redis":
		store, err := ratelimit.NewRedisStore(ratelimit.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis rate limit store: %w", err)
		}
		bg.redis = store
		slog.Info("rate limit store initialised", "backend", "redis", "addr", cfg.Redis.Addr)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend: %s", backend)
	}
}

func egressWhitelist(entries []config.WhitelistEntry) []egress.WhitelistEntry {
	out := make([]egress.WhitelistEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, egress.WhitelistEntry{
			Domain:         e.Domain,
			Description:    e.Description,
			RequiresTLS:    e.RequiresTLS,
			AllowedMethods: e.AllowedMethods,
		})
	}
	return out
}

func shipperConfigs(cfg config.AuditConfig) []audit.ShipperConfig {
	out := make([]audit.ShipperConfig, 0, len(cfg.Shippers))
	for _, s := range cfg.Shippers {
		sc := audit.ShipperConfig{Enabled: s.Enabled, Type: s.Type}
		if s.Webhook != nil {
			sc.Webhook = &audit.WebhookConfig{
				URL:     s.Webhook.URL,
				Headers: s.Webhook.Headers,
				Timeout: time.Duration(s.Webhook.TimeoutSecs) * time.Second,
			}
		}
		if s.File != nil {
			sc.File = &audit.FileConfig{Path: s.File.Path}
		}
		out = append(out, sc)
	}
	return out
}

// newEngine registers the middleware chain and routes.
func newEngine(cfg *config.Config, svc Services) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler(svc.DB))
	router.GET("/version", versionHandler())

	// /auth/attempts is written by the auth backend only. It always requires a
	// signature and is closed when no secret is configured.
	signed := func(c *gin.Context) { c.Next() }
	serverOnly := func(c *gin.Context) {
		apierror.Respond(c, apierror.New(apierror.KindInvalidRequest, apierror.MsgInvalidRequest,
			errors.New("request signing is not configured")))
	}
	if secret := cfg.Security.Signing.Secret; secret != "" {
		signed = middleware.SignatureMiddleware(secret)
		serverOnly = signed
	} else {
		slog.Warn("request signing secret is not configured; AI endpoints accept unsigned requests and /auth/attempts is disabled")
	}

	limit := func(preset string) gin.HandlerFunc {
		if svc.Limiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		p := cfg.Security.RateLimiting.Preset(preset)
		return middleware.RateLimitMiddleware(svc.Limiter, middleware.RateLimitPolicy{
			Preset: preset,
			Config: ratelimit.Config{MaxRequests: p.MaxRequests, Window: p.Window},
		}, svc.Monitor)
	}
	accessLog := middleware.AccessLogMiddleware(svc.Monitor)

	intelHandler := intel.NewHandler(svc.Analyzer)
	securityHandler := security.NewHandler(svc.Monitor)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.IdentityMiddleware())
	{
		aiLimit := limit(config.PresetAIAnalysis)
		v1.POST("/research-company", signed, aiLimit, accessLog, intelHandler.ResearchCompany)
		v1.POST("/analyze-attendees", signed, aiLimit, accessLog, intelHandler.AnalyzeAttendees)
		v1.POST("/sales-intelligence", signed, aiLimit, accessLog, intelHandler.GenerateSalesIntelligence)

		v1.POST("/auth/attempts", serverOnly, limit(config.PresetAuth), accessLog, securityHandler.RecordAuthAttempt)
		v1.GET("/security/events", limit(config.PresetStandard), accessLog, securityHandler.ListSecurityEvents)
	}

	return router
}

// @Summary      Health check
// @Description  Returns the health status of the service including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// Headers the browser client may send and read across origins.
const (
	corsAllowHeaders  = "authorization, x-client-info, apikey, content-type, x-request-timestamp, x-request-signature, x-request-id"
	corsExposeHeaders = "x-ratelimit-limit, x-ratelimit-remaining, x-ratelimit-reset, retry-after, x-request-id"
)

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, OPTIONS"
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed, wildcard := false, false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" {
				allowed, wildcard = true, true
				break
			}
			if allowedOrigin == origin {
				allowed = true
			}
		}

		if allowed {
			if wildcard {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			c.Header("Access-Control-Expose-Headers", corsExposeHeaders)
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
