// Package api wires together all HTTP routes for the ToolBox intake backend.
//
// Route grouping philosophy:
//   - The published tool catalog (/v1/tools, /v1/categories) is public so the
//     ToolBox client can browse tools without credentials. It is still rate
//     limited per client IP.
//   - Submission and review routes always require authentication and the
//     appropriate RBAC scope. Review and conversion additionally sit under
//     /v1/admin and need intakes:review.
//
// Everything the handlers depend on (repositories, registry client, services,
// the CI workflow bridge) is constructed here and injected; nothing is lazily
// initialized at request time.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/api/admin"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/api/intakes"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/api/tools"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/auth"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/cicd"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/config"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/repositories"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/jobs"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/middleware"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/npm"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/safego"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/services"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/validation"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	reviewReminder *jobs.PendingReviewReminder
	rateLimiters   []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.reviewReminder != nil {
		bg.reviewReminder.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Repositories share one sqlx handle over the pooled connection
	sqlxDB := sqlx.NewDb(db, "postgres")
	userRepo := repositories.NewUserRepository(sqlxDB)
	apiKeyRepo := repositories.NewAPIKeyRepository(sqlxDB)
	intakeRepo := repositories.NewIntakeRepository(sqlxDB)
	categoryRepo := repositories.NewCategoryRepository(sqlxDB)
	toolRepo := repositories.NewToolRepository(sqlxDB)
	jobRepo := repositories.NewConversionJobRepository(sqlxDB)

	// Registry client and the reachability probe used by metadata validation
	registry := npm.NewClient(cfg.Registry.BaseURL, cfg.Registry.RequestTimeout, cfg.Registry.MaxTarballBytes)
	probe := validation.NewHTTPProbe(cfg.Registry.RequestTimeout)

	notifier := jobs.NewNotifier(&cfg.Notifications)

	// The CI workflow bridge is optional: without it submissions and reviews
	// still work, only conversion refuses with a clear error.
	var workflow services.WorkflowBridge
	wfClient, err := cicd.NewClient(cfg.CICD)
	switch {
	case err == nil:
		workflow = wfClient
		log.Printf("CI workflow bridge initialized: %s/%s %s", cfg.CICD.Owner, cfg.CICD.Repo, cfg.CICD.WorkflowFile)
	case errors.Is(err, cicd.ErrNotConfigured):
		slog.Warn("CI workflow bridge not configured, conversion endpoint disabled")
	default:
		log.Fatalf("Failed to initialize CI workflow bridge: %v", err)
	}

	intakeService := services.NewIntakeService(registry, probe, intakeRepo, categoryRepo, cfg.Registry.CompatibilityPackage)
	reviewService := services.NewReviewService(intakeRepo, userRepo, notifier)
	conversionService := services.NewConversionService(intakeRepo, toolRepo, jobRepo, userRepo, workflow, notifier, 0)

	// Start the pending-review reminder; it no-ops when notifications or the
	// reminder interval are not configured.
	reviewReminder := jobs.NewPendingReviewReminder(intakeRepo, userRepo, notifier, &cfg.Notifications)
	safego.Go(func() { reviewReminder.Start(context.Background()) })

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint
	router.GET("/ready", readinessHandler(db))

	// API version
	router.GET("/version", versionHandler())

	// Initialize handlers
	authHandlers := admin.NewAuthHandlers(cfg, userRepo)
	userHandlers := admin.NewUserHandlers(userRepo)
	apiKeyHandlers := admin.NewAPIKeyHandlers(cfg, apiKeyRepo)
	reviewHandlers := admin.NewIntakeReviewHandlers(intakeService, reviewService, conversionService)

	// Initialize rate limiters
	authRateLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
	generalRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	submitRateLimiter := middleware.NewRateLimiter(middleware.SubmitRateLimitConfig())

	v1 := router.Group("/v1")
	{
		// Public authentication endpoint (no auth required, but rate limited)
		authGroup := v1.Group("/auth")
		authGroup.Use(middleware.RateLimitMiddleware(authRateLimiter))
		{
			authGroup.POST("/login", authHandlers.LoginHandler())
		}

		// Public tool catalog (no auth required, but rate limited)
		publicGroup := v1.Group("")
		publicGroup.Use(middleware.RateLimitMiddleware(generalRateLimiter))
		{
			publicGroup.GET("/tools", tools.ListToolsHandler(toolRepo))
			publicGroup.GET("/tools/:id", tools.GetToolHandler(toolRepo))
			publicGroup.GET("/categories", tools.ListCategoriesHandler(categoryRepo))
		}

		// Authenticated-only endpoints
		authenticatedGroup := v1.Group("")
		authenticatedGroup.Use(middleware.AuthMiddleware(cfg, userRepo, apiKeyRepo))
		authenticatedGroup.Use(middleware.RateLimitMiddleware(generalRateLimiter))
		{
			// Intake submission carries a stricter rate limit: every submission
			// fans out into registry fetches and a tarball download.
			authenticatedGroup.POST("/intakes",
				middleware.RateLimitMiddleware(submitRateLimiter),
				middleware.RequireScope(auth.ScopeIntakesWrite),
				intakes.SubmitHandler(intakeService))
			authenticatedGroup.GET("/intakes",
				middleware.RequireScope(auth.ScopeIntakesRead),
				intakes.ListIntakesHandler(intakeService))
			authenticatedGroup.GET("/intakes/:id",
				middleware.RequireScope(auth.ScopeIntakesRead),
				intakes.GetIntakeHandler(intakeService))

			// API keys - self-service; handlers verify ownership
			apiKeysGroup := authenticatedGroup.Group("/apikeys")
			{
				apiKeysGroup.GET("", apiKeyHandlers.ListAPIKeysHandler())
				apiKeysGroup.POST("", apiKeyHandlers.CreateAPIKeyHandler())
				apiKeysGroup.DELETE("/:id", apiKeyHandlers.RevokeAPIKeyHandler())
			}

			// Review queue and conversion (admin reviewers)
			adminGroup := authenticatedGroup.Group("/admin")
			{
				adminGroup.GET("/intakes",
					middleware.RequireScope(auth.ScopeIntakesReview),
					reviewHandlers.ListIntakesHandler())
				adminGroup.POST("/intakes/review",
					middleware.RequireScope(auth.ScopeIntakesReview),
					reviewHandlers.ReviewHandler())
				adminGroup.POST("/intakes/convert",
					middleware.RequireScope(auth.ScopeIntakesReview),
					reviewHandlers.ConvertHandler())
				adminGroup.GET("/intakes/convert/:jobId",
					middleware.RequireScope(auth.ScopeIntakesReview),
					reviewHandlers.GetConversionJobHandler())

				// User management
				usersGroup := adminGroup.Group("/users")
				{
					usersGroup.GET("", middleware.RequireScope(auth.ScopeUsersRead), userHandlers.ListUsersHandler())
					usersGroup.POST("", middleware.RequireScope(auth.ScopeUsersWrite), userHandlers.CreateUserHandler())
				}
			}
		}
	}

	bg := &BackgroundServices{
		reviewReminder: reviewReminder,
		rateLimiters:   []*middleware.RateLimiter{authRateLimiter, generalRateLimiter, submitRateLimiter},
	}

	return router, bg
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
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

// readinessHandler returns the readiness status of the service. The only hard
// dependency of the request path is the database; the registry and CI bridge
// are reached lazily per submission and their outages surface per request.
func readinessHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
