// Package api wires the OVPN manager handlers and middleware into the HTTP router.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ovpn-manager/ovpn-manager/internal/api/handlers"
	"github.com/ovpn-manager/ovpn-manager/internal/api/middleware"
	"github.com/ovpn-manager/ovpn-manager/internal/auth"
	"github.com/ovpn-manager/ovpn-manager/internal/config"
	"github.com/ovpn-manager/ovpn-manager/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// TokenStore is the download token lifecycle used by the handlers
type TokenStore interface {
	handlers.TokenRetriever
	handlers.TokenCleaner
	handlers.TokenLister
}

// Dependencies are the services behind the HTTP endpoints
type Dependencies struct {
	Sessions      *session.Manager
	Authenticator handlers.Authenticator
	Issuer        handlers.Issuer
	Tokens        TokenStore
	DB            handlers.Pinger
	OptionSets    []string
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps *Dependencies, logger *zap.Logger) *gin.Engine {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.SetHTMLTemplate(handlers.Templates())

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.CORSMiddleware(cfg.Security))

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(deps.Authenticator, deps.Issuer, deps.Sessions, logger)
	downloadHandler := handlers.NewDownloadHandler(deps.Tokens, logger)
	taskHandler := handlers.NewTaskHandler(deps.Tokens, cfg.Tokens.LifetimeHours, logger)
	adminHandler := handlers.NewAdminHandler(deps.Tokens, logger)
	healthHandler := handlers.NewHealthHandler(deps.DB, logger)
	pageHandler := handlers.NewPageHandler(deps.OptionSets)

	// Browser flow
	router.GET("/", middleware.RequireSession(deps.Sessions), pageHandler.Index)
	router.GET("/login", authHandler.Login)
	router.GET("/auth", middleware.ConcurrencyLimit(cfg.Server.MaxConcurrentIssuance), authHandler.Callback)
	router.GET("/download-landing/:token", downloadHandler.Landing)
	router.GET("/download", downloadHandler.Download)
	router.GET("/error", pageHandler.Error)

	// Scheduled tasks
	tasks := router.Group("/tasks")
	tasks.Use(middleware.AuthMiddleware(cfg), middleware.RequireRole(auth.RoleTask))
	{
		tasks.POST("/cleanup-tokens", taskHandler.CleanupTokens)
	}

	// Administration
	admin := router.Group("/admin")
	admin.Use(middleware.RequireAdminGroup(deps.Sessions, cfg.OIDC.AdminGroup, logger))
	{
		admin.GET("/status", adminHandler.Status)
	}

	// Operations
	router.GET("/healthz", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// NewHandler returns the router wrapped in session loading and saving
func NewHandler(cfg *config.Config, deps *Dependencies, logger *zap.Logger) http.Handler {
	return deps.Sessions.LoadAndSave(NewRouter(cfg, deps, logger))
}
