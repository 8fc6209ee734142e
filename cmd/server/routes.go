package main

import (
	"github.com/dkomics/church-portal/internal/middleware"
	"github.com/dkomics/church-portal/pkg/logger"
	"github.com/dkomics/church-portal/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Client addresses come from X-Forwarded-For only behind these proxies
	if err := r.SetTrustedProxies(svc.cfg.Server.TrustedProxies); err != nil {
		logger.Fatalf("Invalid trusted proxies: %v", err)
	}

	// Middleware
	r.Use(metrics.Instrument(), logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.Server.AllowedOrigins))

	// Rate limiter for the login route
	loginLimiter := middleware.NewRateLimiter(1, 10)
	svc.loginLimiter = loginLimiter

	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	{
		// Auth routes (public)
		api.POST("/auth/login", loginLimiter.Middleware(), svc.authHandler.Login)

		// Protected routes
		protected := api.Group("")
		protected.Use(
			middleware.AuthRequired(),
			middleware.SessionActive(svc.auth),
			middleware.ProfileRequired(svc.profiles),
			middleware.BranchScope(svc.contexts),
			middleware.WriteTrail(),
		)
		{
			// Auth
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)

			// Branch context
			protected.GET("/branch-context", svc.branchContextHandler.Current)
			protected.GET("/branch-context/options", svc.branchContextHandler.Options)
			protected.POST("/branch-context", svc.branchContextHandler.Select)
			protected.DELETE("/branch-context", svc.branchContextHandler.Clear)

			// Members
			protected.GET("/members", svc.memberHandler.Directory)
			protected.GET("/members/export", svc.memberHandler.Export)
			protected.GET("/members/stats", svc.memberHandler.Stats)
			protected.GET("/members/:id", svc.memberHandler.Get)
			protected.POST("/members", svc.memberHandler.Register)
			protected.PUT("/members/:id", svc.memberHandler.Update)

			// Users (system and branch administrators)
			protected.GET("/users", svc.userHandler.List)
			protected.POST("/users", svc.userHandler.Create)
			protected.POST("/users/:id/toggle-status", svc.userHandler.ToggleStatus)
			protected.PUT("/users/:id/role", svc.userHandler.UpdateRole)
			protected.PUT("/users/:id/branches", svc.userHandler.AssignBranches)
		}

		// Admin-only routes
		admin := api.Group("/admin")
		admin.Use(
			middleware.AuthRequired(),
			middleware.SessionActive(svc.auth),
			middleware.ProfileRequired(svc.profiles),
			middleware.AdminRequired(),
			middleware.WriteTrail(),
		)
		{
			admin.GET("/branches", svc.branchHandler.List)
			admin.POST("/branches", svc.branchHandler.Create)
			admin.PUT("/branches/:id", svc.branchHandler.Update)
			admin.PUT("/branches/:id/active", svc.branchHandler.SetActive)
			admin.GET("/audit-logs", svc.auditHandler.List)
		}
	}
}
