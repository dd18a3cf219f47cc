package api

import (
	"mediad/internal/server/auth"
	"mediad/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and
// middleware. Every mutating route sits behind the admin gate; file serving
// and attachment listings are public.
func SetupRouter(handler *Handler, gate *auth.Gate, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "Range", "If-None-Match"},
	}))
	e.Use(RequestLogger())

	// Health
	e.GET("/health", handler.HandleHealth)

	// Public file serving and attachment listings
	e.GET("/api/files/:id", handler.HandleGetFile)
	e.GET("/api/blog-posts/:id/files", handler.HandleListBlogPostFiles)
	e.GET("/api/projects/:id/files", handler.HandleListProjectFiles)

	// Stats (admin)
	e.GET("/api/stats", handler.HandleStats, gate.Middleware())

	// Admin mutations
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	admin := e.Group("/api/admin", gate.Middleware())
	admin.POST("/uploads", handler.HandleUpload, uploadLimiter.Middleware())
	admin.GET("/files", handler.HandleListFiles)
	admin.POST("/blog-posts/:id/files", handler.HandleAttachBlogPostFile)
	admin.POST("/projects/:id/files", handler.HandleAttachProjectFile)
	admin.PATCH("/blog-posts/:id/cover", handler.HandleSetBlogPostCover)
	admin.PATCH("/projects/:id/cover", handler.HandleSetProjectCover)

	return e
}
