package server

import (
	"fmt"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"dify2ollama/internal/core"
	"dify2ollama/internal/metrics"
)

func (s *Server) setupRoutes() error {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()

	tmpl, err := loadTemplates()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	s.router.SetHTMLTemplate(tmpl)

	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(metrics.GinMiddleware())
	s.router.Use(s.corsMiddleware())
	s.router.Use(s.maxBodySizeMiddleware())
	s.router.Use(s.rateLimitMiddleware())
	s.router.Use(static.Serve("/static", static.LocalFile(s.config.StaticDir, false)))

	compressed := gzip.Gzip(gzip.DefaultCompression)

	// Public routes (no auth)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/", s.index)
	s.router.GET(core.RouteLogin, s.loginPage)
	s.router.POST(core.RouteLogin, s.login)
	s.router.GET("/logout", s.logout)

	// Pages and admin routes (auth required)
	pages := s.router.Group("/")
	pages.Use(s.authorize)
	{
		pages.GET(core.RouteMain, s.servePage(core.PageMainFile))
		pages.GET(core.RouteChatPage, s.servePage(core.PageChatFile))
		pages.GET("/stats", compressed, s.getStatsData)
	}

	// Ollama API routes (auth required)
	api := s.router.Group("/api")
	api.Use(s.authorize)
	{
		api.GET("/tags", compressed, s.listTags)
		api.POST("/generate", s.generate)
		api.POST("/chat", s.chat)
	}

	// Every other /api/ path goes to the Ollama passthrough
	s.router.NoRoute(s.handleNoRoute)

	return nil
}
