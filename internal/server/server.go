package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"dify2ollama/internal/catalog"
	"dify2ollama/internal/config"
	"dify2ollama/internal/core"
	"dify2ollama/internal/metrics"
	"dify2ollama/internal/process"
	"dify2ollama/internal/session"
)

// Dependencies are the collaborators a Server needs. All fields are required.
type Dependencies struct {
	Logger     core.Logger
	Catalog    *catalog.Catalog
	Processor  *process.RequestProcessor
	Sessions   *session.Manager
	Metrics    *metrics.MetricsService
	HTTPClient *http.Client
}

// Server application server
type Server struct {
	config config.ServerConfig
	logger core.Logger
	router *gin.Engine

	catalog          *catalog.Catalog
	requestProcessor *process.RequestProcessor
	sessions         *session.Manager
	metricsService   *metrics.MetricsService
	httpClient       *http.Client

	validClientKeys map[string]bool
	rateLimiter     *rateLimiter

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewServer creates a new server instance
func NewServer(cfg config.ServerConfig, deps Dependencies) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Catalog == nil:
		return nil, errors.New("model catalog is required")
	case deps.Processor == nil:
		return nil, errors.New("request processor is required")
	case deps.Sessions == nil:
		return nil, errors.New("session manager is required")
	case deps.Metrics == nil:
		return nil, errors.New("metrics service is required")
	case deps.HTTPClient == nil:
		return nil, errors.New("http client is required")
	}

	deps.Logger.Info("Initializing server with %d models (default %s)", deps.Catalog.Len(), deps.Catalog.Default())

	validClientKeys := make(map[string]bool, len(cfg.ClientAPIKeys))
	for _, key := range cfg.ClientAPIKeys {
		validClientKeys[key] = true
	}

	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = core.DefaultRateLimit
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	server := &Server{
		config:           cfg,
		logger:           deps.Logger,
		catalog:          deps.Catalog,
		requestProcessor: deps.Processor,
		sessions:         deps.Sessions,
		metricsService:   deps.Metrics,
		httpClient:       deps.HTTPClient,
		validClientKeys:  validClientKeys,
		rateLimiter:      newRateLimiter(shutdownCtx, rateLimit),
		shutdownCtx:      shutdownCtx,
		shutdownCancel:   shutdownCancel,
	}

	if err := server.setupRoutes(); err != nil {
		shutdownCancel()
		return nil, err
	}

	return server, nil
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run runs the server until a shutdown signal arrives or Close is called.
func (s *Server) Run() error {
	s.setupGracefulShutdown()

	srv := &http.Server{
		Addr:              ":" + s.config.Port,
		Handler:           s.router,
		ReadHeaderTimeout: core.ServerHeaderTimeout,
		ReadTimeout:       core.ServerReadTimeout,
		// chat streams stay open for as long as the backend keeps answering
		WriteTimeout: s.config.StreamTimeout + core.ServerHeaderTimeout,
	}
	if s.config.StreamTimeout <= 0 {
		srv.WriteTimeout = core.ServerWriteTimeout
	}

	go func() {
		<-s.shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), core.ShutdownGracePeriod)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("Server shutdown error: %v", err)
		}
	}()

	s.logger.Info("Server starting on port %s (backend %s)", s.config.Port, s.requestProcessor.ChatURL())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) setupGracefulShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-quit:
			s.logger.Info("Shutdown signal received, shutting down gracefully...")
			s.shutdownCancel()
		case <-s.shutdownCtx.Done():
		}
		signal.Stop(quit)
	}()
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"models":  s.catalog.Len(),
		"backend": s.requestProcessor.ChatURL(),
	})
}

func (s *Server) getStatsData(c *gin.Context) {
	now := time.Now()
	stats := s.metricsService.GetRequestStats()
	periodStats := metrics.GetPeriodStats(stats.RequestHistory, now, 24, 24*7, 24*30)

	lastRequest := ""
	if !stats.LastRequestTime.IsZero() {
		lastRequest = stats.LastRequestTime.Format(core.TimeFormatDateTime)
	}

	c.JSON(http.StatusOK, gin.H{
		"currentTime":        now.Format(core.TimeFormatDateTime),
		"currentQPS":         fmt.Sprintf("%.3f", s.metricsService.GetQPS()),
		"totalRequests":      stats.TotalRequests,
		"successfulRequests": stats.SuccessfulRequests,
		"failedRequests":     stats.FailedRequests,
		"lastRequestTime":    lastRequest,
		"totalRecords":       len(stats.RequestHistory),
		"stats24h":           periodStats[24],
		"stats7d":            periodStats[24*7],
		"stats30d":           periodStats[24*30],
		"models":             s.catalog.List(),
	})
}

// Close stops background work and flushes metrics. It is safe to call twice.
func (s *Server) Close() error {
	if s.shutdownCancel != nil {
		s.shutdownCancel()
	}

	var closeErr error

	if s.metricsService != nil {
		if err := s.metricsService.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close metrics service: %w", err))
		}
	}

	if s.sessions != nil {
		if err := s.sessions.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close session manager: %w", err))
		}
	}

	return closeErr
}
