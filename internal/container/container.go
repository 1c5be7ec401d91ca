// Package container wires the gateway's components with dig.
package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"dify2ollama/internal/catalog"
	"dify2ollama/internal/config"
	"dify2ollama/internal/core"
	logpkg "dify2ollama/internal/log"
	"dify2ollama/internal/metrics"
	"dify2ollama/internal/process"
	"dify2ollama/internal/server"
	"dify2ollama/internal/session"
	"dify2ollama/internal/storage"
)

// BuildContainer registers every constructor. Nothing is built until Invoke.
func BuildContainer(logger *logpkg.AppLogger) (*dig.Container, error) {
	container := dig.New()

	providers := []any{
		func() core.Logger { return logger },
		config.LoadServerConfigFromEnv,
		provideRedis,
		storage.InitStorage,
		provideMetrics,
		provideCatalog,
		provideHTTPClient,
		provideProcessor,
		provideSessions,
		provideServer,
	}
	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return nil, fmt.Errorf("failed to provide %T: %w", p, err)
		}
	}
	return container, nil
}

// provideRedis returns a nil client when REDIS_URL is unset.
func provideRedis(cfg config.ServerConfig, logger core.Logger) (*redis.Client, error) {
	client, err := storage.ConnectRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if client != nil {
		logger.Info("Connected to Redis")
	}
	return client, nil
}

func provideMetrics(st core.StorageInterface, logger core.Logger) *metrics.MetricsService {
	ms := metrics.NewMetricsService(metrics.MetricsConfig{
		SaveInterval: core.MinSaveInterval,
		HistorySize:  core.HistoryBufferSize,
		Storage:      st,
		Logger:       logger,
	})
	if err := ms.LoadStats(); err != nil {
		logger.Warn("Failed to load historical stats: %v", err)
	}
	return ms
}

func provideCatalog(cfg config.ServerConfig, logger core.Logger) (*catalog.Catalog, error) {
	return config.LoadCatalog(cfg.ModelsConfigPath, cfg.DefaultModel, logger)
}

func provideHTTPClient(cfg config.ServerConfig) *http.Client {
	return process.NewHTTPClient(cfg.HTTPClientSettings)
}

func provideProcessor(cfg config.ServerConfig, client *http.Client, ms *metrics.MetricsService, logger core.Logger) *process.RequestProcessor {
	return process.NewRequestProcessor(process.ProcessorConfig{
		DifyBaseURL:   cfg.DifyBaseURL,
		APIKey:        cfg.DifyAPIKey,
		StreamTimeout: cfg.StreamTimeout,
		HTTPClient:    client,
		Metrics:       ms,
		Logger:        logger,
	})
}

func provideSessions(cfg config.ServerConfig, client *redis.Client, logger core.Logger) (*session.Manager, error) {
	auth, err := session.NewAuthenticator(cfg.Users)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare credentials: %w", err)
	}
	return session.NewManager(session.NewStore(client, logger), auth, cfg.SessionTTL), nil
}

type serverParams struct {
	dig.In

	Config     config.ServerConfig
	Logger     core.Logger
	Catalog    *catalog.Catalog
	Processor  *process.RequestProcessor
	Sessions   *session.Manager
	Metrics    *metrics.MetricsService
	HTTPClient *http.Client
}

func provideServer(p serverParams) (*server.Server, error) {
	return server.NewServer(p.Config, server.Dependencies{
		Logger:     p.Logger,
		Catalog:    p.Catalog,
		Processor:  p.Processor,
		Sessions:   p.Sessions,
		Metrics:    p.Metrics,
		HTTPClient: p.HTTPClient,
	})
}
