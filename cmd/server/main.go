package main

import (
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"dify2ollama/internal/container"
	"dify2ollama/internal/core"
	logpkg "dify2ollama/internal/log"
	"dify2ollama/internal/server"
)

func main() {
	dotenvErr := godotenv.Load()

	logger := logpkg.CreateLogger()
	defer func() { _ = logger.Close() }()

	if dotenvErr != nil {
		logger.Warn("No .env file found, using system environment variables")
	}
	logger.Info("Logger initialized")

	c, err := container.BuildContainer(logger)
	if err != nil {
		logger.Fatal("Failed to build container: %v", err)
	}

	err = c.Invoke(func(srv *server.Server, st core.StorageInterface, redisClient *redis.Client) error {
		defer func() {
			if err := srv.Close(); err != nil {
				logger.Warn("Failed to close server cleanly: %v", err)
			}
			_ = st.Close()
			if redisClient != nil {
				_ = redisClient.Close()
			}
		}()
		return srv.Run()
	})
	if err != nil {
		logger.Fatal("Server error: %v", err)
	}
}
