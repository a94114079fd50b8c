// fraudgate - real-time payment fraud decisions
package main

import (
	"context"
	"os"

	"github.com/mbd888/fraudgate/internal/config"
	"github.com/mbd888/fraudgate/internal/logging"
	"github.com/mbd888/fraudgate/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting fraudgate",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"latency_ceiling", cfg.LatencyCeiling,
		"ml_enabled", cfg.MLEnabled,
		"postgres", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
		"kafka", cfg.KafkaEnabled(),
		"pubsub", cfg.PubSubEnabled(),
	)

	server.Version = Version

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
