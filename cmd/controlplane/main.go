package main

import (
	"context"
	"log"

	"irrigation/pkg/config"
	"irrigation/pkg/logger"
	"irrigation/pkg/metrics"
	"irrigation/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	metrics.InitMetrics(cfg.Metrics.Namespace, cfg.App.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The server fabric installs the global audit logger, so it is built
	// before the service graph captures it.
	srv := server.New(cfg)

	app, err := newApp(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to build service graph", "error", err)
	}
	defer app.Close()

	app.runLoops(ctx)

	app.controller.OnSyncCheck(func(gateID string) {
		logger.Log.Warn("Manual gate out of sync", "gate_id", gateID)
	})

	logger.Info("Starting irrigation control plane",
		"port", cfg.GRPC.Port,
		"environment", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	if err := srv.Run(); err != nil {
		logger.Fatal("server failed", "error", err)
	}
}
