package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/erpbridge/erpbridge/pkg/config"
	"github.com/erpbridge/erpbridge/pkg/orchestrator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := buildLogger(&cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	bridge := orchestrator.New(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bridge.Start(ctx); err != nil {
		logger.Fatal("failed to start bridge", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("bridge shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := bridge.Stop(stopCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", zap.Error(err))
	}
}

func buildLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if cfg.Format == "console" {
		zcfg := zap.NewDevelopmentConfig()
		zcfg.Level = level
		return zcfg.Build()
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	return zcfg.Build()
}
