package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"rollyshop/backend/internal/config"
	"rollyshop/backend/internal/logging"
	pgstore "rollyshop/backend/internal/store/postgres"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration instead of applying them")
	flag.Parse()

	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	direction := "up"
	if *down {
		direction = "down"
	}
	if err := pgstore.Migrate(cfg.DatabaseURL, !*down, logger); err != nil {
		logger.Fatal("migration failed", zap.String("direction", direction), zap.Error(err))
	}
	logger.Info("migrations applied", zap.String("direction", direction))
}
