// migrate applies the embedded schema: go run ./cmd/migrate -direction up.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"marketplace/backend/internal/config"
	"marketplace/backend/internal/db/migrate"
	"marketplace/backend/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	version, err := migrate.Run(cfg.DatabaseURL, dir)
	if err != nil {
		log.Error("migrate failed", zap.String("direction", string(dir)), zap.Error(err))
		os.Exit(1)
	}
	log.Info("schema migrated", zap.String("direction", string(dir)), zap.Uint("version", version))
}
