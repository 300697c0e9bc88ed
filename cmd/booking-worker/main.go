package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	appconfig "github.com/cityhospital/appointment-bot/internal/config"
	bookingworker "github.com/cityhospital/appointment-bot/internal/worker/booking"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bookingworker.Run(ctx, cfg, logger); err != nil {
		logger.Error("booking worker failed", "error", err)
		os.Exit(1)
	}
}
