package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/devtunnel/internal/relay"
)

func main() {
	cfg, err := relay.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if err := relay.SetupLogging(cfg); err != nil {
		slog.Error("failed to set up logging", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := relay.NewServer(cfg)
	if err := server.Run(ctx); err != nil {
		slog.Error("relay exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("relay stopped")
}
