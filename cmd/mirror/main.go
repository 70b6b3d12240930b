package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mikhaerys/Weather-Drone/internal/config"
	"github.com/Mikhaerys/Weather-Drone/internal/logging"
	"github.com/Mikhaerys/Weather-Drone/internal/mirror"
	"github.com/Mikhaerys/Weather-Drone/internal/rtdb"
	"github.com/Mikhaerys/Weather-Drone/internal/store"
)

var version = "dev"
var appName = "weather-drone-mirror"

func main() {
	cfg, err := config.LoadMirrorFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.AppEnv, cfg.LogLevel, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"sqlite_path", cfg.SQLitePath,
		"poll_interval", cfg.PollInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}

func run(ctx context.Context, cfg config.Mirror) error {
	db, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("db close", "err", closeErr)
		}
	}()

	repo := store.NewRepository(db)
	if err := repo.EnsureSchema(); err != nil {
		return err
	}

	client := rtdb.NewClient(cfg.RTDB, slog.Default())
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return err
	}

	poller := mirror.New(client, repo, slog.Default(), cfg.PollInterval)

	errCh := make(chan error, 2)
	go func() { errCh <- client.Run(ctx) }() // keeps the session token fresh
	go func() { errCh <- poller.Run(ctx) }()

	return <-errCh
}
