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
	"github.com/Mikhaerys/Weather-Drone/internal/gps"
	"github.com/Mikhaerys/Weather-Drone/internal/logging"
	"github.com/Mikhaerys/Weather-Drone/internal/rtdb"
	"github.com/Mikhaerys/Weather-Drone/internal/sensor"
	"github.com/Mikhaerys/Weather-Drone/internal/telemetry"
)

var version = "dev"
var appName = "weather-drone-tracker"

func main() {
	cfg, err := config.LoadTrackerFromEnv()
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
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}

func run(ctx context.Context, cfg config.Tracker) error {
	slog.Info("initializing tracker",
		"i2c_bus", cfg.I2CBus,
		"bme280_address", fmt.Sprintf("0x%x", cfg.BME280Address),
		"gps_port", cfg.GPSPort,
		"gps_baud", cfg.GPSBaud,
		"send_interval", cfg.SendInterval,
	)

	// A missing sensor is a wiring problem; there is nothing to telemeter.
	bme, err := sensor.Open(cfg.I2CBus, cfg.BME280Address)
	if err != nil {
		return fmt.Errorf("sensor init: %w", err)
	}
	defer func() {
		if err := bme.Close(); err != nil {
			slog.Error("sensor close", "error", err)
		}
	}()
	slog.Info("bme280 initialized")

	gpsDev, err := gps.Open(cfg.GPSPort, cfg.GPSBaud)
	if err != nil {
		return fmt.Errorf("gps init: %w", err)
	}
	slog.Info("gps serial started", "port", cfg.GPSPort, "baud", cfg.GPSBaud)

	client := rtdb.NewClient(cfg.RTDB, slog.Default())
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return err
	}

	loop := telemetry.New(bme, gpsDev.Parser(), client, slog.Default(), cfg.SendInterval)

	errCh := make(chan error, 3)
	go func() { errCh <- gpsDev.Run(ctx) }()
	go func() { errCh <- client.Run(ctx) }()
	go func() { errCh <- loop.Run(ctx) }()

	return <-errCh
}
