package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/silviot/vehiclelink/pkg/signs"
	"github.com/silviot/vehiclelink/pkg/vehiclesim"
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:8765", "Listen address")
		interval = flag.Duration("interval", 100*time.Millisecond, "Frame interval")
		logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	if *addr == "127.0.0.1:8765" {
		if a := os.Getenv("SIM_ADDR"); a != "" {
			*addr = a
		}
	}
	if *logLevel == "info" {
		if ll := os.Getenv("LOG_LEVEL"); ll != "" {
			*logLevel = ll
		}
	}

	logger := setupLogger(*logLevel)

	sim, err := vehiclesim.Start(*addr, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer sim.Close()

	logger.Info("simulated vehicle listening", "url", sim.URL(), "interval", *interval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sim.Stream(ctx, *interval, signs.Default())

	<-ctx.Done()

	state := sim.State()
	logger.Info("simulated vehicle stopped",
		"connections", sim.Connections(),
		"messages", len(sim.Received()),
		"speed", state.Speed,
		"direction", state.Direction)
}

// setupLogger creates a structured logger
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
