package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"atomicgo.dev/keyboard"
	"atomicgo.dev/keyboard/keys"
	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/silviot/vehiclelink/pkg/bus"
	"github.com/silviot/vehiclelink/pkg/channel"
	"github.com/silviot/vehiclelink/pkg/command"
	"github.com/silviot/vehiclelink/pkg/vehicle"
)

func main() {
	// Parse flags
	var (
		port       = flag.String("port", "8080", "HTTP server port")
		vehicleURL = flag.String("vehicle-url", "", "Vehicle WebSocket endpoint (ws:// or wss://)")
		speedLimit = flag.Float64("speed-limit", 50, "Initial speed limit")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "json", "Log format (json, pretty)")
		useKeys    = flag.Bool("keyboard", false, "Drive the vehicle from the terminal (w/s/a/d/space)")
		noPrompt   = flag.Bool("no-prompt", false, "Never ask for the vehicle endpoint interactively")
	)
	flag.Parse()

	// Load from environment if flags not set
	if *port == "8080" {
		if p := os.Getenv("APP_PORT"); p != "" {
			*port = p
		} else if p := os.Getenv("PORT"); p != "" {
			*port = p
		}
	}
	if *vehicleURL == "" {
		*vehicleURL = os.Getenv("VEHICLE_URL")
	}
	if *logLevel == "info" {
		if ll := os.Getenv("LOG_LEVEL"); ll != "" {
			*logLevel = ll
		}
	}
	if *logFormat == "json" {
		if lf := os.Getenv("LOG_FORMAT"); lf != "" {
			*logFormat = lf
		}
	}

	if *vehicleURL == "" && !*noPrompt && term.IsTerminal(int(os.Stdin.Fd())) {
		*vehicleURL = askURL()
	}

	// Setup logging
	logger := setupLogger(*logLevel, *logFormat)

	logger.Info("starting vehicle link",
		"port", *port,
		"vehicle_url", *vehicleURL,
		"keyboard", *useKeys)

	initial := vehicle.Default()
	initial.SpeedLimit = *speedLimit
	initial.CarConnection = *vehicleURL

	messageBus := bus.New(logger)
	defer messageBus.Close()

	ch, err := channel.New(channel.Config{
		Logger:  logger,
		Bus:     messageBus,
		Initial: &initial,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer ch.Close()

	go watchStatus(messageBus, logger)

	// Setup HTTP server
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"healthy","connected":%t,"state":%q,"timestamp":%d}`+"\n",
			ch.Connected(), ch.State().String(), time.Now().Unix())
	})

	// Channel endpoints
	ch.Routes(mux)

	// Metrics endpoint
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		stats := ch.Stats()
		connected := 0
		if ch.Connected() {
			connected = 1
		}

		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "# HELP vehicle_link_connected Whether the vehicle socket is open\n")
		fmt.Fprintf(w, "# TYPE vehicle_link_connected gauge\n")
		fmt.Fprintf(w, "vehicle_link_connected %d\n", connected)
		fmt.Fprintf(w, "# HELP vehicle_link_dials_total Sockets created\n")
		fmt.Fprintf(w, "# TYPE vehicle_link_dials_total counter\n")
		fmt.Fprintf(w, "vehicle_link_dials_total %d\n", stats.Link.Dials)
		fmt.Fprintf(w, "# HELP vehicle_frames_received_total Binary frames received\n")
		fmt.Fprintf(w, "# TYPE vehicle_frames_received_total counter\n")
		fmt.Fprintf(w, "vehicle_frames_received_total %d\n", stats.Frames.Received)
		fmt.Fprintf(w, "# HELP vehicle_frames_overwritten_total Frames replaced before being read\n")
		fmt.Fprintf(w, "# TYPE vehicle_frames_overwritten_total counter\n")
		fmt.Fprintf(w, "vehicle_frames_overwritten_total %d\n", stats.Frames.Overwritten)
		fmt.Fprintf(w, "# HELP vehicle_messages_malformed_total Text messages dropped as malformed\n")
		fmt.Fprintf(w, "# TYPE vehicle_messages_malformed_total counter\n")
		fmt.Fprintf(w, "vehicle_messages_malformed_total %d\n", stats.Link.Malformed)
		fmt.Fprintf(w, "# HELP vehicle_messages_ignored_total Text messages with an unknown type\n")
		fmt.Fprintf(w, "# TYPE vehicle_messages_ignored_total counter\n")
		fmt.Fprintf(w, "vehicle_messages_ignored_total %d\n", stats.Link.Ignored)
		fmt.Fprintf(w, "# HELP vehicle_config_pushes_total Config messages sent\n")
		fmt.Fprintf(w, "# TYPE vehicle_config_pushes_total counter\n")
		fmt.Fprintf(w, "vehicle_config_pushes_total %d\n", stats.ConfigPushes)
		fmt.Fprintf(w, "# HELP vehicle_signal_sets_total Signal sets applied\n")
		fmt.Fprintf(w, "# TYPE vehicle_signal_sets_total counter\n")
		fmt.Fprintf(w, "vehicle_signal_sets_total %d\n", stats.SignalSets)
	})

	server := &http.Server{
		Addr:    ":" + *port,
		Handler: mux,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *useKeys {
		go runKeyboard(ch, logger, func() {
			select {
			case sigCh <- syscall.SIGINT:
			default:
			}
		})
	}

	<-sigCh

	logger.Info("shutdown signal received, gracefully shutting down")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("vehicle link stopped")
}

// setupLogger creates a structured logger
func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	var plvl pterm.LogLevel
	switch level {
	case "debug":
		lvl, plvl = slog.LevelDebug, pterm.LogLevelDebug
	case "warn":
		lvl, plvl = slog.LevelWarn, pterm.LogLevelWarn
	case "error":
		lvl, plvl = slog.LevelError, pterm.LogLevelError
	default:
		lvl, plvl = slog.LevelInfo, pterm.LogLevelInfo
	}

	if format == "pretty" {
		pterm.DefaultLogger.ShowTime = true
		pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
		pterm.DefaultLogger.MaxWidth = 1000
		return slog.New(pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(plvl)))
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// askURL prompts for the vehicle endpoint until a valid one is entered.
// An empty answer starts without a vehicle.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Vehicle WebSocket URL (e.g. ws://192.168.4.1:81), empty to skip").
			Show()
		pterm.Println()

		url := strings.TrimSpace(raw)
		if url == "" || vehicle.ValidEndpoint(url) {
			return url
		}

		pterm.Warning.Println("invalid endpoint: must start with ws:// or wss://")
	}
}

// watchStatus logs link status changes until the bus shuts down
func watchStatus(b bus.MessageBus, logger *slog.Logger) {
	sub := b.Subscribe(bus.TopicStatus)
	for msg := range sub {
		ev, ok := msg.(bus.StatusEvent)
		if !ok {
			continue
		}
		logger.Info("vehicle link status",
			"state", ev.State,
			"connected", ev.Connected,
			"link_id", ev.LinkID,
			"url", ev.Endpoint)
	}
}

// runKeyboard maps raw key presses to vehicle commands. Ctrl+C and Esc call stop.
func runKeyboard(ch *channel.Channel, logger *slog.Logger, stop func()) {
	pterm.Info.Println("keyboard control: " + strings.Join(command.Keys(), " / ") + ", esc to quit")

	err := keyboard.Listen(func(key keys.Key) (bool, error) {
		var name string
		switch key.Code {
		case keys.CtrlC, keys.Escape:
			stop()
			return true, nil
		case keys.Space:
			name = "space"
		case keys.RuneKey:
			name = string(key.Runes)
		default:
			return false, nil
		}

		bound, err := ch.PressKey(name)
		if err != nil {
			logger.Warn("command dropped", "key", name, "error", err)
		} else if bound {
			logger.Debug("command sent", "key", name)
		}
		return false, nil
	})
	if err != nil {
		logger.Error("keyboard listener stopped", "error", err)
	}
}
