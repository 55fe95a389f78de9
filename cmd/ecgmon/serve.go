package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	pulseecg "github.com/wernerhzigby/pulse-ecg-monitor"
	"github.com/wernerhzigby/pulse-ecg-monitor/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))
}

// serveCmd starts acquisition and the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start sampling and the HTTP API",
	Long: `Start the ECG monitor.

The server will:
  - Load configuration from the YAML file (optional) and ECG_* variables
  - Open the ADS1115, or fall back to the simulator if it is unavailable
  - Serve the HTTP API on the configured port

The server runs until interrupted (Ctrl+C), receives SIGTERM, or an
authorized POST /api/stop arrives.

Example:
  ecgmon serve -c ecg.yaml
  ECG_SIMULATE=true ECG_PORT=8080 ecgmon serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (optional)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("config loaded",
		"file", configFile,
		"sample_rate", cfg.Sampling.Rate,
		"simulate", cfg.Source.Simulate,
	)

	opts := append(config.BuildOptions(cfg), pulseecg.WithLogger(logger))
	m, err := pulseecg.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start monitor - blocks until context cancelled or stopped over HTTP
	errChan := make(chan error, 1)
	go func() {
		errChan <- m.Start(ctx)
	}()

	// wait for monitor to finish
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("monitor error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("monitor error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
