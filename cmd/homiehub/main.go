// Homie Hub - device platform to MQTT bridge
//
// This is the main entry point of the hub. It mirrors the devices of a
// home automation platform onto an MQTT broker using:
//   - The Homie convention (devices, nodes, properties, /set commands)
//   - The legacy {root}/{class}/{zone}/{device}/{capability}/state topics
//   - Home Assistant MQTT discovery documents
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/homie-hub/internal/hub"
	"github.com/nerrad567/homie-hub/internal/infrastructure/config"
	"github.com/nerrad567/homie-hub/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Homie Hub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	h, err := hub.New(ctx, cfg, hub.Options{Version: version, Logger: log})
	if err != nil {
		return fmt.Errorf("building hub: %w", err)
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			log.Error("error shutting down hub", "error", closeErr)
		}
	}()

	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("starting hub: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// The deferred Close runs the hub teardown in reverse order:
	// API, publishers, queue, MQTT, InfluxDB, database.
	log.Info("Homie Hub stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HOMIEHUB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HOMIEHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
