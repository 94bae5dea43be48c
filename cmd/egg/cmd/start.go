package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bingtaocn/egg/internal/cluster"
	"github.com/bingtaocn/egg/internal/config"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the cluster master",
	Long: `Start the egg cluster master.

The master binds the configured address, spawns the configured number of
worker processes sharing that listening socket, and reports the cluster ready
once every worker is listening. If any worker fails before becoming ready,
startup fails as a whole.

On SIGINT/SIGTERM the master broadcasts a graceful shutdown: workers stop
accepting, finish in-flight requests, and exit; the master waits for all of
them (bounded by server.shutdown_timeout).

Examples:
  # Start with config file settings
  egg start

  # Start four workers on port 8080
  EGG_SERVER_PORT=8080 egg start --workers 4

  # Start with a specific config file
  egg --config /path/to/egg.yaml start`,
	RunE: runStart,
}

var (
	devMode     bool
	workersFlag int
)

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, single worker)")
	startCmd.Flags().IntVar(&workersFlag, "workers", 0, "Number of worker processes (default: number of CPUs)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration without validation, so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if workersFlag > 0 {
		cfg.Server.Workers = workersFlag
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "egg stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	// Signal context for graceful shutdown. stop() restores default signal
	// handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	master := cluster.NewMaster(cfg, cluster.WithMasterLogger(logger))
	if err := master.Start(ctx); err != nil {
		return err
	}

	logger.Info("egg cluster started",
		"version", Version,
		"workers", cfg.Server.Workers,
		"dev_mode", cfg.DevMode,
	)

	// Drain lifecycle events; the supervisors already log the details.
	go func() {
		for range master.Events() {
		}
	}()

	<-ctx.Done()
	stop() // next Ctrl+C = immediate exit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.ShutdownTimeoutDuration())
	defer cancel()

	if err := master.Close(shutdownCtx); err != nil {
		return err
	}
	logger.Info("egg stopped")
	return nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pidFilePath returns the standard location for the egg master PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".egg", "master.pid")
	}
	return filepath.Join(os.TempDir(), "egg-master.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// readPIDFile returns the PID stored at path, or 0 when missing/invalid.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var pid int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &pid); err != nil {
		return 0
	}
	return pid
}
