package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vietddude/warden/internal/control"
	"github.com/vietddude/warden/internal/core/config"
	"github.com/vietddude/warden/internal/logging"
	"github.com/vietddude/warden/internal/recovery"
)

const shutdownTimeout = 15 * time.Second

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Self-healing Telegram bot",
	Long: `Warden runs a Telegram bot under a restart supervisor: fatal network errors
and silent hangs trigger a graceful save, teardown and reconnect.`,
	Run: runWarden,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// loadConfig reads .env and the config file, then installs the logger.
func loadConfig() (*config.AppConfig, func()) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup(logging.Config{Debug: isDebug})
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	closer := logging.Setup(logging.Config{
		Level:      cfg.Logging.Level,
		Debug:      isDebug,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	return cfg, func() { _ = closer.Close() }
}

func runWarden(cmd *cobra.Command, args []string) {
	cfg, closeLogs := loadConfig()
	defer closeLogs()

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewApp(ctx, cfg, control.Deps{})
	if err != nil {
		slog.Error("Failed to initialize Warden", "error", err)
		os.Exit(1)
	}

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start Warden", "error", err)
		os.Exit(1)
	}

	slog.Info("Warden running", "config", cfgPath)

	waitErr := app.Wait(ctx)
	switch {
	case errors.Is(waitErr, recovery.ErrGivenUp):
		slog.Error("Restart supervisor gave up, exiting for external restart")
	case waitErr != nil:
		slog.Error("Warden stopped unexpectedly", "error", waitErr)
	default:
		slog.Info("Received signal, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopErr := app.Stop(shutdownCtx)
	if stopErr != nil {
		slog.Error("Error during shutdown", "error", stopErr)
	}
	if waitErr != nil || stopErr != nil {
		closeLogs()
		os.Exit(1)
	}
}
