package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/vietddude/warden/internal/control"
	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/infra/storage"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect persisted bot state",
}

var stateDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the persisted state from the configured backend as JSON",
	Args:  cobra.NoArgs,
	Run:   runStateDump,
}

func init() {
	stateCmd.AddCommand(stateDumpCmd)
	rootCmd.AddCommand(stateCmd)
}

func runStateDump(cmd *cobra.Command, args []string) {
	cfg, closeLogs := loadConfig()
	defer closeLogs()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backend, err := storage.Open(ctx, control.StorageConfig(cfg), slog.Default())
	if err != nil {
		slog.Error("Failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = backend.Close()
	}()

	state, err := backend.Read(ctx)
	if err != nil {
		slog.Error("Failed to read state", "error", err)
		os.Exit(1)
	}
	if err := writeState(os.Stdout, state); err != nil {
		slog.Error("Failed to print state", "error", err)
		os.Exit(1)
	}
}

func writeState(out io.Writer, state domain.PersistedState) error {
	if state == nil {
		state = domain.PersistedState{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
