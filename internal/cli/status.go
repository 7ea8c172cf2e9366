package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/vietddude/warden/internal/health"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the supervisor status of a running instance",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "status server address (default http://localhost:<server.port>)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, closeLogs := loadConfig()
	defer closeLogs()

	addr := statusAddr
	if addr == "" {
		addr = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report, err := fetchStatus(ctx, http.DefaultClient, addr)
	if err != nil {
		slog.Error("Failed to query status", "addr", addr, "error", err)
		os.Exit(1)
	}
	if err := printStatus(os.Stdout, report); err != nil {
		slog.Error("Failed to print status", "error", err)
		os.Exit(1)
	}
}

func fetchStatus(ctx context.Context, client *http.Client, addr string) (health.StatusReport, error) {
	var report health.StatusReport

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/status", nil)
	if err != nil {
		return report, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return report, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return report, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return report, fmt.Errorf("failed to decode status: %w", err)
	}
	return report, nil
}

func printStatus(out io.Writer, r health.StatusReport) error {
	s := r.Supervisor
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tVALUE")
	_, _ = fmt.Fprintf(w, "status\t%s\n", r.Status)
	_, _ = fmt.Fprintf(w, "phase\t%s\n", s.Phase)
	_, _ = fmt.Fprintf(w, "restart attempts\t%d/%d\n", s.RestartAttempts, r.MaxRestartAttempts)
	_, _ = fmt.Fprintf(w, "last reason\t%s\n", orDash(s.LastReason))
	_, _ = fmt.Fprintf(w, "since health check\t%ds\n", r.SecondsSinceHealthCheck)
	_, _ = fmt.Fprintf(w, "pid\t%d\n", r.Process.PID)
	_, _ = fmt.Fprintf(w, "uptime\t%ds\n", r.Process.UptimeSeconds)
	_, _ = fmt.Fprintf(w, "heap\t%.1f MB\n", r.Process.HeapMB())
	_, _ = fmt.Fprintf(w, "rss\t%.1f MB\n", r.Process.RSSMB())
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
