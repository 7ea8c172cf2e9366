package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	shutdownTimeout     = 5 * time.Second
	storageCheckTimeout = 3 * time.Second
)

// StorageChecker reports whether the state backend is reachable.
type StorageChecker interface {
	Health(ctx context.Context) error
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithStorageCheck makes /health also ping the state backend.
func WithStorageCheck(c StorageChecker) ServerOption {
	return func(s *Server) { s.storage = c }
}

// Server provides HTTP endpoints for status reporting.
type Server struct {
	monitor *Monitor
	storage StorageChecker
	addr    string
	handler http.Handler
	logger  *slog.Logger
}

// NewServer creates a new status server.
func NewServer(monitor *Monitor, port int, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		monitor: monitor,
		addr:    fmt.Sprintf(":%d", port),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	s.handler = r

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Status server shutdown failed", "error", err)
		}
		return ctx.Err()
	}
}

func (s *Server) String() string {
	return "status-server"
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	snap := s.monitor.state.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Bot is running. Status: %s. Uptime: %ds\n",
		StatusFor(snap.Phase), int64(s.monitor.clock.Since(snap.StartedAt).Seconds()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.monitor.state.Snapshot()
	status := StatusFor(snap.Phase)

	response := map[string]string{"status": string(status), "phase": string(snap.Phase)}
	if s.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), storageCheckTimeout)
		err := s.storage.Health(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("Storage health check failed", "error", err)
			response["storage"] = "unavailable"
			if status == StatusHealthy {
				status = StatusDegraded
				response["status"] = string(status)
			}
		} else {
			response["storage"] = "ok"
		}
	}
	w.Header().Set("Content-Type", "application/json")

	if status != StatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Status(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
