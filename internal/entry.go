// Package internal provides the daemon initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/devpulse/internal/api"
	"github.com/starford/devpulse/internal/registry"
	"github.com/starford/devpulse/internal/sse"
	"github.com/starford/devpulse/internal/supervisor"
)

// summaryThrottle bounds how often summary.updated is pushed per project.
const summaryThrottle = 2 * time.Second

// Run starts the daemon with the given options and blocks until ctx is done
// or a termination signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	if err := os.MkdirAll(cfg.Daemon.Home, 0o755); err != nil {
		return fmt.Errorf("create home dir: %w", err)
	}

	logFile := cfg.App.LogFile
	if logFile == "" {
		logFile = cfg.Daemon.LogPath()
	}
	logOut, closeLog, err := openLog(logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	pid := supervisor.NewPIDFile(cfg.Daemon.PIDPath())
	if err := pid.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := pid.Release(); err != nil {
			logger.Error("release pid file", slog.String("error", err.Error()))
		}
	}()

	logger.Info("Configuration loaded",
		slog.String("home", cfg.Daemon.Home),
		slog.Bool("http_enabled", cfg.App.HTTP.Enabled),
		slog.String("reload_interval", cfg.Daemon.ReloadInterval.String()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(summaryThrottle)
	defer broker.Close()

	sup := supervisor.New(supervisor.Options{
		Registry:        registry.New(cfg.Daemon.RegistryPath()),
		Events:          broker,
		ReloadInterval:  cfg.Daemon.ReloadInterval,
		ShutdownTimeout: cfg.Daemon.ShutdownTimeout,
		NewBackend:      app.newBackend,
		Logger:          logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sup.Run(gCtx)
	})

	var httpServer *http.Server
	if cfg.App.HTTP.Enabled {
		httpServer = &http.Server{
			Addr:              cfg.App.HTTP.Address(),
			Handler:           newHTTPHandler(cfg, sup, broker),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		cancel()

		if httpServer != nil {
			// Ends open event streams so Shutdown does not wait on them.
			broker.Close()
			shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Daemon.ShutdownTimeout)
			defer stop()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Daemon error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Daemon stopped")
	return nil
}

func newHTTPHandler(cfg *Config, projects api.Projects, broker *sse.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api; /api/events is the SSE feed.
	r.Mount("/api", api.NewRouter(projects, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))
	return r
}

// openLog returns the log destination: the named file in append mode, or
// stdout for "-".
func openLog(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
