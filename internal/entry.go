// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/marginalia/internal/annotations"
	"github.com/starford/marginalia/internal/api"
	"github.com/starford/marginalia/internal/channel"
	"github.com/starford/marginalia/internal/editlock"
	"github.com/starford/marginalia/internal/mcpserver"
	"github.com/starford/marginalia/internal/sse"
	"github.com/starford/marginalia/internal/storage"
	"github.com/starford/marginalia/internal/watch"
)

func buildApp(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// RunChannel serves the framed message protocol on stdin/stdout until
// the caller closes its end of the stream. One process serves exactly
// one caller session; logs go to stderr because stdout carries frames.
func RunChannel(ctx context.Context, opts ...Option) error {
	app, err := buildApp(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("channel host starting",
		slog.String("storage_root", cfg.Storage.Root),
		slog.Duration("op_timeout", cfg.Storage.Timeout()),
		slog.Duration("lock_ttl", cfg.Lock.TTL()))

	adapter := channel.New(os.Stdin, os.Stdout, logger,
		channel.WithOpTimeout(cfg.Storage.Timeout()),
		channel.WithLockTTL(cfg.Lock.TTL()),
		channel.WithDefaultRoot(cfg.Storage.Root),
	)
	if err := adapter.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("channel error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("channel host stopped")
	return nil
}

// RunMCP serves the MCP tool surface on stdin/stdout over the
// configured storage root. Logs go to stderr because stdout carries
// the MCP stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := buildApp(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	if cfg.Storage.Root == "" {
		return fmt.Errorf("storage.root is required for the MCP server")
	}
	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	fs, err := storage.NewFS(cfg.Storage.Root, cfg.Storage.Timeout())
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	srv := mcpserver.New(annotations.NewStore(fs), editlock.NewRegistry(fs, cfg.Lock.TTL()))
	logger.Info("MCP server starting", slog.String("storage_root", cfg.Storage.Root))
	return srv.ServeStdio()
}

// RunHTTP starts the read-only inspector server over the configured
// storage root, with SSE live updates driven by a filesystem watcher.
func RunHTTP(ctx context.Context, opts ...Option) error {
	app, err := buildApp(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	if cfg.Storage.Root == "" {
		return fmt.Errorf("storage.root is required for the inspector")
	}
	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_root", cfg.Storage.Root),
		slog.String("log_level", cfg.App.LogLevel.String()))

	fs, err := storage.NewFS(cfg.Storage.Root, cfg.Storage.Timeout())
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	store := annotations.NewStore(fs)
	reg := editlock.NewRegistry(fs, cfg.Lock.TTL())

	// SSE broker.
	broker := sse.NewBroker()
	defer broker.Close()

	apiRouter := api.NewRouter(store, reg, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !fs.Reachable() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"storage unreachable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("server starting", slog.String("http_address", cfg.App.HTTP.Address()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	// Watch the storage root so sibling-process writes show up live.
	g.Go(func() error {
		return watch.Watch(gCtx, cfg.Storage.Root, logger, func(kind, project, path string) {
			broker.PublishChange(kind, project, path)
		})
	})

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("context cancelled, initiating shutdown")
		}

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("server stopped successfully")
	return nil
}
