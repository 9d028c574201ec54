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

	"github.com/veland/gitatlas/internal/api"
	"github.com/veland/gitatlas/internal/index"
	"github.com/veland/gitatlas/internal/mcpserver"
	"github.com/veland/gitatlas/internal/repos"
	"github.com/veland/gitatlas/internal/scanner"
	"github.com/veland/gitatlas/internal/sse"
	"github.com/veland/gitatlas/internal/store"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger. In MCP mode stdout carries the
	// protocol, so logs go to stderr.
	logOut := os.Stdout
	if app.mcpMode {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	storeDir := cfg.Store.Dir
	if storeDir == "" {
		var err error
		storeDir, err = store.DefaultDir()
		if err != nil {
			return fmt.Errorf("resolve store dir: %w", err)
		}
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_dir", storeDir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Canonical store.
	st, err := store.New(storeDir)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	// Derived indices and the scanner.
	idx := index.NewManager(cfg.Store.RecencyCacheSize)
	scan := scanner.New(scanner.Options{
		ExcludeDirs:    cfg.Scan.ExcludeDirs,
		FileTypeDepth:  cfg.Scan.FileTypeDepth,
		DependencyDirs: cfg.Scan.DependencyDirs,
		ManifestFiles:  cfg.Scan.ManifestFiles,
		Parallelism:    cfg.Scan.Parallelism,
	}, logger)

	svc := repos.NewService(st, idx, scan, logger)

	// Build the indices from the persisted document before serving.
	if err := svc.Rebuild(); err != nil {
		logger.Warn("initial index rebuild failed", slog.String("error", err.Error()))
	}

	if app.mcpMode {
		logger.Info("Starting MCP server on stdio")
		return mcpserver.New(svc).ServeStdio()
	}

	// SSE broker.
	broker := sse.NewBroker(250 * time.Millisecond)
	defer broker.Close()

	emit := func(ev repos.ScanEvent) {
		if ev.Kind == "scan.progress" {
			broker.PublishScanProgress(ev.Path, ev.ReposFound)
			return
		}
		broker.PublishRepoEvent(ev.Kind, ev.Path, ev.ReposFound)
	}

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, emit, http.HandlerFunc(broker.ServeHTTP))

	// Build chi router.
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
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start the filesystem watcher over registered scan roots.
	g.Go(func() error {
		if err := repos.Watch(gCtx, svc, logger, emit); err != nil {
			logger.Warn("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
