// Package main is the entry point for the checkform server.
//
// checkform stores per-task form schemas and the responses submitted against
// them, and exposes both over a JSON HTTP API. Configuration is read from CLI
// flags, a .env file and checkform.yaml in the data directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/maruel/checkform/internal/config"
	"github.com/maruel/checkform/internal/server"
	"github.com/maruel/checkform/internal/server/metrics"
	"github.com/maruel/checkform/internal/server/ratelimit"
	"github.com/maruel/checkform/internal/storage"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "checkform: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	httpAddr := flag.String("http", "localhost:8080", "Address to listen on (e.g., localhost:8080, :8080, 0.0.0.0:8080)")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	backend := flag.String("backend", "", "Storage backend (jsonl, sqlite); overrides checkform.yaml")
	watch := flag.Bool("watch", false, "Shut down when the executable is rebuilt")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}
	build := readBuildInfo()
	if *version {
		fmt.Print(build)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	slog.SetDefault(newLogger(ll))

	if err := os.MkdirAll(*dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	env, err := config.LoadDotEnv(*dataDir)
	if err != nil {
		return err
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for name, key := range map[string]string{"http": "HTTP", "log-level": "LOG_LEVEL", "backend": "BACKEND"} {
		if v := env[key]; v != "" && !set[name] {
			if err := flag.Set(name, v); err != nil {
				return fmt.Errorf("invalid %s in .env: %w", key, err)
			}
		}
	}
	if err := ll.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid -log-level: %w", err)
	}

	cfg, err := config.Load(filepath.Join(*dataDir, config.FileName))
	if err != nil {
		return err
	}
	if *backend != "" {
		cfg.Storage.Backend = storage.Backend(*backend)
	}
	if v := env["JWT_SECRET"]; v != "" {
		cfg.Auth.JWTSecret = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	reg, err := storage.NewRegistry(*dataDir, cfg.Storage.Backend, cfg.Storage.CacheSize)
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			slog.ErrorContext(ctx, "Failed to close stores", "err", err)
		}
	}()
	limiters := ratelimit.NewConfig(cfg.RateLimits)
	defer limiters.Close()

	if *watch {
		if err := stopOnRebuild(ctx, stop); err != nil {
			return fmt.Errorf("failed to watch executable: %w", err)
		}
	}

	addr := *httpAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	httpServer := &http.Server{
		Addr: addr,
		Handler: server.NewRouter(reg, &server.Config{
			Version:       build.Version,
			JWTSecret:     []byte(cfg.Auth.JWTSecret),
			MaxBodyBytes:  cfg.MaxRequestBodyBytes,
			RecountPolicy: cfg.RecountPolicy(),
			Limiters:      limiters,
			Metrics:       metrics.New(),
		}),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "backend", cfg.Storage.Backend, "auth", cfg.Auth.JWTSecret != "", "version", build.Version)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}
