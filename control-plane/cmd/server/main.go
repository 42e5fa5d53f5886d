// Command server runs the probenet control plane.
//
// # Usage
//
//	server --config /etc/probenet/server.yaml
//
// # Configuration
//
// The server can be configured via:
// - Config file (YAML)
// - Environment variables (PROBENET_*)
// - Command-line flags
//
// Secrets (agent token, JWT secret) left blank in the config are resolved
// through the secrets store: environment, local files, or 1Password Connect.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/probenet-io/probenet/control-plane/internal/alerting"
	"github.com/probenet-io/probenet/control-plane/internal/api"
	"github.com/probenet-io/probenet/control-plane/internal/cache"
	"github.com/probenet-io/probenet/control-plane/internal/config"
	"github.com/probenet-io/probenet/control-plane/internal/secrets"
	"github.com/probenet-io/probenet/control-plane/internal/service"
	"github.com/probenet-io/probenet/control-plane/internal/store"
	"github.com/probenet-io/probenet/control-plane/internal/worker"
	"github.com/probenet-io/probenet/db/migrate"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		listen     = flag.String("listen", "", "Listen address (overrides config)")
		dbURL      = flag.String("database", "", "Database URL (overrides config)")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("probenet-server v0.1.0")
		os.Exit(0)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyEnvOverrides()
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	logLevel := parseLogLevel(cfg.LogLevel)
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resolve secrets not present in the config.
	secretStore, err := secrets.NewStore(secrets.ConfigFromEnv(), logger)
	if err != nil {
		return fmt.Errorf("initializing secrets: %w", err)
	}
	defer secretStore.Close()

	resolveCtx, resolveCancel := context.WithTimeout(ctx, 10*time.Second)
	defer resolveCancel()

	if cfg.Auth.AgentToken, err = secrets.Resolve(resolveCtx, secretStore, "agent_token", cfg.Auth.AgentToken); err != nil {
		return fmt.Errorf("resolving agent token: %w", err)
	}
	if cfg.Auth.JWTSecret, err = secrets.Resolve(resolveCtx, secretStore, "jwt_secret", cfg.Auth.JWTSecret); err != nil {
		return fmt.Errorf("resolving jwt secret: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Connect to database.
	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connectCancel()

	db, err := store.NewStoreFromURL(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(connectCtx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	logger.Info("connected to database")

	if err := migrate.Run(ctx, db.Pool(), logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Wire the alert matcher and service.
	state := alerting.NewStateCache(logger)
	matcher := alerting.NewMatcher(db, state, logger)
	svc := service.NewService(db, matcher, logger)

	// Redis is optional. Without it every dispatch and variable lookup
	// hits the database directly.
	if cfg.RedisAddr != "" {
		c, err := cache.New(cfg.RedisAddr, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without cache", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer c.Close()
			svc.SetCache(c)
			logger.Info("connected to redis", "addr", cfg.RedisAddr)
		}
	}

	// Background workers.
	go worker.NewNodeSweeper(db, logger).Run(ctx)
	go worker.NewRetention(db, worker.DefaultRetentionConfig(), logger).Run(ctx)
	go state.RunSweeper(ctx)

	apiServer := api.NewServer(svc, cfg, logger)

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      apiServer,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "listen", cfg.Listen)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	// Stop workers before draining connections.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
