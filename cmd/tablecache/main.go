// Package main implements the tablecache server: an HTTP front for the
// chess endgame tablebase that caches evaluations and collapses concurrent
// lookups of the same position into a single upstream request.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/tablecache/config"
	errs "github.com/c360/tablecache/errors"
	"github.com/c360/tablecache/health"
	"github.com/c360/tablecache/metric"
	"github.com/c360/tablecache/tablebase"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "tablecache"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(firstNonEmpty(cliCfg.LogLevel, cfg.Log.Level), firstNonEmpty(cliCfg.LogFormat, cfg.Log.Format))
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting tablecache",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"upstream", cfg.Tablebase.BaseURL)

	metricsRegistry := metric.NewMetricsRegistry()
	svc, err := setupService(cfg, metricsRegistry, logger)
	if err != nil {
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if cliCfg.ShutdownTimeout > 0 {
		shutdownTimeout = cliCfg.ShutdownTimeout
	}

	return runWithSignalHandling(context.Background(), cfg, svc, metricsRegistry, logger, shutdownTimeout)
}

// initializeCLI parses and validates flags
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg, err := parseFlags()
	if err != nil {
		return nil, false, fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp(flag.CommandLine)
		return nil, true, nil
	}

	return cliCfg, false, nil
}

// initializeConfiguration loads defaults, the optional config file and the
// environment
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupService wires the upstream client, health monitor and cached service
func setupService(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*tablebase.Service, error) {
	client, err := tablebase.NewClient(cfg.Tablebase, nil)
	if err != nil {
		return nil, fmt.Errorf("create tablebase client: %w", err)
	}

	svc, err := tablebase.NewService(client, cfg.Cache,
		tablebase.WithLogger(logger),
		tablebase.WithMetrics(registry),
		tablebase.WithMonitor(health.NewMonitor(health.DefaultFailureThreshold)),
	)
	if err != nil {
		return nil, fmt.Errorf("create tablebase service: %w", err)
	}
	return svc, nil
}

// runWithSignalHandling serves until SIGINT/SIGTERM or a server failure, then
// shuts both listeners down within shutdownTimeout
func runWithSignalHandling(
	ctx context.Context,
	cfg *config.Config,
	svc *tablebase.Service,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	apiServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(svc, registry.CoreMetrics(), logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	metricsServer := metric.NewServer(cfg.Server.MetricsAddr, cfg.Server.MetricsPath, registry)

	g, gctx := errgroup.WithContext(signalCtx)

	g.Go(func() error {
		slog.Info("API server listening", "addr", cfg.Server.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("Metrics server listening", "addr", metricsServer.Address())
		if err := metricsServer.Start(); err != nil && !errors.Is(err, errs.ErrShuttingDown) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return svc.RunStatsLogger(gctx, cfg.StatsInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down", "timeout", shutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		apiErr := apiServer.Shutdown(shutdownCtx)
		metricsErr := metricsServer.Shutdown(shutdownCtx)
		if apiErr != nil {
			return fmt.Errorf("graceful shutdown failed: %w", apiErr)
		}
		return metricsErr
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("tablecache shutdown complete")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
