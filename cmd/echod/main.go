// Package main implements echod, the daemon exposing one synchronized
// bounded byte buffer over HTTP, WebSocket and optionally NATS.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/echopipe/config"
	"github.com/c360/echopipe/gateway"
	"github.com/c360/echopipe/health"
	"github.com/c360/echopipe/metric"
	"github.com/c360/echopipe/natspub"
	"github.com/c360/echopipe/pipe"
)

const (
	Version = "0.1.0"
	appName = "echod"
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
		slog.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("configuration is valid")
		return nil
	}

	logger.Info("starting echod",
		"addr", cfg.Gateway.Addr,
		"capacity", cfg.Pipe.Capacity,
		"max_capacity", cfg.Pipe.MaxCapacity,
		"read_only", cfg.Gateway.ReadOnly,
		"nats", cfg.NATS.Enabled)

	registry := metric.NewRegistry()
	monitor := health.NewMonitor()

	resource, err := pipe.New(cfg.Pipe.Capacity,
		pipe.WithMaxCapacity(cfg.Pipe.MaxCapacity),
		pipe.WithMetrics(registry, "main"),
		pipe.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	gw, err := gateway.New(cfg.Gateway, resource,
		gateway.WithLogger(logger),
		gateway.WithHealthMonitor(monitor),
		gateway.WithMetrics(registry),
	)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	ctx := context.Background()

	var publisher *natspub.Publisher
	if cfg.NATS.Enabled {
		publisher, err = natspub.New(cfg.NATS, resource, natspub.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("create publisher: %w", err)
		}
		if err := publisher.Start(ctx); err != nil {
			return fmt.Errorf("start publisher: %w", err)
		}
		monitor.UpdateHealthy("publisher", "connected")
	}

	if err := gw.Start(ctx); err != nil {
		if publisher != nil {
			_ = publisher.Stop()
		}
		return fmt.Errorf("start gateway: %w", err)
	}

	waitForSignal(logger)

	// Teardown order matters: closing the resource first wakes every
	// blocked caller so in-flight gateway requests finish with Gone
	// instead of hanging through the shutdown window.
	if err := resource.Close(); err != nil {
		logger.Warn("resource close failed", "error", err)
	}
	if publisher != nil {
		if err := publisher.Stop(); err != nil {
			logger.Warn("publisher stop failed", "error", err)
		}
	}
	if err := gw.Stop(); err != nil {
		return fmt.Errorf("stop gateway: %w", err)
	}

	logger.Info("shutdown complete", "stats", resource.Stats().Summary())
	return nil
}

// loadConfig loads the file (when given) and applies flag overrides on
// top.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	if cliCfg.Addr != "" {
		cfg.Gateway.Addr = cliCfg.Addr
	}
	if cliCfg.Capacity >= 0 {
		cfg.Pipe.Capacity = cliCfg.Capacity
	}
	if cliCfg.ReadOnly {
		cfg.Gateway.ReadOnly = true
	}
	if cliCfg.ShutdownTimeout > 0 {
		cfg.Gateway.ShutdownTimeout = cliCfg.ShutdownTimeout
	}
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func waitForSignal(logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())
}
