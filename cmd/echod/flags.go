package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath      string
	Addr            string
	Capacity        int
	ReadOnly        bool
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("ECHOPIPE_CONFIG", ""),
		"Path to configuration file, JSON or YAML (env: ECHOPIPE_CONFIG)")

	flag.StringVar(&cfg.Addr, "addr",
		getEnv("ECHOPIPE_GATEWAY_ADDR", ""),
		"Gateway listen address, overrides config (env: ECHOPIPE_GATEWAY_ADDR)")

	flag.IntVar(&cfg.Capacity, "capacity",
		getEnvInt("ECHOPIPE_PIPE_CAPACITY", -1),
		"Initial buffer capacity in bytes, overrides config (env: ECHOPIPE_PIPE_CAPACITY)")

	flag.BoolVar(&cfg.ReadOnly, "read-only",
		getEnvBool("ECHOPIPE_READ_ONLY", false),
		"Reject mutating operations over the gateway (env: ECHOPIPE_READ_ONLY)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("ECHOPIPE_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: ECHOPIPE_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("ECHOPIPE_LOG_FORMAT", ""),
		"Log format: json, text (env: ECHOPIPE_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("ECHOPIPE_SHUTDOWN_TIMEOUT", 0),
		"Graceful shutdown timeout, overrides config (env: ECHOPIPE_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printUsage
	flag.Parse()

	return cfg
}

func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - synchronized byte buffer daemon

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with a config file
  %s --config=/etc/echopipe/config.yaml

  # Run with flags only
  %s --addr=:8080 --capacity=4096 --log-level=debug

  # Validate configuration only
  %s --config=config.json --validate

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
