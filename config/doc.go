// Package config provides configuration management for echopipe daemons.
//
// Configuration is loaded from JSON or YAML files with layer merging
// (base + overrides, last wins) and environment variable overrides
// using the ECHOPIPE_ prefix.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.yaml")
//	loader.AddLayer("config/production.yaml") // overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Environment Variable Overrides
//
//	export ECHOPIPE_GATEWAY_ADDR=":9180"
//	export ECHOPIPE_NATS_URLS="nats://server1:4222,nats://server2:4222"
//	export ECHOPIPE_LOG_LEVEL="debug"
//
// # Security
//
// File loading enforces a size limit, a nesting depth limit, and path
// validation (no traversal, regular files only).
package config
