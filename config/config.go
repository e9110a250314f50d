package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration.
type Config struct {
	Pipe    PipeConfig    `json:"pipe"`
	Gateway GatewayConfig `json:"gateway"`
	NATS    NATSConfig    `json:"nats,omitempty"`
	Log     LogConfig     `json:"log"`
}

// PipeConfig defines the buffer resource settings.
type PipeConfig struct {
	Capacity    int `json:"capacity"`     // initial buffer capacity in bytes
	MaxCapacity int `json:"max_capacity"` // resize ceiling in bytes
}

// GatewayConfig defines the HTTP gateway settings.
type GatewayConfig struct {
	Addr            string        `json:"addr"`
	ReadOnly        bool          `json:"read_only,omitempty"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout,omitempty"`
}

// NATSConfig defines the optional event publisher connection.
type NATSConfig struct {
	Enabled       bool          `json:"enabled"`
	URLs          []string      `json:"urls,omitempty"`
	SubjectPrefix string        `json:"subject_prefix,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
}

// LogConfig defines structured logging settings.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Pipe.Capacity < 0 {
		return fmt.Errorf("pipe.capacity must not be negative, got %d", c.Pipe.Capacity)
	}
	if c.Pipe.MaxCapacity <= 0 {
		return fmt.Errorf("pipe.max_capacity must be positive, got %d", c.Pipe.MaxCapacity)
	}
	if c.Pipe.Capacity > c.Pipe.MaxCapacity {
		return fmt.Errorf("pipe.capacity %d exceeds pipe.max_capacity %d",
			c.Pipe.Capacity, c.Pipe.MaxCapacity)
	}

	if c.Gateway.Addr == "" {
		return errors.New("gateway.addr is required")
	}
	if c.Gateway.ShutdownTimeout < 0 {
		return errors.New("gateway.shutdown_timeout must not be negative")
	}

	if c.NATS.Enabled {
		if len(c.NATS.URLs) == 0 {
			return errors.New("nats.urls is required when nats.enabled is true")
		}
		if c.NATS.SubjectPrefix == "" {
			return errors.New("nats.subject_prefix is required when nats.enabled is true")
		}
		if !isValidSubjectPrefix(c.NATS.SubjectPrefix) {
			return fmt.Errorf(
				"nats.subject_prefix %q is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
				c.NATS.SubjectPrefix,
			)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not one of text, json", c.Log.Format)
	}

	return nil
}

// isValidSubjectPrefix checks if a string is valid for use in NATS subjects.
func isValidSubjectPrefix(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// SaveToFile saves the configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// Loader handles configuration loading with layers and overrides.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: "ECHOPIPE",
	}
}

// AddLayer adds a configuration file layer. Later layers override
// earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, raw)
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Pipe: PipeConfig{
			Capacity:    64,
			MaxCapacity: 1 << 20,
		},
		Gateway: GatewayConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			SubjectPrefix: "echopipe",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// loadRaw loads a configuration file into a map. JSON and YAML are
// both accepted, chosen by file extension.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}

	l.parseDurations(raw)
	return raw, nil
}

// mergeFromMap merges configuration from a raw map, only overriding
// fields present in the map.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}
	return &merged
}

// deepMergeMaps recursively merges two maps, with override taking
// precedence.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations converts duration strings to nanoseconds so the
// merged map unmarshals cleanly into time.Duration fields.
func (l *Loader) parseDurations(raw map[string]any) {
	if gw, ok := raw["gateway"].(map[string]any); ok {
		parseDurationField(gw, "shutdown_timeout")
	}
	if nats, ok := raw["nats"].(map[string]any); ok {
		parseDurationField(nats, "reconnect_wait")
	}
}

func parseDurationField(m map[string]any, key string) {
	if s, ok := m[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			m[key] = d.Nanoseconds()
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	if val, err := l.envValue("PIPE_CAPACITY"); err != nil {
		return err
	} else if val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_PIPE_CAPACITY: %w", l.envPrefix, err)
		}
		cfg.Pipe.Capacity = n
	}
	if val, err := l.envValue("PIPE_MAX_CAPACITY"); err != nil {
		return err
	} else if val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_PIPE_MAX_CAPACITY: %w", l.envPrefix, err)
		}
		cfg.Pipe.MaxCapacity = n
	}

	if val, err := l.envValue("GATEWAY_ADDR"); err != nil {
		return err
	} else if val != "" {
		cfg.Gateway.Addr = val
	}

	if val, err := l.envValue("NATS_URLS"); err != nil {
		return err
	} else if val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val, err := l.envValue("NATS_SUBJECT_PREFIX"); err != nil {
		return err
	} else if val != "" {
		cfg.NATS.SubjectPrefix = val
	}

	if val, err := l.envValue("LOG_LEVEL"); err != nil {
		return err
	} else if val != "" {
		cfg.Log.Level = val
	}
	if val, err := l.envValue("LOG_FORMAT"); err != nil {
		return err
	} else if val != "" {
		cfg.Log.Format = val
	}

	return nil
}

func (l *Loader) envValue(suffix string) (string, error) {
	key := l.envPrefix + "_" + suffix
	val := os.Getenv(key)
	if err := validateEnvVar(key, val); err != nil {
		return "", err
	}
	return val, nil
}

// UnmarshalJSON accepts duration fields either as nanosecond numbers
// or as strings like "10s".
func (g *GatewayConfig) UnmarshalJSON(data []byte) error {
	type Alias GatewayConfig
	aux := &struct {
		ShutdownTimeout any `json:"shutdown_timeout,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(g),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d, err := parseDurationValue(aux.ShutdownTimeout)
	if err != nil {
		return fmt.Errorf("gateway.shutdown_timeout: %w", err)
	}
	g.ShutdownTimeout = d
	return nil
}

// UnmarshalJSON accepts duration fields either as nanosecond numbers
// or as strings like "2s".
func (n *NATSConfig) UnmarshalJSON(data []byte) error {
	type Alias NATSConfig
	aux := &struct {
		ReconnectWait any `json:"reconnect_wait,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(n),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d, err := parseDurationValue(aux.ReconnectWait)
	if err != nil {
		return fmt.Errorf("nats.reconnect_wait: %w", err)
	}
	n.ReconnectWait = d
	return nil
}

func parseDurationValue(v any) (time.Duration, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		return time.ParseDuration(val)
	case float64:
		return time.Duration(val), nil
	default:
		return 0, fmt.Errorf("unsupported duration value %v", v)
	}
}
