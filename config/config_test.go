package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 64, cfg.Pipe.Capacity)
	assert.Equal(t, 1<<20, cfg.Pipe.MaxCapacity)
	assert.Equal(t, ":8080", cfg.Gateway.Addr)
	assert.Equal(t, 10*time.Second, cfg.Gateway.ShutdownTimeout)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadJSONFile(t *testing.T) {
	path := writeConfigFile(t, "config.json", `{
		"pipe": {"capacity": 128, "max_capacity": 4096},
		"gateway": {"addr": ":9000", "shutdown_timeout": "5s"},
		"log": {"level": "debug", "format": "json"}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.Pipe.Capacity)
	assert.Equal(t, 4096, cfg.Pipe.MaxCapacity)
	assert.Equal(t, ":9000", cfg.Gateway.Addr)
	assert.Equal(t, 5*time.Second, cfg.Gateway.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
pipe:
  capacity: 256
gateway:
  addr: ":9100"
nats:
  enabled: true
  urls:
    - nats://a:4222
    - nats://b:4222
  subject_prefix: lab.pipe
  reconnect_wait: 3s
`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Pipe.Capacity)
	// Unset fields keep their defaults.
	assert.Equal(t, 1<<20, cfg.Pipe.MaxCapacity)
	assert.Equal(t, ":9100", cfg.Gateway.Addr)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "lab.pipe", cfg.NATS.SubjectPrefix)
	assert.Equal(t, 3*time.Second, cfg.NATS.ReconnectWait)
}

func TestLayerMergeLastWins(t *testing.T) {
	base := writeConfigFile(t, "base.json", `{
		"pipe": {"capacity": 100, "max_capacity": 1000},
		"log": {"level": "debug"}
	}`)
	prod := writeConfigFile(t, "prod.json", `{
		"pipe": {"capacity": 500}
	}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(prod)

	cfg, err := loader.Load()
	require.NoError(t, err)

	// Later layer overrides only the fields it names.
	assert.Equal(t, 500, cfg.Pipe.Capacity)
	assert.Equal(t, 1000, cfg.Pipe.MaxCapacity)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ECHOPIPE_PIPE_CAPACITY", "4096")
	t.Setenv("ECHOPIPE_GATEWAY_ADDR", ":7777")
	t.Setenv("ECHOPIPE_NATS_URLS", "nats://x:4222,nats://y:4222")
	t.Setenv("ECHOPIPE_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 4096, cfg.Pipe.Capacity)
	assert.Equal(t, ":7777", cfg.Gateway.Addr)
	assert.Equal(t, []string{"nats://x:4222", "nats://y:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestEnvOverrideBadNumber(t *testing.T) {
	t.Setenv("ECHOPIPE_PIPE_CAPACITY", "not-a-number")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative capacity", func(c *Config) { c.Pipe.Capacity = -1 }},
		{"zero max capacity", func(c *Config) { c.Pipe.MaxCapacity = 0 }},
		{"capacity above max", func(c *Config) { c.Pipe.Capacity = 2; c.Pipe.MaxCapacity = 1 }},
		{"missing gateway addr", func(c *Config) { c.Gateway.Addr = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"nats enabled without urls", func(c *Config) { c.NATS.Enabled = true; c.NATS.URLs = nil }},
		{"nats enabled without prefix", func(c *Config) { c.NATS.Enabled = true; c.NATS.SubjectPrefix = "" }},
		{"bad subject prefix", func(c *Config) { c.NATS.Enabled = true; c.NATS.SubjectPrefix = "a b>c" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadValidationFailure(t *testing.T) {
	path := writeConfigFile(t, "bad.json", `{
		"log": {"level": "shouty"}
	}`)

	loader := NewLoader()
	loader.AddLayer(path)
	loader.EnableValidation(true)

	_, err := loader.Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeConfigFile(t, "config.toml", `capacity = 1`)
	_, err := NewLoader().LoadFile(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestJSONDepthLimit(t *testing.T) {
	deep := strings.Repeat(`{"a":`, maxJSONDepth+1) + "1" + strings.Repeat("}", maxJSONDepth+1)
	assert.Error(t, validateJSONDepth([]byte(deep)))

	assert.NoError(t, validateJSONDepth([]byte(`{"a": {"b": [1, 2, 3]}}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": 1`)))
}

func TestSaveToFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")

	cfg := Default()
	cfg.Pipe.Capacity = 777
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 777, loaded.Pipe.Capacity)
	assert.Equal(t, cfg.Gateway.ShutdownTimeout, loaded.Gateway.ShutdownTimeout)
}
