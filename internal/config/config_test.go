package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beacon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gzip", cfg.Compression)
	assert.Equal(t, 5*time.Second, cfg.ShutdownWait)
	assert.Equal(t, "127.0.0.1:8095", cfg.Collector.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
endpoint: https://collect.example.com/v1/batches
batch_size: 2048
flush_delay: 250ms
total_byte_limit: 1048576
compression: zstd
debug: true
page_url: https://shop.example.com/
collector:
  addr: 0.0.0.0:9000
  fail_every: 3
log:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://collect.example.com/v1/batches", cfg.Endpoint)
	assert.Equal(t, 2048, cfg.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushDelay)
	assert.Equal(t, int64(1048576), cfg.TotalByteLimit)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "0.0.0.0:9000", cfg.Collector.Addr)
	assert.Equal(t, 3, cfg.Collector.FailEvery)
	assert.Equal(t, "json", cfg.Log.Format)

	opts := cfg.SessionOptions()
	assert.Equal(t, cfg.Endpoint, opts.Endpoint)
	assert.Equal(t, 2048, opts.BatchSize)
	assert.Equal(t, 250*time.Millisecond, opts.FlushDelay)
	assert.Equal(t, "zstd", opts.Compression)
	assert.Equal(t, "https://shop.example.com/", opts.PageURL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
batch_size: 2048
collector:
  addr: 0.0.0.0:9000
`)
	t.Setenv("BEACON_BATCH_SIZE", "512")
	t.Setenv("BEACON_COLLECTOR_ADDR", "127.0.0.1:9100")
	t.Setenv("BEACON_COLLECTOR_FAIL_EVERY", "2")
	t.Setenv("BEACON_METRICS_ADDR", ":2112")
	t.Setenv("BEACON_TOTAL_BYTE_LIMIT", "4096")
	t.Setenv("BEACON_VALKEY_ADDR", "127.0.0.1:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.BatchSize)
	assert.Equal(t, "127.0.0.1:9100", cfg.Collector.Addr)
	assert.Equal(t, 2, cfg.Collector.FailEvery)
	assert.Equal(t, ":2112", cfg.Metrics.Addr)
	assert.Equal(t, int64(4096), cfg.TotalByteLimit)
	assert.Equal(t, "127.0.0.1:6379", cfg.Valkey.Addr)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"BEACON_ENDPOINT":              "endpoint",
		"BEACON_DEBUG_STORE_PATH":      "debug_store_path",
		"BEACON_COLLECTOR_NATS_URL":    "collector.nats_url",
		"BEACON_LOG_LEVEL":             "log.level",
		"BEACON_METRICS_ADDR":          "metrics.addr",
		"BEACON_COLLECTORS_ARE_NESTED": "collectors_are_nested",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := map[string]string{
		"endpoint":                "endpoint: ftp://collect.example.com/",
		"compression":             "compression: brotli",
		"transport":               "transport: carrier-pigeon",
		"nats endpoint over http": "endpoint: nats://broker.internal/beacon.batches",
		"http endpoint over nats": "endpoint: https://collect.example.com/\ntransport: nats",
		"batch size":              "batch_size: -1",
		"fail every":              "collector:\n  fail_every: -2",
		"log format":              "log:\n  format: xml",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMatchesTransportToEndpoint(t *testing.T) {
	tests := map[string]string{
		"http":     "endpoint: https://collect.example.com/",
		"fasthttp": "endpoint: http://collect.example.com/\ntransport: fasthttp",
		"nats":     "endpoint: nats://broker.internal/beacon.batches\ntransport: nats",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.NoError(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.yaml")
	require.NoError(t, os.WriteFile(path, make([]byte, maxConfigFileSize+1), 0600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "too large")
}
