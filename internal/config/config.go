// Package config loads beacon settings for the command line tools.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/beaconkit/beacon"
	"github.com/beaconkit/beacon/internal/compress"
)

const (
	// EnvPrefix is the prefix of every environment override.
	EnvPrefix = "BEACON_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// sections are the nested blocks; an env var starting with one of them maps
// to section.field, anything else to a top-level field.
var sections = []string{"collector", "metrics", "log", "valkey"}

// Config is the file and environment configuration.
type Config struct {
	Endpoint       string        `koanf:"endpoint"`
	Transport      string        `koanf:"transport"`
	BatchSize      int           `koanf:"batch_size"`
	FlushDelay     time.Duration `koanf:"flush_delay"`
	TotalByteLimit int64         `koanf:"total_byte_limit"`
	Compression    string        `koanf:"compression"`
	Debug          bool          `koanf:"debug"`
	DebugStorePath string        `koanf:"debug_store_path"`
	PageURL        string        `koanf:"page_url"`
	Context        string        `koanf:"context"`
	ShutdownWait   time.Duration `koanf:"shutdown_wait"`

	Collector CollectorConfig `koanf:"collector"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Valkey    ValkeyConfig    `koanf:"valkey"`
}

// CollectorConfig configures the reference collector.
type CollectorConfig struct {
	Addr string `koanf:"addr"`
	// FailEvery makes every n-th request fail with 503. Zero disables it.
	FailEvery int `koanf:"fail_every"`
	// NATSSubject, if set, makes the collector also serve requests on a NATS subject.
	NATSURL     string `koanf:"nats_url"`
	NATSSubject string `koanf:"nats_subject"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures the zap logger of the command line tools.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ValkeyConfig points debug mode at a shared Valkey list instead of a local
// store. It takes precedence over debug_store_path.
type ValkeyConfig struct {
	Addr string `koanf:"addr"`
	Key  string `koanf:"key"`
}

// Load reads the YAML file at path, if any, then applies BEACON_* environment
// overrides.
//
// Environment variables map to keys by dropping the prefix and lowercasing;
// a leading section name becomes a nested key:
//
//	BEACON_BATCH_SIZE     -> batch_size
//	BEACON_COLLECTOR_ADDR -> collector.addr
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}
	return key
}

func applyDefaults(cfg *Config) {
	if cfg.Compression == "" {
		cfg.Compression = compress.NameGzip
	}
	if cfg.ShutdownWait == 0 {
		cfg.ShutdownWait = 5 * time.Second
	}
	if cfg.Collector.Addr == "" {
		cfg.Collector.Addr = "127.0.0.1:8095"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// Validate checks values the session would otherwise only reject at runtime.
func (c *Config) Validate() error {
	if _, err := compress.ForName(c.Compression); err != nil {
		return err
	}
	switch c.Transport {
	case "", "http", "fasthttp", "nats":
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Endpoint != "" {
		endpoint, err := beacon.ParseEndpoint(c.Endpoint)
		if err != nil {
			return err
		}
		if natsEndpoint := endpoint.Scheme() == beacon.SchemeNATS; natsEndpoint != (c.Transport == "nats") {
			return fmt.Errorf("transport %q cannot deliver to %s endpoint %q", c.transportName(), endpoint.Scheme(), c.Endpoint)
		}
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative, got %d", c.BatchSize)
	}
	if c.TotalByteLimit < 0 {
		return fmt.Errorf("total_byte_limit must not be negative, got %d", c.TotalByteLimit)
	}
	if c.Collector.FailEvery < 0 {
		return fmt.Errorf("collector.fail_every must not be negative, got %d", c.Collector.FailEvery)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

func (c *Config) transportName() string {
	if c.Transport == "" {
		return "http"
	}
	return c.Transport
}

// SessionOptions converts the configuration into session options. Transport,
// sinks and metrics are left to the caller.
func (c *Config) SessionOptions() beacon.SessionOptions {
	return beacon.SessionOptions{
		Endpoint:       c.Endpoint,
		BatchSize:      c.BatchSize,
		FlushDelay:     c.FlushDelay,
		TotalByteLimit: c.TotalByteLimit,
		Compression:    c.Compression,
		Debug:          c.Debug,
		DebugStorePath: c.DebugStorePath,
		PageURL:        c.PageURL,
		Context:        c.Context,
	}
}
