// Package config loads the proxy's configuration: a YAML file supplying
// defaults, overridden by environment variables, following the same
// Load/loadFromEnv shape the teacher project uses for its own server
// config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the proxy's full runtime configuration.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Proxy   ProxyConfig   `json:"proxy" yaml:"proxy"`
	Cache   CacheConfig   `json:"cache" yaml:"cache"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	externalURL string // derived in loadFromEnv, exposed via ExternalURL
}

// ServerConfig holds the HTTP listener and CORS configuration.
type ServerConfig struct {
	// Host is the address the server listens on.
	Host string `json:"host" yaml:"host"`

	// Port is the server's listening port.
	Port int `json:"port" yaml:"port"`

	// ExternalHost/ExternalScheme build the base URL the rewriter
	// threads into every proxied playlist URI (e.g. the load
	// balancer's public hostname, not Host/Port).
	ExternalHost   string `json:"external_host" yaml:"external_host"`
	ExternalScheme string `json:"external_scheme" yaml:"external_scheme"`

	// CORSAllowedOrigin is echoed back as Access-Control-Allow-Origin;
	// "*" allows any origin.
	CORSAllowedOrigin string `json:"cors_allowed_origin" yaml:"cors_allowed_origin"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// RateLimitRPM bounds requests per client IP per minute; 0 disables.
	RateLimitRPM int `json:"rate_limit_rpm" yaml:"rate_limit_rpm"`
}

// ProxyConfig holds the upstream-fetch and decryption surface.
type ProxyConfig struct {
	ManifestTimeout time.Duration `json:"manifest_timeout" yaml:"manifest_timeout"`
	SegmentTimeout  time.Duration `json:"segment_timeout" yaml:"segment_timeout"`

	// MaxSegmentBytes caps how much of an unbounded-length segment
	// response the fetcher will buffer before giving up.
	MaxSegmentBytes int64 `json:"max_segment_bytes" yaml:"max_segment_bytes"`

	// S3 configures the optional s3:// origin fetcher. Region empty
	// disables it; the proxy falls back to HTTP-only origins.
	S3 S3OriginConfig `json:"s3" yaml:"s3"`
}

// S3OriginConfig configures the s3:// OriginFetcher.
type S3OriginConfig struct {
	Region          string `json:"region" yaml:"region"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
}

// CacheConfig configures the init-segment cache backend.
type CacheConfig struct {
	// Capacity is the LRU's entry bound.
	Capacity int `json:"capacity" yaml:"capacity"`

	// Backend selects the cache implementation: "memory" (default) or
	// "redis" for multi-replica deployments.
	Backend   string `json:"backend" yaml:"backend"`
	RedisAddr string `json:"redis_addr" yaml:"redis_addr"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// Format is the log format (json, text).
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the proxy's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ExternalHost:      "localhost:8080",
			ExternalScheme:    "http",
			CORSAllowedOrigin: "*",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			RateLimitRPM:      0,
		},
		Proxy: ProxyConfig{
			ManifestTimeout: 30 * time.Second,
			SegmentTimeout:  60 * time.Second,
			MaxSegmentBytes: 64 * 1024 * 1024,
		},
		Cache: CacheConfig{
			Capacity:  64,
			Backend:   "memory",
			RedisAddr: "localhost:6379",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file at filename, applies
// DefaultConfig as the base, then applies environment variable
// overrides. An empty filename skips the file step entirely, so a
// purely env-var-driven deployment needs no config file on disk.
func Load(filename string) (*Config, error) {
	cfg := DefaultConfig()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	return cfg, nil
}

// loadFromEnv overrides cfg from environment variables.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("EXTERNAL_HOST"); v != "" {
		c.Server.ExternalHost = v
	}
	if v := os.Getenv("EXTERNAL_SCHEME"); v != "" {
		c.Server.ExternalScheme = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGIN"); v != "" {
		c.Server.CORSAllowedOrigin = v
	}
	if v := os.Getenv("CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.Capacity = n
		}
	}
	if v := os.Getenv("MANIFEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Proxy.ManifestTimeout = d
		}
	}
	if v := os.Getenv("SEGMENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Proxy.SegmentTimeout = d
		}
	}
	if v := os.Getenv("INIT_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("MAX_SEGMENT_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Proxy.MaxSegmentBytes = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" && c.Proxy.S3.Region == "" {
		c.Proxy.S3.Region = v
	}

	c.externalURL = c.Server.ExternalScheme + "://" + c.Server.ExternalHost
}

// ExternalURL returns the proxy's externally reachable base URL, as
// threaded into every rewritten playlist URI.
func (c *Config) ExternalURL() string {
	if c.externalURL != "" {
		return c.externalURL
	}
	return c.Server.ExternalScheme + "://" + c.Server.ExternalHost
}
