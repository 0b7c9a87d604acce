package config

import (
	"time"
)

// Config represents the complete application configuration.
// Precedence, lowest first: built-in defaults, config file, short
// environment aliases (TOLLGATE_PORT), full environment keys
// (TOLLGATE_SERVER_PORT), command-line flags.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Files     FilesConfig     `mapstructure:"files"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxURLLength bounds the raw request URI; longer requests get 414.
	MaxURLLength int `mapstructure:"max_url_length"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Only enable behind a proxy that sets them.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`

	TLS TLSConfig `mapstructure:"tls"`
}

// TLSConfig enables HTTPS when both files are set.
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// Enabled reports whether both certificate and key are configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// FilesConfig describes the served tree.
type FilesConfig struct {
	Root string `mapstructure:"root"`

	// AllowedDirs lists servable top-level directories. Empty means every
	// non-hidden directory directly under Root.
	AllowedDirs []string `mapstructure:"allowed_dirs"`

	UploadDir      string `mapstructure:"upload_dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

// RateLimitConfig contains the per-client admission window.
type RateLimitConfig struct {
	Requests        int           `mapstructure:"requests"`
	Period          time.Duration `mapstructure:"period"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// CacheConfig contains content cache sizing.
type CacheConfig struct {
	Capacity       int   `mapstructure:"capacity"`
	ThresholdBytes int64 `mapstructure:"threshold_bytes"`
	MaxEntryBytes  int64 `mapstructure:"max_entry_bytes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the output format
	// Valid values: simple (console), structured (JSON)
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated Prometheus exporter port; /-/metrics on the
	// main port proxies to it.
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}
