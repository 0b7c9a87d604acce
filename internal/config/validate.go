package config

import (
	"fmt"
	"strings"

	apperrors "github.com/tollgate/tollgate/internal/errors"
)

var validProfiles = map[string]bool{"simple": true, "structured": true}

// Validate checks the configuration for values the server cannot run with.
// All problems are reported together in one CONFIG_INVALID envelope.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxURLLength <= 0 {
		add("server.max_url_length must be positive")
	}
	if !c.Server.TLS.Enabled() && (c.Server.TLS.CertFile != "" || c.Server.TLS.KeyFile != "") {
		add("server.tls.cert_file and server.tls.key_file must be set together")
	}

	if strings.TrimSpace(c.Files.Root) == "" {
		add("files.root is required")
	}
	if strings.TrimSpace(c.Files.UploadDir) == "" {
		add("files.upload_dir is required")
	}
	if c.Files.MaxUploadBytes <= 0 {
		add("files.max_upload_bytes must be positive")
	}

	if c.RateLimit.Requests < 1 {
		add("rate_limit.requests must be at least 1")
	}
	if c.RateLimit.Period <= 0 {
		add("rate_limit.period must be positive")
	}
	if c.RateLimit.CleanupInterval < 0 {
		add("rate_limit.cleanup_interval must not be negative")
	}

	if c.Cache.Capacity < 1 {
		add("cache.capacity must be at least 1")
	}
	if c.Cache.ThresholdBytes < 0 {
		add("cache.threshold_bytes must not be negative")
	}
	if c.Cache.MaxEntryBytes <= c.Cache.ThresholdBytes {
		add("cache.max_entry_bytes must exceed cache.threshold_bytes")
	}

	if !validProfiles[strings.ToLower(c.Logging.Profile)] {
		add("logging.profile %q must be simple or structured", c.Logging.Profile)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		add("metrics.port %d out of range", c.Metrics.Port)
	}

	if len(problems) == 0 {
		return nil
	}

	env := apperrors.NewConfigInvalidError("invalid configuration: " + strings.Join(problems, "; "))
	if withCtx, err := env.WithContext(map[string]interface{}{"problems": problems}); err == nil {
		env = withCtx
	}
	return env
}
