// Package config provides centralized configuration management for tollgate.
// Values are layered with viper and decoded into Config with mapstructure.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/tollgate/tollgate/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetDefaults registers every configuration key with its default value.
// Keys must be registered for environment overrides to apply.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_url_length", 2048)
	v.SetDefault("server.trust_proxy_headers", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")

	// Served tree
	v.SetDefault("files.root", ".")
	v.SetDefault("files.allowed_dirs", []string{})
	v.SetDefault("files.upload_dir", "assets")
	v.SetDefault("files.max_upload_bytes", 32<<20)

	// Admission window
	v.SetDefault("rate_limit.requests", 7)
	v.SetDefault("rate_limit.period", "10s")
	v.SetDefault("rate_limit.cleanup_interval", "1m")

	// Content cache
	v.SetDefault("cache.capacity", 64)
	v.SetDefault("cache.threshold_bytes", 1<<20)
	v.SetDefault("cache.max_entry_bytes", 64<<20)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)
}

// Prepare points v at the config file search path, binds environment
// variables and registers defaults. An explicit cfgFile replaces the search.
func Prepare(v *viper.Viper, cfgFile string) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		if dir := gfconfig.GetAppConfigDir(appid.ConfigName); dir != "" {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(appid.ViperEnvPrefix())
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
}

// Read loads the config file, if any, and layers the short environment
// aliases on top of it. It returns the file used, or "" when none was found.
// Safe to call again on reload.
func Read(v *viper.Viper) (string, error) {
	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return "", fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		used = v.ConfigFileUsed()
	}

	overrides, err := gfconfig.LoadEnvOverrides(envAliases())
	if err != nil {
		return used, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if len(overrides) > 0 {
		if err := v.MergeConfigMap(overrides); err != nil {
			return used, fmt.Errorf("failed to apply environment overrides: %w", err)
		}
	}

	return used, nil
}

// Load decodes the effective settings of v, validates them and makes the
// result available through GetConfig.
func Load(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v.AllSettings())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Decode converts a settings map into a Config. Durations accept Go duration
// strings and lists accept comma-separated strings.
func Decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// envAliases maps short environment variable names onto config paths. The
// full TOLLGATE_<SECTION>_<KEY> form is always available through viper.
func envAliases() []EnvVarSpec {
	prefix := appid.EnvPrefix

	return []EnvVarSpec{
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		{Name: prefix + "ROOT", Path: []string{"files", "root"}, Type: EnvString},
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},
	}
}
