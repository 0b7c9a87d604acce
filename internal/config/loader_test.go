package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepared(t *testing.T, cfgFile string) *viper.Viper {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	v := viper.New()
	Prepare(v, cfgFile)
	_, err := Read(v)
	require.NoError(t, err)
	return v
}

func TestLoad(t *testing.T) {
	t.Run("LoadDefaults", func(t *testing.T) {
		t.Chdir(t.TempDir())

		cfg, err := Load(prepared(t, ""))
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, 2048, cfg.Server.MaxURLLength)
		assert.False(t, cfg.Server.TrustProxyHeaders)
		assert.False(t, cfg.Server.TLS.Enabled())

		// Verify served tree defaults
		assert.Equal(t, ".", cfg.Files.Root)
		assert.Empty(t, cfg.Files.AllowedDirs)
		assert.Equal(t, "assets", cfg.Files.UploadDir)
		assert.EqualValues(t, 32<<20, cfg.Files.MaxUploadBytes)

		// Verify admission and cache defaults
		assert.Equal(t, 7, cfg.RateLimit.Requests)
		assert.Equal(t, 10*time.Second, cfg.RateLimit.Period)
		assert.Equal(t, time.Minute, cfg.RateLimit.CleanupInterval)
		assert.Equal(t, 64, cfg.Cache.Capacity)
		assert.EqualValues(t, 1<<20, cfg.Cache.ThresholdBytes)
		assert.EqualValues(t, 64<<20, cfg.Cache.MaxEntryBytes)

		// Verify logging, metrics and health defaults
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)

		assert.Same(t, cfg, GetConfig())
	})

	t.Run("ConfigFile", func(t *testing.T) {
		t.Chdir(t.TempDir())
		path := filepath.Join(t.TempDir(), "tollgate.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8443
  tls:
    cert_file: /etc/tollgate/cert.pem
    key_file: /etc/tollgate/key.pem
files:
  root: /srv/www
  allowed_dirs: [assets, images]
rate_limit:
  requests: 20
  period: 1m
cache:
  capacity: 8
`), 0o644))

		cfg, err := Load(prepared(t, path))
		require.NoError(t, err)

		assert.Equal(t, 8443, cfg.Server.Port)
		assert.True(t, cfg.Server.TLS.Enabled())
		assert.Equal(t, "/srv/www", cfg.Files.Root)
		assert.Equal(t, []string{"assets", "images"}, cfg.Files.AllowedDirs)
		assert.Equal(t, 20, cfg.RateLimit.Requests)
		assert.Equal(t, time.Minute, cfg.RateLimit.Period)
		assert.Equal(t, 8, cfg.Cache.Capacity)
		assert.Equal(t, "localhost", cfg.Server.Host, "unset keys keep defaults")
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		v := viper.New()
		Prepare(v, filepath.Join(t.TempDir(), "missing.yaml"))
		_, err := Read(v)
		assert.Error(t, err)
	})

	t.Run("DirectoryConfigDiscovered", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		require.NoError(t, os.Mkdir(filepath.Join(dir, "config"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.yaml"), []byte("cache:\n  capacity: 3\n"), 0o644))

		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		v := viper.New()
		Prepare(v, "")
		used, err := Read(v)
		require.NoError(t, err)
		assert.NotEmpty(t, used)

		cfg, err := Load(v)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Cache.Capacity)
	})
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TOLLGATE_RATE_LIMIT_REQUESTS", "3")
	t.Setenv("TOLLGATE_RATE_LIMIT_PERIOD", "30s")
	t.Setenv("TOLLGATE_FILES_ALLOWED_DIRS", "assets,docs")
	t.Setenv("TOLLGATE_SERVER_TRUST_PROXY_HEADERS", "true")
	t.Setenv("TOLLGATE_PORT", "9001")
	t.Setenv("TOLLGATE_LOG_LEVEL", "debug")

	cfg, err := Load(prepared(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RateLimit.Requests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Period)
	assert.Equal(t, []string{"assets", "docs"}, cfg.Files.AllowedDirs)
	assert.True(t, cfg.Server.TrustProxyHeaders)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestFullEnvKeyBeatsAlias(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TOLLGATE_PORT", "9001")
	t.Setenv("TOLLGATE_SERVER_PORT", "9002")

	cfg, err := Load(prepared(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 9002, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		t.Helper()
		v := viper.New()
		SetDefaults(v)
		cfg, err := Decode(v.AllSettings())
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
		return cfg
	}

	tests := map[string]func(*Config){
		"zero requests":       func(c *Config) { c.RateLimit.Requests = 0 },
		"zero period":         func(c *Config) { c.RateLimit.Period = 0 },
		"zero capacity":       func(c *Config) { c.Cache.Capacity = 0 },
		"inverted cache size": func(c *Config) { c.Cache.MaxEntryBytes = c.Cache.ThresholdBytes },
		"port out of range":   func(c *Config) { c.Server.Port = 70000 },
		"half tls":            func(c *Config) { c.Server.TLS.CertFile = "cert.pem" },
		"empty root":          func(c *Config) { c.Files.Root = " " },
		"unknown profile":     func(c *Config) { c.Logging.Profile = "enterprise" },
		"no url bound":        func(c *Config) { c.Server.MaxURLLength = 0 },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid(t)
			mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			env, ok := err.(*gferrors.ErrorEnvelope)
			require.True(t, ok, "expected an error envelope, got %T", err)
			assert.Equal(t, "CONFIG_INVALID", env.Code)
		})
	}
}
