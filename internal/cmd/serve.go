package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tollgate/tollgate/internal/appid"
	"github.com/tollgate/tollgate/internal/config"
	"github.com/tollgate/tollgate/internal/core/admission"
	"github.com/tollgate/tollgate/internal/core/cache"
	"github.com/tollgate/tollgate/internal/core/pipeline"
	"github.com/tollgate/tollgate/internal/core/resolver"
	errwrap "github.com/tollgate/tollgate/internal/errors"
	"github.com/tollgate/tollgate/internal/metrics"
	"github.com/tollgate/tollgate/internal/observability"
	"github.com/tollgate/tollgate/internal/server"
	"github.com/tollgate/tollgate/internal/server/handlers"
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

// serverRuntime is the wired request path behind the HTTP server.
type serverRuntime struct {
	files     *resolver.Resolver
	admission *admission.Controller
	cache     *cache.Store
	pipeline  *pipeline.Pipeline
	health    *handlers.HealthManager
	server    *server.Server
}

// newRuntime builds every component the server needs from cfg. The caller
// owns starting the admission sweeper and closing files.
func newRuntime(cfg *config.Config) (*serverRuntime, error) {
	files, err := resolver.New(resolver.Options{
		Root:        cfg.Files.Root,
		AllowedDirs: cfg.Files.AllowedDirs,
		UploadDir:   cfg.Files.UploadDir,
	})
	if err != nil {
		return nil, errwrap.WrapConfigInvalid(context.Background(), err, "cannot open served root")
	}

	ctrl := admission.New(admission.Limits{
		Requests:        cfg.RateLimit.Requests,
		Period:          cfg.RateLimit.Period,
		CleanupInterval: cfg.RateLimit.CleanupInterval,
	})
	store := cache.New(cfg.Cache.Capacity)

	p := pipeline.New(pipeline.Config{
		MaxURLLength:   cfg.Server.MaxURLLength,
		ThresholdBytes: cfg.Cache.ThresholdBytes,
		MaxEntryBytes:  cfg.Cache.MaxEntryBytes,
		MaxUploadBytes: cfg.Files.MaxUploadBytes,
	}, ctrl, store, files)

	rt := &serverRuntime{
		files:     files,
		admission: ctrl,
		cache:     store,
		pipeline:  p,
	}

	if cfg.Health.Enabled {
		identity := GetAppIdentity()
		rt.health = handlers.NewHealthManager(versionInfo.Version)
		rt.health.RegisterChecker("served_root", handlers.CheckerFunc(func(context.Context) error {
			_, err := files.Stat("")
			return err
		}))
		rt.health.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
		if cfg.Metrics.Enabled {
			rt.health.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
	}

	rt.server = server.New(server.Options{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		TLS:               cfg.Server.TLS,
		Health:            rt.health,
		Metrics:           cfg.Metrics.Enabled,
	}, p)

	return rt, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the file server",
	Long: `Start the file server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read the config file and rescan the allowed directories

The server will cleanly shut down the HTTP server and flush logs on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
		}

		namespace := appid.TelemetryNamespace
		observability.InitServerLogger(appid.BinaryName, cfg.Logging.Level, cfg.Logging.Profile, namespace)

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(appid.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				observability.ServerLogger.Error("Failed to initialize metrics",
					zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}
		metrics.SetServerStartTime(time.Now().Unix())

		rt, err := newRuntime(cfg)
		if err != nil {
			ExitWithCode(observability.ServerLogger, foundry.ExitConfigInvalid, "Cannot serve configured root", err)
		}

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", appid.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("root", rt.files.RootDir()),
			zap.Strings("allowed_dirs", rt.files.AllowedDirs()),
			zap.Int("rate_limit_requests", cfg.RateLimit.Requests),
			zap.Duration("rate_limit_period", cfg.RateLimit.Period),
			zap.Int("cache_capacity", cfg.Cache.Capacity),
			zap.Bool("metrics", cfg.Metrics.Enabled),
			zap.Int("metrics_port", observability.GetMetricsPort()))

		sweepCtx, stopSweep := context.WithCancel(context.Background())
		go rt.admission.Run(sweepCtx)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		// Handler 2: Release the served root and metrics exporter
		signals.OnShutdown(func(ctx context.Context) error {
			stopSweep()
			if err := observability.StopMetrics(); err != nil {
				observability.ServerLogger.Warn("Metrics exporter did not stop cleanly", zap.Error(err))
			}
			return rt.files.Close()
		})

		// Handler 3: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := rt.server.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: attempting config reload")
			return reload(ctx, rt)
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := rt.server.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			stopSweep()
			if code := ExitCodeFor(err); code != foundry.ExitFailure {
				ExitWithCode(observability.ServerLogger, code, "Server could not listen", err)
			}
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

// reload re-reads the config file and rescans the served root. Limits,
// cache sizing and listen address only change on restart.
func reload(ctx context.Context, rt *serverRuntime) error {
	used, err := config.Read(viper.GetViper())
	if err != nil {
		observability.ServerLogger.Error("Failed to reload config file",
			zap.String("file", viper.ConfigFileUsed()),
			zap.Error(err))
		return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		observability.ServerLogger.Error("Reloaded configuration is invalid; keeping current settings", zap.Error(err))
		return err
	}

	if err := rt.files.Refresh(); err != nil {
		return errwrap.WrapInternal(ctx, err, "allowed directory rescan failed")
	}

	observability.ServerLogger.Info("Configuration reloaded",
		zap.String("file", used),
		zap.Strings("allowed_dirs", rt.files.AllowedDirs()),
		zap.String("log_level", cfg.Logging.Level))
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8000, "server port")
	serveCmd.Flags().String("root", ".", "directory to serve")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("files.root", serveCmd.Flags().Lookup("root"))
}
