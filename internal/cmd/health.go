package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tollgate/tollgate/internal/config"
	"github.com/tollgate/tollgate/internal/core/resolver"
	errwrap "github.com/tollgate/tollgate/internal/errors"
	"github.com/tollgate/tollgate/internal/observability"
)

type selfCheck struct {
	Name   string
	Detail string
	Err    error
}

// runSelfChecks verifies that a server could start from cfg without
// binding any port.
func runSelfChecks(cfg *config.Config) []selfCheck {
	checks := []selfCheck{}

	if versionInfo.Version == "" {
		checks = append(checks, selfCheck{Name: "version", Err: errwrap.NewConfigInvalidError("version information missing")})
	} else {
		checks = append(checks, selfCheck{Name: "version", Detail: versionInfo.Version})
	}

	files, err := resolver.New(resolver.Options{
		Root:        cfg.Files.Root,
		AllowedDirs: cfg.Files.AllowedDirs,
		UploadDir:   cfg.Files.UploadDir,
	})
	if err != nil {
		return append(checks, selfCheck{Name: "served_root", Detail: cfg.Files.Root, Err: err})
	}
	defer files.Close() // nolint:errcheck // read-only check

	checks = append(checks, selfCheck{Name: "served_root", Detail: files.RootDir()})
	checks = append(checks, selfCheck{Name: "allowed_dirs", Detail: fmt.Sprint(files.AllowedDirs())})
	return checks
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Validate configuration and the served root without starting the server.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		logger.Info("Running health check...")

		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		logger.Info("✅ Configuration valid")

		failed := false
		for _, check := range runSelfChecks(cfg) {
			if check.Err != nil {
				failed = true
				logger.Error("❌ FAIL: "+check.Name, zap.String("detail", check.Detail), zap.Error(check.Err))
				continue
			}
			logger.Info("✅ "+check.Name, zap.String("detail", check.Detail))
		}

		if failed {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Health check failed", nil)
			return
		}
		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
