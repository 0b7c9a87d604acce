// Package appid holds the static identity of the tollgate binary.
package appid

import (
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"
)

const (
	BinaryName         = "tollgate"
	ConfigName         = "tollgate"
	EnvPrefix          = "TOLLGATE_"
	TelemetryNamespace = "tollgate"
	Description        = "Rate-limited caching file server"
)

// Get returns the identity used for help text, version output and health
// checks.
func Get() *appidentity.Identity {
	return &appidentity.Identity{
		BinaryName:  BinaryName,
		ConfigName:  ConfigName,
		EnvPrefix:   EnvPrefix,
		Description: Description,
	}
}

// ViperEnvPrefix is EnvPrefix without the separator viper appends itself.
func ViperEnvPrefix() string {
	return strings.TrimSuffix(EnvPrefix, "_")
}
