package cmd

import (
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tollgate/tollgate/internal/config"
)

var configOutput string

var configCmd = &cobra.Command{
	Use:     "config",
	Aliases: []string{"envinfo"},
	Short:   "Display effective configuration",
	Long: `Display version, runtime and effective configuration.

The configuration shown is the merged result of defaults, config file,
environment and flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := viper.AllSettings()
		delete(settings, "verbose")
		return renderConfig(cmd.OutOrStdout(), environment(), settings, configOutput)
	},
}

// environment describes the binary and the runtime it runs on.
func environment() map[string]any {
	version := crucible.GetVersion()
	identity := GetAppIdentity()
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = "(none; default " + config.DefaultConfigPath() + ")"
	}

	return map[string]any{
		"app": map[string]any{
			"name":       identity.BinaryName,
			"version":    versionInfo.Version,
			"commit":     versionInfo.Commit,
			"built":      versionInfo.BuildDate,
			"env_prefix": identity.EnvPrefix,
			"config":     configFile,
		},
		"ssot": map[string]any{
			"gofulmen": version.Gofulmen,
			"crucible": version.Crucible,
		},
		"runtime": map[string]any{
			"go":     runtime.Version(),
			"goos":   runtime.GOOS,
			"goarch": runtime.GOARCH,
			"cpus":   runtime.NumCPU(),
		},
	}
}

func renderConfig(w io.Writer, env, settings map[string]any, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]any{"environment": env, "configuration": settings}); err != nil {
			return err
		}
		return enc.Close()
	case "", "table":
		renderSettingsTable(w, "Environment", env)
		renderSettingsTable(w, "Configuration", settings)
		return nil
	default:
		return fmt.Errorf("unsupported format %q (use table or yaml)", format)
	}
}

func renderSettingsTable(w io.Writer, title string, settings map[string]any) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Key", "Value"})
	for _, kv := range flattenSettings("", settings) {
		t.AppendRow(table.Row{kv[0], kv[1]})
	}
	t.Render()
}

// flattenSettings turns nested settings into sorted dotted key/value pairs.
func flattenSettings(prefix string, settings map[string]any) [][2]string {
	var rows [][2]string
	for key, value := range settings {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]any:
			rows = append(rows, flattenSettings(name, v)...)
		case []string:
			rows = append(rows, [2]string{name, strings.Join(v, ",")})
		default:
			rows = append(rows, [2]string{name, fmt.Sprint(v)})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	return rows
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().StringVarP(&configOutput, "output", "o", "table", "output format: table or yaml")
}
