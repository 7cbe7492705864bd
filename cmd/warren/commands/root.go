package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DefaultConfigPath is used when --config is not given
const DefaultConfigPath = "warren.yml"

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warren",
	Short: "Warren - supervision kernel for long-running agents",
	Long: `Warren supervises a set of agents declared in warren.yml.

Agents share an in-memory blackboard (optionally mirrored to Redis), run
continuously, on a schedule or on demand, and are restarted within a
bounded budget when they fail or get stuck. A status server exposes
health, stats, triggers and Prometheus metrics over HTTP.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", DefaultConfigPath, "Path to warren.yml")
}
