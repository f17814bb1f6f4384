package cli

import (
	"github.com/biodiversity-meets-data/occmirror/server/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "occmirror",
	Short: "A local mirror for GBIF occurrence snapshots",
	Long: `Occmirror keeps a local copy of the monthly GBIF occurrence snapshots
published to the public open-data buckets, tracks freshness against new
releases, and redirects SQL queries to the mirrored Parquet so repeated
analysis does not re-read the bucket.

Typical workflow:
  occmirror init my-mirror        set up a mirror directory
  occmirror sync                  mirror the newest snapshot
  occmirror sql "SELECT ..."      query against the local copy
  occmirror serve                 keep the mirror fresh and serve HTTP`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
}

// cliLogger builds the logger commands share. Verbose turns on debug-level
// console output; otherwise only warnings surface so pterm output stays
// readable.
func cliLogger(cmd *cobra.Command) zerolog.Logger {
	level := zerolog.WarnLevel
	if cmd.Flag("verbose") != nil && cmd.Flag("verbose").Value.String() == "true" {
		level = zerolog.DebugLevel
	}
	return config.SetupConsoleLogger(level)
}

// findConfig locates and loads the project configuration
func findConfig() (*config.Config, error) {
	_, cfg, err := config.FindConfig()
	return cfg, err
}
