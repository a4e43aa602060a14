// Package cli provides the command-line interface for surfwatch.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

const defaultConfigDir = ".surfwatch"

var (
	configDir string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "surfwatch",
	Short: "Track product mentions across Reddit, Twitter and the Cursor forum",
	Long: "surfwatch searches Reddit communities for product mentions through the official API " +
		"with a scraping fallback, keeps forum topics and tweets in a local store, classifies " +
		"them, and serves everything over a small HTTP API.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("surfwatch %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", defaultConfigDir, "config directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level from config")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
