package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build metadata set via ldflags. Named to avoid colliding with the
// internal/version package other subcommands import.
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
	builtBy      = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long: `Print the version, commit hash, and build date for omni.

This information is injected at build time via ldflags.`,
	Run: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("omni %s\n", buildVersion)
	fmt.Printf("  commit: %s\n", buildCommit)
	fmt.Printf("  built: %s\n", buildDate)
	fmt.Printf("  by: %s\n", builtBy)
	fmt.Printf("  go: %s\n", runtime.Version())
	fmt.Printf("  platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
