package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/omnierr"
)

var cacheListJSON bool
var cacheListKind string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the shared install cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached installs",
	Long: `list shows every install currently tracked in the shared
cache, across all work directories, with its reference count and
last-required time.

Examples:
  omni cache list
  omni cache list --kind tool-version
  omni cache list --json`,
	RunE: runCacheList,
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Run garbage collection immediately",
	Long: `clean runs the same reclamation pass that happens
automatically at the end of every omni up: unreferenced installs past
their grace period are removed, stale open environment-history rows
are closed, and old catalog entries are trimmed.`,
	RunE: runCacheClean,
}

func init() {
	cacheListCmd.Flags().BoolVar(&cacheListJSON, "json", false, "Output in JSON format")
	cacheListCmd.Flags().StringVar(&cacheListKind, "kind", "", "Restrict to a single install kind")
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheCleanCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheList(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.Close()

	installs, err := app.store.ListInstalls(models.InstallKind(cacheListKind))
	if err != nil {
		return err
	}

	if cacheListJSON {
		data, err := json.MarshalIndent(installs, "", "  ")
		if err != nil {
			return eris.Wrapf(omnierr.ErrConfig, "failed to marshal installs: %v", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(installs) == 0 {
		fmt.Println("No cached installs.")
		return nil
	}

	fmt.Printf("%-16s %-40s %-8s %-16s\n", "KIND", "IDENTITY", "REFS", "LAST REQUIRED")
	fmt.Println(strings.Repeat("-", 84))
	for _, inst := range installs {
		fmt.Printf("%-16s %-40s %-8d %-16s\n",
			inst.Kind,
			truncate(inst.Identity, 40),
			inst.ReferenceCount,
			formatTimeAgo(inst.LastRequiredAt),
		)
	}
	return nil
}

func runCacheClean(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.gc.Run(cmd.Context(), app.globalConfig)
	if err != nil {
		return err
	}
	app.printer.Successf("reclaimed %d install(s), closed %d stale environment row(s), trimmed %d environment row(s) and %d catalog entr(y/ies)",
		result.InstallsRemoved, result.EnvHistoryRowsClosed, result.EnvHistoryRowsTrimmed, result.CatalogsTrimmed)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func formatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
