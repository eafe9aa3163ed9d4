package cmd

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/xaf/omni/internal/omnierr"
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Release this work directory's tools",
	Long: `down drops the current work directory's references to every
tool it had installed, closes its environment-history row, and
triggers garbage collection. Installs still referenced by other work
directories are left alone.`,
	RunE: runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.Close()

	cwd, err := os.Getwd()
	if err != nil {
		return eris.Wrapf(omnierr.ErrConfig, "failed to determine current directory: %v", err)
	}

	wd, err := app.workdirs.Resolve(cmd.Context(), cwd)
	if err != nil {
		return err
	}

	result, err := app.orchestrator.Down(cmd.Context(), wd, app.globalConfig)
	if err != nil {
		return err
	}
	reportRun(app, result)
	return nil
}
