package cmd

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/omnierr"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Trust the current work directory",
	Long: `trust marks the current work directory as safe to run
provisioning operations for. Untrusted work directories refuse to run
up until trusted, since up: entries can execute arbitrary shell.`,
	RunE: runTrust,
}

var untrustCmd = &cobra.Command{
	Use:   "untrust",
	Short: "Revoke trust for the current work directory",
	RunE:  runUntrust,
}

func init() {
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(untrustCmd)
}

func runTrust(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.Close()

	wd, err := resolveCurrentWorkDir(cmd, app)
	if err != nil {
		return err
	}
	if err := app.workdirs.Trust(cmd.Context(), wd.ID); err != nil {
		return err
	}
	app.printer.Successf("trusted %s", wd.RootPath)
	return nil
}

func runUntrust(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.Close()

	wd, err := resolveCurrentWorkDir(cmd, app)
	if err != nil {
		return err
	}
	if err := app.workdirs.Untrust(cmd.Context(), wd.ID); err != nil {
		return err
	}
	app.printer.Successf("untrusted %s", wd.RootPath)
	return nil
}

func resolveCurrentWorkDir(cmd *cobra.Command, app *appContext) (*models.WorkDir, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrConfig, "failed to determine current directory: %v", err)
	}
	return app.workdirs.Resolve(cmd.Context(), cwd)
}
