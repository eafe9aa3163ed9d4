package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/xaf/omni/internal/config"
	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/operation"
	"github.com/xaf/omni/internal/tty"
	"github.com/xaf/omni/internal/workdir"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Provision the tools this work directory declares",
	Long: `up resolves and installs every operation in the current work
directory's up: list, records what it installed against the shared
cache, and rebuilds the dynamic environment the shell hook will pick
up on the next prompt.`,
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
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

	if err := workdir.RequireTrusted(wd); err != nil {
		if !tty.IsInteractive() {
			app.printer.Warning("this work directory is not trusted; run `omni trust` to allow it to provision tools")
			return err
		}
		app.printer.Warningf("%s declares up: operations that run arbitrary shell", wd.RootPath)
		if !confirmTrust(wd.RootPath) {
			return err
		}
		if err := app.workdirs.Trust(cmd.Context(), wd.ID); err != nil {
			return err
		}
		wd.Trusted = true
	}

	wdConfig, err := config.LoadWorkDirConfig(wd.RootPath)
	if err != nil {
		return err
	}

	result, err := app.orchestrator.Up(cmd.Context(), wd, wdConfig, app.globalConfig, operation.PreferredTools(nil))
	if err != nil {
		return err
	}
	reportRun(app, result)
	return nil
}

// confirmTrust prompts on an interactive terminal for permission to
// trust a work directory that up would otherwise refuse to run.
func confirmTrust(rootPath string) bool {
	fmt.Printf("trust %s and continue? [y/N] ", rootPath)
	reply, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(reply), "y")
}
