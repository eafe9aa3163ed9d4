package cmd

import (
	"errors"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/xaf/omni/internal/config"
	"github.com/xaf/omni/internal/display"
	"github.com/xaf/omni/internal/gc"
	"github.com/xaf/omni/internal/installer"
	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/orchestrator"
	"github.com/xaf/omni/internal/store"
	"github.com/xaf/omni/internal/version"
	"github.com/xaf/omni/internal/workdir"
)

const (
	exitSuccess = 0
	exitGeneric = 1
	exitConfig  = 2
	exitTrust   = 3
	exitCancel  = 4
)

var rootCmd = &cobra.Command{
	Use:   "omni",
	Short: "Provision and manage per-project development environments",
	Long: `omni resolves and installs the tools a project declares in its
.omni.yaml, tracks them in a shared cache so multiple projects can
reference the same install, and computes the dynamic environment
(PATH and friends) your shell picks up when you cd into the project.

Examples:
  omni up                      # provision the current work directory
  omni down                    # release this work directory's tools
  omni hook env bash           # print the shell-hook eval target
  omni cache list              # inspect the shared install cache
  omni trust                   # trust the current work directory`,
}

// Execute runs the root command and translates the taxonomy in
// internal/omnierr into the process exit code documented for the
// core: 0 success, 1 generic, 2 config error, 3 not-trusted, 4
// cancelled.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printer := display.NewStderr()
		printer.Error(eris.ToString(err, true))
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, omnierr.ErrConfig):
		return exitConfig
	case errors.Is(err, omnierr.ErrNotTrusted):
		return exitTrust
	case errors.Is(err, omnierr.ErrCancelled):
		return exitCancel
	default:
		return exitGeneric
	}
}

// appContext bundles the services every subcommand needs. Each
// subcommand that needs them opens them from its own RunE through
// newAppContext, so `omni completion` and `omni version` don't pay
// for a store connection they don't use.
type appContext struct {
	store        *store.Store
	globalConfig *config.GlobalConfig
	workdirs     *workdir.Resolver
	installer    *installer.Installer
	resolver     *version.Resolver
	orchestrator *orchestrator.Orchestrator
	gc           *gc.Collector
	printer      display.Printer
}

func newAppContext() (*appContext, error) {
	globalConfig, err := config.LoadGlobalConfig()
	if err != nil {
		return nil, err
	}

	dbPath, err := config.GetDBPath()
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrConfig, "%v", err)
	}
	if err := config.EnsureCacheDir(); err != nil {
		return nil, eris.Wrapf(omnierr.ErrConfig, "%v", err)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	installRoot, err := config.GetInstallRoot()
	if err != nil {
		s.Close()
		return nil, eris.Wrapf(omnierr.ErrConfig, "%v", err)
	}

	wdResolver := workdir.NewResolver(s)
	inst := installer.New(s, installer.Options{
		InstallRoot: installRoot,
	})
	resolver := version.NewResolver(s)
	printer := display.NewStderr()
	orch := orchestrator.New(s, resolver, inst, wdResolver, printer)

	return &appContext{
		store:        s,
		globalConfig: globalConfig,
		workdirs:     wdResolver,
		installer:    inst,
		resolver:     resolver,
		orchestrator: orch,
		gc:           gc.New(s),
		printer:      printer,
	}, nil
}

func (a *appContext) Close() {
	if a != nil && a.store != nil {
		a.store.Close()
	}
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}
