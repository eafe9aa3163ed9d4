package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/xaf/omni/internal/config"
	"github.com/xaf/omni/internal/env"
	"github.com/xaf/omni/internal/omnierr"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Shell integration hooks",
}

var hookEnvCmd = &cobra.Command{
	Use:   "env <bash|zsh|fish|posix>",
	Short: "Print the environment delta for the current prompt",
	Long: `env is called by the shell integration on every prompt. It
compares the environment this work directory currently contributes
against what was applied last time, tracked via the OMNI_ENV_FINGERPRINT
and OMNI_ENV_VARS variables left in the calling shell's environment, and
prints the shell commands needed to realize the difference. The caller
is expected to eval the output.`,
	Args: cobra.ExactArgs(1),
	RunE: runHookEnv,
}

func init() {
	hookCmd.AddCommand(hookEnvCmd)
	rootCmd.AddCommand(hookCmd)
}

func parseShell(arg string) (env.Shell, error) {
	switch arg {
	case "fish":
		return env.Fish, nil
	case "bash", "zsh", "sh", "posix":
		return env.POSIX, nil
	default:
		return "", eris.Wrapf(omnierr.ErrConfig, "unsupported shell %q", arg)
	}
}

func runHookEnv(cmd *cobra.Command, args []string) error {
	shell, err := parseShell(args[0])
	if err != nil {
		return err
	}

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

	wdConfig, err := config.LoadWorkDirConfig(wd.RootPath)
	if err != nil {
		return err
	}

	cwdRel, err := filepath.Rel(wd.RootPath, cwd)
	if err != nil {
		cwdRel = ""
	}

	current, err := app.orchestrator.CurrentEnvOps(wd, wdConfig, cwdRel)
	if err != nil {
		return err
	}
	fingerprint := env.Fingerprint(current)

	if os.Getenv("OMNI_ENV_FINGERPRINT") == fingerprint {
		return nil
	}

	previous := previousManagedOps(os.Getenv("OMNI_ENV_VARS"))
	diff := env.Diff(previous, current)
	diff = append(diff,
		env.Op{Kind: env.Set, Name: "OMNI_ENV_FINGERPRINT", Value: fingerprint},
		env.Op{Kind: env.Set, Name: "OMNI_ENV_VARS", Value: managedVarNames(current)},
	)

	for _, line := range env.Emit(shell, diff, os.Getenv) {
		fmt.Println(line)
	}
	return nil
}

// previousManagedOps reconstructs enough of the previously-applied Op
// list to diff against: env.Diff only inspects Set names to decide
// what to unset, so a bare name is sufficient.
func previousManagedOps(raw string) []env.Op {
	if raw == "" {
		return nil
	}
	names := strings.Split(raw, ",")
	ops := make([]env.Op, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			ops = append(ops, env.Op{Kind: env.Set, Name: n})
		}
	}
	return ops
}

func managedVarNames(ops []env.Op) string {
	seen := make(map[string]bool, len(ops))
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		if op.Kind == env.Unset || seen[op.Name] {
			continue
		}
		seen[op.Name] = true
		names = append(names, op.Name)
	}
	return strings.Join(names, ",")
}
