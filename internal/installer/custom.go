package installer

import (
	"context"
	"os"
	"os/exec"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/env"
	"github.com/xaf/omni/internal/envfile"
	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/operation"
)

// applyCustom evaluates met?, and if it reports unmet (non-zero exit
// or absent), runs meet with a writable $OMNI_ENV file, translating
// its directives into environment contributions.
func (in *Installer) applyCustom(ctx context.Context, item operation.PlanItem) (operation.ApplyOutcome, error) {
	spec := item.Custom

	if spec.Met != "" {
		if err := runShell(ctx, spec.Met, nil); err == nil {
			return operation.ApplyOutcome{AlreadyPresent: true}, nil
		}
	}

	envFile, err := os.CreateTemp("", "omni-env-*")
	if err != nil {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrInstallFailed, "failed to create $OMNI_ENV file: %v", err)
	}
	envFilePath := envFile.Name()
	envFile.Close()
	defer os.Remove(envFilePath)

	if err := runShell(ctx, spec.Meet, []string{"OMNI_ENV=" + envFilePath}); err != nil {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrInstallFailed, "custom meet script failed: %v", err)
	}

	f, err := os.Open(envFilePath)
	if err != nil {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrInstallFailed, "failed to read $OMNI_ENV file: %v", err)
	}
	defer f.Close()

	ops, err := envfile.Parse(f)
	if err != nil {
		return operation.ApplyOutcome{}, err
	}

	outcome := operation.ApplyOutcome{InstalledNow: true}
	if len(ops) > 0 {
		outcome.Contributions = []env.Contribution{{DirSubpath: item.Custom.Dir, Ops: ops}}
	}
	return outcome, nil
}

func (in *Installer) revertCustom(ctx context.Context, item operation.PlanItem) error {
	if item.Custom.Unmeet == "" {
		return nil
	}
	return runShell(ctx, item.Custom.Unmeet, nil)
}

func runShell(ctx context.Context, script string, extraEnv []string) error {
	if script == "" {
		return eris.Wrap(eris.New("empty script"), "custom operation has no script to run")
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Env = append(os.Environ(), extraEnv...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "%v\n%s", err, output)
	}
	return nil
}
