package orchestrator

import (
	"github.com/xaf/omni/internal/config"
	"github.com/xaf/omni/internal/env"
	"github.com/xaf/omni/internal/models"
)

// CurrentEnvOps reconstructs the environment a work directory
// currently contributes from its persisted references and their
// installs' recorded EnvOps, scoped to cwdRel. It does not require a
// prior orchestrator run in this process, which is what the shell
// hook needs: hook invocations run in a fresh process per prompt.
// Every driver's ApplyOutcome.Contributions is persisted verbatim onto
// its Install (see deriveMetadata), so this replays whatever kind of
// mutation the driver reported, not just PATH prepends.
func (o *Orchestrator) CurrentEnvOps(wd *models.WorkDir, wdConfig *config.WorkDirConfig, cwdRel string) ([]env.Op, error) {
	refs, err := o.store.ListReferencesForWorkDir(wd.ID)
	if err != nil {
		return nil, err
	}

	var contributions []env.Contribution
	for _, ref := range refs {
		install, err := o.store.GetInstallByID(ref.InstallID)
		if err != nil {
			return nil, err
		}
		if install == nil || len(install.Metadata.EnvOps) == 0 {
			continue
		}
		contributions = append(contributions, env.Contribution{DirSubpath: ref.DirSubpath, Ops: install.Metadata.EnvOps})
	}

	var staticOps []env.Op
	if wdConfig != nil {
		for _, d := range wdConfig.Env {
			op, err := d.Op()
			if err != nil {
				return nil, err
			}
			staticOps = append(staticOps, op)
		}
	}

	flat := append(staticOps, env.Scope(cwdRel, contributions)...)
	return env.Build(flat), nil
}
