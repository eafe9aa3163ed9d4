package orchestrator

import (
	"context"
	"time"

	"github.com/xaf/omni/internal/config"
	"github.com/xaf/omni/internal/env"
	"github.com/xaf/omni/internal/models"
)

// rebuildEnv computes the work directory's environment contributions
// from this run's applied items and any static directives in
// .omni.yaml, and records a new EnvHistory row if the fingerprint
// changed since the last recorded one.
func (o *Orchestrator) rebuildEnv(ctx context.Context, wd *models.WorkDir, items []ItemResult, wdConfig *config.WorkDirConfig) (changed bool, fingerprint string, err error) {
	var contributions []env.Contribution
	for _, it := range items {
		if it.State != ItemApplied || len(it.Outcome.Contributions) == 0 {
			continue
		}
		contributions = append(contributions, it.Outcome.Contributions...)
	}

	var staticOps []env.Op
	if wdConfig != nil {
		for _, d := range wdConfig.Env {
			op, err := d.Op()
			if err != nil {
				return false, "", err
			}
			staticOps = append(staticOps, op)
		}
	}

	flat := append(staticOps, env.Scope("", contributions)...)
	built := env.Build(flat)
	fingerprint = env.Fingerprint(built)

	previous, err := o.store.GetOpenEnvHistory(wd.ID)
	if err != nil {
		return false, "", err
	}
	if previous != nil && previous.EnvFingerprint == fingerprint {
		return false, fingerprint, nil
	}

	if err := o.store.OpenEnvHistory(ctx, wd.ID, fingerprint, time.Now()); err != nil {
		return false, "", err
	}
	return true, fingerprint, nil
}
