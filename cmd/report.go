package cmd

import (
	"github.com/xaf/omni/internal/orchestrator"
)

// reportRun prints a per-item summary of a completed orchestrator run.
func reportRun(app *appContext, result *orchestrator.RunResult) {
	if result == nil {
		return
	}
	for _, item := range result.Items {
		identity := item.Item.Identity(item.Version)
		switch item.State {
		case orchestrator.ItemApplied:
			if item.Outcome.AlreadyPresent {
				app.printer.Successf("%s already present", identity)
			} else {
				app.printer.Successf("%s installed", identity)
			}
		case orchestrator.ItemFailed:
			app.printer.Errorf("%s failed: %v", identity, item.Err)
		}
	}
	if result.EnvChanged {
		app.printer.Info("environment changed; the next shell prompt will pick it up")
	}
	if result.DroppedFiles > 0 {
		app.printer.Infof("garbage collector reclaimed %d install(s)", result.DroppedFiles)
	}
}
