// Package orchestrator drives the Up/Down state machine: it walks a
// work directory's operation list, resolves and installs each item,
// updates reference counts and environment history, and reports
// progress to a UI sink.
package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/config"
	"github.com/xaf/omni/internal/display"
	"github.com/xaf/omni/internal/gc"
	"github.com/xaf/omni/internal/installer"
	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/operation"
	"github.com/xaf/omni/internal/store"
	"github.com/xaf/omni/internal/version"
	"github.com/xaf/omni/internal/workdir"
)

// RunState is the overall state of one up/down invocation.
type RunState string

const (
	StatePlanning    RunState = "planning"
	StateExecuting   RunState = "executing"
	StateEnvUpdating RunState = "env-updating"
	StateFinalizing  RunState = "finalizing"
	StateDone        RunState = "done"
	StateAborted     RunState = "aborted"
)

// ItemState is the state of one plan item within a run.
type ItemState string

const (
	ItemPending    ItemState = "pending"
	ItemResolving  ItemState = "resolving"
	ItemInstalling ItemState = "installing"
	ItemApplied    ItemState = "applied"
	ItemFailed     ItemState = "failed"
)

// ItemResult is the terminal record of one plan item's processing.
type ItemResult struct {
	Item    operation.PlanItem
	State   ItemState
	Version string
	Outcome operation.ApplyOutcome
	Err     error
}

// RunResult summarizes one up or down invocation.
type RunResult struct {
	State        RunState
	Items        []ItemResult
	EnvChanged   bool
	Fingerprint  string
	DroppedFiles int
}

// Orchestrator wires the cache store, tool resolver, and installer
// drivers together against one work directory.
type Orchestrator struct {
	store     *store.Store
	resolver  *version.Resolver
	installer *installer.Installer
	workdirs  *workdir.Resolver
	printer   display.Printer
	catalogs  *catalogFetcher
	gc        *gc.Collector
}

// New builds an Orchestrator.
func New(s *store.Store, res *version.Resolver, inst *installer.Installer, wr *workdir.Resolver, printer display.Printer) *Orchestrator {
	return &Orchestrator{
		store:     s,
		resolver:  res,
		installer: inst,
		workdirs:  wr,
		printer:   printer,
		catalogs:  newCatalogFetcher(inst),
		gc:        gc.New(s),
	}
}

// runGC delegates to the garbage collector and reports the number of
// install file trees it removed.
func (o *Orchestrator) runGC(ctx context.Context, cfg *config.GlobalConfig) (int, error) {
	result, err := o.gc.Run(ctx, cfg)
	if err != nil {
		return 0, err
	}
	return result.FilesRemoved, nil
}

// cancelSignal wraps a context with SIGINT/SIGTERM cancellation.
// requested reports whether that context is done, whether a signal or
// the parent context's cancellation caused it.
type cancelSignal struct {
	ctx       context.Context
	stop      context.CancelFunc
	cancelled atomic.Bool
}

func withCancelSignal(parent context.Context) (*cancelSignal, func()) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	cs := &cancelSignal{ctx: ctx, stop: stop}
	go func() {
		<-ctx.Done()
		cs.cancelled.Store(true)
	}()
	return cs, stop
}

func (cs *cancelSignal) requested() bool {
	select {
	case <-cs.ctx.Done():
		return true
	default:
		return false
	}
}

// Up runs the full sequence described for `omni up`: plan, resolve,
// install, reconcile references, rebuild the environment, and run GC
// opportunistically.
func (o *Orchestrator) Up(ctx context.Context, wd *models.WorkDir, wdConfig *config.WorkDirConfig, globalConfig *config.GlobalConfig, preferred operation.PreferredTools) (*RunResult, error) {
	if err := workdir.RequireTrusted(wd); err != nil {
		return nil, err
	}

	cs, stop := withCancelSignal(ctx)
	defer stop()

	result := &RunResult{State: StatePlanning}

	items, err := decodeOperations(wdConfig)
	if err != nil {
		return nil, err
	}

	result.State = StateExecuting
	keep := make(map[int64]map[string]bool)

	for _, it := range items {
		if cs.requested() {
			result.State = StateAborted
			return result, omnierr.ErrCancelled
		}

		for _, res := range o.applyOperationItem(ctx, wd, wdConfig, globalConfig, it, preferred) {
			result.Items = append(result.Items, res)
			if res.Err != nil {
				o.printer.Errorf("%s: %v", displayIdentity(res.Item, res.Version), res.Err)
				continue
			}
			if res.Outcome.AlreadyPresent {
				o.printer.Skipf("%s", displayIdentity(res.Item, res.Version))
			} else {
				o.printer.Successf("%s", displayIdentity(res.Item, res.Version))
			}

			if res.Outcome.InstallID != 0 {
				dir := res.Item.DirSubpath()
				if keep[res.Outcome.InstallID] == nil {
					keep[res.Outcome.InstallID] = map[string]bool{}
				}
				keep[res.Outcome.InstallID][dir] = true
			}
		}
	}

	if _, err := o.store.DropStaleReferences(ctx, wd.ID, keep); err != nil {
		return result, err
	}

	result.State = StateEnvUpdating
	changed, fingerprint, err := o.rebuildEnv(ctx, wd, result.Items, wdConfig)
	if err != nil {
		return result, err
	}
	result.EnvChanged = changed
	result.Fingerprint = fingerprint

	result.State = StateFinalizing
	dropped, err := o.runGC(ctx, globalConfig)
	if err != nil {
		o.printer.Warningf("garbage collection failed: %v", err)
	}
	result.DroppedFiles = dropped

	result.State = StateDone
	return result, nil
}

// Down performs step 4 of the up sequence against an empty plan,
// closes the open environment-history row, and triggers GC.
func (o *Orchestrator) Down(ctx context.Context, wd *models.WorkDir, globalConfig *config.GlobalConfig) (*RunResult, error) {
	result := &RunResult{State: StateExecuting}

	if _, err := o.store.DropStaleReferences(ctx, wd.ID, map[int64]map[string]bool{}); err != nil {
		return result, err
	}

	result.State = StateEnvUpdating
	if err := o.store.CloseOpenEnvHistory(ctx, wd.ID, time.Now()); err != nil {
		return result, err
	}

	result.State = StateFinalizing
	dropped, err := o.runGC(ctx, globalConfig)
	if err != nil {
		o.printer.Warningf("garbage collection failed: %v", err)
	}
	result.DroppedFiles = dropped

	result.State = StateDone
	return result, nil
}

func decodeOperations(wdConfig *config.WorkDirConfig) ([]operation.Item, error) {
	items := make([]operation.Item, 0, len(wdConfig.Up))
	for i := range wdConfig.Up {
		var item operation.Item
		if err := wdConfig.Up[i].Decode(&item); err != nil {
			return nil, eris.Wrapf(omnierr.ErrConfig, "invalid up: entry %d: %v", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}
