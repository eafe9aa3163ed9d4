package orchestrator

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/config"
	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/operation"
)

// applyOperationItem walks item's composite tree at apply time,
// executing leaves through applyItem. Unlike operation.Plan, which
// only previews a single candidate for `or`/`any`, this is where a
// composite actually absorbs a child's failure: `or` and `any` fall
// through to the next sibling only when the previously selected one's
// installation genuinely failed, and `and` stops at the first child
// that fails rather than continuing into its remaining siblings.
func (o *Orchestrator) applyOperationItem(ctx context.Context, wd *models.WorkDir, wdConfig *config.WorkDirConfig, globalConfig *config.GlobalConfig, item operation.Item, preferred operation.PreferredTools) []ItemResult {
	switch item.Kind {
	case operation.KindAnd:
		var results []ItemResult
		for _, child := range item.Composite {
			childResults := o.applyOperationItem(ctx, wd, wdConfig, globalConfig, child, preferred)
			results = append(results, childResults...)
			if compositeFailed(childResults) {
				break
			}
		}
		return results

	case operation.KindOr:
		return o.applyFirstSuccessfulChild(ctx, wd, wdConfig, globalConfig, item.Composite, preferred)

	case operation.KindAny:
		children := append([]operation.Item(nil), item.Composite...)
		operation.SortByPreference(children, preferred)
		return o.applyFirstSuccessfulChild(ctx, wd, wdConfig, globalConfig, children, preferred)

	default:
		leaf, ok := operation.LeafPlanItem(item)
		if !ok {
			return []ItemResult{{State: ItemFailed, Err: eris.Wrapf(omnierr.ErrConfig, "unrecognized operation kind %q", item.Kind)}}
		}
		return []ItemResult{o.applyItem(ctx, wd, wdConfig, globalConfig, leaf)}
	}
}

// applyFirstSuccessfulChild tries each child in order, stopping at the
// first whose subtree applies with no failure. It reports the results
// of every child it tried, so a failed attempt stays visible next to
// the sibling that succeeded; the final results always belong to the
// child that decided the composite's outcome.
func (o *Orchestrator) applyFirstSuccessfulChild(ctx context.Context, wd *models.WorkDir, wdConfig *config.WorkDirConfig, globalConfig *config.GlobalConfig, children []operation.Item, preferred operation.PreferredTools) []ItemResult {
	if len(children) == 0 {
		return []ItemResult{{State: ItemFailed, Err: eris.Wrapf(omnierr.ErrConfig, "composite operation has no children")}}
	}

	var all []ItemResult
	for _, child := range children {
		results := o.applyOperationItem(ctx, wd, wdConfig, globalConfig, child, preferred)
		all = append(all, results...)
		if !compositeFailed(results) {
			return all
		}
	}
	return all
}

// compositeFailed judges a subtree by its final result: `and` stops at
// its first failing child and `or`/`any` end with the child that
// decided them, so the last result carries the subtree's outcome.
func compositeFailed(results []ItemResult) bool {
	return len(results) == 0 || results[len(results)-1].Err != nil
}
