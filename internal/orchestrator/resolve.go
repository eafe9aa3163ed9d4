package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/config"
	"github.com/xaf/omni/internal/env"
	"github.com/xaf/omni/internal/installer"
	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/operation"
	"github.com/xaf/omni/internal/version"
)

// catalogFetcher maps a plan item to the (source, key, fetch) triple
// the version resolver needs to load or refresh its catalog. Package
// managers and the custom driver have no catalog: they carry no
// resolvable version expression.
type catalogFetcher struct {
	installer *installer.Installer
}

func newCatalogFetcher(inst *installer.Installer) *catalogFetcher {
	return &catalogFetcher{installer: inst}
}

func (f *catalogFetcher) sourceAndFetch(item operation.PlanItem) (source, key string, fetch func(context.Context) ([]string, error), ok bool) {
	switch item.Kind {
	case operation.KindToolVersion:
		tool := item.Tool.Tool
		return "tool-version", tool, func(ctx context.Context) ([]string, error) {
			return f.installer.ListToolVersions(ctx, tool)
		}, true
	case operation.KindGithubRelease:
		repo := item.GithubRelease.Repo
		hints, skip, immutable := item.GithubRelease.AssetHints, item.GithubRelease.Skip, item.GithubRelease.Immutable
		key := repo
		if immutable {
			// A catalog built for an immutable requirement excludes tags
			// a plain lookup for the same repo would include, so the two
			// must not share a cache entry.
			key += "#immutable"
		}
		return "github-releases", key, func(ctx context.Context) ([]string, error) {
			return f.installer.ListReleaseTags(ctx, repo, hints, skip, immutable)
		}, true
	case operation.KindCargoInstall:
		crate := item.CargoInstall.Crate
		return "cargo-crates", crate, func(ctx context.Context) ([]string, error) {
			return f.installer.ListCrateVersions(ctx, crate)
		}, true
	case operation.KindGoInstall:
		module := item.GoInstall.Module
		return "go-modules", module, func(ctx context.Context) ([]string, error) {
			return f.installer.ListModuleVersions(ctx, module)
		}, true
	default:
		return "", "", nil, false
	}
}

// itemVersionSpec returns the version-expression, upgrade flag, and
// allow-prerelease flag declared on a plan item, or "" if it carries
// no version at all (package managers, custom).
func itemVersionSpec(item operation.PlanItem) (name, expr string, upgrade, prerelease bool) {
	switch item.Kind {
	case operation.KindToolVersion:
		return item.Tool.Tool, item.Tool.Version, item.Tool.Upgrade, false
	case operation.KindGithubRelease:
		return item.GithubRelease.Repo, item.GithubRelease.Version, item.GithubRelease.Upgrade, item.GithubRelease.Prerelease
	case operation.KindCargoInstall:
		return item.CargoInstall.Crate, item.CargoInstall.Version, item.CargoInstall.Upgrade, false
	case operation.KindGoInstall:
		return item.GoInstall.Module, item.GoInstall.Version, item.GoInstall.Upgrade, false
	default:
		return "", "", false, false
	}
}

func (o *Orchestrator) installedVersions(kind operation.Kind, name string) ([]string, error) {
	installs, err := o.store.ListInstalls(models.InstallKind(kind))
	if err != nil {
		return nil, err
	}
	prefix := name + "@"
	var out []string
	for _, inst := range installs {
		if strings.HasPrefix(inst.Identity, prefix) {
			v := strings.TrimPrefix(inst.Identity, prefix)
			// github-release identities end in "@<asset-selector hash>".
			if i := strings.Index(v, "@"); i >= 0 {
				v = v[:i]
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// resolveVersion turns a plan item's version expression into a
// concrete version string, or "" for kinds that don't carry one.
func (o *Orchestrator) resolveVersion(ctx context.Context, item operation.PlanItem, wdConfig *config.WorkDirConfig) (string, error) {
	name, expr, upgrade, prerelease := itemVersionSpec(item)
	if name == "" {
		return "", nil
	}
	if expr == "" {
		expr = version.ExprLatest
	}
	if expr == version.ExprAuto {
		return "", eris.Wrapf(omnierr.ErrConfig, "%s: auto version resolution requires a lockfile or lang-specific probe, which is not configured", name)
	}

	source, key, fetch, ok := o.catalogs.sourceAndFetch(item)
	if !ok {
		return "", nil
	}

	ttl, retention := config.DefaultCacheTTL, config.DefaultCacheRetention
	if wdConfig != nil {
		ttl, retention = wdConfig.TTLFor(source), wdConfig.RetentionFor(source)
	}

	catalog, err := o.resolver.LoadCatalog(ctx, source, key, ttl, retention, fetch)
	if err != nil {
		return "", err
	}

	installed, err := o.installedVersions(item.Kind, name)
	if err != nil {
		return "", err
	}

	return version.Select(catalog, expr, installed, upgrade, prerelease)
}

// deriveMetadata records every environment contribution a driver
// reported, so the shell hook can replay them from a fresh process,
// plus the install-relative bin subdirectory from a PATH contribution,
// if any, so a later run's already-present check can locate the same
// binaries without re-deriving them.
func deriveMetadata(outcome operation.ApplyOutcome) models.InstallMetadata {
	meta := models.InstallMetadata{
		Prerelease:       outcome.Prerelease,
		Immutable:        outcome.Immutable,
		ChecksumAlgo:     outcome.ChecksumAlgo,
		ChecksumValue:    outcome.ChecksumValue,
		SignatureWarning: outcome.SignatureWarning,
	}
	for _, c := range outcome.Contributions {
		meta.EnvOps = append(meta.EnvOps, c.Ops...)
		if len(meta.BinPaths) > 0 {
			continue
		}
		for _, op := range c.Ops {
			if op.Name != "PATH" || (op.Kind != env.Prepend && op.Kind != env.Append) {
				continue
			}
			if rel := strings.TrimPrefix(op.Value, outcome.InstallPath+"/"); rel != op.Value {
				meta.BinPaths = []string{rel}
				break
			}
		}
	}
	return meta
}

func planItemUpgrade(item operation.PlanItem) bool {
	_, _, upgrade, _ := itemVersionSpec(item)
	return upgrade
}

// displayIdentity reports the identity to show in status output: the
// resolved-version identity once resolution has happened, or the
// declared expression when a plan item failed before a version was
// ever resolved.
func displayIdentity(item operation.PlanItem, resolvedVersion string) string {
	if resolvedVersion != "" {
		return item.Identity(resolvedVersion)
	}
	if name, expr, _, _ := itemVersionSpec(item); name != "" {
		return name + "@" + expr
	}
	return item.Identity(resolvedVersion)
}

// applyItem resolves and installs one plan item, recording the
// resulting Install and Reference on success.
func (o *Orchestrator) applyItem(ctx context.Context, wd *models.WorkDir, wdConfig *config.WorkDirConfig, globalConfig *config.GlobalConfig, item operation.PlanItem) ItemResult {
	result := ItemResult{Item: item, State: ItemResolving}

	resolvedVersion, err := o.resolveVersion(ctx, item, wdConfig)
	if err != nil {
		result.State = ItemFailed
		result.Err = err
		return result
	}
	result.Version = resolvedVersion

	result.State = ItemInstalling
	outcome, err := o.applyWithRetry(ctx, item, resolvedVersion, planItemUpgrade(item))
	if err != nil {
		result.State = ItemFailed
		result.Err = err
		return result
	}
	result.Outcome = outcome

	identity := item.Identity(resolvedVersion)
	install, err := o.store.UpsertInstall(ctx, models.InstallKind(item.Kind), identity, outcome.InstallPath, deriveMetadata(outcome))
	if err != nil {
		result.State = ItemFailed
		result.Err = err
		return result
	}
	outcome.InstallID = install.ID
	result.Outcome = outcome

	if err := o.store.AddReference(ctx, wd.ID, install.ID, item.DirSubpath()); err != nil {
		result.State = ItemFailed
		result.Err = err
		return result
	}

	result.State = ItemApplied
	return result
}

// applyWithRetry retries an Apply call that failed with
// omnierr.ErrCatalogUnavailable, up to 3 attempts with jittered
// exponential backoff (about 1s, then 2s); other failures are not
// retried. Catalog fetches run earlier, in resolveVersion, and are not
// retried here; github-release download failures are reported as
// omnierr.ErrInstallFailed, so they are not retried either.
func (o *Orchestrator) applyWithRetry(ctx context.Context, item operation.PlanItem, resolvedVersion string, upgrade bool) (operation.ApplyOutcome, error) {
	const maxAttempts = 3
	backoff := time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, err := o.installer.Apply(ctx, item, resolvedVersion, upgrade)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return operation.ApplyOutcome{}, ctx.Err()
		case <-time.After(jitter(backoff)):
		}
		backoff *= 2
	}
	return operation.ApplyOutcome{}, lastErr
}

func isRetryable(err error) bool {
	return eris.Is(err, omnierr.ErrCatalogUnavailable)
}

// jitter adds up to +/-10% noise (a window one fifth of d wide,
// centred on d) to a backoff duration, seeded off
// the wall clock rather than math/rand to avoid a global RNG dependency
// for a single call site.
func jitter(d time.Duration) time.Duration {
	n := time.Now().UnixNano()
	spread := d / 5
	offset := time.Duration(n%int64(spread+1)) - spread/2
	return d + offset
}
