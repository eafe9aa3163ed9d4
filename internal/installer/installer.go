// Package installer implements the per-kind drivers that perform
// idempotent installation for each operation kind: checking the cache
// store, doing the external work, and reporting environment
// contributions.
package installer

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"

	"github.com/xaf/omni/internal/env"
	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/operation"
	"github.com/xaf/omni/internal/store"
)

// MaxConcurrentDownloads bounds parallel asset downloads.
const MaxConcurrentDownloads = 4

// Installer dispatches Apply/Revert to the driver for a plan item's
// kind.
type Installer struct {
	store          *store.Store
	installRoot    string
	httpClient     *http.Client
	downloadSem    *semaphore.Weighted
	toolVersionBin string
}

// Options configures an Installer.
type Options struct {
	InstallRoot    string
	HTTPClient     *http.Client
	ToolVersionBin string // defaults to "mise"
}

// New builds an Installer backed by the given cache store.
func New(s *store.Store, opts Options) *Installer {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	bin := opts.ToolVersionBin
	if bin == "" {
		bin = "mise"
	}
	return &Installer{
		store:          s,
		installRoot:    opts.InstallRoot,
		httpClient:     client,
		downloadSem:    semaphore.NewWeighted(MaxConcurrentDownloads),
		toolVersionBin: bin,
	}
}

// Apply installs (or confirms) the resource identified by a resolved
// plan item, dispatching to the kind-specific driver.
func (in *Installer) Apply(ctx context.Context, item operation.PlanItem, resolvedVersion string, upgrade bool) (operation.ApplyOutcome, error) {
	switch item.Kind {
	case operation.KindToolVersion:
		return in.applyToolVersion(ctx, item, resolvedVersion, upgrade)
	case operation.KindGithubRelease:
		return in.applyGithubRelease(ctx, item, resolvedVersion, upgrade)
	case operation.KindCargoInstall:
		return in.applyCargoInstall(ctx, item, resolvedVersion, upgrade)
	case operation.KindGoInstall:
		return in.applyGoInstall(ctx, item, resolvedVersion, upgrade)
	case operation.KindApt, operation.KindDnf, operation.KindPacman, operation.KindNix, operation.KindHomebrew:
		return in.applyPackage(ctx, item, upgrade)
	case operation.KindCustom:
		return in.applyCustom(ctx, item)
	default:
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrConfig, "no driver for operation kind %s", item.Kind)
	}
}

// Revert performs the best-effort inverse for `omni down`. For every
// kind but custom, reverting is a no-op at the driver level: the
// orchestrator drops the Reference and the garbage collector reclaims
// the files once unreferenced.
func (in *Installer) Revert(ctx context.Context, item operation.PlanItem) error {
	if item.Kind == operation.KindCustom {
		return in.revertCustom(ctx, item)
	}
	return nil
}

// pathFor returns the canonical, deterministic install path for a
// (kind, identity) pair, rooted under the shared install root.
func (in *Installer) pathFor(kind operation.Kind, identity string) string {
	return filepath.Join(in.installRoot, string(kind), safePathSegment(identity))
}

// installKind converts an operation kind to the store's install-kind
// vocabulary; the two share the same string values by construction.
func installKind(k operation.Kind) models.InstallKind {
	return models.InstallKind(k)
}

func safePathSegment(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// atomicFinalize renames a fully-populated staging directory into its
// final path, first removing whatever a previous install left at that
// final path.
func atomicFinalize(staging, final string) error {
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "failed to create install parent directory: %v", err)
	}
	if err := os.RemoveAll(final); err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "failed to clear previous install path: %v", err)
	}
	if err := os.Rename(staging, final); err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "failed to finalize install: %v", err)
	}
	return nil
}

func binContribution(name, path string) []env.Contribution {
	return []env.Contribution{{Ops: []env.Op{{Kind: env.Prepend, Name: name, Value: path}}}}
}
