package installer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/operation"
)

// applyToolVersion drives the embedded tool-version manager: it owns
// its own data directory layout, so the "install path" omni records
// is that manager's reported install directory for (tool, version)
// rather than a path omni stages and renames itself.
func (in *Installer) applyToolVersion(ctx context.Context, item operation.PlanItem, version string, upgrade bool) (operation.ApplyOutcome, error) {
	tool := item.Tool.Tool
	identity := tool + "@" + version

	if !upgrade {
		if existing, err := in.store.GetInstall(installKind(operation.KindToolVersion), identity); err != nil {
			return operation.ApplyOutcome{}, err
		} else if existing != nil {
			if _, err := os.Stat(existing.InstallPath); err == nil {
				return operation.ApplyOutcome{
					AlreadyPresent: true,
					InstallPath:    existing.InstallPath,
					Contributions:  binContribution("PATH", joinBin(existing.InstallPath, existing.Metadata.BinPaths)),
				}, nil
			}
		}
	}

	dataDir := in.pathFor(operation.KindToolVersion, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrInstallFailed, "failed to create tool-version data dir: %v", err)
	}

	install := exec.CommandContext(ctx, in.toolVersionBin, "install", tool+"@"+version)
	install.Env = append(os.Environ(), "MISE_DATA_DIR="+dataDir)
	if output, err := install.CombinedOutput(); err != nil {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrInstallFailed, "%s install %s@%s failed: %v\n%s", in.toolVersionBin, tool, version, err, output)
	}

	where := exec.CommandContext(ctx, in.toolVersionBin, "where", tool+"@"+version)
	where.Env = install.Env
	output, err := where.Output()
	if err != nil {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrInstallFailed, "failed to locate installed %s@%s: %v", tool, version, err)
	}
	installPath := strings.TrimRight(string(output), "\n")

	return operation.ApplyOutcome{
		InstalledNow:  true,
		InstallPath:   installPath,
		Contributions: binContribution("PATH", joinBin(installPath, []string{"bin"})),
	}, nil
}

// ListToolVersions returns the remote version listing the tool-version
// manager knows about for tool, for use as a version resolver catalog
// fetch callback.
func (in *Installer) ListToolVersions(ctx context.Context, tool string) ([]string, error) {
	cmd := exec.CommandContext(ctx, in.toolVersionBin, "ls-remote", tool)
	output, err := cmd.Output()
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrCatalogUnavailable, "%s ls-remote %s failed: %v", in.toolVersionBin, tool, err)
	}
	var versions []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			versions = append(versions, line)
		}
	}
	return versions, nil
}

func joinBin(installPath string, binPaths []string) string {
	if len(binPaths) == 0 {
		return filepath.Join(installPath, "bin")
	}
	return filepath.Join(installPath, binPaths[0])
}
