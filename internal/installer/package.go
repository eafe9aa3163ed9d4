package installer

import (
	"context"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/operation"
)

// packageManagerCommand maps a system-package kind to its install
// invocation. apt/dnf/pacman/nix install into the shared system, so
// omni tracks their Install records for reference counting without
// owning a private path; homebrew is the only one omni queries for a
// discoverable prefix.
var packageManagerCommand = map[operation.Kind][]string{
	operation.KindApt:      {"apt-get", "install", "-y"},
	operation.KindDnf:      {"dnf", "install", "-y"},
	operation.KindPacman:   {"pacman", "-S", "--noconfirm"},
	operation.KindNix:      {"nix-env", "-i"},
	operation.KindHomebrew: {"brew", "install"},
}

func (in *Installer) applyPackage(ctx context.Context, item operation.PlanItem, upgrade bool) (operation.ApplyOutcome, error) {
	base, ok := packageManagerCommand[item.Kind]
	if !ok {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrConfig, "unknown package manager kind %s", item.Kind)
	}

	identity := strings.Join(item.Package.Packages, ",")
	if !upgrade {
		if existing, err := in.store.GetInstall(installKind(item.Kind), identity); err != nil {
			return operation.ApplyOutcome{}, err
		} else if existing != nil {
			return operation.ApplyOutcome{AlreadyPresent: true, InstallPath: existing.InstallPath}, nil
		}
	}

	args := append(append([]string(nil), base[1:]...), item.Package.Packages...)
	cmd := exec.CommandContext(ctx, base[0], args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrInstallFailed, "%s failed: %v\n%s", base[0], err, output)
	}

	outcome := operation.ApplyOutcome{InstalledNow: true}
	if item.Kind == operation.KindHomebrew && len(item.Package.Packages) > 0 {
		if prefix, err := brewPrefix(ctx, item.Package.Packages[0]); err == nil {
			outcome.InstallPath = prefix
			outcome.Contributions = binContribution("PATH", prefix+"/bin")
		}
	}
	return outcome, nil
}

func brewPrefix(ctx context.Context, formula string) (string, error) {
	output, err := exec.CommandContext(ctx, "brew", "--prefix", formula).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
