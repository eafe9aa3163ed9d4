package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/operation"
)

func (in *Installer) applyCargoInstall(ctx context.Context, item operation.PlanItem, version string, upgrade bool) (operation.ApplyOutcome, error) {
	crate := item.CargoInstall.Crate
	identity := crate + "@" + version
	installPath := in.pathFor(operation.KindCargoInstall, identity)

	if outcome, done := in.presentIfInstalled(operation.KindCargoInstall, identity, installPath, upgrade); done {
		return outcome, nil
	}

	if err := os.MkdirAll(installPath, 0o755); err != nil {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrInstallFailed, "failed to create install directory: %v", err)
	}

	cmd := exec.CommandContext(ctx, "cargo", "install", "--root", installPath, "--version", version, crate)
	if output, err := cmd.CombinedOutput(); err != nil {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrInstallFailed, "cargo install %s@%s failed: %v\n%s", crate, version, err, output)
	}

	return operation.ApplyOutcome{
		InstalledNow:  true,
		InstallPath:   installPath,
		Contributions: binContribution("PATH", filepath.Join(installPath, "bin")),
	}, nil
}

func (in *Installer) applyGoInstall(ctx context.Context, item operation.PlanItem, version string, upgrade bool) (operation.ApplyOutcome, error) {
	module := item.GoInstall.Module
	identity := module + "@" + version
	installPath := in.pathFor(operation.KindGoInstall, identity)
	binDir := filepath.Join(installPath, "bin")

	if outcome, done := in.presentIfInstalled(operation.KindGoInstall, identity, installPath, upgrade); done {
		return outcome, nil
	}

	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrInstallFailed, "failed to create install directory: %v", err)
	}

	cmd := exec.CommandContext(ctx, "go", "install", module+"@"+version)
	cmd.Env = append(os.Environ(), "GOBIN="+binDir)
	if output, err := cmd.CombinedOutput(); err != nil {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrInstallFailed, "go install %s@%s failed: %v\n%s", module, version, err, output)
	}

	return operation.ApplyOutcome{
		InstalledNow:  true,
		InstallPath:   installPath,
		Contributions: binContribution("PATH", binDir),
	}, nil
}

type crateVersionsResponse struct {
	Versions []struct {
		Num string `json:"num"`
	} `json:"versions"`
}

// ListCrateVersions queries crates.io's index for every published
// version of a crate, for use as a version resolver catalog fetch
// callback.
func (in *Installer) ListCrateVersions(ctx context.Context, crate string) ([]string, error) {
	url := fmt.Sprintf("https://crates.io/api/v1/crates/%s", crate)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrCatalogUnavailable, "failed to build crates.io request: %v", err)
	}
	req.Header.Set("User-Agent", "omni")

	resp, err := in.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrCatalogUnavailable, "crates.io request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(omnierr.ErrCatalogUnavailable, "crates.io returned %s", resp.Status)
	}

	var parsed crateVersionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, eris.Wrapf(omnierr.ErrCatalogUnavailable, "failed to decode crates.io response: %v", err)
	}
	versions := make([]string, 0, len(parsed.Versions))
	for _, v := range parsed.Versions {
		versions = append(versions, v.Num)
	}
	return versions, nil
}

// ListModuleVersions shells out to the Go toolchain's module resolver
// for every published version of a module, for use as a version
// resolver catalog fetch callback.
func (in *Installer) ListModuleVersions(ctx context.Context, module string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "go", "list", "-m", "-versions", module)
	output, err := cmd.Output()
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrCatalogUnavailable, "go list -m -versions %s failed: %v", module, err)
	}
	fields := strings.Fields(strings.TrimSpace(string(output)))
	if len(fields) <= 1 {
		return nil, nil
	}
	versions := make([]string, len(fields)-1)
	for i, f := range fields[1:] {
		versions[i] = strings.TrimPrefix(f, "v")
	}
	return versions, nil
}

// presentIfInstalled reports an already-present outcome when
// upgrade is false, an Install record exists for identity, and its
// path still exists on disk.
func (in *Installer) presentIfInstalled(kind operation.Kind, identity, installPath string, upgrade bool) (operation.ApplyOutcome, bool) {
	if upgrade {
		return operation.ApplyOutcome{}, false
	}
	existing, err := in.store.GetInstall(installKind(kind), identity)
	if err != nil || existing == nil {
		return operation.ApplyOutcome{}, false
	}
	if _, err := os.Stat(existing.InstallPath); err != nil {
		return operation.ApplyOutcome{}, false
	}
	return operation.ApplyOutcome{
		AlreadyPresent: true,
		InstallPath:    existing.InstallPath,
		Contributions:  binContribution("PATH", filepath.Join(existing.InstallPath, "bin")),
	}, true
}
