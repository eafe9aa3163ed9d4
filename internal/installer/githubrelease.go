package installer

import (
	"archive/tar"
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/operation"
)

// The github-release driver shells out to the gh CLI rather than
// hand-rolling a GitHub API client: it gets the user's existing `gh
// auth login` session for free, including for private repositories,
// instead of needing its own token configuration surface.

type ghAsset struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type ghReleaseSummary struct {
	TagName      string `json:"tagName"`
	IsPrerelease bool   `json:"isPrerelease"`
}

type ghRelease struct {
	TagName      string    `json:"tagName"`
	IsPrerelease bool      `json:"isPrerelease"`
	Assets       []ghAsset `json:"assets"`
}

var ghCLICheck sync.Once
var ghCLIErr error

// checkGHCLI verifies the gh binary is present and authenticated
// before the driver's first shell-out, so a missing or unauthenticated
// CLI surfaces as one clear error instead of a cryptic exec failure
// from deep inside asset resolution.
func checkGHCLI(ctx context.Context) error {
	ghCLICheck.Do(func() {
		if err := exec.CommandContext(ctx, "gh", "--version").Run(); err != nil {
			ghCLIErr = eris.New("gh CLI not found; install it from https://cli.github.com/")
			return
		}
		if err := exec.CommandContext(ctx, "gh", "auth", "status").Run(); err != nil {
			ghCLIErr = eris.New("gh CLI not authenticated; run 'gh auth login'")
		}
	})
	return ghCLIErr
}

func runGH(ctx context.Context, args ...string) ([]byte, error) {
	if err := checkGHCLI(ctx); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "gh", args...)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, eris.Wrapf(omnierr.ErrInstallFailed, "gh %s failed: %s", strings.Join(args, " "), string(exitErr.Stderr))
		}
		return nil, eris.Wrapf(omnierr.ErrInstallFailed, "failed to execute gh %s: %v", strings.Join(args, " "), err)
	}
	return output, nil
}

// ListReleaseTags fetches the tag names of a GitHub repository's
// releases, for use as the version resolver's catalog fetch callback.
// When immutableOnly is set, a release is only reported if the asset
// it would resolve to for this platform ships a detached signature —
// the driver's stand-in for a hosting-provider "immutable release"
// flag, since neither the GitHub API nor gh exposes one directly.
func (in *Installer) ListReleaseTags(ctx context.Context, repo string, hints, skip []string, immutableOnly bool) ([]string, error) {
	summaries, err := in.listReleases(ctx, repo)
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(summaries))
	for _, s := range summaries {
		if !immutableOnly {
			tags = append(tags, strings.TrimPrefix(s.TagName, "v"))
			continue
		}
		release, err := in.viewRelease(ctx, repo, s.TagName)
		if err != nil {
			continue
		}
		if asset, err := selectAsset(release.Assets, hints, skip); err == nil && findSignatureAsset(release.Assets, asset.Name) != nil {
			tags = append(tags, strings.TrimPrefix(s.TagName, "v"))
		}
	}
	return tags, nil
}

func (in *Installer) listReleases(ctx context.Context, repo string) ([]ghReleaseSummary, error) {
	output, err := runGH(ctx, "release", "list", "--repo", repo, "--json", "tagName,isPrerelease", "--limit", "200")
	if err != nil {
		return nil, err
	}
	var summaries []ghReleaseSummary
	if err := json.Unmarshal(output, &summaries); err != nil {
		return nil, eris.Wrapf(omnierr.ErrInstallFailed, "failed to parse gh release list output: %v", err)
	}
	return summaries, nil
}

func (in *Installer) viewRelease(ctx context.Context, repo, tag string) (*ghRelease, error) {
	output, err := runGH(ctx, "release", "view", tag, "--repo", repo, "--json", "tagName,isPrerelease,assets")
	if err != nil {
		return nil, err
	}
	var release ghRelease
	if err := json.Unmarshal(output, &release); err != nil {
		return nil, eris.Wrapf(omnierr.ErrInstallFailed, "failed to parse gh release view output: %v", err)
	}
	return &release, nil
}

func (in *Installer) findRelease(ctx context.Context, repo, version string, allowPrerelease bool) (*ghRelease, error) {
	summaries, err := in.listReleases(ctx, repo)
	if err != nil {
		return nil, err
	}
	for _, s := range summaries {
		if s.IsPrerelease && !allowPrerelease {
			continue
		}
		if strings.TrimPrefix(s.TagName, "v") == version || s.TagName == version {
			return in.viewRelease(ctx, repo, s.TagName)
		}
	}
	return nil, eris.Wrapf(omnierr.ErrResolveFailed, "no github release %s@%s found", repo, version)
}

// applyGithubRelease downloads and extracts a repository's release
// asset matching the current platform, verifying its checksum and,
// automatically for releases the item declares immutable (and
// best-effort otherwise, when requested), its detached signature.
func (in *Installer) applyGithubRelease(ctx context.Context, item operation.PlanItem, version string, upgrade bool) (operation.ApplyOutcome, error) {
	spec := item.GithubRelease
	identity := item.Identity(version)
	installPath := in.pathFor(operation.KindGithubRelease, identity)

	if outcome, done := in.presentIfInstalled(operation.KindGithubRelease, identity, installPath, upgrade); done {
		return outcome, nil
	}

	release, err := in.findRelease(ctx, spec.Repo, version, spec.Prerelease)
	if err != nil {
		return operation.ApplyOutcome{}, err
	}

	asset, err := selectAsset(release.Assets, spec.AssetHints, spec.Skip)
	if err != nil {
		return operation.ApplyOutcome{}, err
	}

	sigAsset := findSignatureAsset(release.Assets, asset.Name)
	if spec.Immutable && sigAsset == nil {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrResolveFailed, "%s@%s is declared immutable but publishes no signature for %s", spec.Repo, version, asset.Name)
	}

	if err := in.downloadSem.Acquire(ctx, 1); err != nil {
		return operation.ApplyOutcome{}, eris.Wrap(err, "failed to acquire download slot")
	}
	defer in.downloadSem.Release(1)

	archivePath, sum, err := in.downloadReleaseAsset(ctx, spec.Repo, release.TagName, asset.Name)
	if err != nil {
		return operation.ApplyOutcome{}, err
	}
	defer os.Remove(archivePath)

	if err := verifyChecksum(spec.Checksum, sum); err != nil {
		return operation.ApplyOutcome{}, err
	}

	var signatureWarning string
	if spec.Immutable || spec.RequireSig {
		if sigAsset == nil {
			signatureWarning = "release signature required but no detached signature asset was published"
		} else if err := in.verifySignature(ctx, spec.Repo, release.TagName, archivePath, sigAsset.Name); err != nil {
			signatureWarning = fmt.Sprintf("signature verification failed: %v", err)
		}
	}

	staging := installPath + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return operation.ApplyOutcome{}, eris.Wrapf(omnierr.ErrInstallFailed, "failed to clear staging directory: %v", err)
	}
	if err := extractArchive(archivePath, asset.Name, staging); err != nil {
		return operation.ApplyOutcome{}, err
	}
	if err := atomicFinalize(staging, installPath); err != nil {
		return operation.ApplyOutcome{}, err
	}

	binPaths := discoverBinPaths(installPath)

	return operation.ApplyOutcome{
		InstalledNow:     true,
		InstallPath:      installPath,
		Contributions:    binContribution("PATH", joinBin(installPath, binPaths)),
		Prerelease:       release.IsPrerelease,
		Immutable:        sigAsset != nil,
		ChecksumAlgo:     "sha256",
		ChecksumValue:    sum,
		SignatureWarning: signatureWarning,
	}, nil
}

// selectAsset picks the first release asset matching every hint, that
// is not excluded by skip, falling back to platform-derived hints
// (GOOS/GOARCH) when the caller supplied none.
func selectAsset(assets []ghAsset, hints, skip []string) (*ghAsset, error) {
	groups := make([][]string, 0, len(hints))
	for _, h := range hints {
		groups = append(groups, []string{h})
	}
	if len(groups) == 0 {
		groups = platformHints()
	}
	for i := range assets {
		a := &assets[i]
		name := strings.ToLower(a.Name)
		if matchesAny(name, skip) {
			continue
		}
		if matchesAll(name, groups) {
			return a, nil
		}
	}
	return nil, eris.Wrapf(omnierr.ErrResolveFailed, "no release asset matched hints %v", groups)
}

// platformHints returns one alias group for the host OS and one for
// the host architecture; an asset name matches a group when it
// contains any of that group's aliases.
func platformHints() [][]string {
	archAliases := map[string][]string{
		"amd64": {"amd64", "x86_64", "x64"},
		"arm64": {"arm64", "aarch64"},
	}
	osAliases := map[string][]string{
		"linux":   {"linux"},
		"darwin":  {"darwin", "macos", "osx"},
		"windows": {"windows", "win64", "win"},
	}
	return [][]string{osAliases[runtime.GOOS], archAliases[runtime.GOARCH]}
}

// matchesAll reports whether name matches every non-empty hint group.
func matchesAll(name string, groups [][]string) bool {
	for _, g := range groups {
		if len(g) > 0 && !matchesAny(name, g) {
			return false
		}
	}
	return true
}

func matchesAny(name string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(name, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func findSignatureAsset(assets []ghAsset, artifactName string) *ghAsset {
	for i := range assets {
		if assets[i].Name == artifactName+".sig" || assets[i].Name == artifactName+".asc" {
			return &assets[i]
		}
	}
	return nil
}

// downloadReleaseAsset fetches one named asset of a release into a
// scratch directory via `gh release download`, returning its path and
// sha256 digest.
func (in *Installer) downloadReleaseAsset(ctx context.Context, repo, tag, assetName string) (path string, sha string, err error) {
	dir, err := os.MkdirTemp("", "omni-asset-*")
	if err != nil {
		return "", "", eris.Wrapf(omnierr.ErrInstallFailed, "failed to create download directory: %v", err)
	}
	if _, err := runGH(ctx, "release", "download", tag, "--repo", repo, "--pattern", assetName, "--dir", dir, "--clobber"); err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}

	path = filepath.Join(dir, assetName)
	f, err := os.Open(path)
	if err != nil {
		os.RemoveAll(dir)
		return "", "", eris.Wrapf(omnierr.ErrInstallFailed, "downloaded asset %s missing from %s: %v", assetName, dir, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		os.RemoveAll(dir)
		return "", "", eris.Wrapf(omnierr.ErrInstallFailed, "failed to hash downloaded asset: %v", err)
	}
	return path, hex.EncodeToString(h.Sum(nil)), nil
}

func verifyChecksum(expected, actual string) error {
	if expected == "" {
		return nil
	}
	if !strings.EqualFold(expected, actual) {
		return eris.Wrapf(omnierr.ErrInstallFailed, "checksum mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// verifySignature checks a detached OpenPGP signature over archivePath
// against the keys in $OMNI_RELEASE_KEYRING, if configured. Absent a
// configured keyring, verification cannot proceed and the caller
// records a warning instead of failing the install.
func (in *Installer) verifySignature(ctx context.Context, repo, tag, archivePath, sigAssetName string) error {
	keyringPath := os.Getenv("OMNI_RELEASE_KEYRING")
	if keyringPath == "" {
		return eris.New("no release keyring configured")
	}
	keyringFile, err := os.Open(keyringPath)
	if err != nil {
		return eris.Wrapf(err, "failed to open release keyring")
	}
	defer keyringFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyringFile)
	if err != nil {
		return eris.Wrapf(err, "failed to parse release keyring")
	}

	sigPath, _, err := in.downloadReleaseAsset(ctx, repo, tag, sigAssetName)
	if err != nil {
		return eris.Wrapf(err, "failed to download signature asset")
	}
	defer os.RemoveAll(filepath.Dir(sigPath))

	archive, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer archive.Close()

	sigFile, err := os.Open(sigPath)
	if err != nil {
		return eris.Wrapf(err, "failed to open downloaded signature")
	}
	defer sigFile.Close()

	_, err = openpgp.CheckDetachedSignature(keyring, archive, sigFile, nil)
	return err
}

func extractArchive(archivePath, assetName, dest string) error {
	switch {
	case strings.HasSuffix(assetName, ".tar.gz") || strings.HasSuffix(assetName, ".tgz"):
		return extractTarGz(archivePath, dest)
	case strings.HasSuffix(assetName, ".zip"):
		return extractZip(archivePath, dest)
	default:
		return extractBareBinary(archivePath, assetName, dest)
	}
}

func extractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "failed to open archive: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "failed to open gzip stream: %v", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "failed to create extraction directory: %v", err)
	}
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrapf(omnierr.ErrInstallFailed, "malformed tar archive: %v", err)
		}
		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return eris.Wrapf(omnierr.ErrInstallFailed, "%v", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return eris.Wrapf(omnierr.ErrInstallFailed, "%v", err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode&0o777))
			if err != nil {
				return eris.Wrapf(omnierr.ErrInstallFailed, "%v", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return eris.Wrapf(omnierr.ErrInstallFailed, "failed to extract %s: %v", header.Name, err)
			}
			out.Close()
		}
	}
}

func extractZip(archivePath, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "failed to open zip archive: %v", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "failed to create extraction directory: %v", err)
	}
	for _, zf := range r.File {
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return eris.Wrapf(omnierr.ErrInstallFailed, "%v", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return eris.Wrapf(omnierr.ErrInstallFailed, "%v", err)
		}
		rc, err := zf.Open()
		if err != nil {
			return eris.Wrapf(omnierr.ErrInstallFailed, "failed to open %s: %v", zf.Name, err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, zf.Mode())
		if err != nil {
			rc.Close()
			return eris.Wrapf(omnierr.ErrInstallFailed, "%v", err)
		}
		_, copyErr := io.Copy(out, rc)
		out.Close()
		rc.Close()
		if copyErr != nil {
			return eris.Wrapf(omnierr.ErrInstallFailed, "failed to extract %s: %v", zf.Name, copyErr)
		}
	}
	return nil
}

func extractBareBinary(archivePath, assetName, dest string) error {
	if err := os.MkdirAll(filepath.Join(dest, "bin"), 0o755); err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "failed to create bin directory: %v", err)
	}
	in, err := os.Open(archivePath)
	if err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "%v", err)
	}
	defer in.Close()

	target := filepath.Join(dest, "bin", assetName)
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "%v", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "failed to write binary: %v", err)
	}
	return nil
}

// safeJoin resolves name under dest, rejecting archive entries that
// would escape it via ".." components (zip-slip).
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
		return "", eris.Wrapf(omnierr.ErrInstallFailed, "archive entry %q escapes extraction directory", name)
	}
	return target, nil
}

// discoverBinPaths reports the executable-bearing subdirectories of an
// extracted install, preferring a top-level bin/ directory and falling
// back to the install root itself.
func discoverBinPaths(installPath string) []string {
	if info, err := os.Stat(filepath.Join(installPath, "bin")); err == nil && info.IsDir() {
		return []string{"bin"}
	}
	entries, err := os.ReadDir(installPath)
	if err != nil {
		return []string{"."}
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	for _, d := range dirs {
		if candidate := filepath.Join(installPath, d, "bin"); dirExists(candidate) {
			return []string{filepath.Join(d, "bin")}
		}
	}
	return []string{"."}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
