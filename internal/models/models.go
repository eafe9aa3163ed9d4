// Package models defines the entities persisted by the cache store:
// work directories, installs, references, version catalogs, and
// environment history.
package models

import (
	"time"

	"github.com/xaf/omni/internal/env"
)

// WorkDirKind identifies how a work directory was recognized.
type WorkDirKind string

const (
	WorkDirKindGitRepo WorkDirKind = "git-repo"
	WorkDirKindPackage WorkDirKind = "package"
	WorkDirKindSandbox WorkDirKind = "sandbox"
	WorkDirKindAdHoc   WorkDirKind = "ad-hoc"
)

// WorkDir is a directory the user treats as a project root.
type WorkDir struct {
	ID        string      `json:"id"` // 128-bit opaque identifier, hex-encoded
	RootPath  string      `json:"root_path"`
	Kind      WorkDirKind `json:"kind"`
	Trusted   bool        `json:"trusted"`
	CreatedAt time.Time   `json:"created_at"`
}

// InstallKind identifies which operation variant produced an Install.
type InstallKind string

const (
	InstallKindToolVersion   InstallKind = "tool-version"
	InstallKindGitHubRelease InstallKind = "github-release"
	InstallKindHomebrew      InstallKind = "homebrew"
	InstallKindCargo         InstallKind = "cargo-install"
	InstallKindGo            InstallKind = "go-install"
	InstallKindCustom        InstallKind = "custom"
)

// InstallMetadata carries kind-specific detail that doesn't need its
// own column. Stored as JSON in the cache store.
type InstallMetadata struct {
	Prerelease       bool     `json:"prerelease,omitempty"`
	Immutable        bool     `json:"immutable,omitempty"`
	ChecksumAlgo     string   `json:"checksum_algo,omitempty"`
	ChecksumValue    string   `json:"checksum_value,omitempty"`
	BinPaths         []string `json:"bin_paths,omitempty"`
	SignatureWarning string   `json:"signature_warning,omitempty"`

	// EnvOps is the full, driver-produced list of environment
	// contributions this install makes, values already resolved to
	// their final form (e.g. PATH entries joined against InstallPath).
	// It's what the shell hook replays to reconstruct a work
	// directory's environment in a fresh process; BinPaths above is
	// kept alongside it as the shortcut installer drivers use for
	// their own already-present checks.
	EnvOps []env.Op `json:"env_ops,omitempty"`
}

// Install represents one externally-installed resource owned by the
// cache. (Kind, Identity) is unique.
type Install struct {
	ID             int64           `json:"id"`
	Kind           InstallKind     `json:"kind"`
	Identity       string          `json:"identity"` // kind-specific key, e.g. "rust@1.70.1"
	InstallPath    string          `json:"install_path"`
	InstalledAt    time.Time       `json:"installed_at"`
	LastRequiredAt time.Time       `json:"last_required_at"`
	Metadata       InstallMetadata `json:"metadata"`
	ReferenceCount int             `json:"reference_count"`
}

// Reference is a many-to-many edge from a WorkDir to an Install.
type Reference struct {
	WorkDirID  string    `json:"workdir_id"`
	InstallID  int64     `json:"install_id"`
	DirSubpath string    `json:"dir_subpath,omitempty"`
	RequiredAt time.Time `json:"required_at"`
}

// VersionCatalog is a cached remote version listing for one source/key.
type VersionCatalog struct {
	Source    string    `json:"source"`
	Key       string    `json:"key"`
	Versions  []string  `json:"versions"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fresh reports whether the catalog was fetched within expire of now.
func (c VersionCatalog) Fresh(now time.Time, expire time.Duration) bool {
	return now.Sub(c.FetchedAt) <= expire
}

// Retained reports whether the catalog is still usable as a stale
// fallback, i.e. within retention of now.
func (c VersionCatalog) Retained(now time.Time, retention time.Duration) bool {
	return now.Sub(c.FetchedAt) <= retention
}

// EnvHistory is an append-only log entry of when a work directory's
// dynamic environment was active.
type EnvHistory struct {
	ID             int64      `json:"id"`
	WorkDirID      string     `json:"workdir_id"`
	UsedFromDate   time.Time  `json:"used_from_date"`
	UsedUntilDate  *time.Time `json:"used_until_date,omitempty"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	EnvFingerprint string     `json:"env_fingerprint"`
}

// Open reports whether this history row has not been closed yet.
func (h EnvHistory) Open() bool {
	return h.UsedUntilDate == nil
}

// PromptAnswer is a stored answer to an interactive prompt, keyed by
// work directory and prompt id.
type PromptAnswer struct {
	WorkDirID string `json:"workdir_id"`
	PromptID  string `json:"prompt_id"`
	Answer    string `json:"answer"`
}
