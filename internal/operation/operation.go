// Package operation defines the closed tagged union of `up:` operation
// kinds and the plan/apply/revert/env-contribution contract every
// variant implements.
package operation

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/xaf/omni/internal/env"
	"github.com/xaf/omni/internal/omnierr"
)

// Kind identifies an operation variant.
type Kind string

const (
	KindAnd           Kind = "and"
	KindAny           Kind = "any"
	KindOr            Kind = "or"
	KindApt           Kind = "apt"
	KindDnf           Kind = "dnf"
	KindPacman        Kind = "pacman"
	KindNix           Kind = "nix"
	KindHomebrew      Kind = "homebrew"
	KindToolVersion   Kind = "tool-version"
	KindGithubRelease Kind = "github-release"
	KindCargoInstall  Kind = "cargo-install"
	KindGoInstall     Kind = "go-install"
	KindCustom        Kind = "custom"
)

var systemPackageKinds = map[string]Kind{
	"apt": KindApt, "dnf": KindDnf, "pacman": KindPacman, "nix": KindNix, "homebrew": KindHomebrew,
}

// PackageSpec parameterizes a system-package-manager operation.
type PackageSpec struct {
	Manager  Kind
	Packages []string `yaml:"packages"`
}

// ToolSpec parameterizes a tool-version-manager operation: any
// language runtime (bash, python, ruby, node, go, rust) or any other
// plugin the tool-version manager knows about.
type ToolSpec struct {
	Tool     string `yaml:"-"`
	Version  string `yaml:"version"`
	Upgrade  bool   `yaml:"upgrade"`
	Dir      string `yaml:"dir"`
	Prefer   string `yaml:"prefer"` // for `any`-selected tools, breaks ties by name
	Precheck string `yaml:"if"`     // shell precondition; empty means always applicable
}

// GithubReleaseSpec parameterizes the github-release driver. Setting
// Immutable declares that repo publishes releases whose tags never
// move once cut; the driver treats that as a promise worth checking,
// requiring a detached signature to verify rather than merely
// attempting one when RequireSig is also set.
type GithubReleaseSpec struct {
	Repo       string   `yaml:"repo"` // owner/name
	Version    string   `yaml:"version"`
	Upgrade    bool     `yaml:"upgrade"`
	AssetHints []string `yaml:"asset_hints"`
	Skip       []string `yaml:"skip"`
	Checksum   string   `yaml:"checksum"`
	RequireSig bool     `yaml:"require_signature"`
	Immutable  bool     `yaml:"immutable"`
	Prerelease bool     `yaml:"prerelease"`
	Dir        string   `yaml:"dir"`
}

// CargoInstallSpec parameterizes the cargo-install driver.
type CargoInstallSpec struct {
	Crate   string `yaml:"crate"`
	Version string `yaml:"version"`
	Upgrade bool   `yaml:"upgrade"`
	Dir     string `yaml:"dir"`
}

// GoInstallSpec parameterizes the go-install driver.
type GoInstallSpec struct {
	Module  string `yaml:"module"`
	Version string `yaml:"version"`
	Upgrade bool   `yaml:"upgrade"`
	Dir     string `yaml:"dir"`
}

// CustomSpec parameterizes the custom driver's met?/meet/unmeet
// script triad.
type CustomSpec struct {
	Met    string `yaml:"met"`
	Meet   string `yaml:"meet"`
	Unmeet string `yaml:"unmeet"`
	Dir    string `yaml:"dir"`
}

// Item is one entry of a work directory's `up:` list, decoded from its
// single-key YAML map form (e.g. `{rust: {version: "1.70"}}`,
// `{and: [...]}`, `{github-release: {repo: "cli/cli"}}`).
type Item struct {
	Kind Kind

	Composite     []Item
	Package       *PackageSpec
	Tool          *ToolSpec
	GithubRelease *GithubReleaseSpec
	CargoInstall  *CargoInstallSpec
	GoInstall     *GoInstallSpec
	Custom        *CustomSpec
}

// UnmarshalYAML decodes the single-key tagged-union form.
func (i *Item) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := value.Decode(&raw); err != nil {
		return eris.Wrapf(omnierr.ErrConfig, "operation must be a single-key map: %v", err)
	}
	if len(raw) != 1 {
		return eris.Wrapf(omnierr.ErrConfig, "operation must have exactly one key, got %d", len(raw))
	}

	for key, node := range raw {
		switch key {
		case "and":
			i.Kind = KindAnd
			return node.Decode(&i.Composite)
		case "any":
			i.Kind = KindAny
			return node.Decode(&i.Composite)
		case "or":
			i.Kind = KindOr
			return node.Decode(&i.Composite)
		case "apt", "dnf", "pacman", "nix", "homebrew":
			i.Kind = systemPackageKinds[key]
			i.Package = &PackageSpec{Manager: i.Kind}
			return node.Decode(i.Package)
		case "github-release":
			i.Kind = KindGithubRelease
			i.GithubRelease = &GithubReleaseSpec{}
			return node.Decode(i.GithubRelease)
		case "cargo-install":
			i.Kind = KindCargoInstall
			i.CargoInstall = &CargoInstallSpec{}
			return node.Decode(i.CargoInstall)
		case "go-install":
			i.Kind = KindGoInstall
			i.GoInstall = &GoInstallSpec{}
			return node.Decode(i.GoInstall)
		case "custom":
			i.Kind = KindCustom
			i.Custom = &CustomSpec{}
			return node.Decode(i.Custom)
		default:
			// bash, python, ruby, node, go, rust, or any other name the
			// tool-version manager's plugin registry recognizes.
			i.Kind = KindToolVersion
			i.Tool = &ToolSpec{Tool: key}
			return node.Decode(i.Tool)
		}
	}
	return nil // unreachable: len(raw) == 1 guarantees the loop runs once
}

// PlanItem is one concrete installer invocation produced by expanding
// an Item's composites.
type PlanItem struct {
	Kind          Kind
	Tool          *ToolSpec
	Package       *PackageSpec
	GithubRelease *GithubReleaseSpec
	CargoInstall  *CargoInstallSpec
	GoInstall     *GoInstallSpec
	Custom        *CustomSpec
}

// ApplyOutcome reports the result of installing or verifying one plan
// item.
type ApplyOutcome struct {
	InstalledNow   bool
	AlreadyPresent bool
	InstallID      int64
	InstallPath    string
	Contributions  []env.Contribution

	// The remaining fields are github-release-specific detail the
	// orchestrator folds into the persisted Install's metadata; every
	// other driver leaves them zero.
	Prerelease       bool
	Immutable        bool
	ChecksumAlgo     string
	ChecksumValue    string
	SignatureWarning string
}

// Driver performs the actual work for one plan item kind: checking
// whether it's already satisfied, installing it if not, and reporting
// its environment contribution. Implemented by internal/installer.
type Driver interface {
	Apply(ctx context.Context, item PlanItem, dirSubpath string) (ApplyOutcome, error)
	Revert(ctx context.Context, item PlanItem, dirSubpath string) error
}

// PreferredTools orders candidate tool names for `any` composites,
// consulted before falling back to declaration order.
type PreferredTools []string

// Rank returns the index of name in the preference list, or
// len(list) if absent (sorts unlisted names last, stably).
func (p PreferredTools) Rank(name string) int {
	for i, t := range p {
		if t == name {
			return i
		}
	}
	return len(p)
}

// Plan expands an Item into the PlanItems that would run if applied
// right now, picking a single candidate for `or`/`any` composites
// (first declared, most preferred respectively) and concatenating
// `and`'s children in order. This is a preview, not a final decision:
// whether an `or`/`any` composite actually falls through to its next
// sibling depends on whether the selected candidate's installation
// genuinely fails, which Plan cannot know without executing it — that
// selection happens at apply time (see orchestrator.applyOperationItem),
// not here.
func Plan(item Item, preferred PreferredTools) ([]PlanItem, error) {
	switch item.Kind {
	case KindAnd:
		var out []PlanItem
		for _, child := range item.Composite {
			items, err := Plan(child, preferred)
			if err != nil {
				return nil, err
			}
			out = append(out, items...)
		}
		return out, nil

	case KindOr:
		if len(item.Composite) == 0 {
			return nil, eris.Wrapf(omnierr.ErrConfig, "`or` operation has no children")
		}
		return Plan(item.Composite[0], preferred)

	case KindAny:
		if len(item.Composite) == 0 {
			return nil, eris.Wrapf(omnierr.ErrConfig, "`any` operation has no children")
		}
		children := append([]Item(nil), item.Composite...)
		SortByPreference(children, preferred)
		return Plan(children[0], preferred)

	default:
		return []PlanItem{leafPlanItem(item)}, nil
	}
}

// LeafPlanItem converts a non-composite Item directly into its
// PlanItem, reporting ok=false for `and`/`or`/`any`, whose apply-time
// selection the orchestrator drives itself by walking the Item tree
// rather than through Plan.
func LeafPlanItem(item Item) (PlanItem, bool) {
	switch item.Kind {
	case KindAnd, KindOr, KindAny:
		return PlanItem{}, false
	default:
		return leafPlanItem(item), true
	}
}

func leafPlanItem(item Item) PlanItem {
	return PlanItem{
		Kind:          item.Kind,
		Tool:          item.Tool,
		Package:       item.Package,
		GithubRelease: item.GithubRelease,
		CargoInstall:  item.CargoInstall,
		GoInstall:     item.GoInstall,
		Custom:        item.Custom,
	}
}

// SortByPreference orders items in place by their tool name's rank in
// preferred, stably falling back to declaration order for unlisted
// names. Used to decide `any` composite try-order both for Plan's
// preview and for the orchestrator's real apply-time attempt order.
func SortByPreference(items []Item, preferred PreferredTools) {
	rank := func(item Item) int {
		if item.Tool != nil {
			return preferred.Rank(item.Tool.Tool)
		}
		return len(preferred)
	}
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && rank(items[j]) < rank(items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// DirSubpath returns the sub-path scoping declared on a plan item, if
// any.
func (p PlanItem) DirSubpath() string {
	switch {
	case p.Tool != nil:
		return p.Tool.Dir
	case p.GithubRelease != nil:
		return p.GithubRelease.Dir
	case p.CargoInstall != nil:
		return p.CargoInstall.Dir
	case p.GoInstall != nil:
		return p.GoInstall.Dir
	case p.Custom != nil:
		return p.Custom.Dir
	default:
		return ""
	}
}

// Identity returns the plan item's (kind, identity) key, used to look
// up or create its Install record. resolvedVersion must be the
// concrete version the resolver picked for the item's declared
// expression, not the expression itself — "1.70" and "latest" can both
// resolve to "1.70.1", and both must land on the same Install row.
// Kinds with no version expression (package managers, custom) ignore
// it entirely. A github-release identity also folds in a hash of the
// item's asset-selection parameters, since two items pinned to the
// same repo@version but choosing different release assets must not
// collide on one Install record.
func (p PlanItem) Identity(resolvedVersion string) string {
	switch {
	case p.Tool != nil:
		return p.Tool.Tool + "@" + resolvedVersion
	case p.GithubRelease != nil:
		return p.GithubRelease.Repo + "@" + resolvedVersion + "@" + assetSelectorHash(p.GithubRelease.AssetHints, p.GithubRelease.Skip)
	case p.CargoInstall != nil:
		return p.CargoInstall.Crate + "@" + resolvedVersion
	case p.GoInstall != nil:
		return p.GoInstall.Module + "@" + resolvedVersion
	case p.Package != nil:
		return strings.Join(p.Package.Packages, ",")
	case p.Custom != nil:
		return p.Custom.Meet
	default:
		return ""
	}
}

// assetSelectorHash fingerprints the parameters that decide which
// release asset a github-release item resolves to.
func assetSelectorHash(hints, skip []string) string {
	h := xxhash.New()
	for _, hint := range hints {
		h.Write([]byte(strings.ToLower(hint)))
		h.Write([]byte{0})
	}
	h.Write([]byte{'\n'})
	for _, s := range skip {
		h.Write([]byte(strings.ToLower(s)))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
