// Package version implements the tool resolver: turning a version
// expression and a cached catalog listing into one concrete version,
// honoring upgrade policy and semver (with natural-numeric fallback)
// tie-breaks.
package version

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/store"
)

// Special tokens that are exclusive of the rest of the grammar.
const (
	ExprLatest = "latest"
	ExprAuto   = "auto"
)

// Resolver loads and refreshes cached catalogs, then selects a
// concrete version from them.
type Resolver struct {
	store *store.Store
}

// NewResolver builds a Resolver backed by the given cache store.
func NewResolver(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// LoadCatalog returns the version listing for (source, key), fetching
// a fresh one if the cached copy has exceeded ttl. If fetch fails, a
// listing still within retention is returned instead of failing
// outright.
func (r *Resolver) LoadCatalog(ctx context.Context, source, key string, ttl, retention time.Duration, fetch func(context.Context) ([]string, error)) ([]string, error) {
	now := time.Now()
	cached, err := r.store.GetCatalog(source, key)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.Fresh(now, ttl) {
		return cached.Versions, nil
	}

	fetched, fetchErr := fetch(ctx)
	if fetchErr == nil {
		catalog := &models.VersionCatalog{Source: source, Key: key, Versions: fetched, FetchedAt: now}
		if err := r.store.PutCatalog(ctx, catalog); err != nil {
			return nil, err
		}
		return fetched, nil
	}

	if cached != nil && cached.Retained(now, retention) {
		return cached.Versions, nil
	}
	return nil, eris.Wrapf(omnierr.ErrCatalogUnavailable, "failed to fetch %s/%s and no retained copy is usable: %v", source, key, fetchErr)
}

// Select resolves a version expression against a catalog listing.
// installed is the set of versions of this tool already present
// locally, consulted for the upgrade=false "prefer installed" policy.
func Select(catalog []string, expr string, installed []string, upgrade, allowPrerelease bool) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", eris.Wrapf(omnierr.ErrConfig, "empty version expression")
	}
	if expr == ExprAuto {
		return "", eris.Wrapf(omnierr.ErrConfig, "auto must be expanded to a concrete expression before Select is called")
	}

	candidates := filterPrerelease(catalog, allowPrerelease)
	if len(candidates) == 0 {
		return "", eris.Wrapf(omnierr.ErrResolveFailed, "catalog has no usable versions")
	}

	if expr == ExprLatest {
		greatest := greatestOf(candidates)
		if !upgrade {
			if pinned := pinToInstalledMajor(greatest, installed); pinned != "" {
				return pinned, nil
			}
		}
		return greatest, nil
	}

	constraintStr, err := translate(expr)
	if err != nil {
		return "", err
	}
	constraint, err := semver.NewConstraint(constraintStr)
	if err != nil {
		return "", eris.Wrapf(omnierr.ErrConfig, "invalid version expression %q: %v", expr, err)
	}

	matches := filterByConstraint(candidates, constraint)
	if len(matches) == 0 {
		return "", eris.Wrapf(omnierr.ErrResolveFailed, "no version in catalog satisfies %q", expr)
	}
	greatest := greatestOf(matches)

	if !upgrade {
		installedMatches := filterByConstraint(intersect(installed, matches), constraint)
		if len(installedMatches) > 0 {
			return greatestOf(installedMatches), nil
		}
	}
	return greatest, nil
}

// translate rewrites the omni version-expression grammar (space for
// conjunction, || for disjunction) into a Masterminds/semver
// constraint string (comma for conjunction, " || " for disjunction).
// All other tokens (exact, prefix wildcard, tilde, caret, comparator)
// pass through unchanged; semver already treats a partial version like
// "1.2" as a wildcard match on "1.2.x".
func translate(expr string) (string, error) {
	orGroups := strings.Split(expr, "||")
	groups := make([]string, 0, len(orGroups))
	for _, g := range orGroups {
		tokens := strings.Fields(g)
		if len(tokens) == 0 {
			return "", eris.Wrapf(omnierr.ErrConfig, "empty group in version expression %q", expr)
		}
		groups = append(groups, strings.Join(tokens, ", "))
	}
	return strings.Join(groups, " || "), nil
}

func filterPrerelease(versions []string, allow bool) []string {
	if allow {
		return versions
	}
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		if sv, err := semver.NewVersion(v); err == nil && sv.Prerelease() != "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func filterByConstraint(versions []string, constraint *semver.Constraints) []string {
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			continue // constraints are only meaningful against semver-shaped versions
		}
		if constraint.Check(sv) {
			out = append(out, v)
		}
	}
	return out
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	var out []string
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

// pinToInstalledMajor implements the upgrade=false degradation of
// "latest": the greatest already-installed version sharing the
// catalog's greatest major, if one exists.
func pinToInstalledMajor(catalogGreatest string, installed []string) string {
	greatestSV, err := semver.NewVersion(catalogGreatest)
	if err != nil || len(installed) == 0 {
		return ""
	}
	var sameMajor []string
	for _, v := range installed {
		sv, err := semver.NewVersion(v)
		if err == nil && sv.Major() == greatestSV.Major() {
			sameMajor = append(sameMajor, v)
		}
	}
	if len(sameMajor) == 0 {
		return ""
	}
	return greatestOf(sameMajor)
}

// greatestOf sorts versions descending using semver ordering where
// possible, falling back to a natural-numeric comparison for tags that
// don't parse as semver, and returns the first (greatest).
func greatestOf(versions []string) string {
	sorted := append([]string(nil), versions...)
	sort.Slice(sorted, func(i, j int) bool {
		return compareVersions(sorted[i], sorted[j]) > 0
	})
	return sorted[0]
}

func compareVersions(a, b string) int {
	svA, errA := semver.NewVersion(a)
	svB, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return svA.Compare(svB)
	}
	return naturalCompare(a, b)
}
