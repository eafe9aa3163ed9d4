// Package config resolves omni's configuration directory, cache
// directory, global settings (config.yaml), and per-work-directory
// settings (.omni.yaml).
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/xaf/omni/internal/env"
	"github.com/xaf/omni/internal/omnierr"
)

// Defaults for cache-store freshness, retention, and garbage
// collection. Freshness and retention are overridable per work
// directory via .omni.yaml's cache: section; the garbage-collection
// defaults are overridable through the global config's gc: section.
const (
	DefaultCacheTTL         = 24 * time.Hour
	DefaultCacheRetention   = 7 * 24 * time.Hour
	DefaultCleanupAfter     = 3 * 24 * time.Hour
	DefaultRetentionStale   = 24 * time.Hour
	DefaultHistoryRetention = 90 * 24 * time.Hour
	DefaultMaxPerWorkdir    = 10
	DefaultMaxTotal         = 500
)

// GlobalConfig is the user-wide config.yaml: trust defaults and
// garbage-collection knobs. Per-work-directory settings live in
// .omni.yaml (see WorkDirConfig) and take precedence where they
// overlap.
type GlobalConfig struct {
	TrustedOrgs  []string `yaml:"trusted_orgs"`
	TrustedRepos []string `yaml:"trusted_repos"`
	GC           struct {
		CleanupAfter     string `yaml:"cleanup_after"`
		RetentionStale   string `yaml:"retention_stale"`
		HistoryRetention string `yaml:"history_retention"`
		MaxPerWorkdir    int    `yaml:"max_per_workdir"`
		MaxTotal         int    `yaml:"max_total"`
	} `yaml:"gc"`
}

// CacheOverride adjusts freshness/retention for one version-catalog
// source, e.g. "github-releases".
type CacheOverride struct {
	TTL       string `yaml:"ttl"`
	Retention string `yaml:"retention"`
}

// EnvDirective is a static environment mutation declared directly in
// .omni.yaml's env: section. Kind names the same operations the
// $OMNI_ENV file protocol supports (see internal/envfile): set (the
// default when omitted), unset, prepend, append, remove, prefix, or
// suffix. A multiline value can be written with YAML's own block
// scalar syntax (`value: |`) in place of the file protocol's heredoc
// terminators, which .omni.yaml has no need to reinvent.
type EnvDirective struct {
	Kind  string `yaml:"kind"`
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Op converts a directive to its environment-op equivalent, defaulting
// an unset Kind to Set for compatibility with .omni.yaml files written
// before Kind existed.
func (d EnvDirective) Op() (env.Op, error) {
	kind := env.OpKind(d.Kind)
	if kind == "" {
		kind = env.Set
	}
	switch kind {
	case env.Set, env.Unset, env.Prepend, env.Append, env.Remove, env.Prefix, env.Suffix:
		return env.Op{Kind: kind, Name: d.Name, Value: d.Value}, nil
	default:
		return env.Op{}, eris.Wrapf(omnierr.ErrConfig, "env: %s has unknown directive kind %q", d.Name, d.Kind)
	}
}

// WorkDirConfig is the parsed .omni.yaml at a work directory's root.
type WorkDirConfig struct {
	Up            []yaml.Node              `yaml:"up"`
	Env           []EnvDirective           `yaml:"env"`
	Cache         map[string]CacheOverride `yaml:"cache"`
	SuggestConfig map[string]any           `yaml:"suggest_config"`
}

// GetConfigDir returns the OS-specific config directory for omni.
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", eris.Wrap(err, "failed to get user home directory")
		}
		baseDir = filepath.Join(home, "Library", "Application Support")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", eris.New("APPDATA environment variable not set")
		}
		baseDir = appData
	default: // linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			baseDir = xdg
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", eris.Wrap(err, "failed to get user home directory")
			}
			baseDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(baseDir, "omni"), nil
}

// GetCacheDir returns the directory that owns the cache database and
// every installed tool's files. $OMNI_CACHE_PATH overrides everything.
func GetCacheDir() (string, error) {
	if override := os.Getenv("OMNI_CACHE_PATH"); override != "" {
		return expandHome(override)
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", eris.Wrap(err, "failed to get user home directory")
		}
		return filepath.Join(home, "Library", "Caches", "omni"), nil
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "omni", "cache"), nil
		}
		return GetConfigDir()
	default:
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "omni"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", eris.Wrap(err, "failed to get user home directory")
		}
		return filepath.Join(home, ".cache", "omni"), nil
	}
}

// GetDBPath returns the full path to the cache store's SQLite database.
func GetDBPath() (string, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return "", eris.Wrap(err, "failed to get cache directory")
	}
	return filepath.Join(cacheDir, "cache.db"), nil
}

// GetInstallRoot returns the directory under which every Install's
// files are laid out, kind-then-identity.
func GetInstallRoot() (string, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return "", eris.Wrap(err, "failed to get cache directory")
	}
	return filepath.Join(cacheDir, "installs"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return eris.Wrap(err, "failed to get config directory")
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return eris.Wrapf(err, "failed to create config directory: %s", configDir)
	}
	return nil
}

// EnsureCacheDir creates the cache directory if it doesn't exist.
func EnsureCacheDir() error {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return eris.Wrap(err, "failed to get cache directory")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return eris.Wrapf(err, "failed to create cache directory: %s", cacheDir)
	}
	return nil
}

// LoadGlobalConfig reads config.yaml from the config directory. A
// missing file yields zero-value defaults, not an error.
func LoadGlobalConfig() (*GlobalConfig, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, eris.Wrap(err, "failed to get config directory")
	}

	configPath := filepath.Join(configDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return &GlobalConfig{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read config file: %s", configPath)
	}

	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrapf(err, "failed to parse config file: %s", configPath)
	}
	return &cfg, nil
}

// IsOrgTrusted reports whether org appears in the global trust list.
// Work-directory resolution does not consult it: a work directory's
// trust comes only from its flag in the cache store.
func (c *GlobalConfig) IsOrgTrusted(org string) bool {
	for _, t := range c.TrustedOrgs {
		if strings.EqualFold(t, org) {
			return true
		}
	}
	return false
}

// IsRepoTrusted reports whether identity (host/org/repo) appears in
// the global trust list.
func (c *GlobalConfig) IsRepoTrusted(identity string) bool {
	for _, t := range c.TrustedRepos {
		if strings.EqualFold(t, identity) {
			return true
		}
	}
	return false
}

// durationOr parses s as a Go duration, returning fallback if s is
// empty or invalid.
func durationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// CleanupAfter returns the configured GC grace period, or the default.
func (c *GlobalConfig) CleanupAfter() time.Duration {
	return durationOr(c.GC.CleanupAfter, DefaultCleanupAfter)
}

// RetentionStale returns the configured stale-env-history probe
// window, or the default.
func (c *GlobalConfig) RetentionStale() time.Duration {
	return durationOr(c.GC.RetentionStale, DefaultRetentionStale)
}

// HistoryRetention returns the configured closed-env-history retention
// window, or the default.
func (c *GlobalConfig) HistoryRetention() time.Duration {
	return durationOr(c.GC.HistoryRetention, DefaultHistoryRetention)
}

// MaxPerWorkdir returns the configured closed-env-history cap per work
// directory, or the default.
func (c *GlobalConfig) MaxPerWorkdir() int {
	if c.GC.MaxPerWorkdir > 0 {
		return c.GC.MaxPerWorkdir
	}
	return DefaultMaxPerWorkdir
}

// MaxTotal returns the configured closed-env-history cap across all
// work directories, or the default.
func (c *GlobalConfig) MaxTotal() int {
	if c.GC.MaxTotal > 0 {
		return c.GC.MaxTotal
	}
	return DefaultMaxTotal
}

// LoadWorkDirConfig reads .omni.yaml from a work directory's root. A
// missing file yields an empty configuration (no operations, no
// static env), not an error.
func LoadWorkDirConfig(root string) (*WorkDirConfig, error) {
	configPath := filepath.Join(root, ".omni.yaml")

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return &WorkDirConfig{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read work directory config: %s", configPath)
	}

	var cfg WorkDirConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrapf(err, "failed to parse work directory config: %s", configPath)
	}
	return &cfg, nil
}

// TTLFor returns the freshness window configured for a catalog source,
// or the default.
func (c *WorkDirConfig) TTLFor(source string) time.Duration {
	if o, ok := c.Cache[source]; ok {
		return durationOr(o.TTL, DefaultCacheTTL)
	}
	return DefaultCacheTTL
}

// RetentionFor returns the stale-fallback retention window configured
// for a catalog source, or the default.
func (c *WorkDirConfig) RetentionFor(source string) time.Duration {
	if o, ok := c.Cache[source]; ok {
		return durationOr(o.Retention, DefaultCacheRetention)
	}
	return DefaultCacheRetention
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", eris.Wrap(err, "failed to get user home directory")
	}

	if len(path) == 1 {
		return home, nil
	}
	if path[1] == '/' || path[1] == filepath.Separator {
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
