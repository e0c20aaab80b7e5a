package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// AllowedSlugs is the default truth-gate allowlist used when --slugs is not given.
	// "*" admits any non-sentinel project slug.
	AllowedSlugs []string `json:"allowed_slugs,omitempty"`

	// Lookback is the default selection window, e.g. "3h", "90m", "2d".
	Lookback string `json:"lookback,omitempty"`

	// Limit is the default number of sessions processed per run.
	Limit int `json:"limit,omitempty"`

	// StrictSelection verifies a cleaned transcript exists for each selected session.
	// One extra existence query per candidate session.
	StrictSelection bool `json:"strict_selection,omitempty"`

	// NormalizeTranscripts runs terminal-escape stripping and blank-line collapsing
	// on transcript text before extraction.
	NormalizeTranscripts bool `json:"normalize_transcripts,omitempty"`

	// ProjectCacheTTL is how long a loaded project list is reused, e.g. "5m".
	ProjectCacheTTL string `json:"project_cache_ttl,omitempty"`

	// ProjectCache configures an optional shared cache backend.
	ProjectCache ProjectCacheConfig `json:"project_cache,omitempty"`

	// StatusAddr is the listen address for the status server.
	StatusAddr string `json:"status_addr,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is json or console.
	LogFormat string `json:"log_format,omitempty"`

	// AllowedPaths is an allowlist of directories for export.
	// Paths outside ~/.glean/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export.
	// Symlink checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// ProjectCacheConfig selects the project identity cache backend.
// An empty RedisAddr keeps the cache in process memory.
type ProjectCacheConfig struct {
	RedisAddr string `json:"redis_addr,omitempty"`
	RedisDB   int    `json:"redis_db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// Defaults
const (
	DefaultLookback        = "3h"
	DefaultLimit           = 10
	DefaultProjectCacheTTL = 5 * time.Minute
	DefaultStatusAddr      = "127.0.0.1:7373"
	DefaultKeyPrefix       = "glean"
	WildcardSlug           = "*"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AllowedSlugs:    []string{WildcardSlug},
		Lookback:        DefaultLookback,
		Limit:           DefaultLimit,
		ProjectCacheTTL: DefaultProjectCacheTTL.String(),
		StatusAddr:      DefaultStatusAddr,
		LogLevel:        "info",
		LogFormat:       "json",
		ProjectCache: ProjectCacheConfig{
			KeyPrefix: DefaultKeyPrefix,
		},
	}
}

// CacheTTL returns the parsed project cache TTL, falling back to the default
// when the configured value is missing or malformed.
func (c *Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.ProjectCacheTTL))
	if err != nil || d <= 0 {
		return DefaultProjectCacheTTL
	}
	return d
}

// BaseDir resolves the glean home directory: $GLEAN_HOME, else ~/.glean.
func BaseDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("GLEAN_HOME")); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".glean"), nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.glean.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// LoadWithRepo loads configuration from both the global glean home and a repo-local .glean directory.
// Repo config is found by walking upward from startDir to find the nearest .glean/config.json.
// Repo config takes precedence; either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .glean/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".glean", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated,
// except AllowedSlugs which the overlay replaces outright when set.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.Lookback = firstNonEmpty(overlay.Lookback, base.Lookback)
	result.ProjectCacheTTL = firstNonEmpty(overlay.ProjectCacheTTL, base.ProjectCacheTTL)
	result.StatusAddr = firstNonEmpty(overlay.StatusAddr, base.StatusAddr)
	result.LogLevel = firstNonEmpty(overlay.LogLevel, base.LogLevel)
	result.LogFormat = firstNonEmpty(overlay.LogFormat, base.LogFormat)

	result.ProjectCache.RedisAddr = firstNonEmpty(overlay.ProjectCache.RedisAddr, base.ProjectCache.RedisAddr)
	result.ProjectCache.KeyPrefix = firstNonEmpty(overlay.ProjectCache.KeyPrefix, base.ProjectCache.KeyPrefix)
	result.ProjectCache.RedisDB = overlay.ProjectCache.RedisDB
	if result.ProjectCache.RedisDB == 0 {
		result.ProjectCache.RedisDB = base.ProjectCache.RedisDB
	}

	result.Limit = overlay.Limit
	if result.Limit == 0 {
		result.Limit = base.Limit
	}

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	// Booleans: overlay wins if true, else base
	result.StrictSelection = base.StrictSelection || overlay.StrictSelection
	result.NormalizeTranscripts = base.NormalizeTranscripts || overlay.NormalizeTranscripts
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// The allowlist is a policy, not an accumulation: a configured list replaces the default.
	result.AllowedSlugs = mergeStringSlice(nil, base.AllowedSlugs)
	if len(overlay.AllowedSlugs) > 0 {
		result.AllowedSlugs = mergeStringSlice(nil, overlay.AllowedSlugs)
	}

	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
