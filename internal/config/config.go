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
	// VaultRoot is the Markdown vault receiving artifacts under inbox/.
	// Empty means <baseDir>/vault.
	VaultRoot string `json:"vault_root,omitempty"`

	// BackupDir holds ledger backups created by `stash backup`.
	// Empty means <baseDir>/backups.
	BackupDir string `json:"backup_dir,omitempty"`

	// StaleThresholdMinutes is how long a non-terminal capture may sit
	// untouched before recovery reports it as stuck.
	StaleThresholdMinutes int `json:"stale_threshold_minutes,omitempty"`

	// AudioHashPrefixBytes is how much of an audio file feeds its content hash.
	AudioHashPrefixBytes int64 `json:"audio_hash_prefix_bytes,omitempty"`

	// RetentionDays is the age after which terminal captures may be pruned.
	RetentionDays int `json:"retention_days,omitempty"`

	// SkipRestoreSmokeTest disables the copy-and-open step of backup verification.
	SkipRestoreSmokeTest bool `json:"skip_restore_smoke_test,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogFile receives JSON logs in addition to stderr. Empty disables it.
	LogFile string `json:"log_file,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// TranscribeCommand is the argv of an external speech-to-text program
	// used by recovery. "{audio}" is replaced by the audio path; without it
	// the path is appended. The transcript is read from stdout.
	TranscribeCommand []string `json:"transcribe_command,omitempty"`

	// TranscribeTimeoutSeconds bounds one transcription run.
	TranscribeTimeoutSeconds int `json:"transcribe_timeout_seconds,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool groups to disable entirely.
	// Known types: "capture", "backup", "ledger", "auth".
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		StaleThresholdMinutes:    10,
		AudioHashPrefixBytes:     4 << 20,
		RetentionDays:            90,
		TranscribeTimeoutSeconds: 600,
		LogLevel:                 "info",
	}
}

// StaleThreshold returns StaleThresholdMinutes as a duration.
func (c *Config) StaleThreshold() time.Duration {
	if c == nil || c.StaleThresholdMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.StaleThresholdMinutes) * time.Minute
}

// TranscribeTimeout returns TranscribeTimeoutSeconds as a duration.
func (c *Config) TranscribeTimeout() time.Duration {
	if c == nil || c.TranscribeTimeoutSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.TranscribeTimeoutSeconds) * time.Second
}

// Retention returns RetentionDays as a duration.
func (c *Config) Retention() time.Duration {
	if c == nil || c.RetentionDays <= 0 {
		return 90 * 24 * time.Hour
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ResolvePaths fills empty directory settings relative to baseDir and
// expands a leading "~/" in the configured ones.
func (c *Config) ResolvePaths(baseDir string) {
	c.VaultRoot = expandHome(c.VaultRoot)
	c.BackupDir = expandHome(c.BackupDir)
	c.LogFile = expandHome(c.LogFile)
	if c.VaultRoot == "" {
		c.VaultRoot = filepath.Join(baseDir, "vault")
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(baseDir, "backups")
	}
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.stash.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.stash) and repo (.stash) directories.
// Repo config is found by walking upward from startDir to find the nearest .stash/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .stash/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".stash", "config.json")
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

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.VaultRoot = pick(overlay.VaultRoot, base.VaultRoot)
	result.BackupDir = pick(overlay.BackupDir, base.BackupDir)
	result.LogLevel = pick(overlay.LogLevel, base.LogLevel)
	result.LogFile = pick(overlay.LogFile, base.LogFile)
	result.StaleThresholdMinutes = pick(overlay.StaleThresholdMinutes, base.StaleThresholdMinutes)
	result.AudioHashPrefixBytes = pick(overlay.AudioHashPrefixBytes, base.AudioHashPrefixBytes)
	result.RetentionDays = pick(overlay.RetentionDays, base.RetentionDays)
	result.DBMaxOpenConns = pick(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pick(overlay.DBMaxIdleConns, base.DBMaxIdleConns)
	result.TranscribeTimeoutSeconds = pick(overlay.TranscribeTimeoutSeconds, base.TranscribeTimeoutSeconds)

	// The command is one argv, so the overlay replaces it whole.
	result.TranscribeCommand = base.TranscribeCommand
	if len(overlay.TranscribeCommand) > 0 {
		result.TranscribeCommand = overlay.TranscribeCommand
	}

	// Booleans: overlay wins if true, else base
	result.SkipRestoreSmokeTest = base.SkipRestoreSmokeTest || overlay.SkipRestoreSmokeTest

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pick[T comparable](overlay, base T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string(nil), a...), b...) {
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
