// Package config handles configuration loading, validation, and management for notifyd.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 2

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version for migrations.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Daemon configuration for the notifyd process itself.
	Daemon DaemonConfig `toml:"daemon" json:"daemon" yaml:"daemon"`

	// Policy configuration for the notification policy store.
	Policy PolicyConfig `toml:"policy" json:"policy" yaml:"policy"`

	// Ranking configuration for the signal extractors.
	Ranking RankingConfig `toml:"ranking" json:"ranking" yaml:"ranking"`

	// Registry configuration for the application index.
	Registry RegistryConfig `toml:"registry" json:"registry" yaml:"registry"`

	// Usage configuration for interaction tracking.
	Usage UsageConfig `toml:"usage" json:"usage" yaml:"usage"`

	// Bus configuration for the D-Bus control surface.
	Bus BusConfig `toml:"bus" json:"bus" yaml:"bus"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Audit configuration for the policy audit trail.
	Audit AuditConfig `toml:"audit" json:"audit" yaml:"audit"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// DaemonConfig holds settings for the daemon process.
type DaemonConfig struct {
	// UserScope is the user scope this daemon instance serves.
	UserScope int `toml:"user_scope" json:"user_scope" yaml:"user_scope"`

	// SaveDelayMs is how long policy mutations are batched before the
	// store is flushed to disk.
	SaveDelayMs int `toml:"save_delay_ms" json:"save_delay_ms" yaml:"save_delay_ms"`

	// PidFile is the path to the PID file.
	PidFile string `toml:"pid_file" json:"pid_file" yaml:"pid_file"`

	// CrashDir is the directory for crash dumps.
	CrashDir string `toml:"crash_dir" json:"crash_dir" yaml:"crash_dir"`
}

// PolicyConfig holds settings for the policy store persistence.
type PolicyConfig struct {
	// Path is the path to the policy XML file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Secure enables the HMAC integrity sidecar for the policy file.
	Secure bool `toml:"secure" json:"secure" yaml:"secure"`

	// KeyPath is the path to the sidecar HMAC key.
	KeyPath string `toml:"key_path" json:"key_path" yaml:"key_path"`

	// WatchExternal reloads the store when the policy file is edited by
	// another process.
	WatchExternal bool `toml:"watch_external" json:"watch_external" yaml:"watch_external"`

	// WatchDebounceMs is how long an externally edited file must be
	// stable before a reload.
	WatchDebounceMs int `toml:"watch_debounce_ms" json:"watch_debounce_ms" yaml:"watch_debounce_ms"`
}

// RankingConfig holds settings for the ranking pipeline.
type RankingConfig struct {
	// HangTimeSec is how long a noisy notification keeps its intrusive
	// boost before reconsideration.
	HangTimeSec int `toml:"hang_time_sec" json:"hang_time_sec" yaml:"hang_time_sec"`

	// Extractors is the ordered list of signal extractors to run.
	Extractors []string `toml:"extractors" json:"extractors" yaml:"extractors"`
}

// RegistryConfig holds settings for the application registry.
type RegistryConfig struct {
	// Path is the path to the registry database.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// UsageConfig holds settings for interaction tracking.
type UsageConfig struct {
	// Enabled determines whether interaction tracking is on. When off,
	// every package ranks with neutral engagement.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the path to the usage database.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// BusConfig holds settings for the D-Bus control surface.
type BusConfig struct {
	// Enabled determines whether the bus API is exported.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Name is the well-known bus name to claim.
	Name string `toml:"name" json:"name" yaml:"name"`

	// UseSystemBus connects to the system bus instead of the session bus.
	UseSystemBus bool `toml:"use_system_bus" json:"use_system_bus" yaml:"use_system_bus"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output includes "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// AuditConfig holds the policy audit trail configuration.
type AuditConfig struct {
	// Enabled determines whether the audit trail is written.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// FilePath is the path to the audit log file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum audit file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated audit files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of audit files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled determines whether internal counters are collected.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Addr is the loopback address the Prometheus text endpoint listens
	// on. Empty disables the HTTP export; counters are still collected.
	Addr string `toml:"addr" json:"addr" yaml:"addr"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := NotifydDir()

	return &Config{
		Version: Version,
		Daemon: DaemonConfig{
			UserScope:   0,
			SaveDelayMs: 2000,
			PidFile:     filepath.Join(dir, "notifyd.pid"),
			CrashDir:    filepath.Join(dir, "crashes"),
		},
		Policy: PolicyConfig{
			Path:            filepath.Join(dir, "notification_policy.xml"),
			Secure:          true,
			KeyPath:         filepath.Join(dir, "policy_hmac.key"),
			WatchExternal:   false,
			WatchDebounceMs: 2000,
		},
		Ranking: RankingConfig{
			HangTimeSec: 10,
			Extractors:  []string{"policy", "relevance", "intrusiveness"},
		},
		Registry: RegistryConfig{
			Path: filepath.Join(dir, "registry.db"),
		},
		Usage: UsageConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "usage.db"),
		},
		Bus: BusConfig{
			Enabled:      true,
			Name:         "dev.notifyd",
			UseSystemBus: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   filepath.Join(dir, "notifyd.log"),
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			FilePath:   filepath.Join(dir, "audit.log"),
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9321",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path. If the file doesn't
// exist, returns default configuration. Supports TOML, JSON, and YAML
// formats based on file extension.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := autoDetectAndParse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// autoDetectAndParse attempts to parse the config in multiple formats.
func autoDetectAndParse(data []byte, cfg *Config) error {
	// Try TOML first (most common)
	if _, err := toml.Decode(string(data), cfg); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, cfg); err == nil {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err == nil {
		return nil
	}
	return fmt.Errorf("unable to parse config file (tried TOML, JSON, YAML)")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Policy.Path),
		filepath.Dir(c.Registry.Path),
		filepath.Dir(c.Usage.Path),
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.Audit.FilePath),
		c.Daemon.CrashDir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// NotifydDir returns the base notifyd data directory. Uses
// platform-specific paths or the NOTIFYD_DATA_DIR environment override.
func NotifydDir() string {
	if envDir := os.Getenv("NOTIFYD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables are prefixed with NOTIFYD_.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("NOTIFYD_POLICY_PATH"); v != "" {
		c.Policy.Path = v
	}
	if v := os.Getenv("NOTIFYD_POLICY_KEY_PATH"); v != "" {
		c.Policy.KeyPath = v
	}
	if v := os.Getenv("NOTIFYD_REGISTRY_PATH"); v != "" {
		c.Registry.Path = v
	}
	if v := os.Getenv("NOTIFYD_USAGE_PATH"); v != "" {
		c.Usage.Path = v
	}
	if v := os.Getenv("NOTIFYD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NOTIFYD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("NOTIFYD_BUS_NAME"); v != "" {
		c.Bus.Name = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:  c.Version,
		Daemon:   c.Daemon,
		Policy:   c.Policy,
		Ranking:  c.Ranking,
		Registry: c.Registry,
		Usage:    c.Usage,
		Bus:      c.Bus,
		Logging:  c.Logging,
		Audit:    c.Audit,
		Metrics:  c.Metrics,
	}
	clone.Ranking.Extractors = append([]string{}, c.Ranking.Extractors...)
	return clone
}

// SaveDelay is a convenience accessor for the batched-save interval.
func (c *Config) SaveDelay() int {
	return c.Daemon.SaveDelayMs
}
