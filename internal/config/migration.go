// Package config handles configuration loading and validation for notifyd.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MigrationResult contains the result of a configuration migration.
type MigrationResult struct {
	FromVersion int
	ToVersion   int
	Backup      string
	Changes     []string
	Warnings    []string
}

// MigrateConfig migrates a configuration from an older version to the
// current version. It automatically creates a backup before migration.
func MigrateConfig(cfg *Config, configPath string) (*MigrationResult, error) {
	if cfg.Version >= Version {
		return nil, nil // No migration needed
	}

	result := &MigrationResult{
		FromVersion: cfg.Version,
		ToVersion:   Version,
	}

	if configPath != "" {
		backup, err := backupConfig(configPath)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not create backup: %v", err))
		} else {
			result.Backup = backup
		}
	}

	for cfg.Version < Version {
		changes, warnings, err := applyMigration(cfg)
		if err != nil {
			return result, fmt.Errorf("migration from v%d to v%d failed: %w", cfg.Version, cfg.Version+1, err)
		}
		result.Changes = append(result.Changes, changes...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result, nil
}

// applyMigration applies a single version upgrade.
func applyMigration(cfg *Config) (changes []string, warnings []string, err error) {
	switch cfg.Version {
	case 1:
		changes, warnings = migrateV1ToV2(cfg)
	default:
		return nil, nil, fmt.Errorf("unknown version %d", cfg.Version)
	}

	cfg.Version++
	return changes, warnings, nil
}

// migrateV1ToV2 migrates from version 1 to version 2. V1 predates the
// usage tracker and the audit trail.
func migrateV1ToV2(cfg *Config) (changes []string, warnings []string) {
	dir := NotifydDir()

	if cfg.Usage.Path == "" {
		cfg.Usage.Enabled = true
		cfg.Usage.Path = filepath.Join(dir, "usage.db")
		changes = append(changes, "enabled interaction tracking")
	}

	if cfg.Audit.FilePath == "" {
		cfg.Audit.Enabled = true
		cfg.Audit.FilePath = filepath.Join(dir, "audit.log")
		cfg.Audit.MaxSizeMB = 20
		cfg.Audit.MaxBackups = 5
		cfg.Audit.MaxAgeDays = 90
		changes = append(changes, "added audit trail configuration")
	}

	if len(cfg.Ranking.Extractors) == 0 {
		cfg.Ranking.Extractors = []string{"policy", "relevance", "intrusiveness"}
		changes = append(changes, "set default extractor pipeline")
	}

	if cfg.Ranking.HangTimeSec == 0 {
		cfg.Ranking.HangTimeSec = 10
		changes = append(changes, "set default intrusive hang time")
	}

	return changes, warnings
}

// backupConfig creates a backup of the config file.
func backupConfig(configPath string) (string, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return "", nil // No file to backup
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := configPath + ".backup-" + timestamp

	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	return backupPath, nil
}

// SaveConfig saves the configuration to a file.
func SaveConfig(cfg *Config, path string) error {
	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		// Default to TOML
		data = []byte(generateTOML(cfg))
	}

	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	// Write with secure permissions
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// generateTOML generates a well-formatted TOML configuration file.
func generateTOML(cfg *Config) string {
	return fmt.Sprintf(`# notifyd configuration
# Version %d

version = %d

[daemon]
user_scope = %d
save_delay_ms = %d
pid_file = "%s"
crash_dir = "%s"

[policy]
path = "%s"
secure = %t
key_path = "%s"
watch_external = %t
watch_debounce_ms = %d

[ranking]
hang_time_sec = %d
extractors = %s

[registry]
path = "%s"

[usage]
enabled = %t
path = "%s"

[bus]
enabled = %t
name = "%s"
use_system_bus = %t

[logging]
level = "%s"
format = "%s"
output = "%s"
file_path = "%s"
max_size_mb = %d
max_backups = %d
max_age_days = %d
compress = %t

[audit]
enabled = %t
file_path = "%s"
max_size_mb = %d
max_backups = %d
max_age_days = %d

[metrics]
enabled = %t
addr = "%s"
`,
		cfg.Version,
		cfg.Version,
		cfg.Daemon.UserScope,
		cfg.Daemon.SaveDelayMs,
		cfg.Daemon.PidFile,
		cfg.Daemon.CrashDir,
		cfg.Policy.Path,
		cfg.Policy.Secure,
		cfg.Policy.KeyPath,
		cfg.Policy.WatchExternal,
		cfg.Policy.WatchDebounceMs,
		cfg.Ranking.HangTimeSec,
		toTOMLArray(cfg.Ranking.Extractors),
		cfg.Registry.Path,
		cfg.Usage.Enabled,
		cfg.Usage.Path,
		cfg.Bus.Enabled,
		cfg.Bus.Name,
		cfg.Bus.UseSystemBus,
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.Logging.FilePath,
		cfg.Logging.MaxSizeMB,
		cfg.Logging.MaxBackups,
		cfg.Logging.MaxAgeDays,
		cfg.Logging.Compress,
		cfg.Audit.Enabled,
		cfg.Audit.FilePath,
		cfg.Audit.MaxSizeMB,
		cfg.Audit.MaxBackups,
		cfg.Audit.MaxAgeDays,
		cfg.Metrics.Enabled,
		cfg.Metrics.Addr,
	)
}

func toTOMLArray(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	result := "["
	for i, item := range items {
		if i > 0 {
			result += ", "
		}
		result += fmt.Sprintf(`"%s"`, item)
	}
	result += "]"
	return result
}

// GetMigrationHistory returns the migration history if stored in the
// data directory.
func GetMigrationHistory() ([]MigrationResult, error) {
	historyPath := filepath.Join(NotifydDir(), "migration_history.json")

	data, err := os.ReadFile(historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migration history: %w", err)
	}

	var history []MigrationResult
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse migration history: %w", err)
	}

	return history, nil
}

// SaveMigrationHistory saves a migration result to the history file.
func SaveMigrationHistory(result *MigrationResult) error {
	historyPath := filepath.Join(NotifydDir(), "migration_history.json")

	history, err := GetMigrationHistory()
	if err != nil {
		history = nil // Start fresh if error
	}

	history = append(history, *result)

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode migration history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(historyPath), 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(historyPath, data, 0600); err != nil {
		return fmt.Errorf("write migration history: %w", err)
	}

	return nil
}
