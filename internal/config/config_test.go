package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	// Verify defaults
	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if cfg.Daemon.SaveDelayMs != 2000 {
		t.Errorf("expected save delay 2000, got %d", cfg.Daemon.SaveDelayMs)
	}
	if cfg.Ranking.HangTimeSec != 10 {
		t.Errorf("expected hang time 10, got %d", cfg.Ranking.HangTimeSec)
	}
	if len(cfg.Ranking.Extractors) != 3 {
		t.Errorf("expected 3 extractors, got %d", len(cfg.Ranking.Extractors))
	}
	if cfg.Bus.Name != "dev.notifyd" {
		t.Errorf("expected bus name dev.notifyd, got %s", cfg.Bus.Name)
	}
	if !cfg.Policy.Secure {
		t.Error("secure persistence should be on by default")
	}

	// Check paths contain notifyd
	if !strings.Contains(cfg.Policy.Path, "notifyd") {
		t.Errorf("policy path should contain notifyd: %s", cfg.Policy.Path)
	}
	if !strings.Contains(cfg.Registry.Path, "notifyd") {
		t.Errorf("registry path should contain notifyd: %s", cfg.Registry.Path)
	}
	if !strings.Contains(cfg.Logging.FilePath, "notifyd") {
		t.Errorf("log path should contain notifyd: %s", cfg.Logging.FilePath)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if path == "" {
		t.Error("ConfigPath returned empty string")
	}
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
}

func TestNotifydDirEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("NOTIFYD_DATA_DIR", tmpDir)

	if dir := NotifydDir(); dir != tmpDir {
		t.Errorf("expected %s, got %s", tmpDir, dir)
	}

	cfg := DefaultConfig()
	if !strings.HasPrefix(cfg.Policy.Path, tmpDir) {
		t.Errorf("policy path should be under %s: %s", tmpDir, cfg.Policy.Path)
	}
}

func TestLoadNonexistent(t *testing.T) {
	// Load from nonexistent path should return default config
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}

	// Should have defaults
	if cfg.Ranking.HangTimeSec != 10 {
		t.Errorf("expected hang time 10, got %d", cfg.Ranking.HangTimeSec)
	}
}

func TestLoadValidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
version = 2

[daemon]
user_scope = 10
save_delay_ms = 500

[policy]
path = "/custom/policy.xml"
secure = false

[ranking]
hang_time_sec = 30
extractors = ["policy", "intrusiveness"]

[bus]
enabled = true
name = "dev.notifyd.test"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Daemon.UserScope != 10 {
		t.Errorf("expected user scope 10, got %d", cfg.Daemon.UserScope)
	}
	if cfg.Daemon.SaveDelayMs != 500 {
		t.Errorf("expected save delay 500, got %d", cfg.Daemon.SaveDelayMs)
	}
	if cfg.Policy.Path != "/custom/policy.xml" {
		t.Errorf("expected policy path /custom/policy.xml, got %s", cfg.Policy.Path)
	}
	if cfg.Policy.Secure {
		t.Error("secure should be disabled")
	}
	if cfg.Ranking.HangTimeSec != 30 {
		t.Errorf("expected hang time 30, got %d", cfg.Ranking.HangTimeSec)
	}
	if len(cfg.Ranking.Extractors) != 2 {
		t.Errorf("expected 2 extractors, got %d", len(cfg.Ranking.Extractors))
	}
	if cfg.Bus.Name != "dev.notifyd.test" {
		t.Errorf("expected bus name dev.notifyd.test, got %s", cfg.Bus.Name)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	// Only set some values, rest should come from defaults
	content := `
[ranking]
hang_time_sec = 15
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Ranking.HangTimeSec != 15 {
		t.Errorf("expected hang time 15, got %d", cfg.Ranking.HangTimeSec)
	}
	// Other fields should have defaults
	if cfg.Daemon.SaveDelayMs != 2000 {
		t.Errorf("save delay should have default value, got %d", cfg.Daemon.SaveDelayMs)
	}
	if cfg.Bus.Name != "dev.notifyd" {
		t.Errorf("bus name should have default value, got %s", cfg.Bus.Name)
	}
}

func TestLoadJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	content := `{"version": 2, "ranking": {"hang_time_sec": 20}}`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ranking.HangTimeSec != 20 {
		t.Errorf("expected hang time 20, got %d", cfg.Ranking.HangTimeSec)
	}
}

func TestLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := "version: 2\nranking:\n  hang_time_sec: 25\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ranking.HangTimeSec != 25 {
		t.Errorf("expected hang time 25, got %d", cfg.Ranking.HangTimeSec)
	}
}

func TestLoadUnknownExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.conf")

	// TOML content behind an unknown extension should auto-detect
	content := `
[daemon]
save_delay_ms = 750
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Daemon.SaveDelayMs != 750 {
		t.Errorf("expected save delay 750, got %d", cfg.Daemon.SaveDelayMs)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
this is not valid toml {{{
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NOTIFYD_POLICY_PATH", "/env/policy.xml")
	t.Setenv("NOTIFYD_LOG_LEVEL", "debug")
	t.Setenv("NOTIFYD_BUS_NAME", "dev.notifyd.env")

	cfg, err := Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Policy.Path != "/env/policy.xml" {
		t.Errorf("expected policy path from env, got %s", cfg.Policy.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Bus.Name != "dev.notifyd.env" {
		t.Errorf("expected bus name from env, got %s", cfg.Bus.Name)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	if err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidateHangTime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ranking.HangTimeSec = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero hang time")
	}

	cfg.Ranking.HangTimeSec = 3601
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for excessive hang time")
	}
}

func TestValidateUnknownExtractor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ranking.Extractors = []string{"policy", "astrology"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown extractor")
	}
	if !strings.Contains(err.Error(), "astrology") {
		t.Errorf("error should name the unknown extractor: %v", err)
	}
}

func TestValidateBusName(t *testing.T) {
	cfg := DefaultConfig()

	for _, name := range []string{"", "nodots", "1dev.notifyd", "dev..notifyd"} {
		cfg.Bus.Name = name
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for bus name %q", name)
		}
	}

	// Disabled bus skips name validation
	cfg.Bus.Enabled = false
	cfg.Bus.Name = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled bus should not require a name: %v", err)
	}
}

func TestValidateMissingPolicyPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing policy path")
	}
}

func TestValidateSecureRequiresKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.Secure = true
	cfg.Policy.KeyPath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for secure persistence without a key path")
	}
}

func TestValidateLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestMigrateV1ToV2(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("NOTIFYD_DATA_DIR", tmpDir)
	configPath := filepath.Join(tmpDir, "config.toml")

	if err := os.WriteFile(configPath, []byte("version = 1\n"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg := &Config{
		Version: 1,
		Daemon:  DaemonConfig{SaveDelayMs: 2000},
		Policy:  PolicyConfig{Path: filepath.Join(tmpDir, "policy.xml")},
	}

	result, err := MigrateConfig(cfg, configPath)
	if err != nil {
		t.Fatalf("MigrateConfig failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected migration result")
	}

	if cfg.Version != Version {
		t.Errorf("expected version %d after migration, got %d", Version, cfg.Version)
	}
	if !cfg.Usage.Enabled {
		t.Error("migration should enable interaction tracking")
	}
	if !cfg.Audit.Enabled {
		t.Error("migration should enable the audit trail")
	}
	if len(cfg.Ranking.Extractors) == 0 {
		t.Error("migration should set the default extractor pipeline")
	}
	if cfg.Ranking.HangTimeSec != 10 {
		t.Errorf("migration should set hang time, got %d", cfg.Ranking.HangTimeSec)
	}
	if len(result.Changes) == 0 {
		t.Error("expected recorded changes")
	}
	if result.Backup == "" {
		t.Error("expected a backup path")
	}
	if _, err := os.Stat(result.Backup); err != nil {
		t.Errorf("backup file should exist: %v", err)
	}
}

func TestMigrateCurrentVersionIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	result, err := MigrateConfig(cfg, "")
	if err != nil {
		t.Fatalf("MigrateConfig failed: %v", err)
	}
	if result != nil {
		t.Error("expected nil result for current version")
	}
}

func TestSaveConfigTOMLRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	cfg := DefaultConfig()
	cfg.Daemon.SaveDelayMs = 1234
	cfg.Ranking.Extractors = []string{"policy", "relevance"}
	cfg.Bus.Name = "dev.notifyd.saved"

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Daemon.SaveDelayMs != 1234 {
		t.Errorf("expected save delay 1234, got %d", loaded.Daemon.SaveDelayMs)
	}
	if len(loaded.Ranking.Extractors) != 2 {
		t.Errorf("expected 2 extractors, got %d", len(loaded.Ranking.Extractors))
	}
	if loaded.Bus.Name != "dev.notifyd.saved" {
		t.Errorf("expected bus name dev.notifyd.saved, got %s", loaded.Bus.Name)
	}
}

func TestSaveConfigJSONRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Ranking.HangTimeSec = 42

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Ranking.HangTimeSec != 42 {
		t.Errorf("expected hang time 42, got %d", loaded.Ranking.HangTimeSec)
	}
}

func TestLoadOrCreate(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	cfg, created, err := LoadOrCreate(configPath)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected new file to be created")
	}
	if cfg == nil {
		t.Fatal("LoadOrCreate returned nil config")
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("config file should exist: %v", err)
	}

	// Second call loads the existing file
	_, created, err = LoadOrCreate(configPath)
	if err != nil {
		t.Fatalf("LoadOrCreate failed on existing file: %v", err)
	}
	if created {
		t.Error("expected existing file to be loaded, not recreated")
	}
}

func TestMerge(t *testing.T) {
	dst := DefaultConfig()
	src := &Config{
		Daemon:  DaemonConfig{SaveDelayMs: 99},
		Ranking: RankingConfig{Extractors: []string{"policy"}},
		Logging: LoggingConfig{Level: "debug"},
	}

	merged := Merge(dst, src)

	if merged.Daemon.SaveDelayMs != 99 {
		t.Errorf("expected merged save delay 99, got %d", merged.Daemon.SaveDelayMs)
	}
	if len(merged.Ranking.Extractors) != 1 {
		t.Errorf("expected 1 extractor after merge, got %d", len(merged.Ranking.Extractors))
	}
	if merged.Logging.Level != "debug" {
		t.Errorf("expected merged level debug, got %s", merged.Logging.Level)
	}
	// Unset fields keep dst values
	if merged.Bus.Name != "dev.notifyd" {
		t.Errorf("expected dst bus name preserved, got %s", merged.Bus.Name)
	}
	// dst itself untouched
	if dst.Daemon.SaveDelayMs != 2000 {
		t.Errorf("Merge mutated dst: %d", dst.Daemon.SaveDelayMs)
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()

	clone.Daemon.SaveDelayMs = 1
	clone.Ranking.Extractors[0] = "mutated"

	if cfg.Daemon.SaveDelayMs != 2000 {
		t.Errorf("clone mutation leaked into original: %d", cfg.Daemon.SaveDelayMs)
	}
	if cfg.Ranking.Extractors[0] != "policy" {
		t.Errorf("clone extractor slice shares backing array: %s", cfg.Ranking.Extractors[0])
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Policy.Path = filepath.Join(tmpDir, "a", "policy.xml")
	cfg.Registry.Path = filepath.Join(tmpDir, "b", "registry.db")
	cfg.Usage.Path = filepath.Join(tmpDir, "c", "usage.db")
	cfg.Logging.FilePath = filepath.Join(tmpDir, "d", "notifyd.log")
	cfg.Audit.FilePath = filepath.Join(tmpDir, "e", "audit.log")
	cfg.Daemon.CrashDir = filepath.Join(tmpDir, "f", "crashes")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, sub := range []string{"a", "b", "c", "d", "e", filepath.Join("f", "crashes")} {
		if _, err := os.Stat(filepath.Join(tmpDir, sub)); os.IsNotExist(err) {
			t.Errorf("%s was not created", sub)
		}
	}
}
