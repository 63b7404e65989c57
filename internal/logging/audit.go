// Package logging provides structured logging with slog for notifyd.
package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

// Audit event types. Every path that can silence or un-silence an
// application leaves a trace here.
const (
	AuditEventPackagePolicy     AuditEventType = "package_policy"
	AuditEventChannelCreated    AuditEventType = "channel_created"
	AuditEventChannelUpdated    AuditEventType = "channel_updated"
	AuditEventChannelDeleted    AuditEventType = "channel_deleted"
	AuditEventPolicyRestored    AuditEventType = "policy_restored"
	AuditEventPackageRegistered AuditEventType = "package_registered"
	AuditEventPackageRemoved    AuditEventType = "package_removed"
	AuditEventError             AuditEventType = "error"
	AuditEventStartup           AuditEventType = "startup"
	AuditEventShutdown          AuditEventType = "shutdown"
)

// Actors that can mutate notification policy.
const (
	ActorUser      = "user"
	ActorApp       = "app"
	ActorAssistant = "assistant"
	ActorSystem    = "system"
)

// AuditEvent records one policy-relevant action.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType AuditEventType         `json:"event_type"`
	Component string                 `json:"component"`
	Actor     string                 `json:"actor,omitempty"`
	UserScope int                    `json:"user_scope"`
	Package   string                 `json:"package,omitempty"`
	Channel   string                 `json:"channel,omitempty"`
	Action    string                 `json:"action"`
	Result    string                 `json:"result"` // "success" or "failure"
	Details   map[string]interface{} `json:"details,omitempty"`
	Error     string                 `json:"error,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	// FilePath is the path to the audit log file.
	FilePath string

	// MaxSize is the maximum size in MB before rotation.
	MaxSize int64

	// MaxAge is the maximum age in days before deletion.
	MaxAge int

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int

	// Compress determines if rotated logs should be compressed.
	Compress bool

	// Component is the component name for audit events.
	Component string
}

// DefaultAuditConfig returns default audit logger configuration.
func DefaultAuditConfig() *AuditLoggerConfig {
	return &AuditLoggerConfig{
		FilePath:   defaultAuditLogPath(),
		MaxSize:    20, // 20 MB
		MaxAge:     90, // 90 days
		MaxBackups: 5,
		Compress:   true,
		Component:  "notifyd",
	}
}

// defaultAuditLogPath returns the platform-specific default audit log path.
func defaultAuditLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "notifyd", "audit.log")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "notifyd", "logs", "audit.log")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "notifyd", "audit.log")
	}
}

// AuditLogger writes the policy audit trail as JSON lines.
type AuditLogger struct {
	config  *AuditLoggerConfig
	rotator *FileRotator
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewAuditLogger creates a new AuditLogger.
func NewAuditLogger(cfg *AuditLoggerConfig) (*AuditLogger, error) {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}

	rotatorCfg := &Config{
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		Format:     FormatJSON,
		Level:      LevelInfo,
	}

	rotator, err := NewFileRotator(rotatorCfg)
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}

	return &AuditLogger{
		config:  cfg,
		rotator: rotator,
		logger:  slog.New(slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: LevelInfo})),
	}, nil
}

// Log writes an audit event. A nil *AuditLogger drops events, so callers
// can leave auditing unconfigured.
func (a *AuditLogger) Log(event AuditEvent) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.Result == "" {
		event.Result = "success"
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	data = append(data, '\n')
	if _, err := a.rotator.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// LogPackagePolicy logs a package-level policy change such as a new
// importance ceiling or a ban.
func (a *AuditLogger) LogPackagePolicy(actor, pkg string, userScope int, setting string, oldValue, newValue interface{}) error {
	return a.Log(AuditEvent{
		EventType: AuditEventPackagePolicy,
		Actor:     actor,
		UserScope: userScope,
		Package:   pkg,
		Action:    "policy_changed",
		Details: map[string]interface{}{
			"setting":   setting,
			"old_value": oldValue,
			"new_value": newValue,
		},
	})
}

// LogChannelCreated logs a channel creation.
func (a *AuditLogger) LogChannelCreated(actor, pkg, channel string, userScope int) error {
	return a.Log(AuditEvent{
		EventType: AuditEventChannelCreated,
		Actor:     actor,
		UserScope: userScope,
		Package:   pkg,
		Channel:   channel,
		Action:    "channel_created",
	})
}

// LogChannelUpdated logs a channel settings change.
func (a *AuditLogger) LogChannelUpdated(actor, pkg, channel string, userScope int) error {
	return a.Log(AuditEvent{
		EventType: AuditEventChannelUpdated,
		Actor:     actor,
		UserScope: userScope,
		Package:   pkg,
		Channel:   channel,
		Action:    "channel_updated",
	})
}

// LogChannelDeleted logs a channel deletion.
func (a *AuditLogger) LogChannelDeleted(actor, pkg, channel string, userScope int) error {
	return a.Log(AuditEvent{
		EventType: AuditEventChannelDeleted,
		Actor:     actor,
		UserScope: userScope,
		Package:   pkg,
		Channel:   channel,
		Action:    "channel_deleted",
	})
}

// LogPolicyRestored logs a policy import from a backup payload.
func (a *AuditLogger) LogPolicyRestored(userScope int, records int) error {
	return a.Log(AuditEvent{
		EventType: AuditEventPolicyRestored,
		Actor:     ActorSystem,
		UserScope: userScope,
		Action:    "policy_restored",
		Details: map[string]interface{}{
			"records": records,
		},
	})
}

// LogPackageRegistered logs a package install.
func (a *AuditLogger) LogPackageRegistered(pkg string, userScope, uid int) error {
	return a.Log(AuditEvent{
		EventType: AuditEventPackageRegistered,
		Actor:     ActorSystem,
		UserScope: userScope,
		Package:   pkg,
		Action:    "package_registered",
		Details: map[string]interface{}{
			"uid": uid,
		},
	})
}

// LogPackageRemoved logs a package uninstall.
func (a *AuditLogger) LogPackageRemoved(pkg string, userScope int) error {
	return a.Log(AuditEvent{
		EventType: AuditEventPackageRemoved,
		Actor:     ActorSystem,
		UserScope: userScope,
		Package:   pkg,
		Action:    "package_removed",
	})
}

// LogError logs a failed operation.
func (a *AuditLogger) LogError(operation string, err error) error {
	return a.Log(AuditEvent{
		EventType: AuditEventError,
		Action:    operation,
		Result:    "failure",
		Error:     err.Error(),
	})
}

// LogStartup logs a daemon startup event.
func (a *AuditLogger) LogStartup(version string) error {
	return a.Log(AuditEvent{
		EventType: AuditEventStartup,
		Actor:     ActorSystem,
		Action:    "daemon_started",
		Details: map[string]interface{}{
			"version": version,
		},
	})
}

// LogShutdown logs a daemon shutdown event.
func (a *AuditLogger) LogShutdown(reason string) error {
	return a.Log(AuditEvent{
		EventType: AuditEventShutdown,
		Actor:     ActorSystem,
		Action:    "daemon_stopped",
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// Close closes the audit logger.
func (a *AuditLogger) Close() error {
	if a == nil || a.rotator == nil {
		return nil
	}
	return a.rotator.Close()
}

// Sync flushes any buffered audit events.
func (a *AuditLogger) Sync() error {
	if a == nil || a.rotator == nil {
		return nil
	}
	return a.rotator.Sync()
}
