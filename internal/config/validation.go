// Package config handles configuration loading and validation for notifyd.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// knownExtractors are the signal extractors the ranking pipeline ships.
var knownExtractors = map[string]bool{
	"policy":        true,
	"relevance":     true,
	"intrusiveness": true,
}

// busNamePattern matches well-known D-Bus names: dot-separated elements
// that do not start with a digit.
var busNamePattern = regexp.MustCompile(`^[A-Za-z_-][A-Za-z0-9_-]*(\.[A-Za-z_-][A-Za-z0-9_-]*)+$`)

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	if daemonErrs := validateDaemon(&c.Daemon); len(daemonErrs) > 0 {
		errs = append(errs, daemonErrs...)
	}
	if policyErrs := validatePolicy(&c.Policy); len(policyErrs) > 0 {
		errs = append(errs, policyErrs...)
	}
	if rankingErrs := validateRanking(&c.Ranking); len(rankingErrs) > 0 {
		errs = append(errs, rankingErrs...)
	}
	if registryErrs := validateRegistry(&c.Registry); len(registryErrs) > 0 {
		errs = append(errs, registryErrs...)
	}
	if usageErrs := validateUsage(&c.Usage); len(usageErrs) > 0 {
		errs = append(errs, usageErrs...)
	}
	if busErrs := validateBus(&c.Bus); len(busErrs) > 0 {
		errs = append(errs, busErrs...)
	}
	if loggingErrs := validateLogging(&c.Logging); len(loggingErrs) > 0 {
		errs = append(errs, loggingErrs...)
	}
	if auditErrs := validateAudit(&c.Audit); len(auditErrs) > 0 {
		errs = append(errs, auditErrs...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDaemon(d *DaemonConfig) ValidationErrors {
	var errs ValidationErrors

	if d.UserScope < 0 {
		errs = append(errs, ValidationError{
			Field:   "daemon.user_scope",
			Message: "user scope cannot be negative",
		})
	}
	if d.SaveDelayMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "daemon.save_delay_ms",
			Message: "save delay cannot be negative",
		})
	}
	if d.SaveDelayMs > 60000 {
		errs = append(errs, ValidationError{
			Field:   "daemon.save_delay_ms",
			Message: "save delay cannot exceed 60000ms (1 minute)",
		})
	}

	return errs
}

func validatePolicy(p *PolicyConfig) ValidationErrors {
	var errs ValidationErrors

	if p.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "policy.path",
			Message: "policy file path cannot be empty",
		})
	}
	if p.Secure && p.KeyPath == "" {
		errs = append(errs, ValidationError{
			Field:   "policy.key_path",
			Message: "key path required when secure persistence is enabled",
		})
	}
	if p.WatchExternal && p.WatchDebounceMs < 100 {
		errs = append(errs, ValidationError{
			Field:   "policy.watch_debounce_ms",
			Message: "watch debounce must be at least 100ms",
		})
	}

	return errs
}

func validateRanking(r *RankingConfig) ValidationErrors {
	var errs ValidationErrors

	if r.HangTimeSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ranking.hang_time_sec",
			Message: "hang time must be at least 1 second",
		})
	}
	if r.HangTimeSec > 3600 {
		errs = append(errs, ValidationError{
			Field:   "ranking.hang_time_sec",
			Message: "hang time cannot exceed 3600 seconds",
		})
	}
	if len(r.Extractors) == 0 {
		errs = append(errs, ValidationError{
			Field:   "ranking.extractors",
			Message: "at least one extractor must be enabled",
		})
	}
	for i, name := range r.Extractors {
		if !knownExtractors[name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("ranking.extractors[%d]", i),
				Message: fmt.Sprintf("unknown extractor: %s", name),
			})
		}
	}

	return errs
}

func validateRegistry(r *RegistryConfig) ValidationErrors {
	var errs ValidationErrors

	if r.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "registry.path",
			Message: "registry database path cannot be empty",
		})
	}

	return errs
}

func validateUsage(u *UsageConfig) ValidationErrors {
	var errs ValidationErrors

	if u.Enabled && u.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "usage.path",
			Message: "usage database path required when tracking is enabled",
		})
	}

	return errs
}

func validateBus(b *BusConfig) ValidationErrors {
	var errs ValidationErrors

	if b.Enabled {
		if b.Name == "" {
			errs = append(errs, ValidationError{
				Field:   "bus.name",
				Message: "bus name cannot be empty",
			})
		} else if !busNamePattern.MatchString(b.Name) {
			errs = append(errs, ValidationError{
				Field:   "bus.name",
				Message: fmt.Sprintf("not a valid well-known bus name: %s", b.Name),
			})
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level: %s", l.Level),
		})
	}

	switch l.Format {
	case "", "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format: %s (expected text or json)", l.Format),
		})
	}

	switch l.Output {
	case "", "stdout", "stderr", "file", "both":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("unknown output: %s", l.Output),
		})
	}

	if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Message: "file path required for file output",
		})
	}
	if l.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size cannot be negative",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateAudit(a *AuditConfig) ValidationErrors {
	var errs ValidationErrors

	if a.Enabled && a.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "audit.file_path",
			Message: "file path required when the audit trail is enabled",
		})
	}
	if a.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "audit.max_size_mb",
			Message: "max size cannot be negative",
		})
	}

	return errs
}
