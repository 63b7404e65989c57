// Package policy implements the per-application notification policy store:
// package records keyed by (package, owner uid), named channels with
// user-lock tracking, XML persistence with distinct backup and restore
// modes, and the migration clamp applied to legacy default channels.
//
// The store performs no locking of its own. Callers own serialization of
// mutating operations; the daemon holds a single mutex across them.
package policy

import "errors"

// Importance expresses how interruptive notifications from a package or
// channel may be. Values are persisted numerically and must stay stable.
type Importance int

const (
	// ImportanceUnspecified means no explicit choice has been made and the
	// effective value comes from a lower-precedence source.
	ImportanceUnspecified Importance = -1000
	// ImportanceNone blocks notifications entirely.
	ImportanceNone Importance = 0
	ImportanceMin  Importance = 1
	ImportanceLow  Importance = 2
	// ImportanceDefault is the baseline for freshly created channels.
	ImportanceDefault Importance = 3
	ImportanceHigh    Importance = 4
	ImportanceMax     Importance = 5
)

// ValidForChannel reports whether i is acceptable on a channel supplied by
// an application. Unspecified is reserved for package-level defaults.
func (i Importance) ValidForChannel() bool {
	return i >= ImportanceNone && i <= ImportanceMax
}

func (i Importance) String() string {
	switch i {
	case ImportanceUnspecified:
		return "unspecified"
	case ImportanceNone:
		return "none"
	case ImportanceMin:
		return "min"
	case ImportanceLow:
		return "low"
	case ImportanceDefault:
		return "default"
	case ImportanceHigh:
		return "high"
	case ImportanceMax:
		return "max"
	}
	return "invalid"
}

// Priority is the legacy pre-channel urgency hint carried on package records.
type Priority int

const (
	PriorityMin     Priority = -2
	PriorityLow     Priority = -1
	PriorityDefault Priority = 0
	PriorityHigh    Priority = 1
	PriorityMax     Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityMin:
		return "min"
	case PriorityLow:
		return "low"
	case PriorityDefault:
		return "default"
	case PriorityHigh:
		return "high"
	case PriorityMax:
		return "max"
	}
	return "invalid"
}

// Visibility controls how much of a notification shows on the lockscreen.
type Visibility int

const (
	// VisibilityNoOverride defers to the global lockscreen setting.
	VisibilityNoOverride Visibility = -1000
	VisibilitySecret     Visibility = -1
	VisibilityPrivate    Visibility = 0
	VisibilityPublic     Visibility = 1
)

func (v Visibility) String() string {
	switch v {
	case VisibilityNoOverride:
		return "no-override"
	case VisibilitySecret:
		return "secret"
	case VisibilityPrivate:
		return "private"
	case VisibilityPublic:
		return "public"
	}
	return "invalid"
}

// LockMask records which channel fields the user has pinned. A locked field
// survives overwrites from the owning application and the assistant.
type LockMask uint32

const (
	LockBypassDND LockMask = 1 << iota
	LockVisibility
	LockImportance
	LockLights
	LockVibration
	LockSound
	LockAllowed
	LockShowBadge
)

const (
	// UnknownUID marks a record whose owner id is pending identity
	// resolution, e.g. right after a cross-device restore.
	UnknownUID = -10000

	// uidsPerScope is the block of uids reserved per user scope.
	uidsPerScope = 100000

	// PrimaryScope is the system user's scope. Backups only carry records
	// owned by it.
	PrimaryScope = 0
)

// UserScopeOf returns the user scope a uid belongs to.
func UserScopeOf(uid int) int { return uid / uidsPerScope }

// UIDFor composes a uid from a user scope and a per-scope index.
func UIDFor(scope, index int) int { return scope*uidsPerScope + index }

// MaxLegacyGeneration is the newest target generation that may keep an
// unclamped default channel. Packages built against anything newer are
// expected to declare channels; their default channel is forced to low
// importance unless the user locked it.
const MaxLegacyGeneration = 1

// Errors returned by Store operations.
var (
	ErrInvalidArgument   = errors.New("policy: invalid argument")
	ErrInvalidPackage    = errors.New("policy: no record for package")
	ErrPackageBlocked    = errors.New("policy: package is blocked")
	ErrChannelExists     = errors.New("policy: channel id already in use")
	ErrChannelNotFound   = errors.New("policy: channel not found")
	ErrInvalidImportance = errors.New("policy: importance out of range")
	ErrParse             = errors.New("policy: malformed policy file")
)
