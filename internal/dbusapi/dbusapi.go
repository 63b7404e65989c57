// Package dbusapi exposes the daemon's control surface on the session
// or system bus and provides the matching client used by notifyctl.
//
// Scalar arguments cross the bus natively; structured results cross as
// JSON strings. D-Bus container types would freeze the wire format at
// the field level, while the JSON payloads can grow without breaking
// older clients.
package dbusapi

import (
	"errors"
	"time"

	"github.com/godbus/dbus/v5"

	"notifyd/internal/daemon"
	"notifyd/internal/policy"
	"notifyd/internal/ranking"
	"notifyd/internal/registry"
)

const (
	// InterfaceName is the D-Bus interface carrying the daemon methods.
	InterfaceName = "dev.notifyd.Daemon1"

	// ObjectPath is where the daemon object is exported.
	ObjectPath dbus.ObjectPath = "/dev/notifyd/Daemon"

	// DefaultBusName is the well-known name requested when the
	// configuration does not override it.
	DefaultBusName = "dev.notifyd.Daemon1"
)

const errorPrefix = "dev.notifyd.Error."

// sentinelNames maps daemon errors to stable D-Bus error names so remote
// callers can react to specific failures without parsing messages.
var sentinelNames = []struct {
	err  error
	name string
}{
	{policy.ErrInvalidArgument, errorPrefix + "InvalidArgument"},
	{policy.ErrInvalidPackage, errorPrefix + "InvalidPackage"},
	{policy.ErrPackageBlocked, errorPrefix + "PackageBlocked"},
	{policy.ErrChannelExists, errorPrefix + "ChannelExists"},
	{policy.ErrChannelNotFound, errorPrefix + "ChannelNotFound"},
	{policy.ErrInvalidImportance, errorPrefix + "InvalidImportance"},
	{policy.ErrParse, errorPrefix + "ParseFailed"},
	{registry.ErrUnknownPackage, errorPrefix + "UnknownPackage"},
	{daemon.ErrNoSuchNotification, errorPrefix + "NoSuchNotification"},
}

// busError translates a daemon error into a named bus error, falling
// back to the generic Failed name.
func busError(err error) *dbus.Error {
	for _, s := range sentinelNames {
		if errors.Is(err, s.err) {
			return dbus.NewError(s.name, []interface{}{err.Error()})
		}
	}
	return dbus.NewError(errorPrefix+"Failed", []interface{}{err.Error()})
}

// fromBusError recovers the sentinel behind a named bus error, so client
// callers can use errors.Is the same way in-process callers do.
func fromBusError(derr dbus.Error) error {
	for _, s := range sentinelNames {
		if derr.Name == s.name {
			return s.err
		}
	}
	if len(derr.Body) > 0 {
		if msg, ok := derr.Body[0].(string); ok && msg != "" {
			return errors.New(msg)
		}
	}
	return errors.New(derr.Name)
}

// RankedEntry is the wire form of one ranked notification, most
// important first in ListRanked replies.
type RankedEntry struct {
	ID         string    `json:"id"`
	Package    string    `json:"package"`
	UID        int       `json:"uid"`
	ChannelID  string    `json:"channel_id,omitempty"`
	Title      string    `json:"title,omitempty"`
	Body       string    `json:"body,omitempty"`
	Group      string    `json:"group,omitempty"`
	SortKey    *string   `json:"sort_key,omitempty"`
	Summary    bool      `json:"summary,omitempty"`
	Importance int       `json:"importance"`
	PostedAt   time.Time `json:"posted_at"`
	GlobalKey  string    `json:"global_key,omitempty"`
}

func rankedEntry(r *ranking.Record) RankedEntry {
	e := RankedEntry{
		ID:         r.ID,
		Package:    r.Pkg,
		UID:        r.UID,
		ChannelID:  r.ChannelID,
		Title:      r.Title,
		Body:       r.Body,
		Group:      r.Group,
		Summary:    r.Summary,
		Importance: int(r.Importance),
		PostedAt:   r.PostedAt,
		GlobalKey:  r.GlobalSortKey(),
	}
	if r.SortKey != nil {
		key := *r.SortKey
		e.SortKey = &key
	}
	return e
}

// ChannelPayload is the wire form of a channel for create, update, and
// get calls. It is a verbatim codec: zero values are meaningful, so
// build payloads from a policy.NewChannel rather than from scratch.
type ChannelPayload struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Importance       int     `json:"importance"`
	Allowed          bool    `json:"allowed"`
	BypassDND        bool    `json:"bypass_dnd,omitempty"`
	Visibility       int     `json:"visibility"`
	Sound            string  `json:"sound,omitempty"`
	Lights           bool    `json:"lights,omitempty"`
	VibrationEnabled bool    `json:"vibration_enabled,omitempty"`
	VibrationPattern []int64 `json:"vibration_pattern,omitempty"`
	ShowBadge        bool    `json:"show_badge"`
	Locked           uint32  `json:"locked,omitempty"`
}

// ChannelToPayload converts a channel for transmission.
func ChannelToPayload(ch *policy.Channel) ChannelPayload {
	return ChannelPayload{
		ID:               ch.ID,
		Name:             ch.Name,
		Importance:       int(ch.Importance),
		Allowed:          ch.Allowed,
		BypassDND:        ch.BypassDND,
		Visibility:       int(ch.Visibility),
		Sound:            ch.Sound,
		Lights:           ch.Lights,
		VibrationEnabled: ch.VibrationEnabled,
		VibrationPattern: append([]int64(nil), ch.VibrationPattern...),
		ShowBadge:        ch.ShowBadge,
		Locked:           uint32(ch.Locked),
	}
}

// Channel converts the payload back into a channel.
func (p ChannelPayload) Channel() *policy.Channel {
	return &policy.Channel{
		ID:               p.ID,
		Name:             p.Name,
		Importance:       policy.Importance(p.Importance),
		Allowed:          p.Allowed,
		BypassDND:        p.BypassDND,
		Visibility:       policy.Visibility(p.Visibility),
		Sound:            p.Sound,
		Lights:           p.Lights,
		VibrationEnabled: p.VibrationEnabled,
		VibrationPattern: append([]int64(nil), p.VibrationPattern...),
		ShowBadge:        p.ShowBadge,
		Locked:           policy.LockMask(p.Locked),
	}
}

// AppEntry is the wire form of one registered application.
type AppEntry struct {
	Package      string    `json:"package"`
	UserScope    int       `json:"user_scope"`
	UID          int       `json:"uid"`
	TargetGen    int       `json:"target_gen"`
	RegisteredAt time.Time `json:"registered_at"`
}

// UsageEntry is the wire form of one package's interaction aggregates.
type UsageEntry struct {
	Package    string    `json:"package"`
	Posted     int64     `json:"posted"`
	Clicked    int64     `json:"clicked"`
	Dismissed  int64     `json:"dismissed"`
	LastPosted time.Time `json:"last_posted"`
}
