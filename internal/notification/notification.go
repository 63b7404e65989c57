// Package notification defines the pending-notification model shared by the
// daemon and the ranking engine.
package notification

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"notifyd/internal/policy"
)

// Notification is one posted notification as received from an application.
// Identity fields are fixed at post time; everything the ranking pipeline
// derives lives on the wrapping ranking record instead.
type Notification struct {
	ID        string
	Pkg       string
	UID       int
	ChannelID string
	Title     string
	Body      string

	// Group is the developer-supplied group name. Empty means ungrouped:
	// the notification forms a singleton group of its own.
	Group string

	// SortKey orders members within a group. All three states are
	// meaningful: absent (nil), empty, and non-empty sort differently.
	SortKey *string

	// Summary marks the notification that represents its group.
	Summary bool

	PostedAt time.Time
}

// New returns a notification with a fresh unique id, posted now.
func New(pkg string, uid int, channelID string) *Notification {
	return &Notification{
		ID:        uuid.NewString(),
		Pkg:       pkg,
		UID:       uid,
		ChannelID: channelID,
		PostedAt:  time.Now(),
	}
}

// Key identifies this notification instance.
func (n *Notification) Key() string {
	return fmt.Sprintf("%d|%s|%s", policy.UserScopeOf(n.UID), n.Pkg, n.ID)
}

// GroupKey returns the key the ranking engine groups by. Grouped
// notifications share their group's key; ungrouped ones form singleton
// groups keyed by their own identity, so every notification has one.
func (n *Notification) GroupKey() string {
	if n.Group == "" {
		return n.Key()
	}
	return fmt.Sprintf("%d|%s|g:%s", policy.UserScopeOf(n.UID), n.Pkg, n.Group)
}

// SetSortKey sets the developer sort key. Use to distinguish an explicit
// empty key from an absent one.
func (n *Notification) SetSortKey(key string) {
	n.SortKey = &key
}
