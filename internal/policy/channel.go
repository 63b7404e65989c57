package policy

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultChannelID is the reserved identifier of the channel synthesized
	// for every package record. It can never be deleted.
	DefaultChannelID = "default"

	// DefaultChannelName is the display name of the default channel. Creating
	// another channel with this name is rejected as a duplicate.
	DefaultChannelName = "General"
)

// Channel holds the user-adjustable delivery settings for one named
// notification category of a package. The zero value is not useful; use
// NewChannel.
type Channel struct {
	ID               string
	Name             string
	Importance       Importance
	Allowed          bool
	BypassDND        bool
	Visibility       Visibility
	Sound            string
	Lights           bool
	VibrationEnabled bool
	VibrationPattern []int64
	ShowBadge        bool
	Locked           LockMask
}

// NewChannel returns a channel with the given identity and importance.
// Channels start allowed, badged, and deferring to the global lockscreen
// setting.
func NewChannel(id, name string, importance Importance) *Channel {
	return &Channel{
		ID:         id,
		Name:       name,
		Importance: importance,
		Allowed:    true,
		ShowBadge:  true,
		Visibility: VisibilityNoOverride,
	}
}

// Lock marks the given fields as user-set. Locked fields survive assistant
// updates.
func (c *Channel) Lock(fields LockMask) { c.Locked |= fields }

// IsLocked reports whether any of the given fields is user-set.
func (c *Channel) IsLocked(fields LockMask) bool { return c.Locked&fields != 0 }

// SetVibrationPattern installs a copy of the pattern and flips the vibration
// enable to match. Callers keep ownership of the slice.
func (c *Channel) SetVibrationPattern(pattern []int64) {
	if len(pattern) == 0 {
		c.VibrationPattern = nil
		c.VibrationEnabled = false
		return
	}
	c.VibrationPattern = append([]int64(nil), pattern...)
	c.VibrationEnabled = true
}

// Clone returns a deep copy.
func (c *Channel) Clone() *Channel {
	dup := *c
	if c.VibrationPattern != nil {
		dup.VibrationPattern = append([]int64(nil), c.VibrationPattern...)
	}
	return &dup
}

func (c *Channel) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "channel %s name=%q importance=%s", c.ID, c.Name, c.Importance)
	if !c.Allowed {
		b.WriteString(" allowed=false")
	}
	if c.BypassDND {
		b.WriteString(" bypass_dnd=true")
	}
	if c.Visibility != VisibilityNoOverride {
		fmt.Fprintf(&b, " visibility=%s", c.Visibility)
	}
	if c.Sound != "" {
		fmt.Fprintf(&b, " sound=%q", c.Sound)
	}
	if c.Lights {
		b.WriteString(" lights=true")
	}
	if c.VibrationEnabled {
		fmt.Fprintf(&b, " vibration=%s", formatVibration(c.VibrationPattern))
	}
	if !c.ShowBadge {
		b.WriteString(" show_badge=false")
	}
	if c.Locked != 0 {
		fmt.Fprintf(&b, " locked=0x%02x", uint32(c.Locked))
	}
	return b.String()
}

// xmlAttrs serializes the channel for a <channel> element, omitting
// attributes that hold their default value.
func (c *Channel) xmlAttrs() []xml.Attr {
	attrs := []xml.Attr{
		mkAttr(attrID, c.ID),
		mkAttr(attrName, c.Name),
	}
	if c.Importance != ImportanceUnspecified {
		attrs = append(attrs, mkAttr(attrImportance, strconv.Itoa(int(c.Importance))))
	}
	if !c.Allowed {
		attrs = append(attrs, mkAttr(attrAllowed, "false"))
	}
	if c.BypassDND {
		attrs = append(attrs, mkAttr(attrBypassDND, "true"))
	}
	if c.Visibility != VisibilityNoOverride {
		attrs = append(attrs, mkAttr(attrVisibility, strconv.Itoa(int(c.Visibility))))
	}
	if c.Sound != "" {
		attrs = append(attrs, mkAttr(attrSound, c.Sound))
	}
	if c.Lights {
		attrs = append(attrs, mkAttr(attrLights, "true"))
	}
	if c.VibrationEnabled {
		attrs = append(attrs, mkAttr(attrVibrationEnabled, "true"))
	}
	if len(c.VibrationPattern) > 0 {
		attrs = append(attrs, mkAttr(attrVibration, formatVibration(c.VibrationPattern)))
	}
	if !c.ShowBadge {
		attrs = append(attrs, mkAttr(attrShowBadge, "false"))
	}
	if c.Locked != 0 {
		attrs = append(attrs, mkAttr(attrLocked, strconv.Itoa(int(c.Locked))))
	}
	return attrs
}

// channelFromElement rebuilds a channel from a <channel> element. Returns nil
// when the id attribute is missing; unparsable attributes fall back to their
// defaults.
func channelFromElement(se xml.StartElement) *Channel {
	id := strAttr(se, attrID)
	if id == "" {
		return nil
	}
	c := NewChannel(id, strAttr(se, attrName), Importance(intAttr(se, attrImportance, int(ImportanceUnspecified))))
	c.Allowed = boolAttr(se, attrAllowed, true)
	c.BypassDND = boolAttr(se, attrBypassDND, false)
	c.Visibility = Visibility(intAttr(se, attrVisibility, int(VisibilityNoOverride)))
	c.Sound = strAttr(se, attrSound)
	c.Lights = boolAttr(se, attrLights, false)
	c.VibrationEnabled = boolAttr(se, attrVibrationEnabled, false)
	c.VibrationPattern = parseVibration(strAttr(se, attrVibration))
	c.ShowBadge = boolAttr(se, attrShowBadge, true)
	c.Locked = LockMask(intAttr(se, attrLocked, 0))
	return c
}

func formatVibration(pattern []int64) string {
	parts := make([]string, len(pattern))
	for i, ms := range pattern {
		parts[i] = strconv.FormatInt(ms, 10)
	}
	return strings.Join(parts, ",")
}

func parseVibration(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	pattern := make([]int64, 0, len(parts))
	for _, p := range parts {
		ms, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil
		}
		pattern = append(pattern, ms)
	}
	return pattern
}
