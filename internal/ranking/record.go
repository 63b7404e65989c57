// Package ranking turns per-notification policy signals into a total
// presentation order. A pipeline of extractors annotates each pending
// notification; the two-pass sort then produces an order that keeps group
// members adjacent while ranking groups by their best member.
package ranking

import (
	"notifyd/internal/notification"
	"notifyd/internal/policy"
)

// Record wraps a pending notification with the mutable state the extractor
// pipeline and the sort maintain for it.
type Record struct {
	*notification.Notification

	// Channel and the fields below are filled in by the policy extractor.
	Channel    *policy.Channel
	Importance policy.Importance
	Priority   policy.Priority

	// Relevance is the usage affinity in [0, 1], set by the relevance
	// extractor.
	Relevance float64

	recentlyIntrusive bool
	authoritativeRank int
	globalSortKey     string
}

// NewRecord wraps n for ranking. Importance starts unspecified until the
// pipeline runs.
func NewRecord(n *notification.Notification) *Record {
	return &Record{
		Notification:      n,
		Importance:        policy.ImportanceUnspecified,
		authoritativeRank: -1,
	}
}

// RecentlyIntrusive reports whether the notification interrupted the user
// within the hang window.
func (r *Record) RecentlyIntrusive() bool { return r.recentlyIntrusive }

// SetRecentlyIntrusive flags or clears the intrusiveness signal.
func (r *Record) SetRecentlyIntrusive(v bool) { r.recentlyIntrusive = v }

// AuthoritativeRank is the position assigned by the preliminary sort pass,
// 0 = most important. -1 until the first sort.
func (r *Record) AuthoritativeRank() int { return r.authoritativeRank }

// GlobalSortKey is the composite key whose lexicographic order is the final
// presentation order. Empty until Sort runs; treated as opaque by callers.
func (r *Record) GlobalSortKey() string { return r.globalSortKey }

func (r *Record) bypassDND() bool {
	return r.Channel != nil && r.Channel.BypassDND
}
