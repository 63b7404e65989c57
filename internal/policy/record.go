package policy

import (
	"sort"
	"strconv"
)

// Record carries the top-level policy defaults and the channel set for one
// (package, uid) pair. Records are created lazily on first access and live
// until a full policy reload replaces the store contents.
type Record struct {
	Pkg        string
	UID        int
	Importance Importance
	Priority   Priority
	Visibility Visibility
	Channels   map[string]*Channel
}

func newRecord(pkg string, uid int, importance Importance, priority Priority, visibility Visibility) *Record {
	return &Record{
		Pkg:        pkg,
		UID:        uid,
		Importance: importance,
		Priority:   priority,
		Visibility: visibility,
		Channels:   make(map[string]*Channel),
	}
}

func recordKey(pkg string, uid int) string {
	return pkg + "|" + strconv.Itoa(uid)
}

// hasNonDefaultSettings reports whether the record is worth persisting. A
// freshly created record always qualifies through its default channel.
func (r *Record) hasNonDefaultSettings() bool {
	return r.Importance != ImportanceUnspecified ||
		r.Priority != PriorityDefault ||
		r.Visibility != VisibilityNoOverride ||
		len(r.Channels) > 0
}

// sortedChannels returns the record's channels ordered by id.
func (r *Record) sortedChannels() []*Channel {
	chs := make([]*Channel, 0, len(r.Channels))
	for _, c := range r.Channels {
		chs = append(chs, c)
	}
	sort.Slice(chs, func(i, j int) bool { return chs[i].ID < chs[j].ID })
	return chs
}
