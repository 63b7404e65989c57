package policy

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// DumpFilter narrows diagnostic output to one package. A nil filter matches
// everything.
type DumpFilter struct {
	Package string
}

// Matches reports whether pkg passes the filter.
func (f *DumpFilter) Matches(pkg string) bool {
	return f == nil || f.Package == "" || f.Package == pkg
}

// Dump writes a human-readable report of every configured record, main
// index first, then records still awaiting identity resolution. Only
// non-default attributes are shown.
func (s *Store) Dump(w io.Writer, prefix string, filter *DumpFilter) {
	fmt.Fprintf(w, "%sRecords:\n", prefix)
	dumpRecords(w, prefix, filter, s.sortedRecords())
	fmt.Fprintf(w, "%sRestored without uid:\n", prefix)
	dumpRecords(w, prefix, filter, s.sortedStaged())
}

func dumpRecords(w io.Writer, prefix string, filter *DumpFilter, records []*Record) {
	for _, r := range records {
		if !filter.Matches(r.Pkg) {
			continue
		}
		uid := "UNKNOWN_UID"
		if r.UID != UnknownUID {
			uid = strconv.Itoa(r.UID)
		}
		fmt.Fprintf(w, "%s  %s (%s)", prefix, r.Pkg, uid)
		if r.Importance != ImportanceUnspecified {
			fmt.Fprintf(w, " importance=%s", r.Importance)
		}
		if r.Priority != PriorityDefault {
			fmt.Fprintf(w, " priority=%s", r.Priority)
		}
		if r.Visibility != VisibilityNoOverride {
			fmt.Fprintf(w, " visibility=%s", r.Visibility)
		}
		fmt.Fprintln(w)
		for _, ch := range r.sortedChannels() {
			fmt.Fprintf(w, "%s    %s\n", prefix, ch)
		}
	}
}

type dumpReport struct {
	NoUID   int          `json:"no_uid"`
	Records []recordJSON `json:"records"`
}

type recordJSON struct {
	UserScope  int           `json:"user_scope"`
	Package    string        `json:"package"`
	Importance string        `json:"importance,omitempty"`
	Priority   string        `json:"priority,omitempty"`
	Visibility string        `json:"visibility,omitempty"`
	Channels   []channelJSON `json:"channels,omitempty"`
}

type channelJSON struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Importance string `json:"importance"`
	Allowed    bool   `json:"allowed"`
	BypassDND  bool   `json:"bypass_dnd,omitempty"`
	Visibility string `json:"visibility,omitempty"`
	Sound      string `json:"sound,omitempty"`
	Lights     bool   `json:"lights,omitempty"`
	Vibration  string `json:"vibration,omitempty"`
	ShowBadge  bool   `json:"show_badge"`
	Locked     uint32 `json:"locked,omitempty"`
}

type banJSON struct {
	UserScope int    `json:"user_scope"`
	Package   string `json:"package"`
}

// DumpJSON returns the machine-readable form of Dump.
func (s *Store) DumpJSON(filter *DumpFilter) ([]byte, error) {
	report := dumpReport{
		NoUID:   len(s.staged),
		Records: []recordJSON{},
	}
	for _, r := range s.sortedRecords() {
		if !filter.Matches(r.Pkg) {
			continue
		}
		rec := recordJSON{
			UserScope: UserScopeOf(r.UID),
			Package:   r.Pkg,
		}
		if r.Importance != ImportanceUnspecified {
			rec.Importance = r.Importance.String()
		}
		if r.Priority != PriorityDefault {
			rec.Priority = r.Priority.String()
		}
		if r.Visibility != VisibilityNoOverride {
			rec.Visibility = r.Visibility.String()
		}
		for _, ch := range r.sortedChannels() {
			cj := channelJSON{
				ID:         ch.ID,
				Name:       ch.Name,
				Importance: ch.Importance.String(),
				Allowed:    ch.Allowed,
				BypassDND:  ch.BypassDND,
				Sound:      ch.Sound,
				Lights:     ch.Lights,
				ShowBadge:  ch.ShowBadge,
				Locked:     uint32(ch.Locked),
			}
			if ch.Visibility != VisibilityNoOverride {
				cj.Visibility = ch.Visibility.String()
			}
			if ch.VibrationEnabled {
				cj.Vibration = formatVibration(ch.VibrationPattern)
			}
			rec.Channels = append(rec.Channels, cj)
		}
		report.Records = append(report.Records, rec)
	}
	return json.MarshalIndent(report, "", "  ")
}

// DumpBansJSON reports every fully blocked package as structured JSON.
func (s *Store) DumpBansJSON(filter *DumpFilter) ([]byte, error) {
	bans := []banJSON{}
	for uid, pkg := range s.PackageBans() {
		if !filter.Matches(pkg) {
			continue
		}
		bans = append(bans, banJSON{UserScope: UserScopeOf(uid), Package: pkg})
	}
	sort.Slice(bans, func(i, j int) bool {
		if bans[i].Package != bans[j].Package {
			return bans[i].Package < bans[j].Package
		}
		return bans[i].UserScope < bans[j].UserScope
	})
	return json.MarshalIndent(bans, "", "  ")
}
