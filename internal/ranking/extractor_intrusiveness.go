package ranking

import (
	"time"

	"notifyd/internal/policy"
)

// DefaultHangTime is how long a notification keeps floating after it
// interrupted the user.
const DefaultHangTime = 10 * time.Second

// intrusivenessExtractor flags notifications that just made noise so they
// sort ahead of quieter peers, and schedules the flag to decay. The decay
// reconsideration is returned unconditionally: the flag must be cleared and
// a follow-up sort requested even if a later policy change already silenced
// the channel.
type intrusivenessExtractor struct {
	hang time.Duration
}

func newIntrusivenessExtractor(deps Deps) Extractor {
	hang := deps.HangTime
	if hang <= 0 {
		hang = DefaultHangTime
	}
	return &intrusivenessExtractor{hang: hang}
}

func (e *intrusivenessExtractor) Kind() string      { return KindIntrusiveness }
func (e *intrusivenessExtractor) SetConfig(Config) {}

func (e *intrusivenessExtractor) Process(r *Record) *Reconsideration {
	if r.Importance >= policy.ImportanceDefault && r.Channel != nil {
		if r.Channel.Sound != "" || r.Channel.VibrationEnabled {
			r.SetRecentlyIntrusive(true)
		}
	}
	return &Reconsideration{
		Key:   r.Key(),
		Delay: e.hang,
		Apply: func() bool {
			if !r.RecentlyIntrusive() {
				return false
			}
			r.SetRecentlyIntrusive(false)
			return true
		},
	}
}
