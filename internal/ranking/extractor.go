package ranking

import (
	"log/slog"
	"time"

	"notifyd/internal/policy"
)

// Extractor kinds accepted in configuration.
const (
	KindPolicy        = "policy"
	KindRelevance     = "relevance"
	KindIntrusiveness = "intrusiveness"
)

// DefaultExtractors is the standard pipeline, in processing order.
func DefaultExtractors() []string {
	return []string{KindPolicy, KindRelevance, KindIntrusiveness}
}

// Config is the slice of the policy store extractors read. Implemented by
// *policy.Store.
type Config interface {
	GetOrCreate(pkg string, uid int) *policy.Record
	ChannelWithFallback(pkg string, uid int, channelID string) *policy.Channel
}

// Scheduler receives re-sort requests and deferred reconsiderations.
type Scheduler interface {
	RequestSort(force bool)
	RequestReconsideration(rec *Reconsideration)
}

// UsageSource reports how much the user engages with a package's
// notifications, in [0, 1].
type UsageSource interface {
	Affinity(pkg string) float64
}

// Extractor computes one ranking signal for a record. Implementations must
// not retain records between calls; a panic is isolated by the pipeline.
type Extractor interface {
	// Kind names the extractor for configuration and diagnostics.
	Kind() string

	// Process annotates r and may return a deferred reconsideration.
	Process(r *Record) *Reconsideration

	// SetConfig installs a fresh policy snapshot. Called once at
	// construction and again on every policy mutation.
	SetConfig(cfg Config)
}

// Reconsideration asks for a signal to be re-evaluated after Delay. Apply
// runs on the scheduling collaborator under the host's notification lock
// and reports whether ranking inputs changed.
type Reconsideration struct {
	Key   string
	Delay time.Duration
	Apply func() bool
}

// Deps carries the collaborators extractors may need. Zero values disable
// the corresponding signal.
type Deps struct {
	Usage    UsageSource
	HangTime time.Duration
	Logger   *slog.Logger
}

var extractorKinds = map[string]func(Deps) Extractor{
	KindPolicy:        newPolicyExtractor,
	KindRelevance:     newRelevanceExtractor,
	KindIntrusiveness: newIntrusivenessExtractor,
}
