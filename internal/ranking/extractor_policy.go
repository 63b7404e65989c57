package ranking

import (
	"log/slog"

	"notifyd/internal/policy"
)

// policyExtractor resolves each notification's channel and effective
// importance. Channel importance wins over the package default; a blocked
// package or disallowed channel forces the importance to none.
type policyExtractor struct {
	cfg Config
	log *slog.Logger
}

func newPolicyExtractor(deps Deps) Extractor {
	return &policyExtractor{log: deps.Logger}
}

func (e *policyExtractor) Kind() string        { return KindPolicy }
func (e *policyExtractor) SetConfig(cfg Config) { e.cfg = cfg }

func (e *policyExtractor) Process(r *Record) *Reconsideration {
	if e.cfg == nil {
		e.log.Debug("no policy config, skipping", "key", r.Key())
		return nil
	}
	rec := e.cfg.GetOrCreate(r.Pkg, r.UID)
	ch := e.cfg.ChannelWithFallback(r.Pkg, r.UID, r.ChannelID)
	r.Channel = ch
	r.Priority = rec.Priority

	imp := ch.Importance
	if imp == policy.ImportanceUnspecified {
		imp = rec.Importance
	}
	if imp == policy.ImportanceUnspecified {
		imp = policy.ImportanceDefault
	}
	if !ch.Allowed || rec.Importance == policy.ImportanceNone {
		imp = policy.ImportanceNone
	}
	r.Importance = imp
	return nil
}
