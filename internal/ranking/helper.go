package ranking

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Helper owns the extractor pipeline and the two-pass sort. It implements
// policy.ConfigListener so every policy mutation refreshes extractor config
// and requests a re-sort.
type Helper struct {
	cfg       Config
	scheduler Scheduler
	log       *slog.Logger

	extractors []Extractor

	// proxyByGroup is scratch shared by both sort passes; mu spans the
	// nomination walk and the key construction that reads it.
	mu           sync.Mutex
	proxyByGroup map[string]*Record
}

// NewHelper builds the pipeline from the configured kind list. Unknown
// kinds are logged and skipped, never fatal: a misconfigured extractor must
// not take the daemon down.
func NewHelper(cfg Config, scheduler Scheduler, kinds []string, deps Deps, logger *slog.Logger) *Helper {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Helper{
		cfg:          cfg,
		scheduler:    scheduler,
		log:          logger.With("component", "ranking"),
		proxyByGroup: make(map[string]*Record),
	}
	if deps.Logger == nil {
		deps.Logger = h.log
	}
	for _, kind := range kinds {
		ctor, ok := extractorKinds[kind]
		if !ok {
			h.log.Warn("unknown extractor kind", "kind", kind)
			continue
		}
		ex := ctor(deps)
		ex.SetConfig(cfg)
		h.extractors = append(h.extractors, ex)
	}
	return h
}

// ExtractSignals runs every extractor over r. A failing extractor is
// logged and skipped; reconsiderations are handed to the scheduler.
func (h *Helper) ExtractSignals(r *Record) {
	for _, ex := range h.extractors {
		recon := h.processOne(ex, r)
		if recon != nil && h.scheduler != nil {
			h.scheduler.RequestReconsideration(recon)
		}
	}
}

func (h *Helper) processOne(ex Extractor, r *Record) (recon *Reconsideration) {
	defer func() {
		if p := recover(); p != nil {
			h.log.Warn("extractor failed", "kind", ex.Kind(), "panic", p)
			recon = nil
		}
	}()
	return ex.Process(r)
}

// FindExtractor returns the first configured extractor of the given kind,
// or nil.
func (h *Helper) FindExtractor(kind string) Extractor {
	for _, ex := range h.extractors {
		if ex.Kind() == kind {
			return ex
		}
	}
	return nil
}

// Extractors lists the configured kinds in processing order.
func (h *Helper) Extractors() []string {
	kinds := make([]string, len(h.extractors))
	for i, ex := range h.extractors {
		kinds[i] = ex.Kind()
	}
	return kinds
}

// Reconfigure pushes the current policy snapshot into every extractor and
// requests a full re-sort.
func (h *Helper) Reconfigure() {
	for _, ex := range h.extractors {
		ex.SetConfig(h.cfg)
	}
	if h.scheduler != nil {
		h.scheduler.RequestSort(false)
	}
}

// Sort orders list most important first while keeping group members
// adjacent. Two passes: the preliminary comparator ranks notifications
// individually and nominates a proxy per group (the summary if present,
// otherwise the member the reverse walk meets first), then every
// notification gets a global sort key built around its proxy's rank and the
// list is re-sorted by plain string comparison on those keys.
func (h *Helper) Sort(list []*Record) {
	n := len(list)
	for i := n - 1; i >= 0; i-- {
		list[i].globalSortKey = ""
	}

	sort.Slice(list, func(i, j int) bool { return preliminaryLess(list[i], list[j]) })

	h.mu.Lock()
	for i := n - 1; i >= 0; i-- {
		r := list[i]
		r.authoritativeRank = i
		groupKey := r.GroupKey()
		if r.Summary || h.proxyByGroup[groupKey] == nil {
			h.proxyByGroup[groupKey] = r
		}
	}
	for i := 0; i < n; i++ {
		r := list[i]
		proxy := h.proxyByGroup[r.GroupKey()]

		// The developer group sort key must order as "" < non-empty <
		// absent; three disjoint prefixes make plain string comparison
		// reproduce that.
		var portion string
		switch {
		case r.SortKey == nil:
			portion = "nsk"
		case *r.SortKey == "":
			portion = "esk"
		default:
			portion = "gsk=" + *r.SortKey
		}

		intrusive := '1'
		if r.recentlyIntrusive {
			intrusive = '0'
		}
		summary := '1'
		if r.Summary {
			summary = '0'
		}
		r.globalSortKey = fmt.Sprintf("intrsv=%c:grnk=0x%04x:gsmry=%c:%s:rnk=0x%04x",
			intrusive, proxy.authoritativeRank, summary, portion, r.authoritativeRank)
	}
	for k := range h.proxyByGroup {
		delete(h.proxyByGroup, k)
	}
	h.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return finalLess(list[i], list[j]) })
}

// IndexOf locates target within a list already in final sort order by
// binary search. Returns -1 when no entry carries target's key. Undefined
// if the list is not final-sorted.
func (h *Helper) IndexOf(list []*Record, target *Record) int {
	i := sort.Search(len(list), func(i int) bool { return !finalLess(list[i], target) })
	if i < len(list) && list[i].globalSortKey == target.globalSortKey {
		return i
	}
	return -1
}

// Dump writes the pipeline configuration for diagnostics.
func (h *Helper) Dump(w io.Writer, prefix string) {
	fmt.Fprintf(w, "%sextractors (%d):\n", prefix, len(h.extractors))
	for _, ex := range h.extractors {
		fmt.Fprintf(w, "%s  %s\n", prefix, ex.Kind())
	}
}
