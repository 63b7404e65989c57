// Package daemon wires the policy store, the ranking pipeline, and the
// host services into one running notifyd instance.
//
// The daemon owns the serialization the policy store requires: every
// store access, every active-set mutation, and every sort runs under a
// single mutex. Collaborator goroutines (the scheduler worker, the file
// watcher, reconsideration timers) re-enter through methods that take
// that mutex themselves, so none of the components need locks of their
// own.
package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/logging"
	"notifyd/internal/metrics"
	"notifyd/internal/notification"
	"notifyd/internal/policy"
	"notifyd/internal/ranking"
	"notifyd/internal/registry"
	"notifyd/internal/scheduler"
	"notifyd/internal/secure"
	"notifyd/internal/usage"
	"notifyd/internal/watcher"
)

var (
	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("daemon: already running")

	// ErrStopped is returned when a stopped daemon is started again.
	ErrStopped = errors.New("daemon: stopped")

	// ErrNoSuchNotification is returned for ids not in the active set.
	ErrNoSuchNotification = errors.New("daemon: no such notification")
)

// Daemon is the notifyd host process state.
type Daemon struct {
	mu sync.Mutex

	cfg *config.Config
	log *slog.Logger

	store    *policy.Store
	helper   *ranking.Helper
	sched    *scheduler.Handler
	registry *registry.Registry
	tracker  *usage.Tracker
	audit    *logging.AuditLogger
	metrics  *metrics.DaemonMetrics
	watch    *watcher.Watcher

	// masterKey derives the policy HMAC when secure mode is on.
	masterKey []byte

	// active holds every posted, not yet dismissed notification by id.
	// ranked is the last published order, most important first.
	active map[string]*ranking.Record
	ranked []*ranking.Record

	saveTimer *time.Timer

	running   bool
	closed    bool
	startedAt time.Time
	version   string

	wg sync.WaitGroup
}

// New builds a daemon from cfg, opening the registry and usage databases
// and, in secure mode, loading or creating the policy HMAC key. Nothing
// is loaded from the policy snapshot until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:     cfg,
		log:     logger.With("component", "daemon"),
		active:  make(map[string]*ranking.Record),
		version: "dev",
	}

	reg, err := registry.Open(cfg.Registry.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	d.registry = reg

	cleanup := func() {
		if d.audit != nil {
			d.audit.Close()
		}
		if d.tracker != nil {
			d.tracker.Close()
		}
		d.registry.Close()
	}

	if cfg.Usage.Enabled {
		tracker, err := usage.Open(cfg.Usage.Path, logger)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("open usage tracker: %w", err)
		}
		d.tracker = tracker
	}

	if cfg.Audit.Enabled {
		auditLog, err := logging.NewAuditLogger(&logging.AuditLoggerConfig{
			FilePath:   cfg.Audit.FilePath,
			MaxSize:    int64(cfg.Audit.MaxSizeMB),
			MaxAge:     cfg.Audit.MaxAgeDays,
			MaxBackups: cfg.Audit.MaxBackups,
			Compress:   true,
			Component:  "notifyd",
		})
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		d.audit = auditLog
	}

	if cfg.Policy.Secure {
		key, err := secure.LoadOrCreateKey(cfg.Policy.KeyPath)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("load policy key: %w", err)
		}
		d.masterKey = key
	}

	d.metrics = metrics.NewDaemonMetrics(metrics.NewRegistry("notifyd", ""))

	d.store = policy.NewStore(reg, logger)
	d.sched = scheduler.New(scheduler.Callbacks{
		Sort:  d.sortNow,
		Apply: d.applyReconsideration,
	}, logger)
	d.helper = ranking.NewHelper(d.store, d.sched, cfg.Ranking.Extractors, ranking.Deps{
		Usage:    d.tracker,
		HangTime: time.Duration(cfg.Ranking.HangTimeSec) * time.Second,
	}, logger)
	d.store.SetListener(d.helper)

	if cfg.Policy.WatchExternal {
		debounce := time.Duration(cfg.Policy.WatchDebounceMs) * time.Millisecond
		w, err := watcher.New(cfg.Policy.Path, debounce)
		if err != nil {
			d.sched.Stop()
			cleanup()
			return nil, fmt.Errorf("create policy watcher: %w", err)
		}
		d.watch = w
	}

	return d, nil
}

// SetVersion sets the version string reported by Status and the audit
// trail. Call before Start.
func (d *Daemon) SetVersion(v string) {
	d.mu.Lock()
	d.version = v
	d.mu.Unlock()
}

// Start loads the persisted policy and begins watching for external
// edits. An unreadable snapshot is logged and the daemon starts with an
// empty store rather than staying down.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrStopped
	}
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.startedAt = time.Now()
	d.mu.Unlock()

	if err := d.LoadPolicy(); err != nil {
		d.log.Error("load policy", "error", err)
		d.audit.LogError("load_policy", err)
	}

	if d.watch != nil {
		if err := d.watch.Start(); err != nil {
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
			return fmt.Errorf("start policy watcher: %w", err)
		}
		d.wg.Add(1)
		go d.watchLoop()
	}

	d.audit.LogStartup(d.version)
	d.log.Info("daemon started",
		"scope", d.cfg.Daemon.UserScope,
		"policy", d.cfg.Policy.Path,
		"secure", d.cfg.Policy.Secure)
	return nil
}

// Stop flushes pending policy writes and shuts every component down.
// Stop is idempotent and also tears down a daemon that was never
// started, so construction failures upstream can always clean up.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	wasRunning := d.running
	d.running = false
	d.mu.Unlock()

	if d.watch != nil {
		d.watch.Stop()
	}
	d.wg.Wait()

	// The scheduler worker may be blocked on d.mu inside a sort; Stop
	// must therefore never run under the daemon lock.
	d.sched.Stop()

	if wasRunning {
		if err := d.SavePolicy(); err != nil {
			d.log.Error("final policy save", "error", err)
			d.audit.LogError("save_policy", err)
		}
		d.audit.LogShutdown("stop")
	}

	if d.tracker != nil {
		if err := d.tracker.Close(); err != nil {
			d.log.Warn("close usage tracker", "error", err)
		}
	}
	if err := d.registry.Close(); err != nil {
		d.log.Warn("close registry", "error", err)
	}
	if d.audit != nil {
		d.audit.Close()
	}

	d.log.Info("daemon stopped")
	return nil
}

// sortNow is the scheduler's sort callback: snapshot the active set, run
// the two-pass sort, publish the new order.
func (d *Daemon) sortNow(force bool) {
	start := time.Now()

	d.mu.Lock()
	list := make([]*ranking.Record, 0, len(d.active))
	for _, r := range d.active {
		list = append(list, r)
	}
	d.helper.Sort(list)
	d.ranked = list
	d.mu.Unlock()

	d.metrics.RecordSort(time.Since(start), len(list))
	d.log.Debug("sorted", "notifications", len(list), "forced", force)
}

// applyReconsideration runs a deferred ranking adjustment under the
// daemon lock so it cannot race posts or sorts.
func (d *Daemon) applyReconsideration(rec *ranking.Reconsideration) bool {
	d.mu.Lock()
	changed := rec.Apply()
	d.mu.Unlock()

	d.metrics.RecordReconsideration()
	return changed
}

// PostRequest describes one notification to post.
type PostRequest struct {
	Pkg       string
	ChannelID string
	Title     string
	Body      string

	// Group names the developer group; empty means ungrouped.
	Group string

	// SortKey orders members within a group. nil, empty, and non-empty
	// are three distinct states.
	SortKey *string

	// Summary marks the notification that represents its group.
	Summary bool
}

// Post validates, ranks, and inserts one notification. Packages posting
// for the first time are registered so their uid and policy record exist
// from the start. Returns the notification id used by Dismiss and Click.
func (d *Daemon) Post(req PostRequest) (string, error) {
	if req.Pkg == "" {
		return "", policy.ErrInvalidArgument
	}

	scope := d.cfg.Daemon.UserScope
	uid, err := d.registry.ResolveUID(req.Pkg, scope)
	if errors.Is(err, registry.ErrUnknownPackage) {
		// Nothing is known about a self-registering app, so it gets the
		// legacy generation and keeps an unclamped default channel.
		app, rerr := d.registry.Register(req.Pkg, scope, policy.MaxLegacyGeneration)
		if rerr != nil {
			return "", fmt.Errorf("register %s: %w", req.Pkg, rerr)
		}
		uid = app.UID
		err = nil
		d.audit.LogPackageRegistered(req.Pkg, scope, uid)
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", req.Pkg, err)
	}

	d.mu.Lock()
	if d.store.ReconcileUID(req.Pkg, uid) {
		d.scheduleSaveLocked()
	}
	if d.store.Importance(req.Pkg, uid) == policy.ImportanceNone {
		d.mu.Unlock()
		return "", policy.ErrPackageBlocked
	}

	n := notification.New(req.Pkg, uid, req.ChannelID)
	n.Title = req.Title
	n.Body = req.Body
	n.Group = req.Group
	n.SortKey = req.SortKey
	n.Summary = req.Summary

	rec := ranking.NewRecord(n)
	extractStart := time.Now()
	d.helper.ExtractSignals(rec)
	d.metrics.RecordExtractorRun(time.Since(extractStart))
	d.active[n.ID] = rec
	d.mu.Unlock()

	d.metrics.RecordPost()
	d.tracker.NotePosted(req.Pkg, n.PostedAt)
	d.sched.RequestSort(false)

	d.log.Debug("posted", "package", req.Pkg, "id", n.ID, "channel", n.ChannelID)
	return n.ID, nil
}

// Dismiss removes the notification and records the swipe, which lowers
// the package's relevance over time.
func (d *Daemon) Dismiss(id string) error {
	d.mu.Lock()
	rec, ok := d.active[id]
	if !ok {
		d.mu.Unlock()
		return ErrNoSuchNotification
	}
	delete(d.active, id)
	d.mu.Unlock()

	d.tracker.NoteDismissed(rec.Pkg)
	d.metrics.RecordDismissal()
	d.sched.RequestSort(false)
	return nil
}

// Click records the user opening the notification and removes it, the
// way host shells auto-cancel a clicked notification.
func (d *Daemon) Click(id string) error {
	d.mu.Lock()
	rec, ok := d.active[id]
	if !ok {
		d.mu.Unlock()
		return ErrNoSuchNotification
	}
	delete(d.active, id)
	d.mu.Unlock()

	d.tracker.NoteClicked(rec.Pkg)
	d.metrics.RecordClick()
	d.sched.RequestSort(false)
	return nil
}

// Ranked returns the last published order, most important first.
// Notifications dismissed since that sort are filtered out; ones posted
// since appear once the pending sort lands.
func (d *Daemon) Ranked() []*ranking.Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*ranking.Record, 0, len(d.ranked))
	for _, r := range d.ranked {
		if _, ok := d.active[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Status is a point-in-time snapshot for diagnostics.
type Status struct {
	Running    bool                   `json:"running"`
	Version    string                 `json:"version"`
	StartedAt  time.Time              `json:"started_at"`
	UptimeSec  int64                  `json:"uptime_sec"`
	UserScope  int                    `json:"user_scope"`
	Active     int                    `json:"active"`
	Records    int                    `json:"records"`
	Staged     int                    `json:"staged"`
	Bans       int                    `json:"bans"`
	Extractors []string               `json:"extractors"`
	PolicyPath string                 `json:"policy_path"`
	Secure     bool                   `json:"secure"`
	UsageOn    bool                   `json:"usage_enabled"`
	Metrics    map[string]interface{} `json:"metrics,omitempty"`
}

// Status reports the daemon's current state.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	st := Status{
		Running:    d.running,
		Version:    d.version,
		StartedAt:  d.startedAt,
		UserScope:  d.cfg.Daemon.UserScope,
		Active:     len(d.active),
		Records:    d.store.Len(),
		Staged:     d.store.StagedLen(),
		Bans:       len(d.store.PackageBans()),
		Extractors: d.helper.Extractors(),
		PolicyPath: d.cfg.Policy.Path,
		Secure:     d.cfg.Policy.Secure,
		UsageOn:    d.tracker != nil,
	}
	if d.running {
		st.UptimeSec = int64(time.Since(d.startedAt).Seconds())
	}
	d.mu.Unlock()

	st.Metrics = d.metrics.Snapshot()
	return st
}

// Metrics exposes the counters for the HTTP exporter.
func (d *Daemon) Metrics() *metrics.DaemonMetrics { return d.metrics }

// UsageStats lists the recorded per-package interaction aggregates, or
// nil when tracking is disabled.
func (d *Daemon) UsageStats() []usage.Stats { return d.tracker.All() }
