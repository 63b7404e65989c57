// Package scheduler serializes ranking work for the daemon. Re-sort
// requests coalesce while one is queued; deferred reconsiderations fire
// after their delay and trigger a follow-up sort when they changed
// anything.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"notifyd/internal/ranking"
)

// Callbacks connect the handler to the daemon. Sort runs a full re-sort of
// the pending set; Apply runs a reconsideration under the daemon's
// notification lock and reports whether ranking inputs changed.
type Callbacks struct {
	Sort  func(force bool)
	Apply func(rec *ranking.Reconsideration) bool
}

// Handler implements ranking.Scheduler on a single worker goroutine, so
// sorts never run concurrently with each other.
type Handler struct {
	cb  Callbacks
	log *slog.Logger

	mu      sync.Mutex
	pending bool
	force   bool
	timers  map[*time.Timer]struct{}
	stopped bool

	kick chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

// New returns a started handler.
func New(cb Callbacks, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		cb:     cb,
		log:    logger.With("component", "scheduler"),
		timers: make(map[*time.Timer]struct{}),
		kick:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

// RequestSort asks for a full re-sort. Requests arriving while one is
// queued merge into it; the force flag survives the merge.
func (h *Handler) RequestSort(force bool) {
	h.mu.Lock()
	h.pending = true
	h.force = h.force || force
	h.mu.Unlock()
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// RequestReconsideration schedules rec to be applied after its delay.
func (h *Handler) RequestReconsideration(rec *ranking.Reconsideration) {
	if rec == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(rec.Delay, func() {
		h.mu.Lock()
		delete(h.timers, timer)
		h.mu.Unlock()
		changed := true
		if h.cb.Apply != nil {
			changed = h.cb.Apply(rec)
		}
		if changed {
			h.RequestSort(false)
		}
	})
	h.timers[timer] = struct{}{}
}

func (h *Handler) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.quit:
			return
		case <-h.kick:
			h.mu.Lock()
			if !h.pending {
				h.mu.Unlock()
				continue
			}
			force := h.force
			h.pending, h.force = false, false
			h.mu.Unlock()
			if h.cb.Sort != nil {
				h.cb.Sort(force)
			}
		}
	}
}

// Stop cancels outstanding reconsideration timers and stops the worker.
func (h *Handler) Stop() {
	h.mu.Lock()
	h.stopped = true
	for timer := range h.timers {
		timer.Stop()
	}
	h.timers = make(map[*time.Timer]struct{})
	h.mu.Unlock()
	close(h.quit)
	h.wg.Wait()
}
