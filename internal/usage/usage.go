// Package usage aggregates per-package notification interactions and
// turns them into the engagement signal consumed during ranking. Counts
// are cached in memory and written through to SQLite, so a restart keeps
// the learned behavior.
package usage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the interaction aggregates.
const schema = `
CREATE TABLE IF NOT EXISTS interactions (
    pkg            TEXT PRIMARY KEY,
    posted         INTEGER NOT NULL DEFAULT 0,
    clicked        INTEGER NOT NULL DEFAULT 0,
    dismissed      INTEGER NOT NULL DEFAULT 0,
    last_posted_ns INTEGER NOT NULL DEFAULT 0
);
`

// Stats holds the lifetime interaction counts for one package.
type Stats struct {
	Pkg        string
	Posted     int64
	Clicked    int64
	Dismissed  int64
	LastPosted time.Time
}

// Tracker records interactions and scores engagement. A nil *Tracker is a
// valid disabled tracker: notes are dropped and every package scores the
// neutral affinity.
type Tracker struct {
	db  *sql.DB
	log *slog.Logger

	mu    sync.Mutex
	cache map[string]*Stats
}

// Open opens or creates the usage database at the given path and loads
// the aggregates into memory.
func Open(path string, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create usage directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply usage schema: %w", err)
	}

	t := &Tracker{
		db:    db,
		log:   logger.With("component", "usage"),
		cache: make(map[string]*Stats),
	}
	if err := t.load(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// Close closes the database connection.
func (t *Tracker) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

func (t *Tracker) load() error {
	rows, err := t.db.Query(`SELECT pkg, posted, clicked, dismissed, last_posted_ns FROM interactions`)
	if err != nil {
		return fmt.Errorf("load interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s Stats
		var lastPosted int64
		if err := rows.Scan(&s.Pkg, &s.Posted, &s.Clicked, &s.Dismissed, &lastPosted); err != nil {
			return fmt.Errorf("scan interactions: %w", err)
		}
		if lastPosted > 0 {
			s.LastPosted = time.Unix(0, lastPosted)
		}
		t.cache[s.Pkg] = &s
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate interactions: %w", err)
	}
	return nil
}

func (t *Tracker) stats(pkg string) *Stats {
	s, ok := t.cache[pkg]
	if !ok {
		s = &Stats{Pkg: pkg}
		t.cache[pkg] = s
	}
	return s
}

// NotePosted records a notification posted by pkg.
func (t *Tracker) NotePosted(pkg string, at time.Time) {
	if t == nil || pkg == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats(pkg)
	s.Posted++
	s.LastPosted = at
	if _, err := t.db.Exec(`INSERT INTO interactions (pkg, posted, last_posted_ns) VALUES (?, 1, ?)
		ON CONFLICT(pkg) DO UPDATE SET posted = posted + 1, last_posted_ns = excluded.last_posted_ns`,
		pkg, at.UnixNano()); err != nil {
		t.log.Warn("persist posted count", "package", pkg, "error", err)
	}
}

// NoteClicked records the user opening a notification from pkg.
func (t *Tracker) NoteClicked(pkg string) {
	if t == nil || pkg == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats(pkg).Clicked++
	if _, err := t.db.Exec(`INSERT INTO interactions (pkg, clicked) VALUES (?, 1)
		ON CONFLICT(pkg) DO UPDATE SET clicked = clicked + 1`, pkg); err != nil {
		t.log.Warn("persist clicked count", "package", pkg, "error", err)
	}
}

// NoteDismissed records the user swiping away a notification from pkg.
func (t *Tracker) NoteDismissed(pkg string) {
	if t == nil || pkg == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats(pkg).Dismissed++
	if _, err := t.db.Exec(`INSERT INTO interactions (pkg, dismissed) VALUES (?, 1)
		ON CONFLICT(pkg) DO UPDATE SET dismissed = dismissed + 1`, pkg); err != nil {
		t.log.Warn("persist dismissed count", "package", pkg, "error", err)
	}
}

// Affinity scores engagement with pkg in [0, 1]. Packages with no history
// score the neutral 0.5; clicks pull the score up, dismissals pull it
// down. Counts are Laplace-smoothed so a single interaction cannot pin
// the score to an extreme.
func (t *Tracker) Affinity(pkg string) float64 {
	if t == nil {
		return 0.5
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.cache[pkg]
	if !ok || s.Clicked+s.Dismissed == 0 {
		return 0.5
	}
	return float64(s.Clicked+1) / float64(s.Clicked+s.Dismissed+2)
}

// Get returns a copy of the stats for pkg, or nil when nothing was
// recorded.
func (t *Tracker) Get(pkg string) *Stats {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.cache[pkg]
	if !ok {
		return nil
	}
	c := *s
	return &c
}

// All returns a copy of every package's stats ordered by package name.
func (t *Tracker) All() []Stats {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Stats, 0, len(t.cache))
	for _, s := range t.cache {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pkg < out[j].Pkg })
	return out
}

// Reset clears the recorded history for pkg.
func (t *Tracker) Reset(pkg string) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.cache, pkg)
	if _, err := t.db.Exec(`DELETE FROM interactions WHERE pkg = ?`, pkg); err != nil {
		return fmt.Errorf("reset interactions: %w", err)
	}
	return nil
}
