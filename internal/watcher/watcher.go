// Package watcher detects external edits to the policy file.
package watcher

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event represents a stable external edit to the watched file.
type Event struct {
	Path      string
	Hash      [32]byte
	Size      int64
	Timestamp time.Time
}

// Watcher monitors a single file for edits made by other processes. The
// daemon registers the hash of its own writes so they do not come back
// as external edits.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	debounce  time.Duration

	// State tracking: when the file last changed, and the hash of the
	// daemon's own most recent write.
	mu       sync.RWMutex
	dirtyAt  time.Time
	dirty    bool
	selfHash [32]byte
	selfSet  bool

	// Event channel
	events chan Event
	errors chan error

	// Control
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for the given file. The debounce interval is how
// long the file must be quiet before an edit is reported.
func New(path string, debounce time.Duration) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		path:      absPath,
		debounce:  debounce,
		events:    make(chan Event, 16),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}

	return w, nil
}

// Events returns the channel of external edit events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Path returns the watched file path.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching. The parent directory is watched rather than the
// file itself; editors and the daemon both replace the file by rename.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

// SuppressHash records the content hash of the daemon's own write. A
// stable file matching this hash is not reported as an external edit.
func (w *Watcher) SuppressHash(hash [32]byte) {
	w.mu.Lock()
	w.selfHash = hash
	w.selfSet = true
	w.mu.Unlock()
}

// eventLoop handles fsnotify events.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.mu.Lock()
			w.dirty = true
			w.dirtyAt = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// debounceLoop periodically checks whether a dirty file has settled.
func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	tick := w.debounce / 2
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.checkStable(now)
		}
	}
}

// checkStable hashes the file once it has been quiet for the debounce
// interval. The lock is released during file I/O so eventLoop can keep
// marking the file dirty.
func (w *Watcher) checkStable(now time.Time) {
	w.mu.RLock()
	dirty := w.dirty
	dirtyAt := w.dirtyAt
	w.mu.RUnlock()

	if !dirty || now.Sub(dirtyAt) < w.debounce {
		return
	}

	hash, size, err := HashFile(w.path)
	if err != nil {
		// The file may be mid-replace; let it settle and retry.
		if os.IsNotExist(err) {
			return
		}
		select {
		case w.errors <- err:
		default:
		}
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Modified while hashing; wait for it to stabilize again.
	if w.dirtyAt != dirtyAt {
		return
	}

	w.dirty = false

	if w.selfSet && hash == w.selfHash {
		return
	}

	event := Event{
		Path:      w.path,
		Hash:      hash,
		Size:      size,
		Timestamp: now,
	}

	select {
	case w.events <- event:
	default:
		// Channel full; mark dirty so the edit is retried.
		w.dirty = true
	}
}

// HashFile computes the SHA-256 hash of a file using streaming.
// This handles large files efficiently without loading into memory.
func HashFile(path string) ([32]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return [32]byte{}, 0, err
	}

	var hash [32]byte
	copy(hash[:], h.Sum(nil))
	return hash, size, nil
}
