// Package proc manages the daemon's on-disk process identity: the PID
// file other processes use to find a running notifyd and the state file
// describing that instance. The control CLI reads both to report status
// and to signal the daemon when the bus is unreachable.
package proc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// State is the persisted description of a running daemon instance.
type State struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
	BusName   string    `json:"bus_name,omitempty"`
}

// Manager handles PID and state file lifecycle for one daemon instance.
type Manager struct {
	pidFile   string
	stateFile string
}

// NewManager creates a manager for the given PID file path. The state
// file lives next to it with a .state extension.
func NewManager(pidFile string) *Manager {
	base := strings.TrimSuffix(pidFile, filepath.Ext(pidFile))
	return &Manager{
		pidFile:   pidFile,
		stateFile: base + ".state",
	}
}

// IsRunning reports whether the daemon named by the PID file is alive.
// A missing or stale PID file counts as not running.
func (m *Manager) IsRunning() bool {
	pid, err := m.ReadPID()
	if err != nil {
		return false
	}
	return isProcessRunning(pid)
}

// ReadPID reads the daemon's PID from the PID file.
func (m *Manager) ReadPID() (int, error) {
	data, err := os.ReadFile(m.pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

// WritePID writes the current process PID to the PID file.
func (m *Manager) WritePID() error {
	if err := os.MkdirAll(filepath.Dir(m.pidFile), 0700); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	return os.WriteFile(m.pidFile, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// RemovePID removes the PID file.
func (m *Manager) RemovePID() error {
	return os.Remove(m.pidFile)
}

// WriteState writes the instance state file.
func (m *Manager) WriteState(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(m.stateFile, data, 0600)
}

// ReadState reads the instance state file.
func (m *Manager) ReadState() (*State, error) {
	data, err := os.ReadFile(m.stateFile)
	if err != nil {
		return nil, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// SignalStop sends SIGTERM to the daemon.
func (m *Manager) SignalStop() error {
	return m.signal(syscall.SIGTERM)
}

// SignalReload sends SIGHUP, asking the daemon to reload its policy
// snapshot from disk.
func (m *Manager) SignalReload() error {
	return m.signal(syscall.SIGHUP)
}

func (m *Manager) signal(sig syscall.Signal) error {
	pid, err := m.ReadPID()
	if err != nil {
		return fmt.Errorf("read PID: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}
	return process.Signal(sig)
}

// WaitForStop polls until the daemon exits or the timeout elapses.
func (m *Manager) WaitForStop(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !m.IsRunning() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %v", timeout)
}

// Status summarizes the instance for display, combining liveness from
// the PID file with whatever the state file recorded.
func (m *Manager) Status() *Status {
	status := &Status{}

	pid, err := m.ReadPID()
	if err == nil && isProcessRunning(pid) {
		status.Running = true
		status.PID = pid
	}

	if state, err := m.ReadState(); err == nil {
		status.StartedAt = state.StartedAt
		status.Version = state.Version
		status.BusName = state.BusName
		if status.Running {
			status.Uptime = time.Since(state.StartedAt)
		}
	}
	return status
}

// Status is the combined PID and state file view.
type Status struct {
	Running   bool
	PID       int
	StartedAt time.Time
	Uptime    time.Duration
	Version   string
	BusName   string
}

// Cleanup removes the PID and state files.
func (m *Manager) Cleanup() {
	os.Remove(m.pidFile)
	os.Remove(m.stateFile)
}

// isProcessRunning checks whether a process with the given PID exists.
// On Unix FindProcess always succeeds, so signal 0 does the real probe.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
