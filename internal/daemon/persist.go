package daemon

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"notifyd/internal/policy"
	"notifyd/internal/secure"
)

// maxPolicyBytes bounds the snapshot size accepted on load. Policy files
// are a few KB in practice.
const maxPolicyBytes = 16 << 20

// scheduleSaveLocked arms the batched policy flush. Mutations landing
// while one is armed ride along with it, so the write amplification of a
// settings screen full of toggles stays at one file write. Caller holds
// d.mu.
func (d *Daemon) scheduleSaveLocked() {
	if d.saveTimer != nil {
		return
	}
	delay := time.Duration(d.cfg.Daemon.SaveDelayMs) * time.Millisecond
	d.saveTimer = time.AfterFunc(delay, func() {
		if err := d.SavePolicy(); err != nil {
			d.log.Error("save policy", "error", err)
			d.audit.LogError("save_policy", err)
		}
	})
}

// SavePolicy writes the policy snapshot now, cancelling any batched
// flush. The daemon's own write is announced to the file watcher so it
// is not reported back as an external edit.
func (d *Daemon) SavePolicy() error {
	d.mu.Lock()
	if d.saveTimer != nil {
		d.saveTimer.Stop()
		d.saveTimer = nil
	}
	var buf bytes.Buffer
	err := d.store.WriteXML(&buf, false)
	records, staged := d.store.Len(), d.store.StagedLen()
	d.mu.Unlock()
	if err != nil {
		d.metrics.RecordError()
		return fmt.Errorf("render policy: %w", err)
	}

	data := buf.Bytes()
	if d.watch != nil {
		d.watch.SuppressHash(sha256.Sum256(data))
	}

	start := time.Now()
	path := d.cfg.Policy.Path
	if d.cfg.Policy.Secure {
		err = secure.Seal(path, data, d.masterKey)
	} else {
		err = secure.WriteAtomic(path, data, 0600)
	}
	if err != nil {
		d.metrics.RecordError()
		return fmt.Errorf("write policy: %w", err)
	}

	d.metrics.RecordSave(time.Since(start))
	d.metrics.SetStoreSize(records, staged)
	d.log.Debug("policy saved", "bytes", len(data), "records", records)
	return nil
}

// LoadPolicy replaces the store contents with the snapshot on disk. A
// missing file is a clean first start. A snapshot that fails the
// integrity check or does not parse leaves the store empty: suspect
// policy is never half-applied.
func (d *Daemon) LoadPolicy() error {
	path := d.cfg.Policy.Path
	start := time.Now()

	var data []byte
	var err error
	if d.cfg.Policy.Secure {
		data, err = secure.Open(path, d.masterKey, maxPolicyBytes)
		if errors.Is(err, secure.ErrMissingSidecar) {
			// Snapshot predating secure mode. Accept it this once; the
			// next save writes the sidecar.
			d.log.Warn("policy file has no integrity sidecar", "path", path)
			data, err = os.ReadFile(path)
		}
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.log.Info("no policy snapshot, starting empty", "path", path)
			return nil
		}
		d.metrics.RecordLoad(time.Since(start), true)
		if errors.Is(err, secure.ErrCorrupt) {
			d.mu.Lock()
			d.store.Clear()
			d.mu.Unlock()
			return fmt.Errorf("policy snapshot rejected: %w", err)
		}
		return fmt.Errorf("read policy: %w", err)
	}

	d.mu.Lock()
	err = d.store.ReadXML(bytes.NewReader(data), false)
	records, staged := d.store.Len(), d.store.StagedLen()
	d.mu.Unlock()

	d.metrics.RecordLoad(time.Since(start), err != nil)
	if err != nil {
		return fmt.Errorf("parse policy: %w", err)
	}

	d.metrics.SetStoreSize(records, staged)
	d.reextract()
	d.log.Info("policy loaded", "records", records, "staged", staged)
	return nil
}

// reextract refreshes the ranking signals of every active notification
// against the current policy and forces a re-sort. Needed after any bulk
// policy replacement; per-mutation changes flow through the store's
// reconfiguration broadcast instead.
func (d *Daemon) reextract() {
	d.mu.Lock()
	for _, r := range d.active {
		d.helper.ExtractSignals(r)
	}
	d.mu.Unlock()
	d.sched.RequestSort(true)
}

// Reload re-reads the policy snapshot from disk.
func (d *Daemon) Reload() error {
	if err := d.LoadPolicy(); err != nil {
		d.audit.LogError("reload_policy", err)
		return err
	}
	return nil
}

// watchLoop reloads the store when another process edits the policy
// file. The watcher has already debounced the edit and filtered out the
// daemon's own writes.
func (d *Daemon) watchLoop() {
	defer d.wg.Done()
	for {
		select {
		case ev, ok := <-d.watch.Events():
			if !ok {
				return
			}
			d.log.Info("policy file edited externally", "size", ev.Size)
			if err := d.Reload(); err != nil {
				d.log.Error("reload after external edit", "error", err)
			}
		case err, ok := <-d.watch.Errors():
			if !ok {
				return
			}
			d.log.Warn("policy watcher", "error", err)
		}
	}
}

// ExportBackup renders the cross-machine backup payload: primary-scope
// records only, with uids omitted since they mean nothing on another
// machine.
func (d *Daemon) ExportBackup() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var buf bytes.Buffer
	if err := d.store.WriteXML(&buf, true); err != nil {
		return nil, fmt.Errorf("render backup: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportBackup replaces the store with a payload produced by
// ExportBackup, recomputing uids through the registry. Packages not
// installed here wait in the staging index until they are.
func (d *Daemon) ImportBackup(data []byte) error {
	d.mu.Lock()
	err := d.store.ReadXML(bytes.NewReader(data), true)
	records, staged := d.store.Len(), d.store.StagedLen()
	d.mu.Unlock()
	if err != nil {
		d.metrics.RecordError()
		return fmt.Errorf("restore backup: %w", err)
	}

	d.metrics.RecordRestore()
	d.metrics.SetStoreSize(records, staged)
	d.audit.LogPolicyRestored(d.cfg.Daemon.UserScope, records)
	d.reextract()

	d.mu.Lock()
	d.scheduleSaveLocked()
	d.mu.Unlock()
	return nil
}

// Dump writes the text diagnostics: the pipeline configuration followed
// by the per-package policy records.
func (d *Daemon) Dump(w io.Writer, filter *policy.DumpFilter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.helper.Dump(w, "")
	d.store.Dump(w, "", filter)
}

// DumpJSON returns the policy records as JSON.
func (d *Daemon) DumpJSON(filter *policy.DumpFilter) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.DumpJSON(filter)
}

// DumpBans returns the banned-package list as JSON.
func (d *Daemon) DumpBans(filter *policy.DumpFilter) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.DumpBansJSON(filter)
}
