package daemon

import (
	"notifyd/internal/logging"
	"notifyd/internal/policy"
	"notifyd/internal/registry"
)

// resolveUID maps pkg to its installed uid in the daemon's scope.
// Unknown packages get UnknownUID, so policy written for them lands in
// the staging index until the package is installed.
func (d *Daemon) resolveUID(pkg string) int {
	uid, err := d.registry.ResolveUID(pkg, d.cfg.Daemon.UserScope)
	if err != nil {
		d.log.Debug("uid resolution failed", "package", pkg, "error", err)
		return policy.UnknownUID
	}
	return uid
}

// Importance returns the package-level importance ceiling.
func (d *Daemon) Importance(pkg string) (policy.Importance, error) {
	if pkg == "" {
		return policy.ImportanceUnspecified, policy.ErrInvalidArgument
	}
	uid := d.resolveUID(pkg)

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Importance(pkg, uid), nil
}

// SetImportance sets the package-level importance on behalf of the user.
func (d *Daemon) SetImportance(pkg string, imp policy.Importance) error {
	if pkg == "" {
		return policy.ErrInvalidArgument
	}
	if imp != policy.ImportanceUnspecified && (imp < policy.ImportanceNone || imp > policy.ImportanceMax) {
		return policy.ErrInvalidImportance
	}
	uid := d.resolveUID(pkg)

	d.mu.Lock()
	old := d.store.Importance(pkg, uid)
	d.store.SetImportance(pkg, uid, imp)
	d.scheduleSaveLocked()
	d.mu.Unlock()

	d.audit.LogPackagePolicy(logging.ActorUser, pkg, d.cfg.Daemon.UserScope,
		"importance", int(old), int(imp))
	return nil
}

// SetEnabled bans or un-bans the package.
func (d *Daemon) SetEnabled(pkg string, enabled bool) error {
	if pkg == "" {
		return policy.ErrInvalidArgument
	}
	uid := d.resolveUID(pkg)

	d.mu.Lock()
	was := d.store.Importance(pkg, uid) != policy.ImportanceNone
	d.store.SetEnabled(pkg, uid, enabled)
	d.scheduleSaveLocked()
	d.mu.Unlock()

	d.audit.LogPackagePolicy(logging.ActorUser, pkg, d.cfg.Daemon.UserScope,
		"enabled", was, enabled)
	return nil
}

// CreateChannel adds a channel to the package's record. fromApp applies
// the trust rules for app-created channels: BypassDND and Visibility are
// forced, every user lock is cleared.
func (d *Daemon) CreateChannel(pkg string, ch *policy.Channel, fromApp bool) error {
	uid := d.resolveUID(pkg)

	d.mu.Lock()
	err := d.store.CreateChannel(pkg, uid, ch, fromApp)
	if err == nil {
		d.scheduleSaveLocked()
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}

	actor := logging.ActorUser
	if fromApp {
		actor = logging.ActorApp
	}
	d.audit.LogChannelCreated(actor, pkg, ch.ID, d.cfg.Daemon.UserScope)
	d.metrics.RecordChannelCreated()
	return nil
}

// UpdateChannel overwrites a channel with user-provided settings.
func (d *Daemon) UpdateChannel(pkg string, ch *policy.Channel) error {
	uid := d.resolveUID(pkg)

	d.mu.Lock()
	err := d.store.UpdateChannel(pkg, uid, ch)
	if err == nil {
		d.scheduleSaveLocked()
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}

	d.audit.LogChannelUpdated(logging.ActorUser, pkg, ch.ID, d.cfg.Daemon.UserScope)
	return nil
}

// UpdateChannelFromAssistant merges advisory channel settings, honoring
// every field the user has locked.
func (d *Daemon) UpdateChannelFromAssistant(pkg string, ch *policy.Channel) error {
	uid := d.resolveUID(pkg)

	d.mu.Lock()
	err := d.store.UpdateChannelFromAssistant(pkg, uid, ch)
	if err == nil {
		d.scheduleSaveLocked()
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}

	d.audit.LogChannelUpdated(logging.ActorAssistant, pkg, ch.ID, d.cfg.Daemon.UserScope)
	return nil
}

// DeleteChannel removes a channel. Deleting one that does not exist is
// not an error; the reserved default channel cannot be deleted.
func (d *Daemon) DeleteChannel(pkg, channelID string) error {
	uid := d.resolveUID(pkg)

	d.mu.Lock()
	err := d.store.DeleteChannel(pkg, uid, channelID)
	if err == nil {
		d.scheduleSaveLocked()
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}

	d.audit.LogChannelDeleted(logging.ActorUser, pkg, channelID, d.cfg.Daemon.UserScope)
	return nil
}

// Channel returns one channel of the package's record.
func (d *Daemon) Channel(pkg, channelID string) (*policy.Channel, error) {
	uid := d.resolveUID(pkg)

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Channel(pkg, uid, channelID)
}

// Channels lists the package's channels in stable order.
func (d *Daemon) Channels(pkg string) ([]*policy.Channel, error) {
	uid := d.resolveUID(pkg)

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Channels(pkg, uid)
}

// RegisterApp records pkg as installed with the given target generation
// and reconciles any policy staged for it.
func (d *Daemon) RegisterApp(pkg string, targetGen int) (*registry.App, error) {
	scope := d.cfg.Daemon.UserScope
	app, err := d.registry.Register(pkg, scope, targetGen)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.store.ReconcilePackages(false, scope, []string{pkg})
	d.scheduleSaveLocked()
	d.mu.Unlock()

	d.audit.LogPackageRegistered(pkg, scope, app.UID)
	return app, nil
}

// RemoveApp drops pkg from the registry and dismisses its active
// notifications. The policy record stays, so a reinstall finds its old
// settings waiting.
func (d *Daemon) RemoveApp(pkg string) error {
	scope := d.cfg.Daemon.UserScope
	if err := d.registry.Remove(pkg, scope); err != nil {
		return err
	}

	d.mu.Lock()
	d.store.ReconcilePackages(true, scope, []string{pkg})
	dropped := 0
	for id, r := range d.active {
		if r.Pkg == pkg {
			delete(d.active, id)
			dropped++
		}
	}
	d.mu.Unlock()

	if dropped > 0 {
		d.sched.RequestSort(false)
	}
	d.audit.LogPackageRemoved(pkg, scope)
	return nil
}

// Apps lists the packages installed in the daemon's scope.
func (d *Daemon) Apps() ([]registry.App, error) {
	return d.registry.List(d.cfg.Daemon.UserScope)
}
