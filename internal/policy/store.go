package policy

import (
	"log/slog"
	"sort"
)

// Resolver supplies identity and build metadata for installed packages.
// Lookups are best effort at most call sites: a miss leaves the record in
// its prior state instead of failing the surrounding operation.
type Resolver interface {
	// ResolveUID returns the uid owning pkg within the given user scope.
	ResolveUID(pkg string, userScope int) (int, error)

	// TargetGeneration returns the platform generation pkg was built
	// against.
	TargetGeneration(pkg string, userScope int) (int, error)
}

// ConfigListener receives the reconfiguration broadcast that follows every
// policy mutation. The ranking pipeline implements it by refreshing
// extractor config and requesting a re-sort.
type ConfigListener interface {
	Reconfigure()
}

// Store is the per-application policy index. Records are keyed by
// (package, uid); records restored without a usable uid wait in a staging
// index keyed by package name until identity reconciliation.
//
// The store does no locking. Callers serialize mutations and keep reloads
// exclusive of concurrent access.
type Store struct {
	records  map[string]*Record // "pkg|uid"
	staged   map[string]*Record // pkg, uid pending resolution
	resolver Resolver
	listener ConfigListener
	log      *slog.Logger
}

// NewStore returns an empty store. resolver may be nil, in which case
// identity-dependent behavior (uid recomputation on restore, the default
// channel clamp) is skipped.
func NewStore(resolver Resolver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		records:  make(map[string]*Record),
		staged:   make(map[string]*Record),
		resolver: resolver,
		log:      logger.With("component", "policy"),
	}
}

// SetListener installs the reconfiguration broadcast target. The pipeline
// is built after the store, so this cannot be a constructor argument.
func (s *Store) SetListener(l ConfigListener) { s.listener = l }

func (s *Store) notifyListener() {
	if s.listener != nil {
		s.listener.Reconfigure()
	}
}

func (s *Store) clear() {
	s.records = make(map[string]*Record)
	s.staged = make(map[string]*Record)
}

// Clear drops every record, main and staged. Used when a snapshot fails
// verification and its contents must not be trusted.
func (s *Store) Clear() {
	s.clear()
	s.notifyListener()
}

// Get returns the record for (pkg, uid) without creating one.
func (s *Store) Get(pkg string, uid int) (*Record, bool) {
	r, ok := s.records[recordKey(pkg, uid)]
	return r, ok
}

// GetOrCreate returns the record for (pkg, uid), creating it with all
// defaults if absent. When uid is UnknownUID the staging index is used
// instead of the main one.
func (s *Store) GetOrCreate(pkg string, uid int) *Record {
	return s.getOrCreate(pkg, uid, ImportanceUnspecified, PriorityDefault, VisibilityNoOverride)
}

func (s *Store) getOrCreate(pkg string, uid int, importance Importance, priority Priority, visibility Visibility) *Record {
	var r *Record
	if uid == UnknownUID {
		r = s.staged[pkg]
	} else {
		r = s.records[recordKey(pkg, uid)]
	}
	if r != nil {
		return r
	}
	r = newRecord(pkg, uid, importance, priority, visibility)
	createDefaultChannel(r)
	if uid == UnknownUID {
		s.staged[pkg] = r
	} else {
		s.records[recordKey(pkg, uid)] = r
	}
	s.clampDefaultChannel(r)
	return r
}

// createDefaultChannel synthesizes the reserved default channel, seeding it
// from the record's top-level settings. Fields that differ from the
// documented defaults arrive user-locked: they encode an explicit choice
// made under the pre-channel model.
func createDefaultChannel(r *Record) {
	if _, ok := r.Channels[DefaultChannelID]; ok {
		return
	}
	ch := NewChannel(DefaultChannelID, DefaultChannelName, r.Importance)
	ch.BypassDND = r.Priority == PriorityMax
	ch.Visibility = r.Visibility
	if r.Importance != ImportanceUnspecified {
		ch.Lock(LockImportance)
	}
	if r.Priority != PriorityDefault {
		ch.Lock(LockBypassDND)
	}
	if r.Visibility != VisibilityNoOverride {
		ch.Lock(LockVisibility)
	}
	r.Channels[ch.ID] = ch
}

// clampDefaultChannel forces the default channel down to low importance for
// packages built against a post-legacy generation, unless the user already
// locked the importance. Metadata lookup failures are swallowed: the clamp
// re-runs on the next reconciliation.
func (s *Store) clampDefaultChannel(r *Record) {
	if s.resolver == nil || r.UID == UnknownUID {
		return
	}
	gen, err := s.resolver.TargetGeneration(r.Pkg, UserScopeOf(r.UID))
	if err != nil {
		s.log.Debug("target generation unavailable", "package", r.Pkg, "error", err)
		return
	}
	if gen <= MaxLegacyGeneration {
		return
	}
	def := r.Channels[DefaultChannelID]
	if def.IsLocked(LockImportance) {
		return
	}
	def.Importance = ImportanceLow
	s.notifyListener()
}

// ReconcileUID moves a staged record for pkg into the main index under the
// resolved uid and re-applies the default channel clamp. A no-op when
// nothing is staged and no record exists for the pair. Reports whether a
// staged record moved.
func (s *Store) ReconcileUID(pkg string, uid int) bool {
	moved := false
	if r, ok := s.staged[pkg]; ok {
		r.UID = uid
		delete(s.staged, pkg)
		s.records[recordKey(pkg, uid)] = r
		moved = true
	}
	if r, ok := s.Get(pkg, uid); ok {
		s.clampDefaultChannel(r)
	}
	return moved
}

// ReconcilePackages handles an external package-change notification. Newly
// installed packages adopt any record staged under their name; existing
// records get the default channel clamp re-applied against fresh metadata.
// Removals are ignored: policy outlives uninstalls.
func (s *Store) ReconcilePackages(removing bool, userScope int, pkgs []string) {
	if removing || len(pkgs) == 0 {
		return
	}
	updated := false
	for _, pkg := range pkgs {
		if s.resolver == nil {
			break
		}
		uid, err := s.resolver.ResolveUID(pkg, userScope)
		if err != nil {
			s.log.Debug("uid unresolved", "package", pkg, "scope", userScope, "error", err)
			continue
		}
		if s.ReconcileUID(pkg, uid) {
			updated = true
		}
	}
	if updated {
		s.notifyListener()
	}
}

// Importance returns the top-level importance for (pkg, uid), creating the
// record if absent.
func (s *Store) Importance(pkg string, uid int) Importance {
	return s.GetOrCreate(pkg, uid).Importance
}

// SetImportance overwrites the top-level importance for (pkg, uid).
func (s *Store) SetImportance(pkg string, uid int, importance Importance) {
	s.GetOrCreate(pkg, uid).Importance = importance
	s.notifyListener()
}

// SetEnabled blocks or unblocks the package. Unblocking restores the
// unspecified default rather than any previous explicit level.
func (s *Store) SetEnabled(pkg string, uid int, enabled bool) {
	wasEnabled := s.Importance(pkg, uid) != ImportanceNone
	if wasEnabled == enabled {
		return
	}
	if enabled {
		s.SetImportance(pkg, uid, ImportanceUnspecified)
	} else {
		s.SetImportance(pkg, uid, ImportanceNone)
	}
}

// CreateChannel validates and stores a channel supplied by an application
// or the user. fromApp marks calls originating from the owning application,
// which may not self-grant DND bypass or lockscreen visibility: those fields
// are forced to the package's top-level defaults.
func (s *Store) CreateChannel(pkg string, uid int, ch *Channel, fromApp bool) error {
	if pkg == "" || ch == nil || ch.ID == "" || ch.Name == "" {
		return ErrInvalidArgument
	}
	r := s.GetOrCreate(pkg, uid)
	if r.Importance == ImportanceNone {
		return ErrPackageBlocked
	}
	if _, ok := r.Channels[ch.ID]; ok || ch.Name == DefaultChannelName {
		return ErrChannelExists
	}
	if !ch.Importance.ValidForChannel() {
		return ErrInvalidImportance
	}
	if fromApp {
		ch.BypassDND = r.Priority == PriorityMax
		ch.Visibility = r.Visibility
	}
	ch.Allowed = true
	ch.Locked = 0
	if ch.Visibility == VisibilityPublic {
		ch.Visibility = VisibilityNoOverride
	}
	r.Channels[ch.ID] = ch
	s.notifyListener()
	return nil
}

// UpdateChannel replaces a stored channel wholesale. This is the user-driven
// edit path: lock bits arrive with the updated channel and are trusted.
func (s *Store) UpdateChannel(pkg string, uid int, ch *Channel) error {
	if pkg == "" || ch == nil || ch.ID == "" {
		return ErrInvalidArgument
	}
	r := s.GetOrCreate(pkg, uid)
	if _, ok := r.Channels[ch.ID]; !ok {
		return ErrChannelNotFound
	}
	if ch.Visibility == VisibilityPublic {
		ch.Visibility = VisibilityNoOverride
	}
	r.Channels[ch.ID] = ch
	s.notifyListener()
	return nil
}

// UpdateChannelFromAssistant merges assistant suggestions into a stored
// channel field by field, skipping every field the user has locked. This is
// the one path that must never override an explicit user choice.
func (s *Store) UpdateChannelFromAssistant(pkg string, uid int, ch *Channel) error {
	if pkg == "" || ch == nil || ch.ID == "" {
		return ErrInvalidArgument
	}
	r := s.GetOrCreate(pkg, uid)
	stored, ok := r.Channels[ch.ID]
	if !ok {
		return ErrChannelNotFound
	}
	if !stored.IsLocked(LockImportance) {
		stored.Importance = ch.Importance
	}
	if !stored.IsLocked(LockLights) {
		stored.Lights = ch.Lights
	}
	if !stored.IsLocked(LockBypassDND) {
		stored.BypassDND = ch.BypassDND
	}
	if !stored.IsLocked(LockSound) {
		stored.Sound = ch.Sound
	}
	if !stored.IsLocked(LockVibration) {
		stored.VibrationEnabled = ch.VibrationEnabled
		stored.VibrationPattern = append([]int64(nil), ch.VibrationPattern...)
	}
	if !stored.IsLocked(LockVisibility) {
		if ch.Visibility == VisibilityPublic {
			stored.Visibility = VisibilityNoOverride
		} else {
			stored.Visibility = ch.Visibility
		}
	}
	if !stored.IsLocked(LockAllowed) {
		stored.Allowed = ch.Allowed
	}
	if !stored.IsLocked(LockShowBadge) {
		stored.ShowBadge = ch.ShowBadge
	}
	s.notifyListener()
	return nil
}

// DeleteChannel removes a channel. The package must already have a record;
// removing an id that does not exist is a silent no-op. The default channel
// cannot be deleted.
func (s *Store) DeleteChannel(pkg string, uid int, channelID string) error {
	if pkg == "" || channelID == "" {
		return ErrInvalidArgument
	}
	if channelID == DefaultChannelID {
		return ErrInvalidArgument
	}
	r, ok := s.Get(pkg, uid)
	if !ok {
		return ErrInvalidPackage
	}
	delete(r.Channels, channelID)
	s.notifyListener()
	return nil
}

// Channel returns the channel with the given id, or the default channel
// when channelID is empty. Unlike ChannelWithFallback it requires an
// existing record and reports a missing id instead of substituting.
func (s *Store) Channel(pkg string, uid int, channelID string) (*Channel, error) {
	if pkg == "" {
		return nil, ErrInvalidArgument
	}
	r, ok := s.Get(pkg, uid)
	if !ok {
		return nil, ErrInvalidPackage
	}
	if channelID == "" {
		channelID = DefaultChannelID
	}
	ch, ok := r.Channels[channelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

// ChannelWithFallback resolves channelID against (pkg, uid), substituting
// the default channel when the id is empty or unknown. The record is created
// if absent, so the result is never nil. This is the posting path.
func (s *Store) ChannelWithFallback(pkg string, uid int, channelID string) *Channel {
	r := s.GetOrCreate(pkg, uid)
	if channelID == "" {
		channelID = DefaultChannelID
	}
	if ch, ok := r.Channels[channelID]; ok {
		return ch
	}
	return r.Channels[DefaultChannelID]
}

// Channels lists the package's channels ordered by id.
func (s *Store) Channels(pkg string, uid int) ([]*Channel, error) {
	if pkg == "" {
		return nil, ErrInvalidArgument
	}
	r, ok := s.Get(pkg, uid)
	if !ok {
		return nil, ErrInvalidPackage
	}
	return r.sortedChannels(), nil
}

// PackageBans returns uid to package name for every fully blocked package.
func (s *Store) PackageBans() map[int]string {
	bans := make(map[int]string)
	for _, r := range s.records {
		if r.Importance == ImportanceNone {
			bans[r.UID] = r.Pkg
		}
	}
	return bans
}

// Len returns the number of records in the main index.
func (s *Store) Len() int { return len(s.records) }

// StagedLen returns the number of records awaiting identity resolution.
func (s *Store) StagedLen() int { return len(s.staged) }

func (s *Store) sortedRecords() []*Record {
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Record, len(keys))
	for i, k := range keys {
		out[i] = s.records[k]
	}
	return out
}

func (s *Store) sortedStaged() []*Record {
	keys := make([]string, 0, len(s.staged))
	for k := range s.staged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Record, len(keys))
	for i, k := range keys {
		out[i] = s.staged[k]
	}
	return out
}
