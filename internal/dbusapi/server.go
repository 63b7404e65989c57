package dbusapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"notifyd/internal/daemon"
	"notifyd/internal/policy"
)

// ErrNameTaken is returned when another process already owns the
// requested bus name, usually a second notifyd instance.
var ErrNameTaken = errors.New("dbusapi: bus name already taken")

// ServerConfig selects the bus and the well-known name to claim.
type ServerConfig struct {
	// Name is the bus name to request. Empty means DefaultBusName.
	Name string

	// UseSystemBus claims the name on the system bus instead of the
	// session bus.
	UseSystemBus bool
}

// Server exports the daemon on the bus. Methods are served on godbus's
// dispatch goroutines; the daemon's own locking makes that safe.
type Server struct {
	d    *daemon.Daemon
	log  *slog.Logger
	cfg  ServerConfig
	conn *dbus.Conn
}

// NewServer wraps d for export. Call Start to claim the name.
func NewServer(d *daemon.Daemon, cfg ServerConfig, logger *slog.Logger) *Server {
	if cfg.Name == "" {
		cfg.Name = DefaultBusName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		d:   d,
		log: logger.With("component", "dbus"),
		cfg: cfg,
	}
}

// Start connects to the bus, claims the configured name, and exports the
// daemon object.
func (s *Server) Start() error {
	conn, err := connectBus(s.cfg.UseSystemBus)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}

	reply, err := conn.RequestName(s.cfg.Name, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("request name %s: %w", s.cfg.Name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrNameTaken, s.cfg.Name)
	}

	if err := conn.Export(&handler{d: s.d}, ObjectPath, InterfaceName); err != nil {
		conn.Close()
		return fmt.Errorf("export %s: %w", ObjectPath, err)
	}

	s.conn = conn
	s.log.Info("bus name acquired", "name", s.cfg.Name, "path", string(ObjectPath))
	return nil
}

// Stop releases the name by closing the connection. Safe to call when
// Start never ran.
func (s *Server) Stop() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func connectBus(system bool) (*dbus.Conn, error) {
	if system {
		return dbus.ConnectSystemBus()
	}
	return dbus.ConnectSessionBus()
}

// handler carries the exported methods. godbus exports every public
// method on the value it is given, so the bus surface lives on this
// dedicated type instead of Server.
type handler struct {
	d *daemon.Daemon
}

func marshal(v interface{}) (string, *dbus.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", busError(err)
	}
	return string(data), nil
}

func invalidArg(format string, args ...interface{}) *dbus.Error {
	return dbus.NewError(errorPrefix+"InvalidArgument",
		[]interface{}{fmt.Sprintf(format, args...)})
}

func decodeChannel(raw string) (*policy.Channel, *dbus.Error) {
	var p ChannelPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, invalidArg("decode channel: %v", err)
	}
	return p.Channel(), nil
}

// Post inserts one notification. The sort key is tri-state, which D-Bus
// strings cannot express, so hasSortKey distinguishes absent from empty.
func (h *handler) Post(pkg, channelID, title, body, group, sortKey string, hasSortKey, summary bool) (string, *dbus.Error) {
	req := daemon.PostRequest{
		Pkg:       pkg,
		ChannelID: channelID,
		Title:     title,
		Body:      body,
		Group:     group,
		Summary:   summary,
	}
	if hasSortKey {
		req.SortKey = &sortKey
	}
	id, err := h.d.Post(req)
	if err != nil {
		return "", busError(err)
	}
	return id, nil
}

func (h *handler) Dismiss(id string) *dbus.Error {
	if err := h.d.Dismiss(id); err != nil {
		return busError(err)
	}
	return nil
}

func (h *handler) Click(id string) *dbus.Error {
	if err := h.d.Click(id); err != nil {
		return busError(err)
	}
	return nil
}

// ListRanked returns the published order as a JSON array of RankedEntry.
func (h *handler) ListRanked() (string, *dbus.Error) {
	list := h.d.Ranked()
	entries := make([]RankedEntry, len(list))
	for i, r := range list {
		entries[i] = rankedEntry(r)
	}
	return marshal(entries)
}

// GetStatus returns the daemon status snapshot as JSON.
func (h *handler) GetStatus() (string, *dbus.Error) {
	return marshal(h.d.Status())
}

func (h *handler) RegisterApp(pkg string, targetGen int32) (int32, *dbus.Error) {
	app, err := h.d.RegisterApp(pkg, int(targetGen))
	if err != nil {
		return 0, busError(err)
	}
	return int32(app.UID), nil
}

func (h *handler) RemoveApp(pkg string) *dbus.Error {
	if err := h.d.RemoveApp(pkg); err != nil {
		return busError(err)
	}
	return nil
}

// ListApps returns the registered applications as a JSON array of
// AppEntry.
func (h *handler) ListApps() (string, *dbus.Error) {
	apps, err := h.d.Apps()
	if err != nil {
		return "", busError(err)
	}
	entries := make([]AppEntry, len(apps))
	for i, a := range apps {
		entries[i] = AppEntry{
			Package:      a.Pkg,
			UserScope:    a.UserScope,
			UID:          a.UID,
			TargetGen:    a.TargetGen,
			RegisteredAt: a.RegisteredAt,
		}
	}
	return marshal(entries)
}

func (h *handler) GetImportance(pkg string) (int32, *dbus.Error) {
	imp, err := h.d.Importance(pkg)
	if err != nil {
		return 0, busError(err)
	}
	return int32(imp), nil
}

func (h *handler) SetImportance(pkg string, importance int32) *dbus.Error {
	if err := h.d.SetImportance(pkg, policy.Importance(importance)); err != nil {
		return busError(err)
	}
	return nil
}

func (h *handler) SetEnabled(pkg string, enabled bool) *dbus.Error {
	if err := h.d.SetEnabled(pkg, enabled); err != nil {
		return busError(err)
	}
	return nil
}

func (h *handler) CreateChannel(pkg, channelJSON string, fromApp bool) *dbus.Error {
	ch, derr := decodeChannel(channelJSON)
	if derr != nil {
		return derr
	}
	if err := h.d.CreateChannel(pkg, ch, fromApp); err != nil {
		return busError(err)
	}
	return nil
}

func (h *handler) UpdateChannel(pkg, channelJSON string) *dbus.Error {
	ch, derr := decodeChannel(channelJSON)
	if derr != nil {
		return derr
	}
	if err := h.d.UpdateChannel(pkg, ch); err != nil {
		return busError(err)
	}
	return nil
}

func (h *handler) UpdateChannelFromAssistant(pkg, channelJSON string) *dbus.Error {
	ch, derr := decodeChannel(channelJSON)
	if derr != nil {
		return derr
	}
	if err := h.d.UpdateChannelFromAssistant(pkg, ch); err != nil {
		return busError(err)
	}
	return nil
}

func (h *handler) DeleteChannel(pkg, channelID string) *dbus.Error {
	if err := h.d.DeleteChannel(pkg, channelID); err != nil {
		return busError(err)
	}
	return nil
}

// GetChannel returns one channel as a JSON ChannelPayload.
func (h *handler) GetChannel(pkg, channelID string) (string, *dbus.Error) {
	ch, err := h.d.Channel(pkg, channelID)
	if err != nil {
		return "", busError(err)
	}
	return marshal(ChannelToPayload(ch))
}

// ListChannels returns the package's channels as a JSON array of
// ChannelPayload, ordered by id.
func (h *handler) ListChannels(pkg string) (string, *dbus.Error) {
	chs, err := h.d.Channels(pkg)
	if err != nil {
		return "", busError(err)
	}
	payloads := make([]ChannelPayload, len(chs))
	for i, ch := range chs {
		payloads[i] = ChannelToPayload(ch)
	}
	return marshal(payloads)
}

// Dump renders diagnostics. kind selects the format: "text" (or empty),
// "json", or "bans". pkg narrows the output to one package when
// non-empty.
func (h *handler) Dump(kind, pkg string) (string, *dbus.Error) {
	var filter *policy.DumpFilter
	if pkg != "" {
		filter = &policy.DumpFilter{Package: pkg}
	}
	switch kind {
	case "", "text":
		var buf bytes.Buffer
		h.d.Dump(&buf, filter)
		return buf.String(), nil
	case "json":
		data, err := h.d.DumpJSON(filter)
		if err != nil {
			return "", busError(err)
		}
		return string(data), nil
	case "bans":
		data, err := h.d.DumpBans(filter)
		if err != nil {
			return "", busError(err)
		}
		return string(data), nil
	default:
		return "", invalidArg("unknown dump kind %q", kind)
	}
}

// ExportBackup returns the portable policy snapshot.
func (h *handler) ExportBackup() (string, *dbus.Error) {
	data, err := h.d.ExportBackup()
	if err != nil {
		return "", busError(err)
	}
	return string(data), nil
}

// ImportBackup merges a backup produced by ExportBackup, possibly on
// another machine.
func (h *handler) ImportBackup(xmlData string) *dbus.Error {
	if err := h.d.ImportBackup([]byte(xmlData)); err != nil {
		return busError(err)
	}
	return nil
}

// Reload re-reads the policy snapshot from disk.
func (h *handler) Reload() *dbus.Error {
	if err := h.d.Reload(); err != nil {
		return busError(err)
	}
	return nil
}

// GetUsageStats returns per-package interaction aggregates as a JSON
// array of UsageEntry.
func (h *handler) GetUsageStats() (string, *dbus.Error) {
	stats := h.d.UsageStats()
	entries := make([]UsageEntry, len(stats))
	for i, st := range stats {
		entries[i] = UsageEntry{
			Package:    st.Pkg,
			Posted:     st.Posted,
			Clicked:    st.Clicked,
			Dismissed:  st.Dismissed,
			LastPosted: st.LastPosted,
		}
	}
	return marshal(entries)
}
