package dbusapi

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"notifyd/internal/daemon"
	"notifyd/internal/policy"
)

// Client drives a running daemon over the bus. It mirrors the daemon's
// own method set, translating named bus errors back into the sentinel
// errors in-process callers would see.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// Dial connects to the bus and binds the daemon object. name empty means
// DefaultBusName. No traffic is sent until the first call, so Dial
// succeeding does not mean the daemon is up.
func Dial(name string, useSystemBus bool) (*Client, error) {
	if name == "" {
		name = DefaultBusName
	}
	conn, err := connectBus(useSystemBus)
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}
	return &Client{
		conn: conn,
		obj:  conn.Object(name, ObjectPath),
	}, nil
}

// Close drops the bus connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(method string, dest []interface{}, args ...interface{}) error {
	call := c.obj.Call(InterfaceName+"."+method, 0, args...)
	if call.Err != nil {
		var derr dbus.Error
		if errors.As(call.Err, &derr) {
			return fromBusError(derr)
		}
		return call.Err
	}
	if len(dest) == 0 {
		return nil
	}
	return call.Store(dest...)
}

// callJSON invokes a method returning a JSON string and decodes it into
// out.
func (c *Client) callJSON(method string, out interface{}, args ...interface{}) error {
	var raw string
	if err := c.call(method, []interface{}{&raw}, args...); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}

// Post inserts one notification and returns its id.
func (c *Client) Post(req daemon.PostRequest) (string, error) {
	sortKey := ""
	hasSortKey := req.SortKey != nil
	if hasSortKey {
		sortKey = *req.SortKey
	}
	var id string
	err := c.call("Post", []interface{}{&id},
		req.Pkg, req.ChannelID, req.Title, req.Body, req.Group,
		sortKey, hasSortKey, req.Summary)
	return id, err
}

func (c *Client) Dismiss(id string) error {
	return c.call("Dismiss", nil, id)
}

func (c *Client) Click(id string) error {
	return c.call("Click", nil, id)
}

// Ranked returns the published order, most important first.
func (c *Client) Ranked() ([]RankedEntry, error) {
	var entries []RankedEntry
	err := c.callJSON("ListRanked", &entries)
	return entries, err
}

// Status returns the daemon's status snapshot.
func (c *Client) Status() (daemon.Status, error) {
	var st daemon.Status
	err := c.callJSON("GetStatus", &st)
	return st, err
}

// RegisterApp records pkg as installed and returns its uid.
func (c *Client) RegisterApp(pkg string, targetGen int) (int, error) {
	var uid int32
	err := c.call("RegisterApp", []interface{}{&uid}, pkg, int32(targetGen))
	return int(uid), err
}

func (c *Client) RemoveApp(pkg string) error {
	return c.call("RemoveApp", nil, pkg)
}

// Apps lists the registered applications.
func (c *Client) Apps() ([]AppEntry, error) {
	var entries []AppEntry
	err := c.callJSON("ListApps", &entries)
	return entries, err
}

func (c *Client) Importance(pkg string) (policy.Importance, error) {
	var imp int32
	err := c.call("GetImportance", []interface{}{&imp}, pkg)
	return policy.Importance(imp), err
}

func (c *Client) SetImportance(pkg string, imp policy.Importance) error {
	return c.call("SetImportance", nil, pkg, int32(imp))
}

func (c *Client) SetEnabled(pkg string, enabled bool) error {
	return c.call("SetEnabled", nil, pkg, enabled)
}

func (c *Client) CreateChannel(pkg string, ch *policy.Channel, fromApp bool) error {
	raw, err := json.Marshal(ChannelToPayload(ch))
	if err != nil {
		return err
	}
	return c.call("CreateChannel", nil, pkg, string(raw), fromApp)
}

func (c *Client) UpdateChannel(pkg string, ch *policy.Channel) error {
	raw, err := json.Marshal(ChannelToPayload(ch))
	if err != nil {
		return err
	}
	return c.call("UpdateChannel", nil, pkg, string(raw))
}

func (c *Client) UpdateChannelFromAssistant(pkg string, ch *policy.Channel) error {
	raw, err := json.Marshal(ChannelToPayload(ch))
	if err != nil {
		return err
	}
	return c.call("UpdateChannelFromAssistant", nil, pkg, string(raw))
}

func (c *Client) DeleteChannel(pkg, channelID string) error {
	return c.call("DeleteChannel", nil, pkg, channelID)
}

func (c *Client) Channel(pkg, channelID string) (*policy.Channel, error) {
	var p ChannelPayload
	if err := c.callJSON("GetChannel", &p, pkg, channelID); err != nil {
		return nil, err
	}
	return p.Channel(), nil
}

func (c *Client) Channels(pkg string) ([]*policy.Channel, error) {
	var payloads []ChannelPayload
	if err := c.callJSON("ListChannels", &payloads, pkg); err != nil {
		return nil, err
	}
	chs := make([]*policy.Channel, len(payloads))
	for i, p := range payloads {
		chs[i] = p.Channel()
	}
	return chs, nil
}

// Dump renders daemon diagnostics. kind is "text", "json", or "bans";
// pkg narrows to one package when non-empty.
func (c *Client) Dump(kind, pkg string) (string, error) {
	var out string
	err := c.call("Dump", []interface{}{&out}, kind, pkg)
	return out, err
}

// ExportBackup fetches the portable policy snapshot.
func (c *Client) ExportBackup() ([]byte, error) {
	var out string
	if err := c.call("ExportBackup", []interface{}{&out}); err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// ImportBackup merges a backup into the running daemon.
func (c *Client) ImportBackup(data []byte) error {
	return c.call("ImportBackup", nil, string(data))
}

// Reload makes the daemon re-read its policy snapshot from disk.
func (c *Client) Reload() error {
	return c.call("Reload", nil)
}

// UsageStats lists per-package interaction aggregates.
func (c *Client) UsageStats() ([]UsageEntry, error) {
	var entries []UsageEntry
	err := c.callJSON("GetUsageStats", &entries)
	return entries, err
}
