package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyd/internal/config"
	"notifyd/internal/policy"
	"notifyd/internal/ranking"
)

// Test helpers

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig redirects every path into a per-test directory and shortens
// the save debounce so persistence tests finish quickly. Secure mode and
// the audit trail are off unless a test opts back in.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Daemon.SaveDelayMs = 200
	cfg.Daemon.PidFile = filepath.Join(dir, "notifyd.pid")
	cfg.Daemon.CrashDir = filepath.Join(dir, "crashes")
	cfg.Policy.Path = filepath.Join(dir, "notification_policy.xml")
	cfg.Policy.Secure = false
	cfg.Policy.KeyPath = filepath.Join(dir, "policy_hmac.key")
	cfg.Registry.Path = filepath.Join(dir, "registry.db")
	cfg.Usage.Path = filepath.Join(dir, "usage.db")
	cfg.Logging.Output = "stderr"
	cfg.Logging.FilePath = filepath.Join(dir, "notifyd.log")
	cfg.Audit.Enabled = false
	cfg.Audit.FilePath = filepath.Join(dir, "audit.log")
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	d, err := New(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Stop() })
	return d
}

// waitRanked polls until the published order holds exactly want
// notifications. Sorts run on the scheduler goroutine, so every post is
// only visible after its requested sort lands.
func waitRanked(t *testing.T, d *Daemon, want int) []*ranking.Record {
	t.Helper()
	var out []*ranking.Record
	require.Eventually(t, func() bool {
		out = d.Ranked()
		return len(out) == want
	}, 5*time.Second, 10*time.Millisecond,
		"expected %d ranked notifications", want)
	return out
}

func rankedIDs(list []*ranking.Record) []string {
	ids := make([]string, len(list))
	for i, r := range list {
		ids[i] = r.ID
	}
	return ids
}

// recentlyIntrusive reads the decay flag under the daemon lock, the same
// serialization the reconsideration timer writes it under.
func recentlyIntrusive(d *Daemon, r *ranking.Record) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return r.RecentlyIntrusive()
}

// =============================================================================

func TestDaemon_StartStop_Lifecycle(t *testing.T) {
	d, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	require.NoError(t, d.Start())
	require.ErrorIs(t, d.Start(), ErrAlreadyRunning)

	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop(), "stop is idempotent")
	require.ErrorIs(t, d.Start(), ErrStopped,
		"a stopped daemon has released its databases and cannot restart")
}

func TestDaemon_Stop_WithoutStart(t *testing.T) {
	d, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	require.NoError(t, d.Stop(),
		"a constructed but never started daemon must still tear down cleanly")
}

func TestDaemon_Post_RanksByImportance(t *testing.T) {
	d := newTestDaemon(t, nil)

	// Importance set before the apps ever post lands in the staging index
	// and is adopted when the first post registers the package.
	require.NoError(t, d.SetImportance("org.example.pager", policy.ImportanceHigh))
	require.NoError(t, d.SetImportance("org.example.promo", policy.ImportanceLow))

	high, err := d.Post(PostRequest{Pkg: "org.example.pager", Title: "on call"})
	require.NoError(t, err)
	mid, err := d.Post(PostRequest{Pkg: "org.example.mail", Title: "new message"})
	require.NoError(t, err)
	low, err := d.Post(PostRequest{Pkg: "org.example.promo", Title: "sale"})
	require.NoError(t, err)

	list := waitRanked(t, d, 3)
	assert.Equal(t, []string{high, mid, low}, rankedIDs(list),
		"notifications sort by importance, most important first")
}

func TestDaemon_Post_AutoRegistersUnknownPackage(t *testing.T) {
	d := newTestDaemon(t, nil)

	id, err := d.Post(PostRequest{Pkg: "org.example.newcomer", Title: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	apps, err := d.Apps()
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "org.example.newcomer", apps[0].Pkg)
	assert.Equal(t, policy.MaxLegacyGeneration, apps[0].TargetGen,
		"self-registered packages get the legacy generation")
	assert.GreaterOrEqual(t, apps[0].UID, 10000)

	st := d.Status()
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 1, st.Records)
}

func TestDaemon_Post_BlockedPackage(t *testing.T) {
	d := newTestDaemon(t, nil)

	_, err := d.RegisterApp("org.example.spam", 1)
	require.NoError(t, err)
	require.NoError(t, d.SetEnabled("org.example.spam", false))

	_, err = d.Post(PostRequest{Pkg: "org.example.spam", Title: "buy now"})
	require.ErrorIs(t, err, policy.ErrPackageBlocked)

	_, err = d.Post(PostRequest{Title: "no sender"})
	require.ErrorIs(t, err, policy.ErrInvalidArgument)
}

func TestDaemon_DismissAndClick_TrackUsage(t *testing.T) {
	d := newTestDaemon(t, nil)

	first, err := d.Post(PostRequest{Pkg: "org.example.chat", Title: "one"})
	require.NoError(t, err)
	second, err := d.Post(PostRequest{Pkg: "org.example.chat", Title: "two"})
	require.NoError(t, err)
	waitRanked(t, d, 2)

	require.NoError(t, d.Dismiss(first))
	left := d.Ranked()
	require.Len(t, left, 1, "dismissals disappear without waiting for a re-sort")
	assert.Equal(t, second, left[0].ID)

	require.NoError(t, d.Click(second))
	assert.Empty(t, d.Ranked(), "a clicked notification is auto-cancelled")

	require.ErrorIs(t, d.Dismiss(first), ErrNoSuchNotification)
	require.ErrorIs(t, d.Click("bogus"), ErrNoSuchNotification)

	stats := d.UsageStats()
	require.Len(t, stats, 1)
	assert.Equal(t, "org.example.chat", stats[0].Pkg)
	assert.EqualValues(t, 2, stats[0].Posted)
	assert.EqualValues(t, 1, stats[0].Dismissed)
	assert.EqualValues(t, 1, stats[0].Clicked)
}

func TestDaemon_Sort_GroupMembersStayAdjacent(t *testing.T) {
	d := newTestDaemon(t, nil)
	require.NoError(t, d.SetImportance("org.example.vip", policy.ImportanceHigh))

	child, err := d.Post(PostRequest{Pkg: "org.example.chat", Title: "msg", Group: "room"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	vip, err := d.Post(PostRequest{Pkg: "org.example.vip", Title: "urgent"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	summary, err := d.Post(PostRequest{Pkg: "org.example.chat", Title: "2 messages", Group: "room", Summary: true})
	require.NoError(t, err)

	list := waitRanked(t, d, 3)
	assert.Equal(t, []string{vip, summary, child}, rankedIDs(list),
		"group members sort together under their proxy, summary first, even when an unrelated notification outranks them")
}

func TestDaemon_Save_Debounced(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg)

	_, err := d.RegisterApp("org.example.mail", 1)
	require.NoError(t, err)
	assert.NoFileExists(t, cfg.Policy.Path,
		"mutations schedule a delayed save rather than writing inline")

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.Policy.Path)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "the debounced save must land")
}

func TestDaemon_SaveLoad_RoundTrip(t *testing.T) {
	cfg := testConfig(t)

	d1, err := New(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, d1.Start())

	_, err = d1.RegisterApp("org.example.mail", 1)
	require.NoError(t, err)
	require.NoError(t, d1.SetImportance("org.example.mail", policy.ImportanceHigh))
	inbox := policy.NewChannel("inbox", "Inbox", policy.ImportanceLow)
	require.NoError(t, d1.CreateChannel("org.example.mail", inbox, false))
	require.NoError(t, d1.Stop())

	d2 := newTestDaemon(t, cfg)
	imp, err := d2.Importance("org.example.mail")
	require.NoError(t, err)
	assert.Equal(t, policy.ImportanceHigh, imp)

	got, err := d2.Channel("org.example.mail", "inbox")
	require.NoError(t, err)
	assert.Equal(t, "Inbox", got.Name)
	assert.Equal(t, policy.ImportanceLow, got.Importance)
	assert.Equal(t, 1, d2.Status().Records)
}

func TestDaemon_RegisterApp_ClampsModernDefaultChannel(t *testing.T) {
	d := newTestDaemon(t, nil)

	_, err := d.RegisterApp("org.example.modern", policy.MaxLegacyGeneration+1)
	require.NoError(t, err)
	_, err = d.Importance("org.example.modern")
	require.NoError(t, err)
	ch, err := d.Channel("org.example.modern", policy.DefaultChannelID)
	require.NoError(t, err)
	assert.Equal(t, policy.ImportanceLow, ch.Importance,
		"post-legacy packages are expected to declare channels, so the catch-all is demoted")

	_, err = d.RegisterApp("org.example.legacy", policy.MaxLegacyGeneration)
	require.NoError(t, err)
	_, err = d.Importance("org.example.legacy")
	require.NoError(t, err)
	ch, err = d.Channel("org.example.legacy", policy.DefaultChannelID)
	require.NoError(t, err)
	assert.Equal(t, policy.ImportanceUnspecified, ch.Importance,
		"legacy packages keep the unclamped default channel")
}

func TestDaemon_BackupRestore_AcrossMachines(t *testing.T) {
	a := newTestDaemon(t, testConfig(t))
	_, err := a.RegisterApp("org.example.mail", 1)
	require.NoError(t, err)
	require.NoError(t, a.SetImportance("org.example.mail", policy.ImportanceHigh))

	data, err := a.ExportBackup()
	require.NoError(t, err)
	assert.Contains(t, string(data), "org.example.mail")

	// A separate config is a separate machine: fresh registry, new uids.
	b := newTestDaemon(t, testConfig(t))
	require.NoError(t, b.ImportBackup(data))

	st := b.Status()
	assert.Equal(t, 0, st.Records)
	assert.Equal(t, 1, st.Staged, "restored settings wait for the package to appear")

	imp, err := b.Importance("org.example.mail")
	require.NoError(t, err)
	assert.Equal(t, policy.ImportanceHigh, imp,
		"staged settings answer lookups while the package is missing")

	_, err = b.RegisterApp("org.example.mail", 1)
	require.NoError(t, err)

	st = b.Status()
	assert.Equal(t, 1, st.Records, "installing the package adopts its staged record")
	assert.Equal(t, 0, st.Staged)
	imp, err = b.Importance("org.example.mail")
	require.NoError(t, err)
	assert.Equal(t, policy.ImportanceHigh, imp)
}

func TestDaemon_Load_RejectsCorruptSnapshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Policy.Secure = true

	d1, err := New(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, d1.Start())
	_, err = d1.RegisterApp("org.example.mail", 1)
	require.NoError(t, err)
	require.NoError(t, d1.SetImportance("org.example.mail", policy.ImportanceHigh))
	require.NoError(t, d1.Stop())

	data, err := os.ReadFile(cfg.Policy.Path)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(cfg.Policy.Path, data, 0600))

	d2, err := New(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, d2.Start(),
		"a rejected snapshot must not keep the daemon down")
	t.Cleanup(func() { _ = d2.Stop() })

	assert.Equal(t, 0, d2.Status().Records,
		"nothing from a tampered snapshot may be trusted")
	assert.EqualValues(t, 1, d2.Metrics().ParseFailuresTotal.Value())
}

func TestDaemon_Watcher_ReloadsExternalEdit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Policy.WatchExternal = true
	cfg.Policy.WatchDebounceMs = 150
	d := newTestDaemon(t, cfg)

	app, err := d.RegisterApp("org.example.chat", 1)
	require.NoError(t, err)
	// Flush the debounced save now so it cannot overwrite the edit below.
	require.NoError(t, d.SavePolicy())

	ext := fmt.Sprintf(`<ranking version="1"><package name="org.example.chat" uid="%d" importance="4" /></ranking>`, app.UID)
	require.NoError(t, os.WriteFile(cfg.Policy.Path, []byte(ext), 0600))

	require.Eventually(t, func() bool {
		imp, err := d.Importance("org.example.chat")
		return err == nil && imp == policy.ImportanceHigh
	}, 8*time.Second, 50*time.Millisecond,
		"an external edit must be reloaded while the daemon runs")
}

func TestDaemon_Intrusive_FlagDecays(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ranking.HangTimeSec = 1
	d := newTestDaemon(t, cfg)

	_, err := d.RegisterApp("org.example.alarm", 1)
	require.NoError(t, err)
	alerts := policy.NewChannel("alerts", "Alerts", policy.ImportanceHigh)
	alerts.Sound = "bell"
	require.NoError(t, d.CreateChannel("org.example.alarm", alerts, false))

	id, err := d.Post(PostRequest{Pkg: "org.example.alarm", ChannelID: "alerts", Title: "wake up"})
	require.NoError(t, err)

	list := waitRanked(t, d, 1)
	require.Equal(t, id, list[0].ID)
	assert.True(t, recentlyIntrusive(d, list[0]),
		"a post that made noise starts flagged")

	require.Eventually(t, func() bool {
		return !recentlyIntrusive(d, list[0])
	}, 5*time.Second, 50*time.Millisecond,
		"the flag must decay once the hang time passes")
}

func TestDaemon_Dump_Formats(t *testing.T) {
	d := newTestDaemon(t, nil)

	_, err := d.RegisterApp("org.example.mail", 1)
	require.NoError(t, err)
	require.NoError(t, d.SetImportance("org.example.mail", policy.ImportanceHigh))
	inbox := policy.NewChannel("inbox", "Inbox", policy.ImportanceDefault)
	require.NoError(t, d.CreateChannel("org.example.mail", inbox, false))

	_, err = d.RegisterApp("org.example.spam", 1)
	require.NoError(t, err)
	require.NoError(t, d.SetEnabled("org.example.spam", false))

	var buf bytes.Buffer
	d.Dump(&buf, nil)
	out := buf.String()
	assert.Contains(t, out, "extractors (3):")
	assert.Contains(t, out, "Records:")
	assert.Contains(t, out, "org.example.mail")

	raw, err := d.DumpJSON(nil)
	require.NoError(t, err)
	var rep struct {
		NoUID   []json.RawMessage `json:"no_uid"`
		Records []struct {
			Package string `json:"package"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(raw, &rep))
	require.Len(t, rep.Records, 2)
	names := []string{rep.Records[0].Package, rep.Records[1].Package}
	assert.ElementsMatch(t, []string{"org.example.mail", "org.example.spam"}, names)

	bansRaw, err := d.DumpBans(nil)
	require.NoError(t, err)
	var bans []struct {
		UserScope int    `json:"user_scope"`
		Package   string `json:"package"`
	}
	require.NoError(t, json.Unmarshal(bansRaw, &bans))
	require.Len(t, bans, 1)
	assert.Equal(t, "org.example.spam", bans[0].Package)
}

func TestDaemon_RemoveApp_DropsActiveNotifications(t *testing.T) {
	d := newTestDaemon(t, nil)

	_, err := d.Post(PostRequest{Pkg: "org.example.chat", Title: "one"})
	require.NoError(t, err)
	_, err = d.Post(PostRequest{Pkg: "org.example.chat", Title: "two"})
	require.NoError(t, err)
	keep, err := d.Post(PostRequest{Pkg: "org.example.mail", Title: "stays"})
	require.NoError(t, err)
	waitRanked(t, d, 3)

	require.NoError(t, d.RemoveApp("org.example.chat"))

	left := d.Ranked()
	require.Len(t, left, 1)
	assert.Equal(t, keep, left[0].ID)

	apps, err := d.Apps()
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "org.example.mail", apps[0].Pkg)

	st := d.Status()
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 2, st.Records, "policy outlives the uninstall")
}
