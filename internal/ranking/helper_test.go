package ranking

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyd/internal/notification"
	"notifyd/internal/policy"
)

// Test helpers

type fakeScheduler struct {
	sorts  []bool
	recons []*Reconsideration
}

func (f *fakeScheduler) RequestSort(force bool) { f.sorts = append(f.sorts, force) }
func (f *fakeScheduler) RequestReconsideration(rec *Reconsideration) {
	f.recons = append(f.recons, rec)
}

func newTestHelper(t *testing.T) (*Helper, *policy.Store, *fakeScheduler) {
	t.Helper()
	store := policy.NewStore(nil, nil)
	sched := &fakeScheduler{}
	h := NewHelper(store, sched, DefaultExtractors(), Deps{}, nil)
	store.SetListener(h)
	return h, store, sched
}

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRecord(id string, imp policy.Importance) *Record {
	n := &notification.Notification{
		ID:       id,
		Pkg:      "org.example.app",
		UID:      10001,
		PostedAt: testEpoch,
	}
	r := NewRecord(n)
	r.Importance = imp
	return r
}

func grouped(r *Record, group string, summary bool) *Record {
	r.Group = group
	r.Summary = summary
	return r
}

func postedAt(r *Record, offset time.Duration) *Record {
	r.PostedAt = testEpoch.Add(offset)
	return r
}

func order(list []*Record) []string {
	ids := make([]string, len(list))
	for i, r := range list {
		ids[i] = r.ID
	}
	return ids
}

// =============================================================================
// Two-pass sort
// =============================================================================

func TestHelper_Sort_ByImportance(t *testing.T) {
	h, _, _ := newTestHelper(t)

	list := []*Record{
		testRecord("low", policy.ImportanceLow),
		testRecord("max", policy.ImportanceMax),
		testRecord("default", policy.ImportanceDefault),
	}
	h.Sort(list)

	assert.Equal(t, []string{"max", "default", "low"}, order(list))
	for i, r := range list {
		assert.Equal(t, i, r.AuthoritativeRank())
		assert.NotEmpty(t, r.GlobalSortKey())
	}
}

func TestHelper_Sort_TiesBreakOnRecency(t *testing.T) {
	h, _, _ := newTestHelper(t)

	list := []*Record{
		postedAt(testRecord("old", policy.ImportanceDefault), 0),
		postedAt(testRecord("new", policy.ImportanceDefault), time.Minute),
	}
	h.Sort(list)

	assert.Equal(t, []string{"new", "old"}, order(list))
}

func TestHelper_Sort_GroupMembersStayAdjacent(t *testing.T) {
	h, _, _ := newTestHelper(t)

	list := []*Record{
		grouped(testRecord("chat-a", policy.ImportanceMax), "chat", false),
		testRecord("solo", policy.ImportanceHigh),
		grouped(testRecord("chat-b", policy.ImportanceLow), "chat", false),
	}
	h.Sort(list)

	got := order(list)
	chatA, chatB := -1, -1
	for i, id := range got {
		switch id {
		case "chat-a":
			chatA = i
		case "chat-b":
			chatB = i
		}
	}
	require.NotEqual(t, -1, chatA)
	require.NotEqual(t, -1, chatB)
	assert.Equal(t, 1, abs(chatA-chatB), "group members must be adjacent, got %v", got)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func TestHelper_Sort_SummaryIsGroupProxy(t *testing.T) {
	h, _, _ := newTestHelper(t)

	// The summary ranks below both members individually, yet it must still
	// represent the group and lead it in the final order.
	summary := grouped(testRecord("summary", policy.ImportanceLow), "chat", true)
	list := []*Record{
		grouped(testRecord("member-1", policy.ImportanceMax), "chat", false),
		grouped(testRecord("member-2", policy.ImportanceHigh), "chat", false),
		summary,
	}
	h.Sort(list)

	wantRank := fmt.Sprintf("grnk=0x%04x", summary.AuthoritativeRank())
	for _, r := range list {
		assert.Contains(t, r.GlobalSortKey(), wantRank,
			"every member must carry the summary's rank as group rank")
	}
	assert.Equal(t, "summary", list[0].ID, "summaries sort ahead of members within the group")
}

func TestHelper_Sort_NoSummaryProxyIsLastMember(t *testing.T) {
	h, _, _ := newTestHelper(t)

	// Without a summary the proxy is the member the reverse walk meets
	// first, i.e. the group's weakest. The whole group sinks to that rank.
	list := []*Record{
		grouped(testRecord("chat-strong", policy.ImportanceMax), "chat", false),
		grouped(testRecord("chat-weak", policy.ImportanceMin), "chat", false),
		testRecord("solo", policy.ImportanceDefault),
	}
	h.Sort(list)

	assert.Equal(t, []string{"solo", "chat-strong", "chat-weak"}, order(list))
}

func TestHelper_Sort_GroupSortKeyOrdering(t *testing.T) {
	h, _, _ := newTestHelper(t)

	empty := grouped(testRecord("empty-key", policy.ImportanceDefault), "chat", false)
	empty.SetSortKey("")
	named := grouped(testRecord("named-key", policy.ImportanceDefault), "chat", false)
	named.SetSortKey("x")
	absent := grouped(testRecord("absent-key", policy.ImportanceDefault), "chat", false)

	// Recency would put the absent-key member first; the developer sort key
	// must override that inside the group.
	postedAt(absent, 3*time.Minute)
	postedAt(named, 2*time.Minute)
	postedAt(empty, time.Minute)

	list := []*Record{absent, named, empty}
	h.Sort(list)

	assert.Equal(t, []string{"empty-key", "named-key", "absent-key"}, order(list),
		`group sort keys order as "" < non-empty < absent`)
}

func TestHelper_Sort_RankEncoding(t *testing.T) {
	h, _, _ := newTestHelper(t)

	var list []*Record
	for i := 0; i < 16; i++ {
		r := testRecord(fmt.Sprintf("n%02d", i), policy.ImportanceDefault)
		postedAt(r, -time.Duration(i)*time.Minute)
		list = append(list, r)
	}
	h.Sort(list)

	assert.Contains(t, list[0].GlobalSortKey(), "rnk=0x0000")
	assert.Contains(t, list[15].GlobalSortKey(), "rnk=0x000f")

	// Lexicographic order of the encoded keys matches numeric rank order.
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].GlobalSortKey(), list[i].GlobalSortKey())
	}
}

func TestHelper_Sort_RecentlyIntrusiveFloats(t *testing.T) {
	h, _, _ := newTestHelper(t)

	quiet := testRecord("quiet", policy.ImportanceMax)
	noisy := testRecord("noisy", policy.ImportanceLow)
	noisy.SetRecentlyIntrusive(true)

	list := []*Record{quiet, noisy}
	h.Sort(list)

	assert.Equal(t, []string{"noisy", "quiet"}, order(list),
		"a notification that just interrupted the user outranks calmer ones")
	assert.True(t, strings.HasPrefix(noisy.GlobalSortKey(), "intrsv=0"))
	assert.True(t, strings.HasPrefix(quiet.GlobalSortKey(), "intrsv=1"))
}

func TestHelper_Sort_ClearsStaleKeys(t *testing.T) {
	h, _, _ := newTestHelper(t)

	a := testRecord("a", policy.ImportanceLow)
	b := testRecord("b", policy.ImportanceHigh)
	list := []*Record{a, b}
	h.Sort(list)
	firstKey := a.GlobalSortKey()

	a.Importance = policy.ImportanceMax
	h.Sort(list)
	assert.NotEqual(t, firstKey, a.GlobalSortKey(), "keys are rebuilt on every sort")
	assert.Equal(t, []string{"a", "b"}, order(list))
}

func TestHelper_Sort_Empty(t *testing.T) {
	h, _, _ := newTestHelper(t)
	h.Sort(nil)
	h.Sort([]*Record{})
}

// =============================================================================
// Position lookup
// =============================================================================

func TestHelper_IndexOf(t *testing.T) {
	h, _, _ := newTestHelper(t)

	list := []*Record{
		testRecord("a", policy.ImportanceMax),
		testRecord("b", policy.ImportanceDefault),
		testRecord("c", policy.ImportanceMin),
	}
	h.Sort(list)

	for want, r := range list {
		assert.Equal(t, want, h.IndexOf(list, r))
	}

	stranger := testRecord("stranger", policy.ImportanceMax)
	assert.Equal(t, -1, h.IndexOf(list, stranger))
}

// =============================================================================
// Pipeline
// =============================================================================

type panicExtractor struct{}

func (panicExtractor) Kind() string                     { return "panic" }
func (panicExtractor) SetConfig(Config)                 {}
func (panicExtractor) Process(*Record) *Reconsideration { panic("boom") }

func TestHelper_ExtractSignals_IsolatesFailures(t *testing.T) {
	h, _, sched := newTestHelper(t)
	h.extractors = append([]Extractor{panicExtractor{}}, h.extractors...)

	r := NewRecord(notification.New("org.example.app", 10001, ""))
	h.ExtractSignals(r)

	assert.Equal(t, policy.ImportanceDefault, r.Importance,
		"extractors after the failing one must still run")
	assert.NotEmpty(t, sched.recons, "the intrusiveness decay must still be scheduled")
}

func TestHelper_Reconfigure_OnPolicyMutation(t *testing.T) {
	_, store, sched := newTestHelper(t)

	store.SetImportance("org.example.app", 10001, policy.ImportanceHigh)
	require.NotEmpty(t, sched.sorts, "policy mutations must request a re-sort")
	assert.False(t, sched.sorts[0], "mutation-driven sorts are not forced")
}

func TestNewHelper_SkipsUnknownKinds(t *testing.T) {
	store := policy.NewStore(nil, nil)
	h := NewHelper(store, &fakeScheduler{}, []string{KindPolicy, "seance", KindRelevance}, Deps{}, nil)

	assert.Equal(t, []string{KindPolicy, KindRelevance}, h.Extractors())
	assert.Nil(t, h.FindExtractor("seance"))
	assert.NotNil(t, h.FindExtractor(KindPolicy))
}
