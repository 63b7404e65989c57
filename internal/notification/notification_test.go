package notification

import "testing"

func TestKey_IncludesScope(t *testing.T) {
	n := New("org.example.mail", 1010001, "inbox")
	if n.ID == "" {
		t.Fatal("expected generated id")
	}
	want := "10|org.example.mail|" + n.ID
	if n.Key() != want {
		t.Errorf("Key() = %q, want %q", n.Key(), want)
	}
}

func TestGroupKey(t *testing.T) {
	solo := New("org.example.mail", 10001, "")
	if solo.GroupKey() != solo.Key() {
		t.Errorf("ungrouped notification must form a singleton group, got %q", solo.GroupKey())
	}

	a := New("org.example.mail", 10001, "")
	b := New("org.example.mail", 10001, "")
	a.Group = "thread"
	b.Group = "thread"
	if a.GroupKey() != b.GroupKey() {
		t.Errorf("same group must share a key: %q vs %q", a.GroupKey(), b.GroupKey())
	}
	if a.GroupKey() == solo.GroupKey() {
		t.Error("grouped and ungrouped keys must differ")
	}
}

func TestSetSortKey_DistinguishesEmptyFromAbsent(t *testing.T) {
	n := New("org.example.mail", 10001, "")
	if n.SortKey != nil {
		t.Fatal("sort key must start absent")
	}
	n.SetSortKey("")
	if n.SortKey == nil || *n.SortKey != "" {
		t.Fatal("explicit empty sort key must be preserved as empty, not absent")
	}
}
