package ranking

// preliminaryLess ranks individual notifications before any group handling:
// importance, then usage affinity, then DND bypass, then the legacy package
// priority, then recency. The notification key makes the order total, which
// keeps group proxy nomination deterministic across runs.
func preliminaryLess(a, b *Record) bool {
	if a.Importance != b.Importance {
		return a.Importance > b.Importance
	}
	if a.Relevance != b.Relevance {
		return a.Relevance > b.Relevance
	}
	if ab, bb := a.bypassDND(), b.bypassDND(); ab != bb {
		return ab
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.PostedAt.Equal(b.PostedAt) {
		return a.PostedAt.After(b.PostedAt)
	}
	return a.Key() < b.Key()
}

// finalLess orders by global sort key. Records that went through Sort always
// carry one; a record without a key sorts after every keyed record.
func finalLess(a, b *Record) bool {
	if a.globalSortKey == "" {
		return false
	}
	if b.globalSortKey == "" {
		return true
	}
	return a.globalSortKey < b.globalSortKey
}
