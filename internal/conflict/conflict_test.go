package conflict

import "testing"

func TestMergeLastWinsOnOverlapOrderInsensitiveOnDisjoint(t *testing.T) {
	r := New(nil, nil)
	id := r.Detect(KindData, []map[string]any{
		{"price": 10, "qty": 1},
		{"qty": 2, "color": "red"},
	}, "price/qty contention", nil)

	got, err := r.Resolve(id, StrategyMerge, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	m := got.(map[string]any)
	if m["price"] != 10 || m["qty"] != 2 || m["color"] != "red" {
		t.Fatalf("unexpected merge result: %#v", m)
	}
}

func TestDataConflictDefaultsToLastStrategy(t *testing.T) {
	r := New(nil, nil)
	id := r.Detect(KindData, []map[string]any{{"v": 1}, {"v": 2}}, "", nil)
	got, err := r.Resolve(id, "", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	m := got.(map[string]any)
	if m["v"] != 2 {
		t.Fatalf("expected default Last strategy to pick {v:2}, got %#v", m)
	}
}

func TestPriorityPicksHighestPriorityField(t *testing.T) {
	r := New(nil, nil)
	id := r.Detect(KindResource, []map[string]any{
		{"id": "a", "priority": 1},
		{"id": "b", "priority": 5},
	}, "", nil)

	got, err := r.Resolve(id, StrategyPriority, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	m := got.(map[string]any)
	if m["id"] != "b" {
		t.Fatalf("expected entity b to win on priority, got %#v", m)
	}
}

func TestResolveTwiceOnTerminalConflictFails(t *testing.T) {
	r := New(nil, nil)
	id := r.Detect(KindOther, []map[string]any{{"a": 1}}, "", nil)
	if _, err := r.Resolve(id, StrategyFirst, nil); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := r.Resolve(id, StrategyFirst, nil); err == nil {
		t.Fatal("expected error resolving an already-resolved conflict")
	}
}

func TestIgnoreTransitionsToTerminalIgnored(t *testing.T) {
	r := New(nil, nil)
	id := r.Detect(KindOther, nil, "", nil)
	if err := r.Ignore(id, "not actionable"); err != nil {
		t.Fatalf("ignore: %v", err)
	}
	got, err := r.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusIgnored {
		t.Fatalf("expected Ignored, got %s", got.Status)
	}
}
