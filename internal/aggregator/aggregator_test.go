package aggregator

import "testing"

func TestCollectIsPureFunctionOfInputs(t *testing.T) {
	a := New(nil, nil)
	a.RegisterTask("t1", StrategyCollect, nil)
	_ = a.AddResult("t1", "agentA", "x", nil)
	_ = a.AddResult("t1", "agentB", "y", nil)

	first, err := a.Aggregate("t1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	second, err := a.Aggregate("t1")
	if err != nil {
		t.Fatalf("aggregate again: %v", err)
	}

	m1, m2 := first.(map[string]any), second.(map[string]any)
	if m1["agentA"] != m2["agentA"] || m1["agentB"] != m2["agentB"] {
		t.Fatalf("aggregate not idempotent: %#v vs %#v", m1, m2)
	}
}

func TestAggregateDoesNotConsumeEntries(t *testing.T) {
	a := New(nil, nil)
	a.RegisterTask("t1", StrategyFirst, nil)
	_ = a.AddResult("t1", "agentA", "first", nil)

	if _, err := a.Aggregate("t1"); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	entries, err := a.GetResults("t1")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected entries to remain after aggregation, got %d", len(entries))
	}
}

func TestWeightedCombinesByWeight(t *testing.T) {
	a := New(nil, nil)
	a.RegisterTask("t1", StrategyWeighted, nil)
	_ = a.AddResult("t1", "a1", 10.0, map[string]any{"weight": 1.0})
	_ = a.AddResult("t1", "a2", 20.0, map[string]any{"weight": 3.0})

	got, err := a.Aggregate("t1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	want := (10.0*1.0 + 20.0*3.0) / 4.0
	if got.(float64) != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestWeightedZeroTotalWeightYieldsNil(t *testing.T) {
	a := New(nil, nil)
	a.RegisterTask("t1", StrategyWeighted, nil)
	_ = a.AddResult("t1", "a1", 10.0, map[string]any{"weight": 0.0})

	got, err := a.Aggregate("t1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestMajorityPicksModalResult(t *testing.T) {
	a := New(nil, nil)
	a.RegisterTask("t1", StrategyMajority, nil)
	_ = a.AddResult("t1", "a1", "buy", nil)
	_ = a.AddResult("t1", "a2", "sell", nil)
	_ = a.AddResult("t1", "a3", "buy", nil)

	got, err := a.Aggregate("t1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if got != "buy" {
		t.Fatalf("expected buy, got %v", got)
	}
}

func TestLastReturnsMostRecentEntry(t *testing.T) {
	a := New(nil, nil)
	a.RegisterTask("t1", StrategyLast, nil)
	_ = a.AddResult("t1", "a1", "x", nil)
	_ = a.AddResult("t1", "a2", "y", nil)

	got, err := a.Aggregate("t1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if got != "y" {
		t.Fatalf("expected y, got %v", got)
	}
}

func TestCustomStrategyInvokesSuppliedFunction(t *testing.T) {
	a := New(nil, nil)
	a.RegisterTask("t1", StrategyCustom, func(entries []Entry) (any, error) {
		return len(entries), nil
	})
	_ = a.AddResult("t1", "a1", "x", nil)
	_ = a.AddResult("t1", "a2", "y", nil)

	got, err := a.Aggregate("t1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
}
