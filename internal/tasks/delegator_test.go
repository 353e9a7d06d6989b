package tasks

import (
	"testing"

	"github.com/brendan721/flipsync-agents/internal/bus"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

func newTestDelegator(t *testing.T) (*Delegator, *registry.Registry) {
	t.Helper()
	b := bus.New(nil)
	reg := registry.New(b, nil, 0)
	return New(reg, b, nil), reg
}

func TestParentSubtaskRollupCompletes(t *testing.T) {
	d, _ := newTestDelegator(t)

	parent := d.CreateTask("analyze", nil, "", 0, nil, nil, ResourceIntensity{})
	subIDs, err := d.Decompose(parent, []SubtaskDef{
		{Type: "s1"}, {Type: "s2"}, {Type: "s3"},
	})
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	results := map[string]string{subIDs[0]: "a", subIDs[1]: "b", subIDs[2]: "c"}
	// complete in arbitrary (reverse) order
	for i := len(subIDs) - 1; i >= 0; i-- {
		id := subIDs[i]
		if err := d.UpdateStatus(id, StatusCompleted, map[string]any{"value": results[id]}, ""); err != nil {
			t.Fatalf("update subtask %d: %v", i, err)
		}
	}

	got, err := d.Get(parent)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected parent Completed, got %s", got.Status)
	}
	for i, id := range subIDs {
		sub := got.Result[id]
		m, ok := sub.(map[string]any)
		if !ok || m["value"] != results[id] {
			t.Fatalf("subtask %d result mismatch: got %#v", i, sub)
		}
	}
}

func TestParentFailsWhenAnySubtaskFails(t *testing.T) {
	d, _ := newTestDelegator(t)

	parent := d.CreateTask("analyze", nil, "", 0, nil, nil, ResourceIntensity{})
	subIDs, _ := d.Decompose(parent, []SubtaskDef{{Type: "s1"}, {Type: "s2"}})

	_ = d.UpdateStatus(subIDs[0], StatusCompleted, map[string]any{"value": "a"}, "")
	_ = d.UpdateStatus(subIDs[1], StatusFailed, nil, "boom")

	got, err := d.Get(parent)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected parent Failed, got %s", got.Status)
	}
	if got.Error != "one or more subtasks failed" {
		t.Fatalf("unexpected parent error: %q", got.Error)
	}
}

func TestAssignOnlyLegalFromCreated(t *testing.T) {
	d, reg := newTestDelegator(t)
	reg.Register(registry.Agent{ID: "a1", Status: registry.StatusActive})

	id := d.CreateTask("t", nil, "", 0, nil, nil, ResourceIntensity{})
	if err := d.Assign(id, "a1"); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if err := d.Assign(id, "a1"); err == nil {
		t.Fatal("expected error re-assigning an already-assigned task")
	}
}

func TestCancelIsNoOpOnTerminalTask(t *testing.T) {
	d, _ := newTestDelegator(t)
	id := d.CreateTask("t", nil, "", 0, nil, nil, ResourceIntensity{})
	_ = d.UpdateStatus(id, StatusFailed, nil, "x")

	if d.Cancel(id) {
		t.Fatal("expected Cancel on a terminal task to return false")
	}
}

func TestCancelParentRecursivelyCancelsSubtasks(t *testing.T) {
	d, _ := newTestDelegator(t)
	parent := d.CreateTask("p", nil, "", 0, nil, nil, ResourceIntensity{})
	subIDs, _ := d.Decompose(parent, []SubtaskDef{{Type: "s1"}, {Type: "s2"}})

	if !d.Cancel(parent) {
		t.Fatal("expected Cancel on active parent to return true")
	}
	for _, id := range subIDs {
		got, _ := d.Get(id)
		if got.Status != StatusCancelled {
			t.Fatalf("expected subtask %s cancelled, got %s", id, got.Status)
		}
	}
}

func TestDelegateByCapabilityPicksFewestActiveTasksTieBrokenByID(t *testing.T) {
	d, reg := newTestDelegator(t)
	cap := registry.NewCapability("market_data", "crypto")
	reg.Register(registry.Agent{ID: "m2", Status: registry.StatusActive, Capabilities: []registry.Capability{registry.NewCapability("market_data", "crypto", "stocks")}})
	reg.Register(registry.Agent{ID: "m1", Status: registry.StatusActive, Capabilities: []registry.Capability{registry.NewCapability("market_data", "crypto")}})

	taskID, err := d.Delegate(DelegateRequest{RequiredCapability: &cap, TaskType: "fetch_price"})
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	got, _ := d.Get(taskID)
	if got.AssignedAgentID != "m1" {
		t.Fatalf("expected m1 selected by id tie-break, got %s", got.AssignedAgentID)
	}
}

func TestDelegateWithNeitherTargetNorCapabilityIsFatal(t *testing.T) {
	d, _ := newTestDelegator(t)
	if _, err := d.Delegate(DelegateRequest{TaskType: "x"}); err == nil {
		t.Fatal("expected error when neither target agent nor capability is given")
	}
}
