package protocol

import "testing"

func TestNewCommandAssignsCorrelationID(t *testing.T) {
	m := NewCommand("coordinator", "agent-1", "ping", nil, nil, PriorityHigh)
	if m.CorrelationID == "" {
		t.Fatal("expected command to receive a correlation id")
	}
	if m.Kind != KindCommand {
		t.Fatalf("expected KindCommand, got %v", m.Kind)
	}
}

func TestResponseCarriesRequestAndCorrelationID(t *testing.T) {
	req := NewQuery("coordinator", "agent-1", "status?", nil, PriorityNormal)
	resp := NewResponse("agent-1", req, "ok", map[string]any{"status": "active"}, nil, 0)

	if !ValidateResponse(req, resp) {
		t.Fatal("expected response to validate against its request")
	}
	if resp.ReceiverID != req.SenderID {
		t.Fatalf("expected response to route back to %q, got %q", req.SenderID, resp.ReceiverID)
	}
}

func TestPriorityMapsOneToOne(t *testing.T) {
	cases := map[Priority]int{
		PriorityLow:      0,
		PriorityNormal:   1,
		PriorityHigh:     2,
		PriorityCritical: 3,
	}
	seen := map[int]bool{}
	for p := range cases {
		busPriority := int(p.ToBusPriority())
		if seen[busPriority] {
			t.Fatalf("priority %v collided with another mapping", p)
		}
		seen[busPriority] = true
	}
}

func TestLegacyMapRoundTrip(t *testing.T) {
	original := NewCommand("coordinator", "agent-1", "reprice", map[string]any{"sku": "ABC"}, nil, PriorityHigh)
	legacy := ToLegacyMap(original)
	restored := FromLegacyMap(legacy)

	if restored.Kind != original.Kind || restored.Command != original.Command {
		t.Fatalf("expected round trip to preserve kind/command, got %+v", restored)
	}
	if restored.Parameters["sku"] != "ABC" {
		t.Fatalf("expected round trip to preserve parameters, got %+v", restored.Parameters)
	}
}

func TestResolveRoutesTargetedMessage(t *testing.T) {
	m := NewUpdate("coordinator", "agent-1", "status changed", PriorityNormal)
	route := Resolve(m)
	if !route.Targeted || route.TargetID != "agent-1" {
		t.Fatalf("expected targeted route to agent-1, got %+v", route)
	}
}

func TestResolveBroadcastsTargetAbsentAlert(t *testing.T) {
	m := NewAlert("coordinator", "critical", "inventory_low", "stock below threshold", PriorityCritical)
	route := Resolve(m)
	if !route.BroadcastByCategory {
		t.Fatalf("expected target-absent alert to be a broadcast candidate, got %+v", route)
	}
}
