package comm

import (
	"context"
	"testing"
	"time"

	"github.com/brendan721/flipsync-agents/internal/agents"
	"github.com/brendan721/flipsync-agents/internal/bus"
	"github.com/brendan721/flipsync-agents/internal/protocol"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

func TestSendDispatchesCommandAndReceivesResponse(t *testing.T) {
	b := bus.New(nil)
	reg := registry.New(b, nil, 0)
	reg.Register(registry.Agent{ID: "market-1", Category: registry.CategoryMarket, Status: registry.StatusActive})

	mgr := New(reg, b, nil)
	market := agents.NewMarketAgent(map[string]agents.Quote{"bitcoin": {Price: 50000, Volume: 1000000}}, nil)
	mgr.RegisterHandler("market-1", market)

	respCh := make(chan bus.Event, 1)
	b.Subscribe(bus.And(bus.KindFilter{Kinds: []bus.Kind{bus.KindResponse}}, bus.TargetFilter{Targets: []string{"caller-1"}}),
		func(ctx context.Context, ev bus.Event) { respCh <- ev })

	cmd := protocol.NewCommand("caller-1", "market-1", "fetch_price", map[string]any{"symbol": "bitcoin"}, nil, protocol.PriorityNormal)
	if !mgr.Send(context.Background(), cmd) {
		t.Fatal("expected Send to succeed")
	}

	select {
	case ev := <-respCh:
		payload, ok := ev.Payload.(map[string]any)
		if !ok {
			t.Fatalf("unexpected payload type %T", ev.Payload)
		}
		if payload["status"] != "ok" {
			t.Fatalf("expected ok status, got %#v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestExecuteStageInvokesRegisteredHandlerDirectly(t *testing.T) {
	b := bus.New(nil)
	reg := registry.New(b, nil, 0)
	reg.Register(registry.Agent{ID: "market-1", Category: registry.CategoryMarket, Status: registry.StatusActive})

	mgr := New(reg, b, nil)
	market := agents.NewMarketAgent(map[string]agents.Quote{"bitcoin": {Price: 50000, Volume: 1000000}}, nil)
	mgr.RegisterHandler("market-1", market)

	result, err := mgr.ExecuteStage(context.Background(), "market-1", "fetch_price", map[string]any{"symbol": "bitcoin"})
	if err != nil {
		t.Fatalf("execute stage: %v", err)
	}
	quote, ok := result["bitcoin"].(map[string]any)
	if !ok || quote["price"] != 50000.0 {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestSendToUnhealthyAgentFails(t *testing.T) {
	b := bus.New(nil)
	reg := registry.New(b, nil, 0)
	reg.Register(registry.Agent{ID: "agent-1", Status: registry.StatusInactive})
	mgr := New(reg, b, nil)

	cmd := protocol.NewCommand("caller", "agent-1", "noop", nil, nil, protocol.PriorityNormal)
	if mgr.Send(context.Background(), cmd) {
		t.Fatal("expected Send to an inactive agent to fail")
	}
}
