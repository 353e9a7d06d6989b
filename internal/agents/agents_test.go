package agents

import (
	"context"
	"testing"

	"github.com/brendan721/flipsync-agents/internal/adapters/llm"
	"github.com/brendan721/flipsync-agents/internal/coorderrors"
)

func TestMarketAgentFetchAndUpdatePrice(t *testing.T) {
	m := NewMarketAgent(map[string]Quote{"SKU-1": {Price: 10, Volume: 100}}, nil)

	out, err := m.ExecuteCommand(context.Background(), "fetch_price", map[string]any{"symbol": "SKU-1"})
	if err != nil {
		t.Fatalf("fetch_price: %v", err)
	}
	entry := out["SKU-1"].(map[string]any)
	if entry["price"].(float64) != 10 {
		t.Fatalf("expected price 10, got %v", entry["price"])
	}

	if _, err := m.ExecuteCommand(context.Background(), "update_price", map[string]any{
		"symbol": "SKU-1", "price": 12.5, "volume": 50.0,
	}); err != nil {
		t.Fatalf("update_price: %v", err)
	}

	out, err = m.ExecuteCommand(context.Background(), "fetch_price", map[string]any{"symbol": "SKU-1"})
	if err != nil {
		t.Fatalf("fetch_price after update: %v", err)
	}
	entry = out["SKU-1"].(map[string]any)
	if entry["price"].(float64) != 12.5 {
		t.Fatalf("expected updated price 12.5, got %v", entry["price"])
	}
}

func TestMarketAgentFetchUnknownSymbolNotFound(t *testing.T) {
	m := NewMarketAgent(nil, nil)
	_, err := m.ExecuteCommand(context.Background(), "fetch_price", map[string]any{"symbol": "missing"})
	if !coorderrors.IsKind(err, coorderrors.KindNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestMarketAgentSyncExternalRequiresClient(t *testing.T) {
	m := NewMarketAgent(nil, nil)
	_, err := m.ExecuteCommand(context.Background(), "sync_external", map[string]any{"symbol": "SKU-1"})
	if !coorderrors.IsKind(err, coorderrors.KindCoordination) {
		t.Fatalf("expected coordination error without a marketplace client, got %v", err)
	}
}

func TestAssistantAgentProcessMessageUsesLLMClient(t *testing.T) {
	mock := llm.NewMockClientWithFunc(func(ctx context.Context, req llm.Request) (string, error) {
		if req.SystemPrompt == "" {
			t.Fatal("expected a system prompt to be set")
		}
		return "try the logistics specialist", nil
	})
	a := NewAssistantAgent(mock)

	reply, err := a.ProcessMessage(context.Background(), "where is my shipment", nil)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if reply != "try the logistics specialist" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if mock.CallCount != 1 {
		t.Fatalf("expected exactly one completion call, got %d", mock.CallCount)
	}
}

func TestExecutiveContentLogisticsHandlers(t *testing.T) {
	exec := NewExecutiveAgent()
	if _, err := exec.ExecuteCommand(context.Background(), "decide", nil); err != nil {
		t.Fatalf("executive decide: %v", err)
	}
	if _, err := exec.ExecuteCommand(context.Background(), "bogus", nil); !coorderrors.IsKind(err, coorderrors.KindValidation) {
		t.Fatalf("expected validation error for unknown command")
	}

	content := NewContentAgent()
	out, err := content.ExecuteCommand(context.Background(), "draft_listing", map[string]any{"product": "Widget"})
	if err != nil {
		t.Fatalf("content draft_listing: %v", err)
	}
	if out["title"] != "Widget" {
		t.Fatalf("expected title Widget, got %v", out["title"])
	}

	logistics := NewLogisticsAgent()
	if _, err := logistics.ExecuteCommand(context.Background(), "sync_inventory", nil); err != nil {
		t.Fatalf("logistics sync_inventory: %v", err)
	}
}
