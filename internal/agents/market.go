package agents

import (
	"context"
	"sync"

	"github.com/brendan721/flipsync-agents/internal/adapters/marketplace"
	"github.com/brendan721/flipsync-agents/internal/coorderrors"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

// Quote is one symbol's live market snapshot.
type Quote struct {
	Price  float64
	Volume float64
}

// MarketAgent is the reference Market-category handler. Per the resolved
// Open Question in spec.md §9 ("whether MarketUnifiedAgent directly mutates
// market_data or serves a snapshot"), this implementation treats its quote
// table as a live, directly-mutated store: Update commands write through it
// and every read observes the latest write. When a marketplace client is
// present, "sync_external" refreshes a symbol's quote from the SP-API
// pricing category instead of trusting the caller's numbers.
type MarketAgent struct {
	mu        sync.RWMutex
	quotes    map[string]Quote
	marketCli *marketplace.Client
}

// NewMarketAgent constructs a MarketAgent seeded with an initial quote table.
// marketCli may be nil, in which case "sync_external" is unavailable and the
// agent only serves/updates its in-memory quote table.
func NewMarketAgent(seed map[string]Quote, marketCli *marketplace.Client) *MarketAgent {
	m := &MarketAgent{quotes: make(map[string]Quote, len(seed)), marketCli: marketCli}
	for k, v := range seed {
		m.quotes[k] = v
	}
	return m
}

func (m *MarketAgent) Category() registry.Category { return registry.CategoryMarket }

// ExecuteCommand supports "fetch_price" (params: symbol) and "update_price"
// (params: symbol, price, volume).
func (m *MarketAgent) ExecuteCommand(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
	switch command {
	case "fetch_price":
		symbol, _ := params["symbol"].(string)
		m.mu.RLock()
		quote, ok := m.quotes[symbol]
		m.mu.RUnlock()
		if !ok {
			return nil, coorderrors.NotFound("quote", symbol)
		}
		return map[string]any{symbol: map[string]any{"price": quote.Price, "volume": quote.Volume}}, nil
	case "update_price":
		symbol, _ := params["symbol"].(string)
		price, _ := params["price"].(float64)
		volume, _ := params["volume"].(float64)
		m.mu.Lock()
		m.quotes[symbol] = Quote{Price: price, Volume: volume}
		m.mu.Unlock()
		return map[string]any{"updated": symbol}, nil
	case "sync_external":
		if m.marketCli == nil {
			return nil, coorderrors.Coordination("market_agent", "no marketplace collaborator configured")
		}
		symbol, _ := params["symbol"].(string)
		endpoint, _ := params["endpoint"].(string)
		resp, err := m.marketCli.Call(ctx, marketplace.CategoryPricing, "GET", endpoint, map[string]string{"symbol": symbol}, nil)
		if err != nil {
			return nil, coorderrors.Marketplace("sp-api", 0, err)
		}
		price, _ := resp["price"].(float64)
		volume, _ := resp["volume"].(float64)
		m.mu.Lock()
		m.quotes[symbol] = Quote{Price: price, Volume: volume}
		m.mu.Unlock()
		return map[string]any{"synced": symbol, "price": price, "volume": volume}, nil
	default:
		return nil, coorderrors.Validation("market agent has no command %q", command)
	}
}

// AnswerQuery supports the query "current_price" with context {"symbol": ...}.
func (m *MarketAgent) AnswerQuery(ctx context.Context, query string, queryCtx map[string]any) (map[string]any, error) {
	if query != "current_price" {
		return nil, coorderrors.Validation("market agent has no query %q", query)
	}
	symbol, _ := queryCtx["symbol"].(string)
	return m.ExecuteCommand(ctx, "fetch_price", map[string]any{"symbol": symbol})
}

// ProcessMessage gives a canned market-desk style reply; real deployments
// route this through the LLM adapter with the agent's quote table as context.
func (m *MarketAgent) ProcessMessage(ctx context.Context, text string, handoffContext map[string]any) (string, error) {
	return "Checking current market data for your request.", nil
}
