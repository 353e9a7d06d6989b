// Package aggregator implements per-task result collection with pluggable
// combine strategies (Collect, Majority, Weighted, First, Last, Custom).
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/brendan721/flipsync-agents/internal/bus"
	"github.com/brendan721/flipsync-agents/internal/coorderrors"
)

// Strategy selects how Aggregate combines a task's collected entries.
type Strategy string

const (
	StrategyCollect  Strategy = "collect"
	StrategyMajority Strategy = "majority"
	StrategyWeighted Strategy = "weighted"
	StrategyFirst    Strategy = "first"
	StrategyLast     Strategy = "last"
	StrategyCustom   Strategy = "custom"
)

// Entry is one agent's contribution to a task's aggregate.
type Entry struct {
	AgentID  string
	Result   any
	Metadata map[string]any
}

// CustomFunc combines the ordered entries for a Custom-strategy task.
type CustomFunc func(entries []Entry) (any, error)

type registration struct {
	strategy Strategy
	custom   CustomFunc
	entries  []Entry
}

// Aggregator owns every task's in-flight result set. All mutations are
// serialized through mu.
type Aggregator struct {
	mu     sync.Mutex
	tasks  map[string]*registration
	bus    *bus.Bus
	logger *slog.Logger
}

// New constructs an Aggregator that emits final_result notifications on b.
func New(b *bus.Bus, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{tasks: make(map[string]*registration), bus: b, logger: logger}
}

// RegisterTask declares the combine strategy a task's results should use.
// custom is required (and only used) when strategy is StrategyCustom.
func (a *Aggregator) RegisterTask(taskID string, strategy Strategy, custom CustomFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks[taskID] = &registration{strategy: strategy, custom: custom}
}

// AddResult records one agent's contribution to a task. The task must have
// been registered first.
func (a *Aggregator) AddResult(taskID, agentID string, result any, metadata map[string]any) error {
	a.mu.Lock()
	reg, ok := a.tasks[taskID]
	if !ok {
		a.mu.Unlock()
		return coorderrors.NotFound("aggregation task", taskID)
	}
	reg.entries = append(reg.entries, Entry{AgentID: agentID, Result: result, Metadata: metadata})
	a.mu.Unlock()
	return nil
}

// GetResults returns a copy of every entry recorded for taskID so far.
func (a *Aggregator) GetResults(taskID string) ([]Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	reg, ok := a.tasks[taskID]
	if !ok {
		return nil, coorderrors.NotFound("aggregation task", taskID)
	}
	return append([]Entry(nil), reg.entries...), nil
}

// Aggregate combines the task's entries per its registered strategy.
// Aggregation is idempotent and does not consume entries: calling it twice
// with no intervening AddResult yields the same value. A successful
// aggregation is also published as a final_result notification.
func (a *Aggregator) Aggregate(taskID string) (any, error) {
	a.mu.Lock()
	reg, ok := a.tasks[taskID]
	if !ok {
		a.mu.Unlock()
		return nil, coorderrors.NotFound("aggregation task", taskID)
	}
	strategy := reg.strategy
	custom := reg.custom
	entries := append([]Entry(nil), reg.entries...)
	a.mu.Unlock()

	value, err := combine(strategy, entries, custom)
	if err != nil {
		return nil, err
	}

	a.notify(taskID, value)
	return value, nil
}

// Clear discards a task's registration and entries.
func (a *Aggregator) Clear(taskID string) {
	a.mu.Lock()
	delete(a.tasks, taskID)
	a.mu.Unlock()
}

func combine(strategy Strategy, entries []Entry, custom CustomFunc) (any, error) {
	switch strategy {
	case StrategyCollect:
		out := make(map[string]any, len(entries))
		for _, e := range entries {
			out[e.AgentID] = e.Result
		}
		return out, nil
	case StrategyMajority:
		return majority(entries), nil
	case StrategyWeighted:
		return weighted(entries)
	case StrategyFirst:
		if len(entries) == 0 {
			return nil, nil
		}
		return entries[0].Result, nil
	case StrategyLast:
		if len(entries) == 0 {
			return nil, nil
		}
		return entries[len(entries)-1].Result, nil
	case StrategyCustom:
		if custom == nil {
			return nil, coorderrors.Coordination("", "custom aggregation strategy registered with no function")
		}
		return custom(entries)
	default:
		return nil, coorderrors.Coordination("", "unknown aggregation strategy %q", strategy)
	}
}

// majority returns the entry whose string-form result occurs most often,
// comparing by fmt.Sprint to give a stable comparison across result types.
// Ties are broken by first appearance.
func majority(entries []Entry) any {
	if len(entries) == 0 {
		return nil
	}
	counts := make(map[string]int)
	first := make(map[string]any)
	order := make([]string, 0)
	for _, e := range entries {
		key := fmt.Sprint(e.Result)
		if counts[key] == 0 {
			first[key] = e.Result
			order = append(order, key)
		}
		counts[key]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	return first[order[0]]
}

// weighted requires every entry to carry a numeric Result and a numeric
// metadata["weight"]; returns sum(result*weight)/sum(weight). A zero total
// weight yields nil.
func weighted(entries []Entry) (any, error) {
	var sumWeighted, sumWeight float64
	for _, e := range entries {
		val, ok := toFloat(e.Result)
		if !ok {
			return nil, coorderrors.Validation("weighted aggregation requires numeric results")
		}
		weight, ok := toFloat(e.Metadata["weight"])
		if !ok {
			return nil, coorderrors.Validation("weighted aggregation requires metadata.weight")
		}
		sumWeighted += val * weight
		sumWeight += weight
	}
	if sumWeight == 0 {
		return nil, nil
	}
	return sumWeighted / sumWeight, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (a *Aggregator) notify(taskID string, value any) {
	if a.bus == nil {
		return
	}
	_ = a.bus.Publish(context.Background(), bus.Event{
		Name:   "final_result",
		Kind:   bus.KindNotification,
		Source: "result_aggregator",
		Payload: map[string]any{
			"task_id": taskID,
			"result":  value,
		},
	})
}
