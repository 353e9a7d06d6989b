// Package conflict implements the conflict resolver: detection, pluggable
// resolution strategies, and the Detected->Resolved/Unresolvable/Ignored
// lifecycle.
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brendan721/flipsync-agents/internal/bus"
	"github.com/brendan721/flipsync-agents/internal/coorderrors"
)

// Kind classifies the nature of the contention.
type Kind string

const (
	KindResource   Kind = "resource"
	KindTask       Kind = "task"
	KindAgent      Kind = "agent"
	KindPriority   Kind = "priority"
	KindAuthority  Kind = "authority"
	KindCapability Kind = "capability"
	KindData       Kind = "data"
	KindOther      Kind = "other"
)

// Status is a conflict's lifecycle state.
type Status string

const (
	StatusDetected      Status = "detected"
	StatusAnalyzing     Status = "analyzing"
	StatusResolving     Status = "resolving"
	StatusResolved      Status = "resolved"
	StatusUnresolvable  Status = "unresolvable"
	StatusIgnored       Status = "ignored"
)

// Strategy names a resolution algorithm.
type Strategy string

const (
	StrategyPriority  Strategy = "priority"
	StrategyAuthority Strategy = "authority"
	StrategyConsensus Strategy = "consensus"
	StrategyFirst     Strategy = "first"
	StrategyLast      Strategy = "last"
	StrategyMerge     Strategy = "merge"
	StrategyCancel    Strategy = "cancel"
	StrategyDelegate  Strategy = "delegate"
	StrategyCustom    Strategy = "custom"
)

// defaultStrategy maps each conflict Kind to the strategy applied when the
// caller does not pin one explicitly.
var defaultStrategy = map[Kind]Strategy{
	KindResource:   StrategyPriority,
	KindTask:       StrategyPriority,
	KindAgent:      StrategyAuthority,
	KindPriority:   StrategyAuthority,
	KindAuthority:  StrategyAuthority,
	KindCapability: StrategyAuthority,
	KindData:       StrategyLast,
	KindOther:      StrategyPriority,
}

// Conflict is a declared contention between entities, resolved by a
// selected strategy.
type Conflict struct {
	ID          string
	Kind        Kind
	Entities    []map[string]any
	Description string
	Metadata    map[string]any
	Status      Status

	DetectedAt  time.Time
	ResolvedAt  *time.Time
	Strategy    Strategy
	Result      any
	ReasonNote string
}

// CustomFunc resolves entities for a Kind registered with StrategyCustom.
type CustomFunc func(entities []map[string]any, params map[string]any) (any, error)

// Resolver owns every Conflict record.
type Resolver struct {
	mu        sync.Mutex
	conflicts map[string]*Conflict
	custom    map[Kind]CustomFunc

	bus    *bus.Bus
	logger *slog.Logger
}

// New constructs a Resolver that emits lifecycle notifications on b.
func New(b *bus.Bus, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		conflicts: make(map[string]*Conflict),
		custom:    make(map[Kind]CustomFunc),
		bus:       b,
		logger:    logger,
	}
}

// RegisterCustomStrategy installs the function invoked for StrategyCustom
// resolutions of the given kind.
func (r *Resolver) RegisterCustomStrategy(kind Kind, fn CustomFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[kind] = fn
}

// Detect records a new conflict in StatusDetected and returns its id.
func (r *Resolver) Detect(kind Kind, entities []map[string]any, description string, metadata map[string]any) string {
	c := &Conflict{
		ID:          uuid.NewString(),
		Kind:        kind,
		Entities:    entities,
		Description: description,
		Metadata:    metadata,
		Status:      StatusDetected,
		DetectedAt:  time.Now(),
	}
	r.mu.Lock()
	r.conflicts[c.ID] = c
	r.mu.Unlock()

	r.notify("conflict_detected", c)
	return c.ID
}

// Resolve applies a resolution strategy to the conflict. An empty strategy
// uses the kind's default. Terminal conflicts cannot be re-resolved.
func (r *Resolver) Resolve(conflictID string, strategy Strategy, params map[string]any) (any, error) {
	r.mu.Lock()
	c, ok := r.conflicts[conflictID]
	if !ok {
		r.mu.Unlock()
		return nil, coorderrors.NotFound("conflict", conflictID)
	}
	if c.Status == StatusResolved || c.Status == StatusUnresolvable || c.Status == StatusIgnored {
		r.mu.Unlock()
		return nil, coorderrors.Coordination(conflictID, "conflict already terminal (%s)", c.Status)
	}
	if strategy == "" {
		strategy = defaultStrategy[c.Kind]
	}
	c.Status = StatusResolving
	entities := append([]map[string]any(nil), c.Entities...)
	customFn := r.custom[c.Kind]
	r.mu.Unlock()

	result, err := applyStrategy(strategy, entities, params, customFn)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	r.mu.Lock()
	c.Status = StatusResolved
	c.Strategy = strategy
	c.Result = result
	c.ResolvedAt = &now
	snapshot := *c
	r.mu.Unlock()

	r.notify("conflict_resolved", &snapshot)
	return result, nil
}

// MarkUnresolvable transitions the conflict to StatusUnresolvable.
func (r *Resolver) MarkUnresolvable(conflictID, reason string) error {
	return r.transitionTerminal(conflictID, StatusUnresolvable, reason, "conflict_unresolvable")
}

// Ignore transitions the conflict to StatusIgnored.
func (r *Resolver) Ignore(conflictID, reason string) error {
	return r.transitionTerminal(conflictID, StatusIgnored, reason, "conflict_ignored")
}

func (r *Resolver) transitionTerminal(conflictID string, status Status, reason, eventName string) error {
	now := time.Now()
	r.mu.Lock()
	c, ok := r.conflicts[conflictID]
	if !ok {
		r.mu.Unlock()
		return coorderrors.NotFound("conflict", conflictID)
	}
	c.Status = status
	c.ReasonNote = reason
	c.ResolvedAt = &now
	snapshot := *c
	r.mu.Unlock()

	r.notify(eventName, &snapshot)
	return nil
}

// Get returns a copy of the conflict record.
func (r *Resolver) Get(conflictID string) (Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conflicts[conflictID]
	if !ok {
		return Conflict{}, coorderrors.NotFound("conflict", conflictID)
	}
	return *c, nil
}

// FindByKind returns every conflict of the given kind.
func (r *Resolver) FindByKind(kind Kind) []Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Conflict
	for _, c := range r.conflicts {
		if c.Kind == kind {
			out = append(out, *c)
		}
	}
	return out
}

// Active returns every conflict not yet in a terminal status.
func (r *Resolver) Active() []Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Conflict
	for _, c := range r.conflicts {
		switch c.Status {
		case StatusResolved, StatusUnresolvable, StatusIgnored:
		default:
			out = append(out, *c)
		}
	}
	return out
}

func applyStrategy(strategy Strategy, entities []map[string]any, params map[string]any, custom CustomFunc) (any, error) {
	switch strategy {
	case StrategyPriority:
		return highestField(entities, stringParam(params, "priority_field", "priority"))
	case StrategyAuthority:
		return highestField(entities, stringParam(params, "authority_field", "authority"))
	case StrategyConsensus:
		return consensus(entities, stringParam(params, "value_field", "value")), nil
	case StrategyFirst:
		if len(entities) == 0 {
			return nil, nil
		}
		return entities[0], nil
	case StrategyLast:
		if len(entities) == 0 {
			return nil, nil
		}
		return entities[len(entities)-1], nil
	case StrategyMerge:
		return merge(entities, stringSliceParam(params, "merge_fields")), nil
	case StrategyCancel, StrategyDelegate:
		return nil, nil
	case StrategyCustom:
		if custom == nil {
			return nil, coorderrors.Coordination("", "custom conflict strategy has no registered function")
		}
		return custom(entities, params)
	default:
		return nil, coorderrors.Coordination("", "unknown conflict strategy %q", strategy)
	}
}

func highestField(entities []map[string]any, field string) (any, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	best := entities[0]
	bestVal, _ := toFloat(best[field])
	for _, e := range entities[1:] {
		v, _ := toFloat(e[field])
		if v > bestVal {
			best, bestVal = e, v
		}
	}
	return best, nil
}

func consensus(entities []map[string]any, field string) any {
	if len(entities) == 0 {
		return nil
	}
	counts := make(map[string]int)
	first := make(map[string]any)
	order := make([]string, 0)
	for _, e := range entities {
		v := e[field]
		key := fmt.Sprint(v)
		if counts[key] == 0 {
			first[key] = v
			order = append(order, key)
		}
		counts[key]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	return first[order[0]]
}

// merge shallow-merges entities in order (later entities override earlier
// ones on overlapping keys; disjoint keys are order-insensitive). If fields
// is non-empty, only those keys are carried over, falling back to the last
// non-nil value for each.
func merge(entities []map[string]any, fields []string) map[string]any {
	out := make(map[string]any)
	if len(fields) == 0 {
		for _, e := range entities {
			for k, v := range e {
				out[k] = v
			}
		}
		return out
	}
	for _, field := range fields {
		for _, e := range entities {
			if v, ok := e[field]; ok && v != nil {
				out[field] = v
			}
		}
	}
	return out
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

func stringParam(params map[string]any, key, fallback string) string {
	if params == nil {
		return fallback
	}
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func stringSliceParam(params map[string]any, key string) []string {
	if params == nil {
		return nil
	}
	v, ok := params[key].([]string)
	if !ok {
		return nil
	}
	return v
}

func (r *Resolver) notify(name string, c *Conflict) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(context.Background(), bus.Event{
		Name:   name,
		Kind:   bus.KindNotification,
		Source: "conflict_resolver",
		Payload: map[string]any{
			"conflict_id": c.ID,
			"kind":        string(c.Kind),
			"status":      string(c.Status),
		},
	})
}
