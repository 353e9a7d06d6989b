// Package registry implements the agent registry: agent records, capability
// matching, status/heartbeat tracking, and the background health-check loop.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/brendan721/flipsync-agents/internal/bus"
	"github.com/brendan721/flipsync-agents/internal/coorderrors"
)

const capabilityIndexSize = 256

// Registry owns every Agent record. All mutations are serialized through mu;
// reads take the same lock briefly to snapshot, so every lookup observes a
// consistent view.
type Registry struct {
	mu     sync.Mutex
	agents map[string]*Agent

	// capIndex caches the coarse by-capability-name candidate list. It is a
	// cache, not a source of truth: on a miss it is rebuilt from agents.
	capIndex *lru.Cache[string, []string]

	bus    *bus.Bus
	logger *slog.Logger

	healthCheckInterval time.Duration
	pingTimeout         time.Duration
	stopHealthLoop      context.CancelFunc
}

// New constructs a Registry wired to the given bus for heartbeat
// notifications and health-check pings.
func New(b *bus.Bus, logger *slog.Logger, healthCheckInterval time.Duration) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if healthCheckInterval <= 0 {
		healthCheckInterval = 60 * time.Second
	}
	idx, _ := lru.New[string, []string](capabilityIndexSize)
	r := &Registry{
		agents:              make(map[string]*Agent),
		capIndex:            idx,
		bus:                 b,
		logger:              logger,
		healthCheckInterval: healthCheckInterval,
		pingTimeout:         5 * time.Second,
	}
	if b != nil {
		b.Subscribe(bus.NameFilter{Name: "agent_heartbeat"}, r.onHeartbeat)
	}
	return r
}

// Register adds a new agent record. Re-registering an existing id replaces it.
func (r *Registry) Register(agent Agent) {
	if agent.Metadata == nil {
		agent.Metadata = make(map[string]any)
	}
	if agent.Status == "" {
		agent.Status = StatusRegistering
	}

	r.mu.Lock()
	stored := agent
	r.agents[agent.ID] = &stored
	r.invalidateIndexLocked()
	r.mu.Unlock()
}

// Unregister removes an agent. After this call, Get returns not-found and
// every Find* query excludes the agent.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.agents, id)
	r.invalidateIndexLocked()
	r.mu.Unlock()
}

// UpdateStatus transitions an agent's coarse status. Transitions to Inactive
// or Disconnected are always permitted from any state; a Disconnected agent
// may return to Active on heartbeat (see onHeartbeat).
func (r *Registry) UpdateStatus(id string, status Status) error {
	r.mu.Lock()
	agent, ok := r.agents[id]
	if ok {
		agent.Status = status
	}
	r.mu.Unlock()

	if !ok {
		return coorderrors.NotFound("agent", id)
	}
	r.notify("agent_status_updated", id, map[string]any{"status": string(status)})
	return nil
}

// UpdateCapabilities replaces an agent's capability set.
func (r *Registry) UpdateCapabilities(id string, caps []Capability) error {
	r.mu.Lock()
	agent, ok := r.agents[id]
	if ok {
		agent.Capabilities = caps
		r.invalidateIndexLocked()
	}
	r.mu.Unlock()

	if !ok {
		return coorderrors.NotFound("agent", id)
	}
	return nil
}

// Get returns a copy of the agent record, or an error if unregistered.
func (r *Registry) Get(id string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return Agent{}, coorderrors.NotFound("agent", id)
	}
	return *agent, nil
}

// All returns a snapshot copy of every registered agent.
func (r *Registry) All() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	return out
}

// FindByType returns every agent in the given category.
func (r *Registry) FindByType(category Category) []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Agent
	for _, a := range r.agents {
		if a.Category == category {
			out = append(out, *a)
		}
	}
	return out
}

// FindByStatus returns every agent with the given status.
func (r *Registry) FindByStatus(status Status) []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Agent
	for _, a := range r.agents {
		if a.Status == status {
			out = append(out, *a)
		}
	}
	return out
}

// FindByCapability returns every agent offering a capability matching required.
func (r *Registry) FindByCapability(required Capability) []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidateIDs, ok := r.capIndex.Get(required.Name)
	if !ok {
		candidateIDs = r.rebuildCapabilityIndexLocked(required.Name)
	}

	var out []Agent
	for _, id := range candidateIDs {
		agent, ok := r.agents[id]
		if !ok {
			continue
		}
		if agent.HasCapability(required) {
			out = append(out, *agent)
		}
	}
	return out
}

// rebuildCapabilityIndexLocked scans all agents for offered capabilities
// named capName and caches the resulting agent id list. Caller must hold mu.
func (r *Registry) rebuildCapabilityIndexLocked(capName string) []string {
	var ids []string
	for id, agent := range r.agents {
		for _, offered := range agent.Capabilities {
			if offered.Name == capName {
				ids = append(ids, id)
				break
			}
		}
	}
	r.capIndex.Add(capName, ids)
	return ids
}

func (r *Registry) invalidateIndexLocked() {
	r.capIndex.Purge()
}

func (r *Registry) notify(name, agentID string, payload map[string]any) {
	if r.bus == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["agent_id"] = agentID
	_ = r.bus.Publish(context.Background(), bus.Event{
		Name:    name,
		Kind:    bus.KindNotification,
		Source:  "registry",
		Payload: payload,
	})
}
