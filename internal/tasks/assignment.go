package tasks

import (
	"sort"
	"time"

	"github.com/brendan721/flipsync-agents/internal/coorderrors"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

// DelegateRequest parameterizes Delegate: a caller supplies either a
// specific target agent, a required capability to match against, or both.
// Supplying neither is a fatal delegation error.
type DelegateRequest struct {
	TargetAgentID      string
	RequiredCapability *registry.Capability
	TaskType           string
	Parameters         map[string]any
	ParentTaskID       string
	Priority           int
	Deadline           *time.Time
	Metadata           map[string]any
	Resources          ResourceIntensity
}

// Delegate creates a task and assigns it following the §4.D policy:
//  1. a given target agent must be registered, healthy, and (if a capability
//     is required) offer a matching one;
//  2. otherwise, candidates are every healthy agent matching the required
//     capability, picking the one with fewest active (Assigned/Processing)
//     tasks, ties broken by agent id lexicographic order;
//  3. neither given is a fatal error.
func (d *Delegator) Delegate(req DelegateRequest) (string, error) {
	agentID, err := d.selectAgent(req)
	if err != nil {
		return "", err
	}

	taskID := d.CreateTask(req.TaskType, req.Parameters, req.ParentTaskID, req.Priority, req.Deadline, req.Metadata, req.Resources)
	if err := d.Assign(taskID, agentID); err != nil {
		return "", err
	}
	return taskID, nil
}

func (d *Delegator) selectAgent(req DelegateRequest) (string, error) {
	if req.TargetAgentID != "" {
		agent, err := d.reg.Get(req.TargetAgentID)
		if err != nil {
			return "", coorderrors.Coordination(req.TargetAgentID, "delegation target not registered")
		}
		if !agent.Healthy() {
			return "", coorderrors.Coordination(req.TargetAgentID, "delegation target is not healthy (status %s)", agent.Status)
		}
		if req.RequiredCapability != nil && !agent.HasCapability(*req.RequiredCapability) {
			return "", coorderrors.Coordination(req.TargetAgentID, "delegation target lacks required capability %s", req.RequiredCapability.Name)
		}
		return agent.ID, nil
	}

	if req.RequiredCapability != nil {
		candidates := d.reg.FindByCapability(*req.RequiredCapability)
		var healthy []registry.Agent
		for _, a := range candidates {
			if a.Healthy() {
				healthy = append(healthy, a)
			}
		}
		if len(healthy) == 0 {
			return "", coorderrors.Coordination("", "no healthy agent offers capability %s", req.RequiredCapability.Name)
		}

		d.mu.Lock()
		loads := make(map[string]int, len(healthy))
		for _, a := range healthy {
			loads[a.ID] = d.activeCountLocked(a.ID)
		}
		d.mu.Unlock()

		sort.Slice(healthy, func(i, j int) bool {
			li, lj := loads[healthy[i].ID], loads[healthy[j].ID]
			if li != lj {
				return li < lj
			}
			return healthy[i].ID < healthy[j].ID
		})
		return healthy[0].ID, nil
	}

	return "", coorderrors.Validation("delegate requires either a target agent id or a required capability")
}
