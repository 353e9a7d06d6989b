package tasks

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brendan721/flipsync-agents/internal/bus"
	"github.com/brendan721/flipsync-agents/internal/coorderrors"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

// Delegator owns every Task record: creation, assignment, lifecycle
// transitions, the parent/subtask rollup, and the deadline monitor. All
// mutations are serialized through mu; reads take the same lock briefly to
// snapshot.
type Delegator struct {
	mu    sync.Mutex
	tasks map[string]*Task

	reg    *registry.Registry
	bus    *bus.Bus
	logger *slog.Logger

	deadlineCheckInterval time.Duration
}

// New constructs a Delegator wired to the given registry (for agent health
// and capability lookups during delegation) and bus (for lifecycle
// notifications).
func New(reg *registry.Registry, b *bus.Bus, logger *slog.Logger) *Delegator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Delegator{
		tasks:                 make(map[string]*Task),
		reg:                   reg,
		bus:                   b,
		logger:                logger,
		deadlineCheckInterval: 30 * time.Second,
	}
}

// CreateTask records a new task in StatusCreated and returns its id.
func (d *Delegator) CreateTask(taskType string, params map[string]any, parentTaskID string, priority int, deadline *time.Time, metadata map[string]any, resources ResourceIntensity) string {
	id := uuid.NewString()
	t := &Task{
		ID:           id,
		Type:         taskType,
		Parameters:   params,
		ParentTaskID: parentTaskID,
		Priority:     priority,
		Deadline:     deadline,
		Metadata:     metadata,
		Status:       StatusCreated,
		CreatedAt:    time.Now(),
		Resources:    resources,
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}

	d.mu.Lock()
	d.tasks[id] = t
	if parentTaskID != "" {
		if parent, ok := d.tasks[parentTaskID]; ok {
			parent.SubtaskIDs = append(parent.SubtaskIDs, id)
		}
	}
	d.mu.Unlock()

	d.notify("task_created", t)
	return id
}

// Assign transitions a Created task to Assigned under the given agent.
// Assignment is legal only from Created.
func (d *Delegator) Assign(taskID, agentID string) error {
	now := time.Now()
	d.mu.Lock()
	t, ok := d.tasks[taskID]
	if !ok {
		d.mu.Unlock()
		return coorderrors.NotFound("task", taskID)
	}
	if t.Status != StatusCreated {
		d.mu.Unlock()
		return coorderrors.Coordination(taskID, "cannot assign task from status %s", t.Status)
	}
	t.AssignedAgentID = agentID
	t.Status = StatusAssigned
	t.AssignedAt = &now
	snapshot := cloneTask(t)
	d.mu.Unlock()

	d.notify("task_assigned", &snapshot)
	return nil
}

// UpdateStatus applies a lifecycle transition. result is attached on
// Completed; errMsg is attached on Failed/Timeout/Cancelled. Only the new
// status's timestamp field is stamped (Timeout stamps FailedAt); statuses
// skipped by a direct transition get no timestamp.
func (d *Delegator) UpdateStatus(taskID string, status Status, result map[string]any, errMsg string) error {
	now := time.Now()

	d.mu.Lock()
	t, ok := d.tasks[taskID]
	if !ok {
		d.mu.Unlock()
		return coorderrors.NotFound("task", taskID)
	}
	if t.Status.Terminal() {
		d.mu.Unlock()
		return coorderrors.Coordination(taskID, "task already terminal (%s)", t.Status)
	}

	stampStatus(t, status, now)
	t.Status = status
	if result != nil {
		t.Result = result
	}
	if errMsg != "" {
		t.Error = errMsg
	}
	snapshot := cloneTask(t)
	parentID := t.ParentTaskID
	d.mu.Unlock()

	d.notify("task_status_updated", &snapshot)

	if status.Terminal() && parentID != "" {
		d.rollupParent(parentID)
	}
	return nil
}

func stampStatus(t *Task, status Status, now time.Time) {
	switch status {
	case StatusAssigned:
		t.AssignedAt = &now
	case StatusAccepted:
		t.AcceptedAt = &now
	case StatusProcessing:
		t.ProcessingAt = &now
	case StatusCompleted:
		t.CompletedAt = &now
	case StatusFailed:
		t.FailedAt = &now
	case StatusCancelled:
		t.CancelledAt = &now
	case StatusTimeout:
		t.FailedAt = &now
	}
}

// rollupParent re-examines a parent after a child's terminal transition and
// applies the §3 rollup rule: all subtasks Completed -> parent Completed with
// a {subtask_id: result} map; any subtask Failed -> parent Failed.
func (d *Delegator) rollupParent(parentID string) {
	d.mu.Lock()
	parent, ok := d.tasks[parentID]
	if !ok || parent.Status.Terminal() {
		d.mu.Unlock()
		return
	}

	anyFailed := false
	allTerminal := true
	completed := make(map[string]struct{})
	results := make(map[string]any)
	for _, sid := range parent.SubtaskIDs {
		sub, ok := d.tasks[sid]
		if !ok {
			allTerminal = false
			continue
		}
		switch sub.Status {
		case StatusCompleted:
			completed[sid] = struct{}{}
			results[sid] = sub.Result
		case StatusFailed, StatusTimeout, StatusCancelled:
			anyFailed = anyFailed || sub.Status == StatusFailed || sub.Status == StatusTimeout
		default:
			allTerminal = false
		}
	}
	parent.CompletedSubtasks = completed

	var transitioned bool
	now := time.Now()
	if anyFailed {
		stampStatus(parent, StatusFailed, now)
		parent.Status = StatusFailed
		parent.Error = "one or more subtasks failed"
		transitioned = true
	} else if allTerminal && len(completed) == len(parent.SubtaskIDs) {
		stampStatus(parent, StatusCompleted, now)
		parent.Status = StatusCompleted
		parent.Result = map[string]any{}
		for k, v := range results {
			if rv, ok := v.(map[string]any); ok {
				parent.Result[k] = rv
			} else {
				parent.Result[k] = v
			}
		}
		transitioned = true
	}
	var snapshot Task
	grandparent := ""
	if transitioned {
		snapshot = cloneTask(parent)
		grandparent = parent.ParentTaskID
	}
	d.mu.Unlock()

	if transitioned {
		d.notify("task_status_updated", &snapshot)
		if grandparent != "" {
			d.rollupParent(grandparent)
		}
	}
}

// Decompose creates a subtask per def and attaches it to parentTaskID.
// Returns the new subtask ids in the order given.
func (d *Delegator) Decompose(parentTaskID string, defs []SubtaskDef) ([]string, error) {
	if _, err := d.Get(parentTaskID); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		id := d.CreateTask(def.Type, def.Parameters, parentTaskID, def.Priority, def.Deadline, def.Metadata, def.Resources)
		ids = append(ids, id)
	}
	return ids, nil
}

// SubtaskDef describes one subtask to create via Decompose.
type SubtaskDef struct {
	Type       string
	Parameters map[string]any
	Priority   int
	Deadline   *time.Time
	Metadata   map[string]any
	Resources  ResourceIntensity
}

// Cancel transitions a task to Cancelled and recursively cancels every
// non-terminal subtask. Cancelling an already-terminal task is a no-op that
// returns false.
func (d *Delegator) Cancel(taskID string) bool {
	d.mu.Lock()
	t, ok := d.tasks[taskID]
	if !ok || t.Status.Terminal() {
		d.mu.Unlock()
		return false
	}
	now := time.Now()
	t.Status = StatusCancelled
	t.CancelledAt = &now
	subIDs := append([]string(nil), t.SubtaskIDs...)
	snapshot := cloneTask(t)
	d.mu.Unlock()

	d.notify("task_status_updated", &snapshot)
	for _, sid := range subIDs {
		d.Cancel(sid)
	}
	return true
}

// Get returns a copy of the task record.
func (d *Delegator) Get(taskID string) (Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[taskID]
	if !ok {
		return Task{}, coorderrors.NotFound("task", taskID)
	}
	return cloneTask(t), nil
}

// TasksFor returns every task assigned to agentID, optionally filtered to a
// single status.
func (d *Delegator) TasksFor(agentID string, status *Status) []Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Task
	for _, t := range d.tasks {
		if t.AssignedAgentID != agentID {
			continue
		}
		if status != nil && t.Status != *status {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SubtasksOf returns every subtask of parentID in declaration order.
func (d *Delegator) SubtasksOf(parentID string) []Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent, ok := d.tasks[parentID]
	if !ok {
		return nil
	}
	out := make([]Task, 0, len(parent.SubtaskIDs))
	for _, sid := range parent.SubtaskIDs {
		if sub, ok := d.tasks[sid]; ok {
			out = append(out, cloneTask(sub))
		}
	}
	return out
}

// ActiveTaskCount returns how many tasks assigned to agentID are currently
// Assigned or Processing. Used by load-aware agent selection in the
// pipeline controller and the intent router.
func (d *Delegator) ActiveTaskCount(agentID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeCountLocked(agentID)
}

// activeCountLocked returns how many tasks assigned to agentID are currently
// Assigned or Processing. Caller must hold mu.
func (d *Delegator) activeCountLocked(agentID string) int {
	n := 0
	for _, t := range d.tasks {
		if t.AssignedAgentID == agentID && (t.Status == StatusAssigned || t.Status == StatusProcessing) {
			n++
		}
	}
	return n
}

func (d *Delegator) notify(name string, t *Task) {
	if d.bus == nil {
		return
	}
	_ = d.bus.Publish(context.Background(), bus.Event{
		Name:   name,
		Kind:   bus.KindNotification,
		Source: "task_delegator",
		Payload: map[string]any{
			"task_id": t.ID,
			"status":  string(t.Status),
			"parent":  t.ParentTaskID,
		},
	})
}
