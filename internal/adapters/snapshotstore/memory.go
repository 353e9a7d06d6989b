// Package snapshotstore implements the workflow-state snapshot persistence
// collaborator (spec.md §6): a point-in-time view of a pipeline execution,
// pushed on every transition by the Pipeline Controller. Memory is an
// in-memory implementation used by tests and local runs; Redis persists
// snapshots to a shared cache so multiple coordinator processes (or a
// restarted one) can observe the latest state of a run.
package snapshotstore

import (
	"context"
	"sort"
	"sync"

	"github.com/brendan721/flipsync-agents/internal/pipeline"
)

// Memory is an in-memory SnapshotStore, safe for concurrent use. It keeps
// the most recent snapshot per execution id plus every snapshot ever saved
// for it, mirroring the controller's own "persist on every transition"
// contract; nothing is ever evicted.
type Memory struct {
	mu      sync.Mutex
	latest  map[string]pipeline.Snapshot
	history map[string][]pipeline.Snapshot
}

// NewMemory constructs an empty in-memory snapshot store.
func NewMemory() *Memory {
	return &Memory{
		latest:  make(map[string]pipeline.Snapshot),
		history: make(map[string][]pipeline.Snapshot),
	}
}

func (m *Memory) SaveSnapshot(ctx context.Context, snap pipeline.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[snap.ExecutionID] = snap
	m.history[snap.ExecutionID] = append(m.history[snap.ExecutionID], snap)
	return nil
}

// Latest returns the most recently saved snapshot for an execution id.
func (m *Memory) Latest(executionID string) (pipeline.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.latest[executionID]
	return snap, ok
}

// History returns every snapshot saved for an execution id, oldest first.
func (m *Memory) History(executionID string) []pipeline.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pipeline.Snapshot, len(m.history[executionID]))
	copy(out, m.history[executionID])
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
