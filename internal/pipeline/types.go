// Package pipeline implements the pipeline controller: ordered/parallel
// stage graphs bound to agent categories, with fallback, retry, templates,
// and workflow-state snapshot persistence.
package pipeline

import (
	"sync"
	"time"

	"github.com/brendan721/flipsync-agents/internal/registry"
)

// Stage is one unit of a pipeline bound to an agent category.
type Stage struct {
	ID              string
	Category        registry.Category
	Required        bool
	Timeout         time.Duration
	RetryCount      int
	FallbackStageID string

	metrics StageMetrics
}

// StageMetrics tracks a stage's execution history across every run of its
// owning pipeline.
type StageMetrics struct {
	ExecCount    int64
	SuccessCount int64
	FailureCount int64
	TimeoutCount int64
	RetryCount   int64

	avgExecNanos int64
}

// AverageExecTime returns the rolling average execution time observed for
// this stage.
func (m StageMetrics) AverageExecTime() time.Duration {
	return time.Duration(m.avgExecNanos)
}

// Pipeline is an ordered (or batch-parallel) graph of stages.
type Pipeline struct {
	ID                string
	Description       string
	Stages            []*Stage
	MaxParallelStages int
}

// StageByID returns the stage with the given id, or nil.
func (p *Pipeline) StageByID(id string) *Stage {
	for _, s := range p.Stages {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Status is a workflow execution's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// AgentResponse records one participant's contribution to a running
// execution's snapshot.
type AgentResponse struct {
	Response  any
	Timestamp time.Time
	Status    string
}

// Snapshot is the point-in-time persisted and broadcast view of a workflow
// execution, matching the wire format in spec.md §6.
type Snapshot struct {
	ExecutionID string
	Timestamp   time.Time

	PipelineID      string
	StatusValue     Status
	StagesCompleted int
	StagesFailed    int
	CurrentStageID  string
	ResultData      map[string]any
	AgentResponses  map[string]AgentResponse
	Progress        float64
}

// execution is the controller's mutable bookkeeping for one in-flight run.
type execution struct {
	mu sync.Mutex

	executionID string
	pipelineID  string
	startedAt   time.Time

	currentStageID  string
	stagesCompleted int
	stagesFailed    int
	resultData      map[string]any
	agentResponses  map[string]AgentResponse
	status          Status
}

func (e *execution) snapshot(totalStages int) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	progress := 0.0
	if totalStages > 0 {
		progress = float64(e.stagesCompleted+e.stagesFailed) / float64(totalStages)
		if progress > 1 {
			progress = 1
		}
	}

	result := make(map[string]any, len(e.resultData))
	for k, v := range e.resultData {
		result[k] = v
	}
	responses := make(map[string]AgentResponse, len(e.agentResponses))
	for k, v := range e.agentResponses {
		responses[k] = v
	}

	return Snapshot{
		ExecutionID:     e.executionID,
		Timestamp:       time.Now(),
		PipelineID:      e.pipelineID,
		StatusValue:     e.status,
		StagesCompleted: e.stagesCompleted,
		StagesFailed:    e.stagesFailed,
		CurrentStageID:  e.currentStageID,
		ResultData:      result,
		AgentResponses:  responses,
		Progress:        progress,
	}
}
