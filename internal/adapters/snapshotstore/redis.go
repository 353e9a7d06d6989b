package snapshotstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brendan721/flipsync-agents/internal/pipeline"
)

// keyPrefix namespaces snapshot keys in the shared Redis keyspace.
const keyPrefix = "flipsync:workflow_snapshot:"

// snapshotWire is the JSON-serializable mirror of pipeline.Snapshot used on
// the wire, matching the format documented in spec.md §6.
type snapshotWire struct {
	ExecutionID string                              `json:"execution_id"`
	Timestamp   time.Time                           `json:"timestamp"`
	State       snapshotWireState                   `json:"state"`
}

type snapshotWireState struct {
	PipelineID      string                            `json:"pipeline_id"`
	Status          string                            `json:"status"`
	StagesCompleted int                               `json:"stages_completed"`
	StagesFailed    int                               `json:"stages_failed"`
	CurrentStage    *string                           `json:"current_stage"`
	ResultData      map[string]any                    `json:"result_data"`
	AgentResponses  map[string]wireAgentResponse       `json:"agent_responses"`
}

type wireAgentResponse struct {
	Response  any       `json:"response"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// Redis is a go-redis/v9 backed SnapshotStore, grounded on
// jordigilh-kubernaut's Redis-backed caches. Snapshots are stored with a TTL
// so a leaked execution id doesn't accumulate forever.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis constructs a Redis-backed snapshot store. ttl defaults to 24h.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) SaveSnapshot(ctx context.Context, snap pipeline.Snapshot) error {
	wire := toWire(snap)
	payload, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("snapshotstore: marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+snap.ExecutionID, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("snapshotstore: redis set: %w", err)
	}
	return nil
}

// Latest fetches the most recently saved snapshot for an execution id.
func (r *Redis) Latest(ctx context.Context, executionID string) (pipeline.Snapshot, bool, error) {
	payload, err := r.client.Get(ctx, keyPrefix+executionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return pipeline.Snapshot{}, false, nil
	}
	if err != nil {
		return pipeline.Snapshot{}, false, fmt.Errorf("snapshotstore: redis get: %w", err)
	}
	var wire snapshotWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return pipeline.Snapshot{}, false, fmt.Errorf("snapshotstore: unmarshal snapshot: %w", err)
	}
	return fromWire(wire), true, nil
}

func toWire(snap pipeline.Snapshot) snapshotWire {
	responses := make(map[string]wireAgentResponse, len(snap.AgentResponses))
	for k, v := range snap.AgentResponses {
		responses[k] = wireAgentResponse{Response: v.Response, Timestamp: v.Timestamp, Status: v.Status}
	}
	var current *string
	if snap.CurrentStageID != "" {
		c := snap.CurrentStageID
		current = &c
	}
	return snapshotWire{
		ExecutionID: snap.ExecutionID,
		Timestamp:   snap.Timestamp,
		State: snapshotWireState{
			PipelineID:      snap.PipelineID,
			Status:          string(snap.StatusValue),
			StagesCompleted: snap.StagesCompleted,
			StagesFailed:    snap.StagesFailed,
			CurrentStage:    current,
			ResultData:      snap.ResultData,
			AgentResponses:  responses,
		},
	}
}

func fromWire(wire snapshotWire) pipeline.Snapshot {
	responses := make(map[string]pipeline.AgentResponse, len(wire.State.AgentResponses))
	for k, v := range wire.State.AgentResponses {
		responses[k] = pipeline.AgentResponse{Response: v.Response, Timestamp: v.Timestamp, Status: v.Status}
	}
	currentStage := ""
	if wire.State.CurrentStage != nil {
		currentStage = *wire.State.CurrentStage
	}
	return pipeline.Snapshot{
		ExecutionID:     wire.ExecutionID,
		Timestamp:       wire.Timestamp,
		PipelineID:      wire.State.PipelineID,
		StatusValue:     pipeline.Status(wire.State.Status),
		StagesCompleted: wire.State.StagesCompleted,
		StagesFailed:    wire.State.StagesFailed,
		CurrentStageID:  currentStage,
		ResultData:      wire.State.ResultData,
		AgentResponses:  responses,
	}
}
