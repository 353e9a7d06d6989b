package snapshotstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/brendan721/flipsync-agents/internal/pipeline"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, time.Minute)
}

func TestRedisSaveAndLatestRoundTrips(t *testing.T) {
	store := newTestRedis(t)
	ctx := context.Background()

	snap := pipeline.Snapshot{
		ExecutionID:     "exec-1",
		Timestamp:       time.Now().UTC().Truncate(time.Second),
		PipelineID:      "pricing_update",
		StatusValue:     pipeline.StatusRunning,
		StagesCompleted: 1,
		CurrentStageID:  "stage-2",
		ResultData:      map[string]any{"price": 9.99},
		AgentResponses: map[string]pipeline.AgentResponse{
			"market-1": {Response: "ok", Timestamp: time.Now().UTC().Truncate(time.Second), Status: "completed"},
		},
	}

	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, ok, err := store.Latest(ctx, "exec-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !ok {
		t.Fatal("expected snapshot to be present")
	}
	if got.PipelineID != snap.PipelineID || got.CurrentStageID != snap.CurrentStageID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.ResultData["price"].(float64) != 9.99 {
		t.Fatalf("unexpected result data: %+v", got.ResultData)
	}
}

func TestRedisLatestMissingReturnsFalse(t *testing.T) {
	store := newTestRedis(t)
	_, ok, err := store.Latest(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing execution id")
	}
}
