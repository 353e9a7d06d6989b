package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brendan721/flipsync-agents/internal/bus"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

type staticLoader struct{}

func (staticLoader) ActiveTaskCount(string) int { return 0 }

type fakeDispatcher struct {
	calls map[string]*int32
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{calls: make(map[string]*int32)}
}

func (f *fakeDispatcher) ExecuteStage(ctx context.Context, agentID, stageID string, input map[string]any) (map[string]any, error) {
	counter, ok := f.calls[stageID]
	if !ok {
		var c int32
		counter = &c
		f.calls[stageID] = counter
	}
	atomic.AddInt32(counter, 1)

	switch stageID {
	case "A":
		<-ctx.Done() // always times out
		return nil, ctx.Err()
	case "B":
		return map[string]any{"stage": "B"}, nil
	case "C":
		return map[string]any{"stage": "C"}, nil
	default:
		return map[string]any{}, nil
	}
}

func newTestController(t *testing.T, dispatcher Dispatcher) (*Controller, *registry.Registry) {
	t.Helper()
	b := bus.New(nil)
	reg := registry.New(b, nil, 0)
	reg.Register(registry.Agent{ID: "agent-a", Category: registry.CategoryMarket, Status: registry.StatusActive})
	reg.Register(registry.Agent{ID: "agent-b", Category: registry.CategoryExecutive, Status: registry.StatusActive})
	reg.Register(registry.Agent{ID: "agent-c", Category: registry.CategoryLogistics, Status: registry.StatusActive})
	return New(reg, staticLoader{}, dispatcher, nil, nil, nil, nil, nil), reg
}

func TestPipelineFallbackStageSucceedsWhenPrimaryTimesOut(t *testing.T) {
	c, _ := newTestController(t, newFakeDispatcher())

	p := Pipeline{
		ID: "p1",
		Stages: []*Stage{
			{ID: "A", Category: registry.CategoryMarket, Required: true, Timeout: 10 * time.Millisecond, RetryCount: 0, FallbackStageID: "B"},
			{ID: "B", Category: registry.CategoryExecutive, Required: false, Timeout: time.Second},
			{ID: "C", Category: registry.CategoryLogistics, Required: true, Timeout: time.Second},
		},
		MaxParallelStages: 1,
	}
	if err := c.RegisterPipeline(p); err != nil {
		t.Fatalf("register: %v", err)
	}

	ok, result := c.Execute(context.Background(), "p1", map[string]any{}, "")
	if !ok {
		t.Fatalf("expected pipeline to succeed via fallback, result=%#v", result)
	}
	if result["stage"] != "C" {
		t.Fatalf("expected C's output to win as the last writer, got %#v", result)
	}
}

func TestPipelineRegisterRejectsUnknownFallback(t *testing.T) {
	c, _ := newTestController(t, newFakeDispatcher())
	p := Pipeline{
		ID: "bad",
		Stages: []*Stage{
			{ID: "A", Category: registry.CategoryMarket, Required: true, FallbackStageID: "ghost"},
		},
	}
	if err := c.RegisterPipeline(p); err == nil {
		t.Fatal("expected validation error for unknown fallback stage")
	}
}

func TestPipelineOptionalStageFailureDoesNotAbort(t *testing.T) {
	dispatcher := &optionalFailDispatcher{}
	c, _ := newTestController(t, dispatcher)
	p := Pipeline{
		ID: "p2",
		Stages: []*Stage{
			{ID: "opt", Category: registry.CategoryMarket, Required: false, Timeout: time.Second},
			{ID: "req", Category: registry.CategoryExecutive, Required: true, Timeout: time.Second},
		},
		MaxParallelStages: 1,
	}
	_ = c.RegisterPipeline(p)

	ok, result := c.Execute(context.Background(), "p2", map[string]any{}, "")
	if !ok {
		t.Fatalf("expected success despite optional stage failure, result=%#v", result)
	}
	if result["req"] != "done" {
		t.Fatalf("expected required stage output present, got %#v", result)
	}
}

type optionalFailDispatcher struct{}

func (optionalFailDispatcher) ExecuteStage(ctx context.Context, agentID, stageID string, input map[string]any) (map[string]any, error) {
	if stageID == "opt" {
		return nil, context.DeadlineExceeded
	}
	return map[string]any{"req": "done"}, nil
}
