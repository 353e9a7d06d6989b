package pipeline

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brendan721/flipsync-agents/internal/aggregator"
	"github.com/brendan721/flipsync-agents/internal/conflict"
	"github.com/brendan721/flipsync-agents/internal/coorderrors"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

// Dispatcher executes one pipeline stage against a chosen agent and returns
// the stage's output merged into the rolling result_data. Implemented by the
// Communication Manager.
type Dispatcher interface {
	ExecuteStage(ctx context.Context, agentID, stageID string, input map[string]any) (map[string]any, error)
}

// Loader reports how many active tasks an agent currently carries, used for
// the fewest-tasks agent selection rule shared with the task delegator.
type Loader interface {
	ActiveTaskCount(agentID string) int
}

// SnapshotStore persists a workflow-state snapshot on every transition.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
}

// Broadcaster pushes a workflow snapshot to realtime subscribers.
type Broadcaster interface {
	BroadcastWorkflowUpdate(ctx context.Context, snap Snapshot)
}

// Controller owns every registered pipeline/template and in-flight execution.
type Controller struct {
	mu        sync.Mutex
	pipelines map[string]*Pipeline
	templates map[string]*Pipeline
	running   map[string]*execution

	reg        *registry.Registry
	loader     Loader
	dispatcher Dispatcher
	store      SnapshotStore
	broadcast  Broadcaster
	logger     *slog.Logger

	agg      *aggregator.Aggregator
	resolver *conflict.Resolver
}

// New constructs a Controller. store and broadcast may be nil (snapshots are
// then dropped silently, useful for tests). agg and resolver may be nil
// (batched stages then keep the plain later-writer-wins merge with no
// cross-stage conflict detection or result collection).
func New(reg *registry.Registry, loader Loader, dispatcher Dispatcher, store SnapshotStore, broadcast Broadcaster, agg *aggregator.Aggregator, resolver *conflict.Resolver, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		pipelines:  make(map[string]*Pipeline),
		templates:  make(map[string]*Pipeline),
		running:    make(map[string]*execution),
		reg:        reg,
		loader:     loader,
		dispatcher: dispatcher,
		store:      store,
		broadcast:  broadcast,
		agg:        agg,
		resolver:   resolver,
		logger:     logger,
	}
}

// RegisterPipeline validates and stores a pipeline definition. Every
// fallback-stage reference must resolve to another stage in the same
// pipeline.
func (c *Controller) RegisterPipeline(p Pipeline) error {
	for _, s := range p.Stages {
		if s.FallbackStageID != "" && p.StageByID(s.FallbackStageID) == nil {
			return coorderrors.Validation("stage %s references unknown fallback stage %s", s.ID, s.FallbackStageID)
		}
	}
	cp := p
	c.mu.Lock()
	c.pipelines[p.ID] = &cp
	c.mu.Unlock()
	return nil
}

// Execute runs pipelineID over input and returns (ok, result_data). ok is
// false if any required stage ultimately fails; result_data reflects
// whatever was merged before the abort.
func (c *Controller) Execute(ctx context.Context, pipelineID string, input map[string]any, executionID string) (bool, map[string]any) {
	c.mu.Lock()
	p, ok := c.pipelines[pipelineID]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if executionID == "" {
		executionID = uuid.NewString()
	}

	initial := make(map[string]any, len(input))
	for k, v := range input {
		initial[k] = v
	}

	run := &execution{
		executionID:    executionID,
		pipelineID:     pipelineID,
		startedAt:      time.Now(),
		resultData:     initial,
		agentResponses: make(map[string]AgentResponse),
		status:         StatusRunning,
	}

	c.mu.Lock()
	c.running[executionID] = run
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.running, executionID)
		c.mu.Unlock()
	}()

	var aborted bool
	if p.MaxParallelStages > 1 {
		aborted = c.executeBatched(ctx, p, run)
	} else {
		aborted = c.executeSequential(ctx, p, run)
	}

	run.mu.Lock()
	if aborted {
		run.status = StatusFailed
	} else {
		run.status = StatusCompleted
	}
	result := make(map[string]any, len(run.resultData))
	for k, v := range run.resultData {
		result[k] = v
	}
	run.mu.Unlock()

	c.persist(ctx, run, len(p.Stages))
	return !aborted, result
}

// executeSequential runs stages one at a time. A non-required stage failure
// is recorded but does not abort; a required stage failure tries its
// fallback (if any) then aborts.
func (c *Controller) executeSequential(ctx context.Context, p *Pipeline, run *execution) bool {
	for _, stage := range p.Stages {
		run.mu.Lock()
		run.currentStageID = stage.ID
		run.mu.Unlock()
		c.persist(ctx, run, len(p.Stages))

		output, err := c.runStageWithRetry(ctx, stage, run)
		if err == nil {
			c.mergeResult(run, output, stage.ID)
			run.mu.Lock()
			run.stagesCompleted++
			run.mu.Unlock()
			continue
		}

		if !stage.Required {
			run.mu.Lock()
			run.stagesFailed++
			run.mu.Unlock()
			continue
		}

		if stage.FallbackStageID != "" {
			fallback := p.StageByID(stage.FallbackStageID)
			fbOutput, fbErr := c.runStageWithRetry(ctx, fallback, run)
			if fbErr == nil {
				c.mergeResult(run, fbOutput, fallback.ID)
				run.mu.Lock()
				run.stagesCompleted++
				run.mu.Unlock()
				continue
			}
		}

		run.mu.Lock()
		run.stagesFailed++
		run.mu.Unlock()
		return true
	}
	return false
}

// executeBatched partitions stages into consecutive batches of
// MaxParallelStages and runs each batch concurrently. Within a batch, later
// writers (by stage order) win on overlapping result_data keys. If any
// required stage in a batch fails (after fallback), the pipeline aborts
// after that batch.
func (c *Controller) executeBatched(ctx context.Context, p *Pipeline, run *execution) bool {
	batchSize := p.MaxParallelStages
	for start := 0; start < len(p.Stages); start += batchSize {
		end := start + batchSize
		if end > len(p.Stages) {
			end = len(p.Stages)
		}
		batch := p.Stages[start:end]

		outcomes := make([]batchOutcome, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i, stage := range batch {
			i, stage := i, stage
			g.Go(func() error {
				run.mu.Lock()
				run.currentStageID = stage.ID
				run.mu.Unlock()

				output, err := c.runStageWithRetry(gctx, stage, run)
				if err != nil && stage.FallbackStageID != "" {
					if fallback := p.StageByID(stage.FallbackStageID); fallback != nil {
						if fbOutput, fbErr := c.runStageWithRetry(gctx, fallback, run); fbErr == nil {
							output, err = fbOutput, nil
							stage = fallback
						}
					}
				}
				outcomes[i] = batchOutcome{stage: stage, output: output, err: err}
				return nil
			})
		}
		_ = g.Wait()

		c.resolveBatchConflicts(run, outcomes)

		anyRequiredFailed := false
		for _, o := range outcomes {
			if o.err == nil {
				c.mergeResult(run, o.output, o.stage.ID)
				run.mu.Lock()
				run.stagesCompleted++
				run.mu.Unlock()
				continue
			}
			run.mu.Lock()
			run.stagesFailed++
			run.mu.Unlock()
			if o.stage.Required {
				anyRequiredFailed = true
			}
		}

		c.persist(ctx, run, len(p.Stages))
		if anyRequiredFailed {
			return true
		}
	}
	return false
}

// mergeResult merges a stage's output into result_data under lock, tagging
// the contribution with the stage id so overlapping batch writes are
// resolvable by stage order (the caller ensures later writers in a batch are
// applied after earlier ones).
func (c *Controller) mergeResult(run *execution, output map[string]any, stageID string) {
	run.mu.Lock()
	defer run.mu.Unlock()
	for k, v := range output {
		run.resultData[k] = v
	}
	run.agentResponses[stageID] = AgentResponse{Response: output, Timestamp: time.Now(), Status: "completed"}
}

// runStageWithRetry executes a stage with its timeout, retrying up to
// RetryCount times with base-2 exponential backoff (seconds) on timeout.
func (c *Controller) runStageWithRetry(ctx context.Context, stage *Stage, run *execution) (map[string]any, error) {
	if stage == nil {
		return nil, coorderrors.Coordination("", "nil stage")
	}

	var lastErr error
	attempts := stage.RetryCount + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			c.recordRetry(stage)
		}

		output, err := c.runStageOnce(ctx, stage, run)
		c.recordExec(stage, err == nil, err == context.DeadlineExceeded)
		if err == nil {
			return output, nil
		}
		lastErr = err
		if err != context.DeadlineExceeded {
			break
		}
	}
	return nil, lastErr
}

func (c *Controller) runStageOnce(ctx context.Context, stage *Stage, run *execution) (map[string]any, error) {
	agentID, err := c.selectAgent(stage.Category)
	if err != nil {
		return nil, err
	}

	stageCtx := ctx
	var cancel context.CancelFunc
	if stage.Timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}

	run.mu.Lock()
	input := make(map[string]any, len(run.resultData))
	for k, v := range run.resultData {
		input[k] = v
	}
	run.mu.Unlock()

	if c.dispatcher == nil {
		return nil, coorderrors.Coordination(stage.ID, "no dispatcher configured")
	}

	start := time.Now()
	output, err := c.dispatcher.ExecuteStage(stageCtx, agentID, stage.ID, input)
	elapsed := time.Since(start)
	c.updateAvg(stage, elapsed)

	if stageCtx.Err() == context.DeadlineExceeded {
		return nil, context.DeadlineExceeded
	}
	return output, err
}

// selectAgent picks an available agent (Active status, lowest active-task
// load) in the given category, the same fewest-tasks rule used by the task
// delegator.
func (c *Controller) selectAgent(category registry.Category) (string, error) {
	candidates := c.reg.FindByType(category)
	var healthy []registry.Agent
	for _, a := range candidates {
		if a.Status == registry.StatusActive {
			healthy = append(healthy, a)
		}
	}
	if len(healthy) == 0 {
		return "", coorderrors.Coordination("", "no active agent in category %s", category)
	}
	sort.Slice(healthy, func(i, j int) bool {
		li, lj := c.loader.ActiveTaskCount(healthy[i].ID), c.loader.ActiveTaskCount(healthy[j].ID)
		if li != lj {
			return li < lj
		}
		return healthy[i].ID < healthy[j].ID
	})
	return healthy[0].ID, nil
}

func (c *Controller) recordExec(stage *Stage, success, timedOut bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stage.metrics.ExecCount++
	if success {
		stage.metrics.SuccessCount++
	} else {
		stage.metrics.FailureCount++
	}
	if timedOut {
		stage.metrics.TimeoutCount++
	}
}

func (c *Controller) recordRetry(stage *Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stage.metrics.RetryCount++
}

func (c *Controller) updateAvg(stage *Stage, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stage.metrics.avgExecNanos == 0 {
		stage.metrics.avgExecNanos = elapsed.Nanoseconds()
		return
	}
	stage.metrics.avgExecNanos = (stage.metrics.avgExecNanos + elapsed.Nanoseconds()) / 2
}

// StageMetricsFor returns a copy of a stage's accumulated metrics.
func (c *Controller) StageMetricsFor(pipelineID, stageID string) (StageMetrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pipelines[pipelineID]
	if !ok {
		return StageMetrics{}, false
	}
	s := p.StageByID(stageID)
	if s == nil {
		return StageMetrics{}, false
	}
	return s.metrics, true
}

func (c *Controller) persist(ctx context.Context, run *execution, totalStages int) {
	snap := run.snapshot(totalStages)
	if c.store != nil {
		if err := c.store.SaveSnapshot(ctx, snap); err != nil {
			c.logger.Warn("snapshot persistence failed", "execution_id", snap.ExecutionID, "error", err)
		}
	}
	if c.broadcast != nil {
		c.broadcast.BroadcastWorkflowUpdate(ctx, snap)
	}
}
