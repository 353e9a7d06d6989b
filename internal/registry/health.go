package registry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/brendan721/flipsync-agents/internal/bus"
)

const (
	disconnectAfter = 5 * time.Minute
	pingAfter       = 1 * time.Minute
)

// StartHealthLoop launches the background health-check loop on its own
// goroutine and returns a function that stops it. The loop never propagates
// errors; failures are logged and the loop continues.
func (r *Registry) StartHealthLoop(ctx context.Context) func() {
	loopCtx, cancel := context.WithCancel(ctx)
	r.stopHealthLoop = cancel

	go func() {
		ticker := time.NewTicker(r.healthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				r.runHealthSweep(loopCtx)
			}
		}
	}()

	return cancel
}

func (r *Registry) runHealthSweep(ctx context.Context) {
	for _, agent := range r.All() {
		r.checkOne(ctx, agent)
	}
}

func (r *Registry) checkOne(ctx context.Context, agent Agent) {
	switch agent.Status {
	case StatusInactive, StatusDisconnected, StatusError:
		return
	}

	var next Status
	if agent.LastSeen == nil {
		next = StatusUnknown
	} else {
		since := time.Since(*agent.LastSeen)
		switch {
		case since > disconnectAfter:
			next = StatusDisconnected
		case since > pingAfter:
			if !r.Ping(ctx, agent.ID) {
				next = StatusDisconnected
			}
		}
	}
	if next == "" {
		return
	}
	if err := r.UpdateStatus(agent.ID, next); err != nil {
		r.logger.WarnContext(ctx, "health check status update failed", "agent_id", agent.ID, "status", next, "error", err)
	}
}

// CheckHealth reports whether the agent is currently in a status that can
// accept work (Active or Busy).
func (r *Registry) CheckHealth(id string) bool {
	agent, err := r.Get(id)
	if err != nil {
		return false
	}
	return agent.Healthy()
}

// Ping sends a Command "ping" to the agent over the bus and waits up to the
// configured ping timeout (default 5s) for a matching ping_response. It
// returns true iff a response with the matching correlation id arrives in time.
func (r *Registry) Ping(ctx context.Context, agentID string) bool {
	if r.bus == nil {
		return false
	}

	correlationID := uuid.NewString()
	responseCh := make(chan struct{}, 1)

	subID := r.bus.Subscribe(
		bus.And(bus.NameFilter{Name: "ping_response"}, bus.TargetFilter{Targets: []string{"registry"}}),
		func(ctx context.Context, ev bus.Event) {
			if ev.CorrelationID == correlationID {
				select {
				case responseCh <- struct{}{}:
				default:
				}
			}
		},
	)
	defer r.bus.Unsubscribe(subID)

	_ = r.bus.Publish(ctx, bus.Event{
		Name:          "ping",
		Kind:          bus.KindCommand,
		Source:        "registry",
		Target:        agentID,
		CorrelationID: correlationID,
	})

	timer := time.NewTimer(r.pingTimeout)
	defer timer.Stop()
	select {
	case <-responseCh:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// onHeartbeat resets an agent's last-seen instant and, if it had been marked
// Disconnected, restores it to Active.
func (r *Registry) onHeartbeat(ctx context.Context, ev bus.Event) {
	payload, ok := ev.Payload.(map[string]any)
	if !ok {
		return
	}
	agentID, _ := payload["agent_id"].(string)
	if agentID == "" {
		return
	}

	now := time.Now()
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if ok {
		agent.LastSeen = &now
		if agent.Status == StatusDisconnected {
			agent.Status = StatusActive
		}
	}
	r.mu.Unlock()

	if !ok {
		r.logger.WarnContext(ctx, "heartbeat for unknown agent", "agent_id", agentID)
	}
}
