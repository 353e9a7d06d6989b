package tasks

import (
	"context"
	"time"
)

// StartDeadlineMonitor launches the background deadline loop (default 30s)
// and returns a cancel function. Any active task past its deadline is
// forced to Timeout with error "Task exceeded deadline". The loop never
// propagates errors; individual transition failures are logged and skipped.
func (d *Delegator) StartDeadlineMonitor(ctx context.Context) func() {
	loopCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(d.deadlineCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				d.sweepDeadlines()
			}
		}
	}()

	return cancel
}

func (d *Delegator) sweepDeadlines() {
	now := time.Now()

	d.mu.Lock()
	var overdue []string
	for id, t := range d.tasks {
		if t.Status.Terminal() {
			continue
		}
		if t.Deadline != nil && now.After(*t.Deadline) {
			overdue = append(overdue, id)
		}
	}
	d.mu.Unlock()

	for _, id := range overdue {
		if err := d.UpdateStatus(id, StatusTimeout, nil, "Task exceeded deadline"); err != nil {
			d.logger.Warn("deadline monitor failed to transition overdue task", "task_id", id, "error", err)
		}
	}
}
