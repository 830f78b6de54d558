package autorun

import (
	"context"
	"sync"
	"time"

	"autoroll/internal/task/scheduler"
	logx "autoroll/pkg/logx"
)

// AutosaveJob is the scheduler job name of the periodic checkpoint.
const AutosaveJob = "autorun.autosave"

// Coordinator drives the periodic autosave and the terminal flush. It holds
// every runner so runners never need each other.
type Coordinator struct {
	persist *Persister
	sched   *scheduler.Service
	runners []*Runner
	log     logx.Logger

	mu       sync.Mutex
	done     bool
	shutdown error
}

func NewCoordinator(p *Persister, sched *scheduler.Service, log logx.Logger, runners ...*Runner) *Coordinator {
	return &Coordinator{persist: p, sched: sched, runners: runners, log: log}
}

// StartAutosave registers the autosave job. schedule accepts anything
// scheduler.ParseSchedule does; registering again replaces the cadence.
func (c *Coordinator) StartAutosave(schedule string, timeout time.Duration) error {
	_, err := c.sched.AddSchedule(AutosaveJob, schedule, timeout, c.Autosave)
	if err == nil {
		c.log.Info("autosave scheduled", logx.String("schedule", schedule))
	}
	return err
}

// Autosave flushes all runners when at least one run is active.
func (c *Coordinator) Autosave(ctx context.Context) error {
	if c.active() == 0 {
		return nil
	}
	return c.persist.Flush(ctx)
}

func (c *Coordinator) active() int {
	n := 0
	for _, r := range c.runners {
		n += r.Len()
	}
	return n
}

// Shutdown flushes every active run once, removes the autosave job and
// abandons the runs. It is idempotent; later calls return the first result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return c.shutdown
	}
	c.done = true

	start := time.Now()
	active := c.active()
	c.shutdown = c.persist.Flush(ctx)
	c.sched.Remove(AutosaveJob)
	for _, r := range c.runners {
		r.Abandon()
	}
	c.log.Info("shutdown flush done",
		logx.Int("runs", active),
		logx.Duration("took", time.Since(start)),
		logx.Err(c.shutdown),
	)
	return c.shutdown
}
