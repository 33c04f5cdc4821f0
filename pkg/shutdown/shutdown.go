// Package shutdown implements the ordered, best-effort cleanup queue drained
// when a gracehost process terminates.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/gracehost/internal/domain"
	"github.com/bft-labs/gracehost/pkg/log"
)

// DefaultTaskTimeout is the default maximum time a single task may run
// before the coordinator moves on to the next one.
const DefaultTaskTimeout = 30 * time.Second

// ErrTaskTimeout is reported for tasks that did not finish within the
// task timeout. The task keeps running in the background.
var ErrTaskTimeout = errors.New("shutdown: task timeout")

// Task is a cleanup action. Returning an error marks the task failed; the
// remaining tasks still run.
type Task func(ctx context.Context) error

// Option configures a registered task.
type Option func(*domain.ShutdownTask)

// OnMaster marks a task that must also run in a master process that does no
// application work.
func OnMaster() Option {
	return func(t *domain.ShutdownTask) {
		t.OnMaster = true
	}
}

// Failure describes a task that failed during a drain.
type Failure struct {
	Name string
	Err  error
}

// Report summarizes a drain.
type Report struct {
	Ran      []string
	Skipped  []string
	Failures []Failure
}

// Coordinator holds the ordered task list.
type Coordinator struct {
	drainMu sync.Mutex

	mu         sync.Mutex
	tasks      []domain.ShutdownTask
	masterOnly bool

	timeout time.Duration
	logger  log.Logger
	now     func() time.Time
}

// New creates an empty coordinator.
func New(logger log.Logger) *Coordinator {
	logger = log.OrNoop(logger)
	return &Coordinator{
		timeout: DefaultTaskTimeout,
		logger:  logger,
		now:     time.Now,
	}
}

// SetTaskTimeout changes the per-task timeout. Zero or negative disables it.
func (c *Coordinator) SetTaskTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// SetMasterOnly restricts drains to tasks registered with OnMaster.
func (c *Coordinator) SetMasterOnly(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masterOnly = v
}

// Register appends a task. A nil task is ignored.
func (c *Coordinator) Register(name string, task Task, opts ...Option) {
	if task == nil {
		return
	}
	t := domain.ShutdownTask{
		Name:         name,
		Action:       task,
		RegisteredAt: c.now(),
	}
	for _, opt := range opts {
		opt(&t)
	}

	c.mu.Lock()
	c.tasks = append(c.tasks, t)
	c.mu.Unlock()

	c.logger.Debug("shutdown task registered", log.String("task", name))
}

// Len returns the number of pending tasks.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// Names returns the pending task names in drain order.
func (c *Coordinator) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.tasks))
	for i, t := range c.tasks {
		names[i] = t.Name
	}
	return names
}

// Drain runs every pending task in registration order and clears the list.
// A second Drain with nothing registered in between runs zero tasks.
// Concurrent calls are serialized.
func (c *Coordinator) Drain(ctx context.Context) Report {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	c.mu.Lock()
	tasks := c.tasks
	c.tasks = nil
	masterOnly := c.masterOnly
	timeout := c.timeout
	c.mu.Unlock()

	var report Report
	if len(tasks) == 0 {
		return report
	}

	c.logger.Info("draining shutdown tasks", log.Int("tasks", len(tasks)))

	for _, t := range tasks {
		if masterOnly && !t.OnMaster {
			report.Skipped = append(report.Skipped, t.Name)
			continue
		}

		start := c.now()
		err := c.run(ctx, t, timeout)
		report.Ran = append(report.Ran, t.Name)

		if err != nil {
			report.Failures = append(report.Failures, Failure{Name: t.Name, Err: err})
			c.logger.Error("shutdown task failed",
				log.String("task", t.Name),
				log.Err(fmt.Errorf("%w: %w", domain.ErrShutdownTask, err)))
			continue
		}
		c.logger.Debug("shutdown task complete",
			log.String("task", t.Name),
			log.Duration("took", c.now().Sub(start)))
	}

	return report
}

func (c *Coordinator) run(ctx context.Context, t domain.ShutdownTask, timeout time.Duration) error {
	taskCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- domain.Recovered(r)
			}
		}()
		done <- t.Action(taskCtx)
	}()

	if timeout <= 0 {
		return <-done
	}

	select {
	case err := <-done:
		return err
	case <-taskCtx.Done():
		// The task may still finish just after the deadline.
		select {
		case err := <-done:
			return err
		default:
		}
		return ErrTaskTimeout
	}
}
