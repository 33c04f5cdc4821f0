package cluster

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bft-labs/gracehost/internal/domain"
	"github.com/bft-labs/gracehost/pkg/ipc"
	"github.com/bft-labs/gracehost/pkg/log"
)

// WorkerHandle is the master's record of a live worker.
type WorkerHandle struct {
	ID        string
	Pid       int
	SpawnedAt time.Time
	Channel   *ipc.Conn

	process Process
}

// ExitHandler is notified after a worker exited and its handle was removed.
type ExitHandler func(h WorkerHandle, status ExitStatus)

// Option configures a Manager.
type Option func(*Manager)

// WithSpawner sets the process spawner.
func WithSpawner(s Spawner) Option {
	return func(m *Manager) { m.spawner = s }
}

// WithCPUCount overrides the CPU count used by ResolveRole.
func WithCPUCount(fn func() int) Option {
	return func(m *Manager) { m.cpus = fn }
}

// WithLookupEnv overrides the environment lookup used to detect workers.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(m *Manager) { m.lookupEnv = fn }
}

// WithUpstream overrides how a worker opens its upstream channel.
func WithUpstream(fn func() (*ipc.Conn, error)) Option {
	return func(m *Manager) { m.upstream = fn }
}

// Manager decides the role and owns the worker set.
type Manager struct {
	spawner   Spawner
	cpus      func() int
	lookupEnv func(string) (string, bool)
	upstream  func() (*ipc.Conn, error)
	logger    log.Logger
	now       func() time.Time

	mu       sync.Mutex
	spawned  bool
	workers  map[string]*WorkerHandle
	handlers []ExitHandler
	exits    sync.WaitGroup
}

// NewManager creates a manager. Without WithSpawner, SpawnWorkers
// re-executes the running binary.
func NewManager(logger log.Logger, opts ...Option) *Manager {
	logger = log.OrNoop(logger)
	m := &Manager{
		cpus:      runtime.NumCPU,
		lookupEnv: os.LookupEnv,
		upstream:  Upstream,
		logger:    logger,
		now:       time.Now,
		workers:   make(map[string]*WorkerHandle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ResolveRole decides the role of this process.
func (m *Manager) ResolveRole(cfg Config) (Role, error) {
	if id, ok := m.lookupEnv(EnvWorkerID); ok && id != "" {
		conn, err := m.upstream()
		if err != nil {
			return nil, fmt.Errorf("%w: worker %s: %w", domain.ErrConfiguration, id, err)
		}
		return Worker{ID: id, Upstream: conn}, nil
	}

	if n := WorkerCount(cfg.Max, m.cpus()); n > 0 {
		return Master{Workers: n}, nil
	}
	return Singleton{}, nil
}

// SpawnWorkers forks n workers without waiting for them to initialize. It
// may be called once per manager.
func (m *Manager) SpawnWorkers(ctx context.Context, n int) ([]WorkerHandle, error) {
	m.mu.Lock()
	if m.spawned {
		m.mu.Unlock()
		return nil, domain.ErrAlreadySpawned
	}
	m.spawned = true
	if m.spawner == nil {
		s, err := NewExecSpawner()
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.spawner = s
	}
	spawner := m.spawner
	m.mu.Unlock()

	handles := make([]WorkerHandle, 0, n)
	for i := 1; i <= n; i++ {
		id := strconv.Itoa(i)
		proc, conn, err := spawner.Spawn(ctx, id)
		if err != nil {
			return handles, fmt.Errorf("spawn worker %s: %w", id, err)
		}

		h := &WorkerHandle{
			ID:        id,
			Pid:       proc.Pid(),
			SpawnedAt: m.now(),
			Channel:   conn,
			process:   proc,
		}
		m.mu.Lock()
		m.workers[id] = h
		m.mu.Unlock()

		m.logger.Info("worker spawned",
			log.String("worker", id),
			log.Int("pid", h.Pid))

		m.exits.Add(1)
		go m.watch(h)
		handles = append(handles, *h)
	}
	return handles, nil
}

func (m *Manager) watch(h *WorkerHandle) {
	defer m.exits.Done()

	status, err := h.process.Wait()
	if h.Channel != nil {
		h.Channel.Close()
	}

	m.mu.Lock()
	delete(m.workers, h.ID)
	handlers := append([]ExitHandler(nil), m.handlers...)
	m.mu.Unlock()

	fields := []log.Field{
		log.String("worker", h.ID),
		log.Int("pid", h.Pid),
		log.Int("code", status.Code),
	}
	if status.Signal != "" {
		fields = append(fields, log.String("signal", status.Signal))
	}
	if err != nil {
		fields = append(fields, log.Err(err))
	}
	if status.Code == 0 && err == nil {
		m.logger.Info("worker exited", fields...)
	} else {
		m.logger.Warn("worker exited", fields...)
	}

	for _, fn := range handlers {
		fn(*h, status)
	}
}

// OnWorkerExit adds a handler for worker exits.
func (m *Manager) OnWorkerExit(fn ExitHandler) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// BroadcastSignal sends sig to every live worker without waiting for them.
// It returns the number of workers signalled.
func (m *Manager) BroadcastSignal(sig os.Signal) int {
	sent := 0
	for _, h := range m.Workers() {
		if err := h.process.Signal(sig); err != nil {
			m.logger.Warn("signal worker failed",
				log.String("worker", h.ID),
				log.String("signal", sig.String()),
				log.Err(err))
			continue
		}
		sent++
	}
	return sent
}

// Workers returns the live workers ordered by id.
func (m *Manager) Workers() []WorkerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]WorkerHandle, 0, len(m.workers))
	for _, h := range m.workers {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a < b
	})
	return out
}

// Wait blocks until every spawned worker has exited or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.exits.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
