package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/gracehost/pkg/log"
)

// Common lifecycle errors.
var (
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrShutdownTimeout   = errors.New("shutdown timeout")
)

// ShutdownTimeout is the default maximum time to wait for graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// DefaultManager implements Manager.
type DefaultManager struct {
	mu           sync.RWMutex
	phase        Phase
	wg           sync.WaitGroup
	logger       log.Logger
	eventEmitter EventEmitter
}

// NewManager creates a new lifecycle manager in PhaseNone.
func NewManager(logger log.Logger, emitter EventEmitter) *DefaultManager {
	logger = log.OrNoop(logger)
	return &DefaultManager{
		phase:        PhaseNone,
		logger:       logger,
		eventEmitter: emitter,
	}
}

// Phase returns the current phase.
func (l *DefaultManager) Phase() Phase {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.phase
}

// valid reports whether from -> to is allowed. Pipeline phases may be
// skipped but never revisited; any live phase may jump to ShuttingDown.
func valid(from, to Phase) bool {
	switch {
	case to == PhaseShuttingDown:
		return from > PhaseNone && from < PhaseShuttingDown
	case to == PhaseStopped:
		return from == PhaseShuttingDown
	case from < PhaseReady:
		return to > from && to <= PhaseReady
	default:
		return false
	}
}

// TransitionTo attempts to move to a new phase.
func (l *DefaultManager) TransitionTo(next Phase, reason string) error {
	l.mu.Lock()
	prev := l.phase

	if !valid(prev, next) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}

	l.phase = next
	l.mu.Unlock()

	// Emit event outside of lock
	if l.eventEmitter != nil {
		l.eventEmitter.OnPhaseChange(prev, next, reason)
	}

	l.logger.Debug("phase transition",
		log.String("from", prev.String()),
		log.String("to", next.String()),
		log.String("reason", reason),
	)

	return nil
}

// Reset returns a Stopped manager to PhaseNone so the pipeline can run
// again.
func (l *DefaultManager) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != PhaseStopped {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, l.phase)
	}
	l.phase = PhaseNone
	return nil
}

// CanStart returns true if the pipeline may begin.
func (l *DefaultManager) CanStart() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.phase == PhaseNone
}

// AddWorker increments the tracked goroutine count.
func (l *DefaultManager) AddWorker() {
	l.wg.Add(1)
}

// WorkerDone decrements the tracked goroutine count.
func (l *DefaultManager) WorkerDone() {
	l.wg.Done()
}

// WaitWithTimeout waits for all tracked goroutines to finish with a timeout.
// Returns ErrShutdownTimeout if the timeout expires.
func (l *DefaultManager) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		l.logger.Warn("shutdown timeout, abandoning goroutines",
			log.Duration("timeout", timeout),
		)
		return ErrShutdownTimeout
	}
}
