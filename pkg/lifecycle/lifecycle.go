package lifecycle

import "time"

// Phase is a stage of the host lifecycle. Phases advance forward only.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseConfig
	PhaseLog
	PhaseProfiler
	PhaseProcessRole
	PhaseMesh
	PhaseModules
	PhaseReady
	PhaseShuttingDown
	PhaseStopped
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "None"
	case PhaseConfig:
		return "Config"
	case PhaseLog:
		return "Log"
	case PhaseProfiler:
		return "Profiler"
	case PhaseProcessRole:
		return "ProcessRole"
	case PhaseMesh:
		return "Mesh"
	case PhaseModules:
		return "Modules"
	case PhaseReady:
		return "Ready"
	case PhaseShuttingDown:
		return "ShuttingDown"
	case PhaseStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Starting reports whether p is one of the startup pipeline phases.
func (p Phase) Starting() bool {
	return p > PhaseNone && p < PhaseReady
}

// EventEmitter is called when the phase changes.
type EventEmitter interface {
	OnPhaseChange(previous, current Phase, reason string)
}

// Manager manages the phase state machine of a host.
type Manager interface {
	// Phase returns the current phase.
	Phase() Phase

	// CanStart returns true if the pipeline may begin.
	CanStart() bool

	// TransitionTo attempts to move to a new phase.
	// Returns an error if the transition is not valid.
	TransitionTo(next Phase, reason string) error

	// Reset returns a Stopped manager to PhaseNone.
	Reset() error

	// WaitWithTimeout waits for all tracked goroutines to finish with a timeout.
	// Returns ErrShutdownTimeout if the timeout expires.
	WaitWithTimeout(timeout time.Duration) error

	// AddWorker increments the tracked goroutine count.
	AddWorker()

	// WorkerDone decrements the tracked goroutine count.
	WorkerDone()
}
