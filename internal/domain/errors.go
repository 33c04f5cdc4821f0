package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent error conditions in the gracehost domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrConfiguration is returned when the configuration path or files are
	// missing or cannot be parsed.
	ErrConfiguration = errors.New("gracehost: configuration error")

	// ErrAlreadyStarted is returned when Start() or Load() is called twice.
	ErrAlreadyStarted = errors.New("gracehost: already started")

	// ErrNotLoaded is returned when Unload() is called on a host that was not
	// brought up with Load().
	ErrNotLoaded = errors.New("gracehost: not loaded")

	// ErrDuplicateModule is returned when a module name is registered twice
	// with conflicting sources.
	ErrDuplicateModule = errors.New("gracehost: duplicate module")

	// ErrModuleNotFound is returned when no resolver can locate a module.
	ErrModuleNotFound = errors.New("gracehost: module not found")

	// ErrModuleConfig is returned when a module rejects its configuration.
	ErrModuleConfig = errors.New("gracehost: module configuration error")

	// ErrModuleSetup is returned when a module setup hook fails.
	ErrModuleSetup = errors.New("gracehost: module setup error")

	// ErrShutdownTask marks a shutdown task failure. It is logged, never
	// propagated to callers of Stop.
	ErrShutdownTask = errors.New("gracehost: shutdown task error")

	// ErrAlreadySpawned is returned when workers are spawned twice.
	ErrAlreadySpawned = errors.New("gracehost: workers already spawned")

	// ErrUnknownMessage is returned when an IPC envelope carries an
	// unrecognized type.
	ErrUnknownMessage = errors.New("gracehost: unknown message type")

	// ErrInvalidMessage is returned when an IPC envelope fails validation.
	ErrInvalidMessage = errors.New("gracehost: invalid message")

	// ErrMeshUnavailable is returned by mesh operations before the Mesh
	// phase or after shutdown.
	ErrMeshUnavailable = errors.New("gracehost: mesh unavailable")

	// ErrClosed is returned by channels and networks used after close.
	ErrClosed = errors.New("gracehost: closed")
)

// ModuleError attaches the module name to a loader failure.
type ModuleError struct {
	Module string
	Err    error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module [%s]: %v", e.Module, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// PhaseError records the lifecycle phase a startup failure happened in.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panic.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recovered converts a recovered panic value into an error.
func Recovered(v interface{}) error {
	if err, ok := v.(error); ok {
		return &PanicError{Value: err}
	}
	return &PanicError{Value: v}
}
