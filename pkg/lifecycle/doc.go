// Package lifecycle provides the phase state machine of a host.
//
// A host moves through the startup pipeline Config, Log, Profiler,
// ProcessRole, Mesh and Modules to Ready. Phases only move forward; a
// failure or a termination request jumps to ShuttingDown, which ends in
// Stopped. A Stopped manager can be Reset to run the pipeline again.
//
// # Usage
//
//	manager := lifecycle.NewManager(logger, emitter)
//
//	if !manager.CanStart() {
//	    return ErrAlreadyStarted
//	}
//
//	if err := manager.TransitionTo(lifecycle.PhaseConfig, "start"); err != nil {
//	    return err
//	}
//
// # State Machine
//
// Valid transitions:
//   - None -> Config -> Log -> Profiler -> ProcessRole -> Mesh -> Modules -> Ready
//     (later pipeline phases may be skipped)
//   - any phase after None and before ShuttingDown -> ShuttingDown
//   - ShuttingDown -> Stopped
//   - Stopped -> None (Reset only)
package lifecycle
