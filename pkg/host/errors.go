package host

import "github.com/bft-labs/gracehost/internal/domain"

// Errors returned by the host. Match them with errors.Is.
var (
	ErrConfiguration   = domain.ErrConfiguration
	ErrAlreadyStarted  = domain.ErrAlreadyStarted
	ErrNotLoaded       = domain.ErrNotLoaded
	ErrDuplicateModule = domain.ErrDuplicateModule
	ErrModuleNotFound  = domain.ErrModuleNotFound
	ErrModuleConfig    = domain.ErrModuleConfig
	ErrModuleSetup     = domain.ErrModuleSetup
	ErrShutdownTask    = domain.ErrShutdownTask
	ErrUnknownMessage  = domain.ErrUnknownMessage
	ErrInvalidMessage  = domain.ErrInvalidMessage
	ErrMeshUnavailable = domain.ErrMeshUnavailable
)

type (
	// PhaseError records the phase a startup failure happened in.
	PhaseError = domain.PhaseError

	// ModuleError names the module a load failure concerns.
	ModuleError = domain.ModuleError

	// PanicError wraps a recovered panic value.
	PanicError = domain.PanicError
)
