package state

import "time"

// Status is a snapshot of one process.
type Status struct {
	// Instance is the host instance id.
	Instance string `json:"instance"`

	Pid  int    `json:"pid"`
	Role string `json:"role"`

	// Worker is the worker id; empty for a master or singleton.
	Worker string `json:"worker,omitempty"`

	// Phase is the lifecycle phase at the time of writing.
	Phase string `json:"phase"`

	// Modules lists loaded modules in load order.
	Modules []string `json:"modules,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	ReadyAt   *time.Time `json:"ready_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// Running reports whether the process had not recorded a stop.
func (s Status) Running() bool {
	return s.StoppedAt == nil && s.Pid != 0
}
