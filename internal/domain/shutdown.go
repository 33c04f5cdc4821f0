package domain

import (
	"context"
	"time"
)

// ShutdownTask is a cleanup action registered during setup and drained once
// at shutdown.
type ShutdownTask struct {
	Name         string
	Action       func(ctx context.Context) error
	RegisteredAt time.Time

	// OnMaster marks tasks that also run in the master process. Tasks
	// without it are skipped when the draining process is the master.
	OnMaster bool
}
