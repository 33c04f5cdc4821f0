package state

import "context"

// Repository handles status persistence.
// Implementations persist status atomically.
type Repository interface {
	// Load retrieves the last saved status.
	// Returns an empty status and nil error if none exists.
	// Returns an error only for actual read failures.
	Load(ctx context.Context) (Status, error)

	// Save persists the status atomically.
	Save(ctx context.Context, status Status) error
}
