package domain

import "context"

// LeaderLock elects a single instance for periodic jobs.
type LeaderLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}
