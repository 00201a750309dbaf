package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/jonboulle/clockwork"
)

const pruneTimeout = 30 * time.Second

// SessionPruner periodically deletes idle login sessions. Only the instance
// holding the leader lock prunes in a given round.
type SessionPruner struct {
	sessions domain.SessionRepository
	lock     domain.LeaderLock
	clock    clockwork.Clock
	maxIdle  time.Duration
	interval time.Duration
	onPrune  func(deleted int64)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionPruner creates a pruner. lock may be nil for single-instance setups;
// onPrune may be nil.
func NewSessionPruner(sessions domain.SessionRepository, lock domain.LeaderLock, clock clockwork.Clock, maxIdle, interval time.Duration, onPrune func(int64)) *SessionPruner {
	return &SessionPruner{
		sessions: sessions,
		lock:     lock,
		clock:    clock,
		maxIdle:  maxIdle,
		interval: interval,
		onPrune:  onPrune,
		stopCh:   make(chan struct{}),
	}
}

// PruneOnce deletes login sessions idle for longer than maxIdle.
func (p *SessionPruner) PruneOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()

	if p.lock != nil {
		leader, err := p.lock.TryAcquire(ctx)
		if err != nil {
			return 0, err
		}
		if !leader {
			slog.DebugContext(ctx, "Skipping session prune, not leader")
			return 0, nil
		}
	}

	deleted, err := p.sessions.DeleteIdle(ctx, p.clock.Now().Add(-p.maxIdle))
	if err != nil {
		return 0, err
	}
	if p.onPrune != nil {
		p.onPrune(deleted)
	}
	if deleted > 0 {
		slog.InfoContext(ctx, "Pruned idle sessions", "count", deleted)
	}
	return deleted, nil
}

// Start runs PruneOnce on every tick until Stop.
func (p *SessionPruner) Start() {
	ticker := p.clock.NewTicker(p.interval)
	p.wg.Go(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if _, err := p.PruneOnce(context.Background()); err != nil {
					slog.Error("Session prune failed", "error", err)
				}
			case <-p.stopCh:
				return
			}
		}
	})
	slog.Info("Session pruner started", "interval", p.interval.String(), "max_idle", p.maxIdle.String())
}

// Stop halts the ticker, waits for a running prune and releases the lock.
func (p *SessionPruner) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()

	if p.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.lock.Release(ctx); err != nil {
			slog.Warn("Failed to release leader lock", "error", err)
		}
	}
}
