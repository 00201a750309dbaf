package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codecov/codecov-api/internal/adapter/metrics"
	"github.com/codecov/codecov-api/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const sessionInvalidationChannel = "session:invalidate"

var _ domain.SessionCache = (*SessionCache)(nil)

// SessionCache resolves session tokens through an in-memory layer, then Redis,
// then the SessionRepository. Lookups that miss every layer return
// domain.ErrSessionNotFound and are not cached.
type SessionCache struct {
	rdb      goredis.UniversalClient
	sessions domain.SessionRepository
	mem      *memoryCache
	redisTTL time.Duration
	metrics  *metrics.CacheMetrics
}

// NewSessionCache creates a cache. m may be nil.
func NewSessionCache(rdb goredis.UniversalClient, sessions domain.SessionRepository, clock clockwork.Clock, memTTL, redisTTL time.Duration, m *metrics.CacheMetrics) *SessionCache {
	return &SessionCache{
		rdb:      rdb,
		sessions: sessions,
		mem:      newMemoryCache(clock, memTTL),
		redisTTL: redisTTL,
		metrics:  m,
	}
}

// StartEvictionTimer periodically drops expired in-memory entries.
// Returns a stop function that should be deferred.
func (c *SessionCache) StartEvictionTimer(clock clockwork.Clock, interval time.Duration) func() {
	ticker := clock.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if evicted := c.mem.evictExpired(); evicted > 0 {
					slog.Debug("Evicted expired session cache entries", "count", evicted, "remaining", c.mem.size())
				}
				c.observeSize()
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

func (c *SessionCache) Get(ctx context.Context, token uuid.UUID) (*domain.Session, error) {
	key := token.String()

	if s, ok := c.mem.get(key); ok {
		c.hit("memory")
		return &s, nil
	}
	c.miss("memory")

	if s, ok := c.getCached(ctx, key); ok {
		c.hit("redis")
		c.mem.set(key, s)
		c.observeSize()
		return &s, nil
	}
	c.miss("redis")

	s, err := c.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.miss("postgres")
			return nil, err
		}
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	c.hit("postgres")

	c.mem.set(key, *s)
	c.observeSize()
	c.writeCache(ctx, key, *s)
	return s, nil
}

// Invalidate drops the session locally and in Redis, then tells other
// instances to drop their in-memory copy.
func (c *SessionCache) Invalidate(ctx context.Context, token uuid.UUID) error {
	key := token.String()
	c.mem.invalidate(key)
	c.observeSize()
	if c.metrics != nil {
		c.metrics.Invalidations.Inc()
	}

	if err := c.rdb.Del(ctx, sessionCacheKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate session cache: %w", err)
	}
	if err := c.rdb.Publish(ctx, sessionInvalidationChannel, key).Err(); err != nil {
		return fmt.Errorf("failed to publish session invalidation: %w", err)
	}
	return nil
}

// Subscribe evicts sessions invalidated by other instances until ctx is done.
func (c *SessionCache) Subscribe(ctx context.Context) {
	pubsub := c.rdb.Subscribe(ctx, sessionInvalidationChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.handleInvalidation(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (c *SessionCache) handleInvalidation(payload string) {
	if payload == "" {
		slog.Warn("Empty session invalidation message")
		return
	}
	c.mem.invalidate(payload)
	c.observeSize()
	slog.Debug("Session evicted via pub/sub")
}

func (c *SessionCache) writeCache(ctx context.Context, key string, s domain.Session) {
	encoded, err := json.Marshal(s)
	if err != nil {
		slog.WarnContext(ctx, "Failed to marshal session for Redis cache", "error", err)
		return
	}
	if err := c.rdb.Set(ctx, sessionCacheKey(key), encoded, c.redisTTL).Err(); err != nil {
		slog.WarnContext(ctx, "Failed to populate Redis session cache", "error", err)
	}
}

func (c *SessionCache) getCached(ctx context.Context, key string) (domain.Session, bool) {
	data, err := c.rdb.Get(ctx, sessionCacheKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.WarnContext(ctx, "Redis session cache GET failed", "error", err)
		}
		return domain.Session{}, false
	}

	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		slog.WarnContext(ctx, "Failed to unmarshal cached session", "error", err)
		return domain.Session{}, false
	}
	return s, true
}

func (c *SessionCache) hit(layer string) {
	if c.metrics != nil {
		c.metrics.Hits.WithLabelValues(layer).Inc()
	}
}

func (c *SessionCache) miss(layer string) {
	if c.metrics != nil {
		c.metrics.Misses.WithLabelValues(layer).Inc()
	}
}

func (c *SessionCache) observeSize() {
	if c.metrics != nil {
		c.metrics.Entries.Set(float64(c.mem.size()))
	}
}

func sessionCacheKey(token string) string {
	return "session_cache:" + token
}

// memoryCache is the per-instance layer with TTL-based expiry.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
	clock   clockwork.Clock
}

type memoryCacheEntry struct {
	session   domain.Session
	expiresAt time.Time
}

func newMemoryCache(clock clockwork.Clock, ttl time.Duration) *memoryCache {
	return &memoryCache{
		entries: make(map[string]memoryCacheEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

func (c *memoryCache) get(key string) (domain.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.clock.Now().After(entry.expiresAt) {
		return domain.Session{}, false
	}
	return entry.session, true
}

func (c *memoryCache) set(key string, s domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryCacheEntry{session: s, expiresAt: c.clock.Now().Add(c.ttl)}
}

func (c *memoryCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoryCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *memoryCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}
