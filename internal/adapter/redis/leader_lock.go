package redis

import (
	"context"
	"time"

	"github.com/codecov/codecov-api/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

var _ domain.LeaderLock = (*LeaderLock)(nil)

// releaseScript deletes the key only while this instance still holds it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// renewScript extends the TTL only while this instance still holds the key.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// LeaderLock is a single-holder lease on a Redis key. The holder renews the
// lease on each TryAcquire; a crashed holder loses it when the TTL runs out.
type LeaderLock struct {
	rdb        goredis.UniversalClient
	key        string
	instanceID string
	ttl        time.Duration
}

func NewLeaderLock(rdb goredis.UniversalClient, key, instanceID string, ttl time.Duration) *LeaderLock {
	return &LeaderLock{rdb: rdb, key: key, instanceID: instanceID, ttl: ttl}
}

func (l *LeaderLock) TryAcquire(ctx context.Context) (bool, error) {
	renewed, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.instanceID, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	if renewed == 1 {
		return true, nil
	}
	return l.rdb.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
}

func (l *LeaderLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.instanceID).Err()
}
