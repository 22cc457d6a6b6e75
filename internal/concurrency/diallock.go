// Package concurrency guards the one-call-at-a-time invariant across
// scheduler replicas using Redis.
package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// DialLock serializes dialing per campaign. Only one worker may hold
// the lock for a campaign at any moment; the TTL bounds how long a
// crashed holder can block the campaign.
type DialLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDialLock constructs a dial lock with the given hold TTL.
func NewDialLock(client *redis.Client, ttl time.Duration) *DialLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DialLock{client: client, ttl: ttl}
}

var acquireScript = redis.NewScript(`
local key = KEYS[1]
local holder = ARGV[1]
local ttl = tonumber(ARGV[2])
local current = redis.call('GET', key)
if current == false or current == holder then
  redis.call('SET', key, holder, 'PX', ttl)
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
local key = KEYS[1]
local holder = ARGV[1]
if redis.call('GET', key) == holder then
  return redis.call('DEL', key)
end
return 0
`)

// Acquire attempts to take the lock for the campaign on behalf of
// holder. Re-acquiring by the same holder refreshes the TTL.
func (l *DialLock) Acquire(ctx context.Context, campaignID uuid.UUID, holder string) (bool, error) {
	res, err := acquireScript.Run(ctx, l.client, []string{l.key(campaignID)}, holder, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("dial lock acquire: %w", err)
	}
	return res == 1, nil
}

// Release frees the lock if holder still owns it.
func (l *DialLock) Release(ctx context.Context, campaignID uuid.UUID, holder string) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key(campaignID)}, holder).Int(); err != nil {
		return fmt.Errorf("dial lock release: %w", err)
	}
	return nil
}

func (l *DialLock) key(campaignID uuid.UUID) string {
	return fmt.Sprintf("autodialer:campaign:%s:dialing", campaignID.String())
}
