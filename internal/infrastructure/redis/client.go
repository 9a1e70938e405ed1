package redis

import (
	"context"
	"fmt"
	"time"

	"chat-relay/internal/chat"

	"github.com/go-redis/redis/v8"
)

// renewScript extends the lease only while this instance still holds it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// LeaseCoordinator stores session ownership as session:{id}:owner keys with a TTL.
type LeaseCoordinator struct {
	rc       *RedisClient
	instance string
	ttl      time.Duration
}

var _ chat.Coordinator = (*LeaseCoordinator)(nil)

func NewLeaseCoordinator(rc *RedisClient, instanceID string, ttl time.Duration) *LeaseCoordinator {
	return &LeaseCoordinator{rc: rc, instance: instanceID, ttl: ttl}
}

func ownerKey(sessionID string) string {
	return fmt.Sprintf("session:%s:owner", sessionID)
}

func (c *LeaseCoordinator) InstanceID() string { return c.instance }

func (c *LeaseCoordinator) Claim(ctx context.Context, sessionID string) (string, error) {
	key := ownerKey(sessionID)
	ok, err := c.rc.client.SetNX(ctx, key, c.instance, c.ttl).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return c.instance, nil
	}

	owner, err := c.rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// Expired between SETNX and GET; try once more.
		if ok, err = c.rc.client.SetNX(ctx, key, c.instance, c.ttl).Result(); err != nil {
			return "", err
		}
		if ok {
			return c.instance, nil
		}
		return c.rc.client.Get(ctx, key).Result()
	}
	if err != nil {
		return "", err
	}
	if owner == c.instance {
		return owner, c.rc.client.PExpire(ctx, key, c.ttl).Err()
	}
	return owner, nil
}

func (c *LeaseCoordinator) Renew(ctx context.Context, sessionIDs []string) error {
	pipe := c.rc.client.Pipeline()
	for _, id := range sessionIDs {
		renewScript.Eval(ctx, pipe, []string{ownerKey(id)}, c.instance, c.ttl.Milliseconds())
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *LeaseCoordinator) Release(ctx context.Context, sessionID string) error {
	return releaseScript.Run(ctx, c.rc.client, []string{ownerKey(sessionID)}, c.instance).Err()
}
