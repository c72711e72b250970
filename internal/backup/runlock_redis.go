package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 30 * time.Second

// RedisLocker implements Locker on a shared Redis instance, for deployments
// where runs for the same source may start on different hosts. Lease state
// lives in a single key per resource with a server-side expiry; release and
// renew run as Lua scripts so the owner check and write are atomic.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker constructs a Redis-backed locker
func NewRedisLocker(url string) (*RedisLocker, error) {
	if url == "" {
		return nil, NewValidationError("redis URL is required", nil)
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, NewConfigurationError("failed to parse redis URL", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, NewConfigurationError("failed to connect to redis", err)
	}
	return &RedisLocker{client: client}, nil
}

// NewRedisLockerFromClient wraps an existing client, used in tests
func NewRedisLockerFromClient(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Close shuts down the Redis client
func (rl *RedisLocker) Close() error {
	if rl == nil || rl.client == nil {
		return nil
	}
	return rl.client.Close()
}

// Acquire takes the lock for resource, failing fast on contention
func (rl *RedisLocker) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (*Lease, error) {
	if resource == "" || owner == "" {
		return nil, NewValidationError("resource and owner are required", nil)
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	now := time.Now().UTC()
	lease := &Lease{
		Resource:   resource,
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	payload, err := json.Marshal(lease)
	if err != nil {
		return nil, NewTransformError("failed to encode lease", err)
	}

	ok, err := rl.client.SetNX(ctx, leaseKey(resource), payload, ttl).Result()
	if err != nil {
		return nil, NewStorageWriteError("failed to acquire redis lock", err)
	}
	if !ok {
		holder := "unknown"
		if current, getErr := rl.Get(ctx, resource); getErr == nil && current != nil {
			holder = current.Owner
		}
		return nil, NewLockContentionError(
			fmt.Sprintf("lock for %s held by %s", resource, holder), nil).
			WithContext("resource", resource).
			WithContext("holder", holder)
	}
	return lease, nil
}

// Renew extends the lease held by owner
func (rl *RedisLocker) Renew(ctx context.Context, resource, owner string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	now := time.Now().UTC()
	lease := &Lease{
		Resource:   resource,
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	payload, err := json.Marshal(lease)
	if err != nil {
		return nil, NewTransformError("failed to encode lease", err)
	}

	res, err := rl.client.Eval(ctx, renewLeaseScript, []string{leaseKey(resource)},
		owner,
		string(payload),
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		return nil, NewStorageWriteError("failed to renew redis lock", err)
	}
	if renewed, _ := res.(int64); renewed != 1 {
		return nil, NewLockContentionError(fmt.Sprintf("lock for %s is not held by %s", resource, owner), nil)
	}
	return lease, nil
}

// Release drops the lease held by owner
func (rl *RedisLocker) Release(ctx context.Context, resource, owner string) error {
	res, err := rl.client.Eval(ctx, releaseLeaseScript, []string{leaseKey(resource)},
		owner,
	).Result()
	if err != nil {
		return NewStorageWriteError("failed to release redis lock", err)
	}
	if released, _ := res.(int64); released == -1 {
		return NewLockContentionError(fmt.Sprintf("lock for %s is held by another owner", resource), nil)
	}
	return nil
}

// Get returns the current lease for resource, or nil if unheld
func (rl *RedisLocker) Get(ctx context.Context, resource string) (*Lease, error) {
	payload, err := rl.client.Get(ctx, leaseKey(resource)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, NewStorageReadError("failed to read redis lock", err)
	}
	var lease Lease
	if err := json.Unmarshal([]byte(payload), &lease); err != nil {
		return nil, NewStorageReadError("failed to decode lease", err)
	}
	return &lease, nil
}

func leaseKey(resource string) string {
	return "runlock:" + resource
}

const renewLeaseScript = `
local key = KEYS[1]
local owner = ARGV[1]
local payload = ARGV[2]
local ttl = tonumber(ARGV[3])
local current = redis.call("GET", key)
if not current then
  return 0
end
local lease = cjson.decode(current)
if lease["owner"] ~= owner then
  return 0
end
redis.call("SET", key, payload, "PX", ttl)
return 1
`

const releaseLeaseScript = `
local key = KEYS[1]
local owner = ARGV[1]
local current = redis.call("GET", key)
if not current then
  return 0
end
local lease = cjson.decode(current)
if lease["owner"] ~= owner then
  return -1
end
redis.call("DEL", key)
return 1
`
