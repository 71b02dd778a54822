package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Each lock key is a hash. Field "x" holds the exclusive owner; fields
// "s:<owner>" count shared holds. Every transition runs as one script and
// checks the caller's owner token, so a holder whose lock expired cannot
// touch a lock granted to someone else since.
var (
	acquireExclusiveScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "x", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1`)

	acquireSharedScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], "x") == 1 then
	return 0
end
redis.call("HINCRBY", KEYS[1], "s:" .. ARGV[1], 1)
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1`)

	downgradeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "x") ~= ARGV[1] then
	return 0
end
redis.call("HDEL", KEYS[1], "x")
redis.call("HSET", KEYS[1], "s:" .. ARGV[1], 1)
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1`)

	refreshScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "x") == ARGV[1] or redis.call("HEXISTS", KEYS[1], "s:" .. ARGV[1]) == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0`)

	releaseExclusiveScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "x") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	releaseSharedScript = redis.NewScript(`
local field = "s:" .. ARGV[1]
local n = tonumber(redis.call("HGET", KEYS[1], field))
if n == nil then
	return 0
end
if n <= 1 then
	redis.call("HDEL", KEYS[1], field)
else
	redis.call("HINCRBY", KEYS[1], field, -1)
end
return 1`)
)

// RedisManager implements shared/exclusive locking on a Redis server so
// several bundlefs instances can share one lock namespace. Locks expire
// after ttl unless their holder refreshes them.
type RedisManager struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRedisManager creates a new Redis-based lock manager
func NewRedisManager(redisAddr, redisPassword string, ttl time.Duration, logger *zap.Logger) (*RedisManager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &RedisManager{
		client: client,
		logger: logger,
		ttl:    ttl,
	}, nil
}

// TTL implements Expiring
func (m *RedisManager) TTL() time.Duration {
	return m.ttl
}

// Acquire attempts to take a lock of the given type on key
func (m *RedisManager) Acquire(ctx context.Context, key, owner string, lockType LockType) (bool, error) {
	script := acquireSharedScript
	if lockType == Exclusive {
		script = acquireExclusiveScript
	}

	granted, err := m.run(ctx, script, key, owner)
	if err != nil {
		return false, fmt.Errorf("failed to acquire %s lock for key %s: %w", lockType, key, err)
	}

	m.logger.Debug("Lock acquire",
		zap.String("key", key),
		zap.Stringer("type", lockType),
		zap.Bool("granted", granted),
		zap.String("owner", owner))
	return granted, nil
}

// Downgrade converts owner's exclusive lock on key into a shared one
func (m *RedisManager) Downgrade(ctx context.Context, key, owner string) (bool, error) {
	changed, err := m.run(ctx, downgradeScript, key, owner)
	if err != nil {
		return false, fmt.Errorf("failed to downgrade lock for key %s: %w", key, err)
	}

	m.logger.Debug("Lock downgrade",
		zap.String("key", key),
		zap.Bool("changed", changed),
		zap.String("owner", owner))
	return changed, nil
}

// Refresh resets the expiry of owner's lock on key
func (m *RedisManager) Refresh(ctx context.Context, key, owner string) (bool, error) {
	held, err := m.run(ctx, refreshScript, key, owner)
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock for key %s: %w", key, err)
	}
	return held, nil
}

// Release drops owner's lock of the given type on key
func (m *RedisManager) Release(ctx context.Context, key, owner string, lockType LockType) error {
	script := releaseSharedScript
	if lockType == Exclusive {
		script = releaseExclusiveScript
	}

	released, err := m.run(ctx, script, key, owner)
	if err != nil {
		return fmt.Errorf("failed to release %s lock for key %s: %w", lockType, key, err)
	}

	if released {
		m.logger.Debug("Lock released",
			zap.String("key", key),
			zap.Stringer("type", lockType),
			zap.String("owner", owner))
	} else {
		m.logger.Debug("Lock not owned or already expired",
			zap.String("key", key),
			zap.String("owner", owner))
	}
	return nil
}

// Close closes the Redis client connection
func (m *RedisManager) Close() error {
	return m.client.Close()
}

func (m *RedisManager) run(ctx context.Context, script *redis.Script, key, owner string) (bool, error) {
	lockKey := "bundlefs:lock:" + key
	n, err := script.Run(ctx, m.client, []string{lockKey}, owner, m.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
