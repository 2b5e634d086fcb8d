package redis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BranchIntl/couponqueue/errors"
	redisUtils "github.com/BranchIntl/couponqueue/internal/redis"
	"github.com/gomodule/redigo/redis"
)

// casScript swaps KEYS[1] to ARGV[2] only when it currently holds ARGV[1]
var casScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// cadScript deletes KEYS[1] only when it currently holds ARGV[1]
var cadScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements the Store interface for Redis
type RedisStore struct {
	pool      *redis.Pool
	namespace string
	options   Options
}

// NewStore creates a new Redis store. Connect must be called before use.
func NewStore(options Options) *RedisStore {
	return &RedisStore{
		namespace: options.Namespace,
		options:   options,
	}
}

// Connect establishes connection to Redis
func (r *RedisStore) Connect(ctx context.Context) error {
	pool, err := redisUtils.CreatePool(r.options)
	if err != nil {
		return errors.NewConnectionError(r.options.URI,
			fmt.Errorf("failed to create Redis pool: %w", err))
	}

	conn, err := pool.GetContext(ctx)
	if err != nil {
		pool.Close()
		return errors.NewConnectionError(r.options.URI, err)
	}
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		pool.Close()
		return errors.NewConnectionError(r.options.URI,
			fmt.Errorf("ping failed: %w", err))
	}

	r.pool = pool
	return nil
}

// Close closes the Redis connection pool
func (r *RedisStore) Close() error {
	if r.pool != nil {
		return r.pool.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (r *RedisStore) Health() error {
	if r.pool == nil {
		return errors.ErrNotConnected
	}

	conn := r.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		return errors.NewConnectionError(r.options.URI,
			fmt.Errorf("health check failed: %w", err))
	}
	return nil
}

// Type returns the store type
func (r *RedisStore) Type() string {
	return "redis"
}

// Get returns the value stored at key
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := r.conn(ctx, "get", key)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	v, err := redis.Bytes(conn.Do("GET", r.key(key)))
	if err == redis.ErrNil {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.NewStoreError("get", key, err)
	}
	return v, nil
}

// Set stores value at key
func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	conn, err := r.conn(ctx, "set", key)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Do("SET", r.key(key), value); err != nil {
		return errors.NewStoreError("set", key, err)
	}
	return nil
}

// SetNX stores value only if key is absent
func (r *RedisStore) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	conn, err := r.conn(ctx, "setnx", key)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	reply, err := redis.String(conn.Do("SET", r.key(key), value, "NX"))
	if err == redis.ErrNil {
		return false, nil
	}
	if err != nil {
		return false, errors.NewStoreError("setnx", key, err)
	}
	return reply == "OK", nil
}

// CompareAndSwap atomically replaces the value at key if it equals old
func (r *RedisStore) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	conn, err := r.conn(ctx, "cas", key)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	swapped, err := redis.Int(casScript.Do(conn, r.key(key), old, next))
	if err != nil {
		return false, errors.NewStoreError("cas", key, err)
	}
	return swapped == 1, nil
}

// CompareAndDelete atomically removes key if it equals old
func (r *RedisStore) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	conn, err := r.conn(ctx, "cad", key)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	deleted, err := redis.Int(cadScript.Do(conn, r.key(key), old))
	if err != nil {
		return false, errors.NewStoreError("cad", key, err)
	}
	return deleted == 1, nil
}

// Delete removes keys
func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	conn, err := r.conn(ctx, "delete", strings.Join(keys, ","))
	if err != nil {
		return err
	}
	defer conn.Close()

	args := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		args = append(args, r.key(key))
	}
	if _, err := conn.Do("DEL", args...); err != nil {
		return errors.NewStoreError("delete", strings.Join(keys, ","), err)
	}
	return nil
}

// Keys lists keys with prefix in ascending order using SCAN
func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	conn, err := r.conn(ctx, "keys", prefix)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	keys := make([]string, 0)
	cursor := 0
	for {
		values, err := redis.Values(conn.Do("SCAN", cursor,
			"MATCH", escapeGlob(r.key(prefix))+"*", "COUNT", r.scanCount()))
		if err != nil {
			return nil, errors.NewStoreError("keys", prefix, err)
		}

		var batch []string
		if _, err := redis.Scan(values, &cursor, &batch); err != nil {
			return nil, errors.NewStoreError("keys", prefix, err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, r.namespace))
		}

		if cursor == 0 {
			break
		}
	}

	sort.Strings(keys)
	return uniqueSorted(keys), nil
}

// uniqueSorted drops repeats from sorted keys; SCAN may return a key more
// than once
func uniqueSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}

// Helper methods

func (r *RedisStore) conn(ctx context.Context, op, key string) (redis.Conn, error) {
	if r.pool == nil {
		return nil, errors.NewStoreError(op, key, errors.ErrNotConnected)
	}
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.NewStoreError(op, key, err)
	}
	return conn, nil
}

func (r *RedisStore) key(key string) string {
	return r.namespace + key
}

func (r *RedisStore) scanCount() int {
	if r.options.ScanCount > 0 {
		return r.options.ScanCount
	}
	return 100
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
