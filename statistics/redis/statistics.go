// Package redis keeps processor counters in Redis, Resque style, so every
// worker sharing a run contributes to the same totals.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BranchIntl/couponqueue/errors"
	redisUtils "github.com/BranchIntl/couponqueue/internal/redis"
	"github.com/BranchIntl/couponqueue/item"
	"github.com/gomodule/redigo/redis"
)

// Totals are the counters recorded for one identifier
type Totals struct {
	Processed int64           `json:"processed"`
	Failed    int64           `json:"failed"`
	Requeued  int64           `json:"requeued"`
	Runs      int64           `json:"runs"`
	LastRun   *item.RunResult `json:"last_run,omitempty"`
}

// Failure is one entry of the failed item list
type Failure struct {
	Identifier string        `json:"identifier"`
	FailedAt   time.Time     `json:"failed_at"`
	Item       item.WorkItem `json:"payload"`
	Error      string        `json:"error"`
}

// RedisStatistics implements the Statistics interface over Redis counters
type RedisStatistics struct {
	pool      *redis.Pool
	namespace string
	options   Options
}

// NewStatistics creates a new Redis statistics backend
func NewStatistics(options Options) *RedisStatistics {
	return &RedisStatistics{
		namespace: options.Namespace,
		options:   options,
	}
}

// Connect establishes connection to Redis
func (r *RedisStatistics) Connect(ctx context.Context) error {
	pool, err := redisUtils.CreatePool(r.options)
	if err != nil {
		return errors.NewConnectionError(r.options.URI,
			fmt.Errorf("failed to create Redis pool: %w", err))
	}

	r.pool = pool

	// Test connection
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return errors.NewConnectionError(r.options.URI, err)
	}
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		return errors.NewConnectionError(r.options.URI,
			fmt.Errorf("ping failed: %w", err))
	}

	return nil
}

// Close closes the Redis connection pool
func (r *RedisStatistics) Close() error {
	if r.pool != nil {
		return r.pool.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (r *RedisStatistics) Health() error {
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

// Type returns the statistics backend type
func (r *RedisStatistics) Type() string {
	return "redis"
}

func (r *RedisStatistics) RecordItemCompleted(identifier string, w item.WorkItem, duration time.Duration) {
	r.incr(r.statKey("processed", ""), r.statKey("processed", identifier))
}

// RecordItemFailed counts the failure and keeps its details in the capped
// failed list
func (r *RedisStatistics) RecordItemFailed(identifier string, w item.WorkItem, err error, duration time.Duration) {
	r.incr(r.statKey("failed", ""), r.statKey("failed", identifier))

	failure, jsonErr := json.Marshal(Failure{
		Identifier: identifier,
		FailedAt:   time.Now().UTC(),
		Item:       w,
		Error:      err.Error(),
	})
	if jsonErr != nil {
		slog.Warn("Failed to marshal failure", "identifier", identifier, "error", jsonErr)
		return
	}

	r.do("record failure", func(conn redis.Conn) error {
		if _, err := conn.Do("RPUSH", r.failedKey(), failure); err != nil {
			return err
		}
		if r.options.MaxFailures > 0 {
			_, err := conn.Do("LTRIM", r.failedKey(), -r.options.MaxFailures, -1)
			return err
		}
		return nil
	})
}

func (r *RedisStatistics) RecordItemRequeued(identifier string, w item.WorkItem) {
	r.incr(r.statKey("requeued", identifier))
}

func (r *RedisStatistics) RecordInvocation(identifier string, outcome string, duration time.Duration) {
	r.incr(r.statKey("invocations:"+outcome, identifier))
}

// RecordRunCompleted counts the run and remembers its result
func (r *RedisStatistics) RecordRunCompleted(identifier string, result item.RunResult) {
	r.incr(r.statKey("runs", identifier))

	data, err := item.EncodeResult(result)
	if err != nil {
		slog.Warn("Failed to encode run result", "identifier", identifier, "error", err)
		return
	}
	r.do("record run", func(conn redis.Conn) error {
		_, err := conn.Do("SET", r.lastRunKey(identifier), data)
		return err
	})
}

// Totals returns the counters recorded for identifier
func (r *RedisStatistics) Totals(ctx context.Context, identifier string) (Totals, error) {
	if r.pool == nil {
		return Totals{}, errors.ErrNotConnected
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return Totals{}, errors.NewConnectionError(r.options.URI, err)
	}
	defer conn.Close()

	values, err := redis.Values(conn.Do("MGET",
		r.statKey("processed", identifier),
		r.statKey("failed", identifier),
		r.statKey("requeued", identifier),
		r.statKey("runs", identifier),
		r.lastRunKey(identifier),
	))
	if err != nil {
		return Totals{}, fmt.Errorf("failed to read totals: %w", err)
	}

	var totals Totals
	counters := []*int64{&totals.Processed, &totals.Failed, &totals.Requeued, &totals.Runs}
	for i, dst := range counters {
		if values[i] == nil {
			continue
		}
		if *dst, err = redis.Int64(values[i], nil); err != nil {
			return Totals{}, fmt.Errorf("failed to parse counter: %w", err)
		}
	}

	if values[4] != nil {
		data, err := redis.Bytes(values[4], nil)
		if err != nil {
			return Totals{}, fmt.Errorf("failed to read last run: %w", err)
		}
		result, err := item.DecodeResult(data)
		if err != nil {
			return Totals{}, err
		}
		totals.LastRun = &result
	}
	return totals, nil
}

// Failures returns up to limit of the most recent failures, newest last
func (r *RedisStatistics) Failures(ctx context.Context, limit int) ([]Failure, error) {
	if r.pool == nil {
		return nil, errors.ErrNotConnected
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.NewConnectionError(r.options.URI, err)
	}
	defer conn.Close()

	entries, err := redis.ByteSlices(conn.Do("LRANGE", r.failedKey(), -limit, -1))
	if err != nil {
		return nil, fmt.Errorf("failed to read failures: %w", err)
	}

	failures := make([]Failure, 0, len(entries))
	for _, entry := range entries {
		var f Failure
		if err := json.Unmarshal(entry, &f); err != nil {
			return nil, errors.NewSerializationError("json", err)
		}
		failures = append(failures, f)
	}
	return failures, nil
}

// incr bumps every key by one in a single round trip
func (r *RedisStatistics) incr(keys ...string) {
	r.do("increment", func(conn redis.Conn) error {
		for _, key := range keys {
			if err := conn.Send("INCR", key); err != nil {
				return err
			}
		}
		_, err := conn.Do("")
		return err
	})
}

// do runs fn on a pooled connection. Statistics never fail the caller, so
// errors are only logged.
func (r *RedisStatistics) do(op string, fn func(redis.Conn) error) {
	if r.pool == nil {
		slog.Debug("Statistics not connected", "op", op)
		return
	}

	conn := r.pool.Get()
	defer conn.Close()

	if err := fn(conn); err != nil {
		slog.Warn("Failed to record statistics", "op", op, "error", err)
	}
}

// Helper methods for Redis keys

func (r *RedisStatistics) statKey(name, identifier string) string {
	if identifier == "" {
		return fmt.Sprintf("%sstat:%s", r.namespace, name)
	}
	return fmt.Sprintf("%sstat:%s:%s", r.namespace, name, identifier)
}

func (r *RedisStatistics) lastRunKey(identifier string) string {
	return fmt.Sprintf("%slast_run:%s", r.namespace, identifier)
}

func (r *RedisStatistics) failedKey() string {
	return fmt.Sprintf("%sfailed", r.namespace)
}
