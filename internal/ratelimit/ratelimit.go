// Package ratelimit implements the sliding-window limiter: a sorted-set
// of recent admission timestamps per identifier, checked and updated
// atomically via a Lua script so concurrent checks cannot both succeed
// past max.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/logger"
	"github.com/redis/go-redis/v9"
)

// checkScript trims the window to [now-duration, now], counts
// remaining entries, and — if under max — admits the caller by adding a
// new entry and refreshing the key's TTL. All of this runs as one
// atomic server-side operation.
//
// KEYS[1] = sorted-set key
// ARGV[1] = now (ms)
// ARGV[2] = duration (ms)
// ARGV[3] = max
// ARGV[4] = member suffix (random, to keep entries unique at the same score)
// ARGV[5] = key TTL (seconds)
//
// Returns {limited (0/1), count, oldestScore (or -1 if none)}.
const checkScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local duration = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])

redis.call("zremrangebyscore", key, "-inf", now - duration)

local count = redis.call("zcard", key)
local limited = 0
if count >= max then
	limited = 1
else
	redis.call("zadd", key, now, now .. ":" .. member)
	redis.call("expire", key, ttl)
	count = count + 1
end

local oldest = redis.call("zrange", key, 0, 0, "withscores")
local oldestScore = -1
if #oldest == 2 then
	oldestScore = tonumber(oldest[2])
end

return {limited, count, oldestScore}
`

// Options configures one limiter identifier.
type Options struct {
	Max      int
	Duration time.Duration
	// KeyPrefix is not read by Check, which takes the full key.
	// Identifier(queueName, keyPrefix) builds the identifier
	// "{queueName}:{keyPrefix}", or the queue name alone when empty.
	KeyPrefix string
}

// Result is the outcome of one Check call.
type Result struct {
	Limited   bool
	Remaining int
	ResetInMs int64
}

// Limiter checks and records admissions against a Redis sorted set per
// identifier.
type Limiter struct {
	client *redis.Client
	log    logger.Logger
}

// New returns a Limiter backed by client. Logging is a no-op until
// SetLogger is called.
func New(client *redis.Client) *Limiter {
	return &Limiter{client: client, log: &logger.NoOpLogger{}}
}

// SetLogger attaches a logger used to report script failures. A nil
// logger is ignored.
func (l *Limiter) SetLogger(log logger.Logger) {
	if log == nil {
		return
	}
	l.log = log.WithComponent(logger.ComponentRateLimit)
}

// Identifier builds the sliding-window key for a queue, optionally
// namespaced further by a caller-supplied key derived from the job data
// (e.g. a per-tenant id).
func Identifier(queueName, keyPrefix string) string {
	if keyPrefix == "" {
		return queueName
	}
	return queueName + ":" + keyPrefix
}

// Check admits or rejects one request against identifier's sliding
// window. setKey is the full Redis key (typically built via
// keyspace.Keys.RateLimit).
func (l *Limiter) Check(ctx context.Context, setKey string, opts Options) (Result, error) {
	now := time.Now().UnixMilli()
	durationMs := opts.Duration.Milliseconds()
	ttlSeconds := (durationMs + 999) / 1000
	member := strconv.FormatInt(rand.Int63(), 36)

	res, err := l.client.Eval(ctx, checkScript, []string{setKey},
		now, durationMs, opts.Max, member, ttlSeconds).Result()
	if err != nil {
		l.log.ErrorContext(ctx, "ratelimit check script failed", "key", setKey, "error", err.Error())
		return Result{}, fmt.Errorf("ratelimit check %q: %w", setKey, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		l.log.ErrorContext(ctx, "ratelimit check returned unexpected result", "key", setKey)
		return Result{}, fmt.Errorf("ratelimit check %q: unexpected script result %v", setKey, res)
	}

	limited := toInt64(vals[0]) == 1
	count := toInt64(vals[1])
	oldestScore := toInt64(vals[2])

	remaining := int64(opts.Max) - count
	if remaining < 0 {
		remaining = 0
	}

	var resetInMs int64
	if count > 0 && oldestScore >= 0 {
		resetInMs = oldestScore + durationMs - now
		if resetInMs < 0 {
			resetInMs = 0
		}
	}

	return Result{
		Limited:   limited,
		Remaining: int(remaining),
		ResetInMs: resetInMs,
	}, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
