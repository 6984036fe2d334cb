// Package lock implements the distributed lock: SET-NX + token +
// auto-extend, and a withLock convenience wrapper. It is resource-keyed
// so the same Manager backs job processing and cron schedules alike;
// leader election in internal/coordination sets its key directly.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/idgen"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
	"github.com/redis/go-redis/v9"
)

// ErrNotOwned is returned by Extend/Release when the caller's token no
// longer matches the lock's current holder.
var ErrNotOwned = errors.New("lock: not owned by this token")

// releaseScript deletes the key iff its value equals ARGV[1].
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// extendScript refreshes the key's TTL (milliseconds) iff its value
// equals ARGV[1].
const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// Options configures one Acquire call.
type Options struct {
	Duration       time.Duration
	Retries        int
	RetryDelay     time.Duration
	AutoExtend     bool
	ExtendInterval time.Duration
}

// DefaultOptions returns the baseline lock tuning: 30s duration,
// 3 retries, 200ms retry delay, auto-extend off (when enabled, it
// extends at 2/3 of the duration).
func DefaultOptions() Options {
	d := 30 * time.Second
	return Options{
		Duration:       d,
		Retries:        3,
		RetryDelay:     200 * time.Millisecond,
		AutoExtend:     false,
		ExtendInterval: d * 2 / 3,
	}
}

// Lock is a held distributed lock on one resource key.
type Lock struct {
	client   *redis.Client
	key      string
	token    string
	duration time.Duration
	log      logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Manager acquires and tracks locks against one Redis client.
type Manager struct {
	client *redis.Client
	log    logger.Logger
}

// NewManager returns a lock Manager for the given Redis client. Logging
// is a no-op until SetLogger is called.
func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client, log: &logger.NoOpLogger{}}
}

// SetLogger attaches a logger used to report auto-extend failures and
// lock-acquire errors. A nil logger is ignored.
func (m *Manager) SetLogger(log logger.Logger) {
	if log == nil {
		return
	}
	m.log = log.WithComponent(logger.ComponentLock)
}

// Acquire attempts to SET-NX the resource key, retrying up to
// opts.Retries times with opts.RetryDelay between attempts. Returns nil,
// nil if the lock could not be acquired (caller decides whether to
// retry, queue-with-delay, or surface the failure).
func (m *Manager) Acquire(ctx context.Context, resource string, opts Options) (*Lock, error) {
	token := idgen.NewToken()

	attempts := opts.Retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		ok, err := m.client.SetNX(ctx, resource, token, opts.Duration).Result()
		if err != nil {
			lastErr = fmt.Errorf("acquire lock %q: %w", resource, err)
		} else if ok {
			l := &Lock{
				client:   m.client,
				key:      resource,
				token:    token,
				duration: opts.Duration,
				log:      m.log,
			}
			if opts.AutoExtend {
				l.startAutoExtend(opts.ExtendInterval, opts.Duration)
			}
			return l, nil
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}
	}

	if lastErr != nil {
		m.log.ErrorContext(ctx, "lock acquire errored", "resource", resource, "error", lastErr.Error())
		return nil, lastErr
	}
	return nil, nil
}

// IsLocked reports whether resource currently has a lock holder.
func (m *Manager) IsLocked(ctx context.Context, resource string) (bool, error) {
	n, err := m.client.Exists(ctx, resource).Result()
	if err != nil {
		return false, fmt.Errorf("check lock %q: %w", resource, err)
	}
	return n > 0, nil
}

// WithLock acquires resource, runs fn, and guarantees Release on every
// exit path (success, error, or context cancellation). If the lock
// cannot be acquired, fn is not invoked and WithLock returns false with
// a nil error.
func (m *Manager) WithLock(ctx context.Context, resource string, opts Options, fn func(ctx context.Context) error) (acquired bool, err error) {
	l, err := m.Acquire(ctx, resource, opts)
	if err != nil {
		return false, err
	}
	if l == nil {
		return false, nil
	}
	defer func() {
		_, _ = l.Release(context.Background())
	}()

	return true, fn(ctx)
}

// Release deletes the lock key iff the token still matches (CAS
// release). Returns false, nil if the token is stale rather than an
// error — the lock was already lost, not a failure of this call.
func (l *Lock) Release(ctx context.Context) (bool, error) {
	l.stopAutoExtend()

	res, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Result()
	if err != nil {
		return false, fmt.Errorf("release lock %q: %w", l.key, err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Extend refreshes the lock's TTL iff the token still matches.
func (l *Lock) Extend(ctx context.Context, duration time.Duration) error {
	res, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.token, duration.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("extend lock %q: %w", l.key, err)
	}
	n, _ := res.(int64)
	if n == 0 {
		return ErrNotOwned
	}
	l.duration = duration
	return nil
}

// Key returns the resource key this lock guards.
func (l *Lock) Key() string { return l.key }

// Token returns this lock instance's ownership token.
func (l *Lock) Token() string { return l.token }

// startAutoExtend runs a background goroutine that extends the lock at
// interval until Release is called or an extend attempt reports the
// lock was lost, at which point it stops silently.
func (l *Lock) startAutoExtend(interval, duration time.Duration) {
	if interval <= 0 {
		interval = duration * 2 / 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.cancel = cancel
	l.stopped = make(chan struct{})
	l.mu.Unlock()

	go func() {
		defer close(l.stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Extend(ctx, duration); err != nil {
					l.log.WarnContext(ctx, "lock auto-extend stopped", "key", l.key, "error", err.Error())
					return
				}
			}
		}
	}()
}

func (l *Lock) stopAutoExtend() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
