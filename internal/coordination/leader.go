// Package coordination implements the two cluster-coordination
// primitives that sit above a plain per-job lock: single-instance
// leader election (so only one running instance performs
// cluster-singleton tasks like cron advancement) and the work
// coordinator that divides a fair worker-count budget across running
// instances. Election runs a conditional-set/heartbeat/watchdog cycle on
// a single Redis key; the coordinator publishes a heartbeat record with
// a TTL per instance. Both talk to Redis directly rather than through
// internal/lock.
package coordination

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/keyspace"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
	"github.com/redis/go-redis/v9"
)

// State is the leader-election state machine's current phase.
type State int32

const (
	StateFollower State = iota
	StateCandidate
	StateLeader
)

func (s State) String() string {
	switch s {
	case StateCandidate:
		return "candidate"
	case StateLeader:
		return "leader"
	default:
		return "follower"
	}
}

// DefaultHeartbeatInterval is the watchdog cadence.
const DefaultHeartbeatInterval = 5 * time.Second

// DefaultLeaderTimeout is how long a leader record is valid without
// a refresh before another instance may claim it.
const DefaultLeaderTimeout = 15 * time.Second

// MinHeartbeatTick floors the leader-heartbeat sub-timer.
const MinHeartbeatTick = time.Second

// ElectionOptions configures an Election.
type ElectionOptions struct {
	Role              string
	InstanceID        string
	HeartbeatInterval time.Duration
	LeaderTimeout     time.Duration
	OnBecomeLeader    func()
	OnLeadershipLost  func()
	Logger            logger.Logger
}

// Election runs the follower -> candidate -> leader -> follower state
// machine for one named role (e.g. "cron", "cleanup").
type Election struct {
	client   *redis.Client
	key      string
	instance string

	heartbeatInterval time.Duration
	leaderTimeout     time.Duration
	tick              time.Duration

	onBecomeLeader   func()
	onLeadershipLost func()
	log              logger.Logger

	state          atomic.Int32
	mu             sync.Mutex
	lastWatchdogAt time.Time
}

// NewElection returns an Election for opts.Role under the given key
// prefix.
func NewElection(client *redis.Client, prefix string, opts ElectionOptions) *Election {
	log := opts.Logger
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	instance := opts.InstanceID
	if instance == "" {
		instance = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}
	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	timeout := opts.LeaderTimeout
	if timeout <= 0 {
		timeout = DefaultLeaderTimeout
	}
	tick := heartbeat / 3
	if tick < MinHeartbeatTick {
		tick = MinHeartbeatTick
	}

	e := &Election{
		client:            client,
		key:               keyspace.LeaderKey(prefix, opts.Role),
		instance:          instance,
		heartbeatInterval: heartbeat,
		leaderTimeout:     timeout,
		tick:              tick,
		onBecomeLeader:    opts.OnBecomeLeader,
		onLeadershipLost:  opts.OnLeadershipLost,
		log:               log.WithComponent(logger.ComponentLeader),
	}
	return e
}

// State returns the election's current phase.
func (e *Election) State() State { return State(e.state.Load()) }

// InstanceID returns this election's instance identifier.
func (e *Election) InstanceID() string { return e.instance }

// Run ticks until ctx is cancelled, attempting acquisition while a
// follower and renewing the leader record while leading.
func (e *Election) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if e.State() == StateLeader {
				_ = e.StepDown(context.Background())
			}
			return ctx.Err()
		case <-ticker.C:
			e.beat(ctx)
		}
	}
}

func (e *Election) beat(ctx context.Context) {
	if e.State() == StateLeader {
		e.heartbeat(ctx)
		return
	}
	e.mu.Lock()
	due := time.Since(e.lastWatchdogAt) >= e.heartbeatInterval
	if due {
		e.lastWatchdogAt = time.Now()
	}
	e.mu.Unlock()
	if due {
		e.watchdog(ctx)
	}
}

func (e *Election) watchdog(ctx context.Context) {
	leader, err := e.GetCurrentLeader(ctx)
	if err != nil {
		e.log.ErrorContext(ctx, "failed to read leader key", "error", err.Error())
		return
	}
	if leader != "" {
		return
	}

	value := e.encode(time.Now())
	ok, err := e.client.SetNX(ctx, e.key, value, e.leaderTimeout).Result()
	if err != nil {
		e.log.ErrorContext(ctx, "failed to acquire leader key", "error", err.Error())
		return
	}
	if !ok {
		return
	}

	e.state.Store(int32(StateLeader))
	e.log.InfoContext(ctx, "became leader", "instanceId", e.instance, "role", e.key)
	if e.onBecomeLeader != nil {
		e.onBecomeLeader()
	}
}

func (e *Election) heartbeat(ctx context.Context) {
	current, err := e.client.Get(ctx, e.key).Result()
	if err != nil && err != redis.Nil {
		e.log.ErrorContext(ctx, "failed to read leader key during heartbeat", "error", err.Error())
		return
	}
	if err == redis.Nil || !strings.HasPrefix(current, e.instance+":") {
		e.loseLeadership(ctx)
		return
	}

	value := e.encode(time.Now())
	if err := e.client.Set(ctx, e.key, value, e.leaderTimeout).Err(); err != nil {
		e.log.ErrorContext(ctx, "failed to refresh leader key", "error", err.Error())
		e.loseLeadership(ctx)
	}
}

func (e *Election) loseLeadership(ctx context.Context) {
	e.state.Store(int32(StateFollower))
	e.log.WarnContext(ctx, "lost leadership", "instanceId", e.instance, "role", e.key)
	if e.onLeadershipLost != nil {
		e.onLeadershipLost()
	}
}

// GetCurrentLeader returns the current leader's instance ID, or "" if
// no leader is recorded or the record has expired.
func (e *Election) GetCurrentLeader(ctx context.Context) (string, error) {
	value, err := e.client.Get(ctx, e.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get leader key: %w", err)
	}
	id, ts, ok := e.decode(value)
	if !ok {
		return "", nil
	}
	if time.Since(ts) > e.leaderTimeout {
		return "", nil
	}
	return id, nil
}

// StepDown releases leadership if this instance still holds it and
// transitions to follower. Safe to call when already a follower.
func (e *Election) StepDown(ctx context.Context) error {
	current, err := e.client.Get(ctx, e.key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("get leader key: %w", err)
	}
	if err == nil && strings.HasPrefix(current, e.instance+":") {
		if err := e.client.Del(ctx, e.key).Err(); err != nil {
			return fmt.Errorf("delete leader key: %w", err)
		}
	}
	e.state.Store(int32(StateFollower))
	return nil
}

func (e *Election) encode(ts time.Time) string {
	return e.instance + ":" + strconv.FormatInt(ts.UnixNano(), 10)
}

func (e *Election) decode(value string) (id string, ts time.Time, ok bool) {
	idx := strings.LastIndex(value, ":")
	if idx < 0 {
		return "", time.Time{}, false
	}
	nanos, err := strconv.ParseInt(value[idx+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return value[:idx], time.Unix(0, nanos), true
}
