// Package cron implements 5-field cron expression parsing and a
// scheduler that submits jobs to a queue on their computed fire times.
// A Registry holds schedules, a ticker periodically checks each one's
// next fire time against a distributed lock so only one running
// instance fires a given schedule, and the fire submits through the
// same job.Opts every other submission path uses.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/job"
	"github.com/muaviaUsmani/jobqueue/internal/keyspace"
	"github.com/muaviaUsmani/jobqueue/internal/lock"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
	"github.com/redis/go-redis/v9"
	robfigcron "github.com/robfig/cron/v3"
)

// DefaultTickInterval is how often the scheduler checks for due schedules.
const DefaultTickInterval = time.Second

// DefaultLockTTL bounds how long one instance holds a schedule's
// execution lock, guarding against a crashed instance wedging it.
const DefaultLockTTL = 60 * time.Second

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Queue is the subset of internal/queue.Queue the scheduler needs.
type Queue interface {
	Add(ctx context.Context, name string, data json.RawMessage, opts job.Opts) (*job.Job, error)
}

// Schedule is one registered recurring submission.
type Schedule struct {
	ID       string
	Cron     string
	Timezone string
	JobName  string
	Data     json.RawMessage
	Opts     job.Opts

	StartDate *time.Time
	EndDate   *time.Time
	Limit     int

	Enabled bool

	expr *Expression
	loc  *time.Location
}

// State is the durable per-schedule run record, kept in a Redis hash
// separate from the Schedule definition so it survives registry restarts.
type State struct {
	LastRun  time.Time
	NextRun  time.Time
	RunCount int64
	LastErr  string
}

// Registry holds in-memory schedule definitions. Validation happens at
// Register time; cron syntax is validated twice — once with
// robfig/cron/v3's parser (closed-enumeration syntax check) and once by
// this package's own Parse, which is what actually drives Next.
type Registry struct {
	mu        sync.RWMutex
	schedules map[string]*Schedule
	validator robfigcron.Parser
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		schedules: make(map[string]*Schedule),
		validator: robfigcron.NewParser(robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow),
	}
}

// Register validates and adds a schedule. Returns an error on a
// duplicate ID, invalid cron expression, or invalid timezone.
func (r *Registry) Register(s *Schedule) error {
	if s.ID == "" {
		return fmt.Errorf("schedule ID cannot be empty")
	}
	if !idPattern.MatchString(s.ID) {
		return fmt.Errorf("schedule ID %q must be alphanumeric plus underscore/hyphen", s.ID)
	}
	if s.JobName == "" {
		return fmt.Errorf("schedule %q: job name cannot be empty", s.ID)
	}
	if _, err := r.validator.Parse(s.Cron); err != nil {
		return fmt.Errorf("schedule %q: invalid cron expression %q: %w", s.ID, s.Cron, err)
	}
	expr, err := Parse(s.Cron)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.ID, err)
	}

	loc := time.UTC
	if s.Timezone != "" {
		loc, err = time.LoadLocation(s.Timezone)
		if err != nil {
			return fmt.Errorf("schedule %q: invalid timezone %q: %w", s.ID, s.Timezone, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schedules[s.ID]; exists {
		return fmt.Errorf("schedule %q already registered", s.ID)
	}
	s.expr = expr
	s.loc = loc
	s.Enabled = true
	r.schedules[s.ID] = s
	return nil
}

// Unregister removes a schedule from the registry.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schedules, id)
}

// Get returns a schedule by ID.
func (r *Registry) Get(id string) (*Schedule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[id]
	return s, ok
}

// List returns every registered schedule.
func (r *Registry) List() []*Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		out = append(out, s)
	}
	return out
}

// Count returns the number of registered schedules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schedules)
}

// NextFire computes s's next fire time after `after`.
func (s *Schedule) NextFire(after time.Time) (time.Time, error) {
	return s.expr.Next(after, s.loc)
}

// Scheduler ticks over a Registry, submitting due schedules to a queue
// under a per-schedule distributed lock so only one running instance
// acts on a given schedule per tick.
type Scheduler struct {
	registry *Registry
	queue    Queue
	client   *redis.Client
	keys     *keyspace.Keys
	locks    *lock.Manager
	interval time.Duration
	lockTTL  time.Duration
	log      logger.Logger
}

// New returns a Scheduler driving registry against queue.
func New(registry *Registry, queue Queue, client *redis.Client, keys *keyspace.Keys, opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	interval := opts.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Scheduler{
		registry: registry,
		queue:    queue,
		client:   client,
		keys:     keys,
		locks:    lock.NewManager(client),
		interval: interval,
		lockTTL:  lockTTL,
		log:      log.WithComponent(logger.ComponentScheduler),
	}
}

// Options configures a Scheduler.
type Options struct {
	TickInterval time.Duration
	LockTTL      time.Duration
	Logger       logger.Logger
}

// Run ticks until ctx is cancelled.
func (sc *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sc.tick(ctx)
		}
	}
}

func (sc *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	for _, s := range sc.registry.List() {
		if !s.Enabled {
			continue
		}
		if s.StartDate != nil && now.Before(*s.StartDate) {
			continue
		}
		if s.EndDate != nil && now.After(*s.EndDate) {
			continue
		}
		if sc.isDue(ctx, s, now) {
			sc.fire(ctx, s, now)
		}
	}
}

func (sc *Scheduler) isDue(ctx context.Context, s *Schedule, now time.Time) bool {
	state, err := sc.getState(ctx, s.ID)
	if err != nil {
		sc.log.ErrorContext(ctx, "failed to read schedule state", "scheduleId", s.ID, "error", err.Error())
		return false
	}
	if s.Limit > 0 && state.RunCount >= int64(s.Limit) {
		return false
	}
	after := state.LastRun
	if after.IsZero() {
		after = now.Add(-time.Minute)
	}
	next, err := s.NextFire(after)
	if err != nil {
		sc.log.ErrorContext(ctx, "failed to compute next fire", "scheduleId", s.ID, "error", err.Error())
		return false
	}
	return !now.Before(next)
}

func (sc *Scheduler) fire(ctx context.Context, s *Schedule, now time.Time) {
	resource := sc.keys.Lock("schedule:" + s.ID)
	l, err := sc.locks.Acquire(ctx, resource, lock.Options{Duration: sc.lockTTL})
	if err != nil {
		sc.log.ErrorContext(ctx, "failed to acquire schedule lock", "scheduleId", s.ID, "error", err.Error())
		return
	}
	if l == nil {
		return
	}
	defer func() {
		if _, err := l.Release(ctx); err != nil {
			sc.log.ErrorContext(ctx, "failed to release schedule lock", "scheduleId", s.ID, "error", err.Error())
		}
	}()

	opts := s.Opts
	opts.Repeat = job.Repeat{Cron: s.Cron, Timezone: s.Timezone}
	if _, err := sc.queue.Add(ctx, s.JobName, s.Data, opts); err != nil {
		sc.log.ErrorContext(ctx, "failed to submit scheduled job", "scheduleId", s.ID, "error", err.Error())
		sc.saveState(ctx, s.ID, State{LastRun: now, LastErr: err.Error()})
		return
	}

	state, _ := sc.getState(ctx, s.ID)
	sc.saveState(ctx, s.ID, State{LastRun: now, RunCount: state.RunCount + 1})
	sc.log.InfoContext(ctx, "scheduled job submitted", "scheduleId", s.ID, "job", s.JobName)
}

func (sc *Scheduler) getState(ctx context.Context, id string) (State, error) {
	result, err := sc.client.HGetAll(ctx, sc.keys.Schedule(id)).Result()
	if err != nil {
		return State{}, fmt.Errorf("get schedule state %s: %w", id, err)
	}
	if len(result) == 0 {
		return State{}, nil
	}
	var state State
	if v, ok := result["lastRun"]; ok && v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			state.LastRun = t
		}
	}
	if v, ok := result["runCount"]; ok && v != "" {
		fmt.Sscanf(v, "%d", &state.RunCount)
	}
	if v, ok := result["lastErr"]; ok {
		state.LastErr = v
	}
	return state, nil
}

func (sc *Scheduler) saveState(ctx context.Context, id string, state State) {
	fields := map[string]interface{}{
		"lastRun":  state.LastRun.Format(time.RFC3339Nano),
		"runCount": state.RunCount,
	}
	if state.LastErr != "" {
		fields["lastErr"] = state.LastErr
	} else {
		sc.client.HDel(ctx, sc.keys.Schedule(id), "lastErr")
	}
	if err := sc.client.HSet(ctx, sc.keys.Schedule(id), fields).Err(); err != nil {
		sc.log.ErrorContext(ctx, "failed to persist schedule state", "scheduleId", id, "error", err.Error())
	}
}

// Unschedule removes a schedule from the registry and deletes its
// persisted run state.
func (sc *Scheduler) Unschedule(ctx context.Context, id string) error {
	sc.registry.Unregister(id)
	if err := sc.client.Del(ctx, sc.keys.Schedule(id)).Err(); err != nil {
		return fmt.Errorf("delete schedule state %s: %w", id, err)
	}
	return nil
}
