// Package client wires every internal subsystem (queue, worker, cron,
// dead-letter, batch, stalled-checker, cleanup, leader election, work
// coordination) into one constructible facade. Background tasks
// (worker loop, cron, stalled sweep, cleanup sweep, leader election,
// coordinator) are each a long-running Run(ctx) method a caller starts
// in its own goroutine; Client itself holds no background state beyond
// the objects it constructs.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/batch"
	"github.com/muaviaUsmani/jobqueue/internal/cleanup"
	"github.com/muaviaUsmani/jobqueue/internal/config"
	"github.com/muaviaUsmani/jobqueue/internal/coordination"
	"github.com/muaviaUsmani/jobqueue/internal/cron"
	"github.com/muaviaUsmani/jobqueue/internal/deadletter"
	"github.com/muaviaUsmani/jobqueue/internal/events"
	"github.com/muaviaUsmani/jobqueue/internal/job"
	"github.com/muaviaUsmani/jobqueue/internal/keyspace"
	"github.com/muaviaUsmani/jobqueue/internal/lock"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
	"github.com/muaviaUsmani/jobqueue/internal/metrics"
	"github.com/muaviaUsmani/jobqueue/internal/priority"
	"github.com/muaviaUsmani/jobqueue/internal/queue"
	"github.com/muaviaUsmani/jobqueue/internal/ratelimit"
	"github.com/muaviaUsmani/jobqueue/internal/result"
	"github.com/muaviaUsmani/jobqueue/internal/stalled"
	"github.com/muaviaUsmani/jobqueue/internal/worker"
	"github.com/redis/go-redis/v9"
)

// Options configures the queue-specific pieces NewClient builds on top
// of a shared config.Config. PriorityLevels <= 0 disables the priority
// pump (jobs submitted with Opts.Priority set are then placed straight
// into waiting, per Queue.Add's fallback).
type Options struct {
	PriorityLevels int
	InstanceID     string
	// WorkerConfig, if set, restricts which jobs this process's worker
	// claims via its ShouldProcessJob filter (specialized /
	// job-specialized worker modes).
	WorkerConfig *config.WorkerConfig
}

// queueRef breaks the construction cycle between internal/queue (which
// wants a DeadLetterSink at construction time) and internal/deadletter
// (which wants an OriginQueue to re-submit through): the Store is built
// first against a ref whose q field is filled in once the Queue exists.
type queueRef struct {
	q *queue.Queue
}

func (r *queueRef) Add(ctx context.Context, name string, data json.RawMessage, opts job.Opts) (*job.Job, error) {
	return r.q.Add(ctx, name, data, opts)
}

// Client wires one named queue's full subsystem set: submission,
// worker dispatch, cron scheduling, dead-letter handling, batching, and
// the cluster-coordination tasks.
type Client struct {
	cfg   *config.Config
	redis *redis.Client
	log   logger.Logger

	Queue       *queue.Queue
	Events      *events.Emitter
	Metrics     *metrics.Collector
	Locks       *lock.Manager
	Priority    *priority.Pump
	DeadLetter  *deadletter.Store
	Result      result.Backend
	Batches     *batch.Store
	CronReg     *cron.Registry
	Cron        *cron.Scheduler
	Workers     *worker.Registry
	Stalled     *stalled.Checker
	Cleanup     *cleanup.Sweeper
	Leader      *coordination.Election
	Coordinator *coordination.Coordinator

	worker       *worker.Worker
	workerConfig *config.WorkerConfig
}

// New builds a Client for queueName from cfg. The returned Client's
// Queue is ready for submission immediately; background subsystems
// (worker, cron, stalled, cleanup, leader, coordinator) are constructed
// but not started — call the corresponding Run* method in its own
// goroutine once the caller decides which roles this process plays.
func New(cfg *config.Config, queueName string, opts Options) (*Client, error) {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rc := redis.NewClient(redisOpts)

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	em := events.New()
	em.SetLogger(log)
	m := metrics.NewCollector()
	locks := lock.NewManager(rc)
	locks.SetLogger(log)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(rc)
		limiter.SetLogger(log)
	}

	keys := keyspace.New(cfg.Prefix, queueName)

	var pump *priority.Pump
	if opts.PriorityLevels > 0 {
		pump = priority.New(rc, keys, opts.PriorityLevels, priority.DefaultInterval, log)
	}

	ref := &queueRef{}
	dead := deadletter.New(rc, keys, ref, em, log)

	q := queue.New(rc, queueName, queue.Options{
		Prefix: cfg.Prefix,
		RateLimit: queue.RateLimitConfig{
			Enabled:  cfg.RateLimit.Enabled,
			Max:      cfg.RateLimit.Max,
			Duration: cfg.RateLimit.Duration,
		},
		Priority:    pump,
		DeadLetter:  dead,
		Emitter:     em,
		Metrics:     m,
		Logger:      log,
		RateLimiter: limiter,
	})
	ref.q = q

	var resultBackend result.Backend
	if cfg.ResultBackendEnabled {
		resultBackend = result.NewRedisBackend(rc, cfg.Prefix, cfg.ResultBackendTTLSuccess, cfg.ResultBackendTTLFailure)
	}

	batches := batch.New(rc, q.Keys(), q, em, log)

	cronReg := cron.NewRegistry()
	cronSched := cron.New(cronReg, q, rc, keys, cron.Options{
		TickInterval: cfg.CronSchedulerInterval,
		Logger:       log,
	})

	stalledChecker := stalled.New(q, locks, stalled.Options{
		CheckInterval:     cfg.Stalled.CheckInterval,
		StalledThreshold:  cfg.Stalled.StalledThreshold,
		MaxStalledRetries: cfg.Stalled.MaxStalledRetries,
		Logger:            log,
	})

	cleanupSweeper := cleanup.New(rc, q.Keys(), cleanup.Options{
		Completed: cleanup.Policy{Lifetime: cfg.Cleanup.CompletedLifetime, Cap: cfg.Cleanup.CompletedCap},
		Failed:    cleanup.Policy{Lifetime: cfg.Cleanup.FailedLifetime, Cap: cfg.Cleanup.FailedCap},
		Logger:    log,
	})

	var leader *coordination.Election
	if cfg.Leader.Enabled {
		leader = coordination.NewElection(rc, cfg.Prefix, coordination.ElectionOptions{
			Role:              queueName,
			InstanceID:        cfg.Leader.InstanceID,
			HeartbeatInterval: cfg.Leader.HeartbeatInterval,
			LeaderTimeout:     cfg.Leader.LeaderTimeout,
			Logger:            log,
		})
	}

	var coordinator *coordination.Coordinator
	if cfg.Coordination.Enabled {
		coordinator = coordination.NewCoordinator(rc, cfg.Prefix, coordination.CoordinatorOptions{
			InstanceID:   opts.InstanceID,
			MaxWorkers:   cfg.Coordination.MaxWorkersPerInstance,
			PollInterval: cfg.Coordination.PollInterval,
			Logger:       log,
		})
	}

	return &Client{
		cfg:          cfg,
		redis:        rc,
		log:          log.WithComponent(logger.ComponentAPI),
		Queue:        q,
		Events:       em,
		Metrics:      m,
		Locks:        locks,
		Priority:     pump,
		DeadLetter:   dead,
		Result:       resultBackend,
		Batches:      batches,
		CronReg:      cronReg,
		Cron:         cronSched,
		Workers:      worker.NewRegistry(),
		Stalled:      stalledChecker,
		Cleanup:      cleanupSweeper,
		Leader:       leader,
		Coordinator:  coordinator,
		workerConfig: opts.WorkerConfig,
	}, nil
}

// Add marshals payload to JSON and submits it as a job named name.
func (c *Client) Add(ctx context.Context, name string, payload interface{}, opts job.Opts) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.Queue.Add(ctx, name, data, opts)
}

// GetJob retrieves a job by id.
func (c *Client) GetJob(ctx context.Context, id string) (*job.Job, error) {
	return c.Queue.GetJob(ctx, id)
}

// GetResult retrieves a completed job's stored result, if the result
// backend is enabled. Returns nil, nil if disabled or not yet ready.
func (c *Client) GetResult(ctx context.Context, jobID string) (*job.JobResult, error) {
	if c.Result == nil {
		return nil, nil
	}
	return c.Result.GetResult(ctx, jobID)
}

// SubmitAndWait submits a job and blocks for its result, an RPC-style
// convenience. Requires the result backend to be enabled.
func (c *Client) SubmitAndWait(ctx context.Context, name string, payload interface{}, opts job.Opts, timeout time.Duration) (*job.JobResult, error) {
	if c.Result == nil {
		return nil, fmt.Errorf("result backend disabled")
	}
	j, err := c.Add(ctx, name, payload, opts)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	res, err := c.Result.WaitForResult(ctx, j.ID, timeout)
	if err != nil {
		return nil, fmt.Errorf("wait for result: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("job %s did not complete within %v", j.ID, timeout)
	}
	return res, nil
}

// RegisterHandler registers a named job handler for this queue's
// worker.
func (c *Client) RegisterHandler(name string, h worker.HandlerFunc) {
	c.Workers.Register(name, h)
}

// RunWorker builds (on first call) and runs the worker loop until ctx
// is cancelled.
func (c *Client) RunWorker(ctx context.Context) error {
	if c.worker == nil {
		c.worker = worker.New(c.Queue, c.Workers, c.Locks, worker.Options{
			Concurrency: c.cfg.WorkerConcurrency,
			JobTimeout:  c.cfg.JobTimeout,
			RoutingKeys: c.cfg.WorkerRoutingKeys,
			JobFilter:   c.workerConfig,
			Lock:        lock.Options{Duration: c.cfg.Lock.Duration, AutoExtend: c.cfg.Lock.AutoExtend, ExtendInterval: c.cfg.Lock.ExtendInterval, Retries: c.cfg.Lock.Retries, RetryDelay: c.cfg.Lock.RetryDelay},
			Result:      c.Result,
			Logger:      c.log,
		})
	}
	return c.worker.Run(ctx)
}

// AdjustWorkerConcurrency changes the running worker's concurrency
// ceiling, the hook the work coordinator drives from GetWorkerCount.
func (c *Client) AdjustWorkerConcurrency(n int) {
	if c.worker != nil {
		c.worker.AdjustConcurrency(n)
	}
}

// Schedule registers a cron schedule on this queue.
func (c *Client) Schedule(s *cron.Schedule) error {
	return c.CronReg.Register(s)
}

// RunCron runs the cron scheduler until ctx is cancelled.
func (c *Client) RunCron(ctx context.Context) error {
	return c.Cron.Run(ctx)
}

// RunStalledChecker runs the stalled-job sweep until ctx is cancelled.
func (c *Client) RunStalledChecker(ctx context.Context) error {
	return c.Stalled.Run(ctx)
}

// RunCleanup runs the completed/failed trim sweep until ctx is
// cancelled.
func (c *Client) RunCleanup(ctx context.Context) error {
	return c.Cleanup.Run(ctx, c.cfg.Cleanup.Interval)
}

// RunLeaderElection runs the leader-election loop until ctx is
// cancelled. No-op if leader election is disabled in config.
func (c *Client) RunLeaderElection(ctx context.Context) error {
	if c.Leader == nil {
		return nil
	}
	return c.Leader.Run(ctx)
}

// RunCoordinator runs the work-coordinator poll loop until ctx is
// cancelled, adjusting the running worker's concurrency after every
// poll. No-op if work coordination is disabled in config.
func (c *Client) RunCoordinator(ctx context.Context) error {
	if c.Coordinator == nil {
		return nil
	}
	go func() {
		ticker := time.NewTicker(c.cfg.Coordination.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.AdjustWorkerConcurrency(c.Coordinator.GetWorkerCount())
			}
		}
	}()
	return c.Coordinator.Run(ctx)
}

// NewBatch submits inputs as one tracked batch.
func (c *Client) NewBatch(ctx context.Context, name string, inputs []batch.JobInput) (*batch.Batch, error) {
	return c.Batches.Add(ctx, name, inputs)
}

// GetBatch refreshes and returns a batch's aggregate state.
func (c *Client) GetBatch(ctx context.Context, id string) (*batch.Batch, error) {
	return c.Batches.Get(ctx, id)
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.redis.Close()
}
