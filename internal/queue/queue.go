// Package queue implements job submission, promotion, query, and
// mutation against the Redis-backed state machine: waiting, active,
// completed, failed, delayed, paused, dependency-wait. Submission is
// pipelined, delayed/retry jobs live in a ZSET keyed by fire time and
// are promoted into waiting once due, and exhausted jobs are routed to
// a dead-letter sink instead of being dropped.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/events"
	"github.com/muaviaUsmani/jobqueue/internal/idgen"
	"github.com/muaviaUsmani/jobqueue/internal/job"
	"github.com/muaviaUsmani/jobqueue/internal/keyspace"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
	"github.com/muaviaUsmani/jobqueue/internal/metrics"
	"github.com/muaviaUsmani/jobqueue/internal/priority"
	"github.com/muaviaUsmani/jobqueue/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

// DeadLetterSink receives jobs that have exhausted their dead-letter
// threshold. Queue depends on this interface rather than
// internal/deadletter directly so the two packages don't import each
// other.
type DeadLetterSink interface {
	Move(ctx context.Context, j *job.Job, reason string) error
}

// RateLimitConfig configures Queue.Add's sliding-window admission check.
// KeyFunc, if set, derives a per-submission rate-limit sub-identifier
// from the job payload; nil means every submission to this queue
// shares one identifier.
type RateLimitConfig struct {
	Enabled  bool
	Max      int
	Duration time.Duration
	KeyFunc  func(data json.RawMessage) string
}

// Options configures a new Queue.
type Options struct {
	Prefix      string
	RateLimit   RateLimitConfig
	Priority    *priority.Pump // nil disables priority-level placement
	DeadLetter  DeadLetterSink
	Emitter     *events.Emitter
	Metrics     *metrics.Collector
	Logger      logger.Logger
	RateLimiter *ratelimit.Limiter
}

// Queue is one named job queue.
type Queue struct {
	client  *redis.Client
	name    string
	keys    *keyspace.Keys
	limiter *ratelimit.Limiter
	rl      RateLimitConfig
	pri     *priority.Pump
	dead    DeadLetterSink
	events  *events.Emitter
	metrics *metrics.Collector
	log     logger.Logger
}

// New returns a Queue named name over client, configured by opts.
func New(client *redis.Client, name string, opts Options) *Queue {
	log := opts.Logger
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Default()
	}
	em := opts.Emitter
	if em == nil {
		em = events.New()
	}
	return &Queue{
		client:  client,
		name:    name,
		keys:    keyspace.New(opts.Prefix, name),
		limiter: opts.RateLimiter,
		rl:      opts.RateLimit,
		pri:     opts.Priority,
		dead:    opts.DeadLetter,
		events:  em,
		metrics: m,
		log:     log.WithComponent(logger.ComponentQueue),
	}
}

// Name returns this queue's name.
func (q *Queue) Name() string { return q.name }

// Keys returns this queue's key builder, for callers (worker, cron,
// cleanup, stalled) that need to address the same Redis structures.
func (q *Queue) Keys() *keyspace.Keys { return q.keys }

// Events returns the emitter jobs on this queue publish to.
func (q *Queue) Events() *events.Emitter { return q.events }

func (q *Queue) storeJob(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", j.ID, err)
	}
	if err := q.client.HSet(ctx, q.keys.Job(j.ID), "record", data).Err(); err != nil {
		return fmt.Errorf("store job %s: %w", j.ID, err)
	}
	return nil
}

func (q *Queue) loadJob(ctx context.Context, id string) (*job.Job, error) {
	data, err := q.client.HGet(ctx, q.keys.Job(id), "record").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var j job.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &j, nil
}

// Add submits data with opts, returning the created job. See package
// doc for the placement algorithm.
func (q *Queue) Add(ctx context.Context, name string, data json.RawMessage, opts job.Opts) (*job.Job, error) {
	return q.add(ctx, name, data, opts, 0)
}

// add implements the submission algorithm. depth guards the rate-limit
// recheck to exactly one recursion: the first call checks the limiter;
// if limited, it recomputes delay and calls itself once more with
// depth=1, which skips the check and proceeds straight to placement.
// Rechecking the limiter on the second call would reobserve the same
// unchanged window and recurse forever, since the rejected attempt
// never incremented the sliding-window count.
func (q *Queue) add(ctx context.Context, name string, data json.RawMessage, opts job.Opts, depth int) (*job.Job, error) {
	if depth == 0 && q.limiter != nil && q.rl.Enabled && q.rl.Max > 0 {
		sub := ""
		if q.rl.KeyFunc != nil {
			sub = q.rl.KeyFunc(data)
		}
		identifier := ratelimit.Identifier(q.name, sub)
		res, err := q.limiter.Check(ctx, q.keys.RateLimit(identifier), ratelimit.Options{Max: q.rl.Max, Duration: q.rl.Duration})
		if err != nil {
			return nil, fmt.Errorf("rate limit check: %w", err)
		}
		if res.Limited {
			next := opts
			resetDelay := time.Duration(res.ResetInMs) * time.Millisecond
			if resetDelay > next.Delay {
				next.Delay = resetDelay
			}
			return q.add(ctx, name, data, next, depth+1)
		}
	}

	if opts.JobID == "" {
		opts.JobID = idgen.NewJobID()
	}

	j := job.New(q.name, name, data, opts)

	if err := q.storeJob(ctx, j); err != nil {
		return nil, err
	}

	if opts.HasUnresolvedDependencies() {
		resolved, err := q.handleDependencies(ctx, j)
		if err != nil {
			return nil, err
		}
		if !resolved {
			q.events.Emit(events.JobAdded, q.name, j.ID, nil)
			q.metrics.RecordAdded(q.name)
			return j, nil
		}
	}

	if err := q.place(ctx, j); err != nil {
		return nil, err
	}

	q.events.Emit(events.JobAdded, q.name, j.ID, nil)
	q.metrics.RecordAdded(q.name)
	return j, nil
}

// handleDependencies registers j as a dependent of every job it depends
// on and reports whether every dependency has already finished. A
// missing dependency is logged and treated as satisfied rather than
// blocking submission.
func (q *Queue) handleDependencies(ctx context.Context, j *job.Job) (resolved bool, err error) {
	anyUnresolved := false
	for _, depID := range j.Dependencies {
		dep, err := q.loadJob(ctx, depID)
		if err != nil {
			return false, err
		}
		if dep == nil {
			q.log.WarnContext(ctx, "dependency job not found, not blocking submission", "jobId", j.ID, "dependsOn", depID)
			continue
		}
		if err := q.client.SAdd(ctx, q.keys.JobDependents(depID), j.ID).Err(); err != nil {
			return false, fmt.Errorf("register dependent %s on %s: %w", j.ID, depID, err)
		}
		if dep.FinishedOn == nil {
			anyUnresolved = true
		}
	}

	if !anyUnresolved {
		return true, nil
	}

	j.Status = job.StatusDepWait
	if err := q.storeJob(ctx, j); err != nil {
		return false, err
	}
	if err := q.client.SAdd(ctx, q.keys.DependencyWait(), j.ID).Err(); err != nil {
		return false, fmt.Errorf("add %s to dependency-wait: %w", j.ID, err)
	}
	return false, nil
}

// place pushes j into delayed, a priority level, or waiting, per
// opts.delay/opts.priority.
func (q *Queue) place(ctx context.Context, j *job.Job) error {
	switch {
	case j.Opts.Delay > 0:
		j.Status = job.StatusDelayed
		score := float64(time.Now().Add(j.Opts.Delay).UnixMilli())
		pipe := q.client.Pipeline()
		data, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", j.ID, err)
		}
		pipe.HSet(ctx, q.keys.Job(j.ID), "record", data)
		pipe.ZAdd(ctx, q.keys.Delayed(), redis.Z{Score: score, Member: j.ID})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("place %s into delayed: %w", j.ID, err)
		}
		return nil

	case q.pri != nil:
		if err := q.pri.Push(ctx, j.ID, j.Opts.Priority, j.Opts.LIFO); err != nil {
			return fmt.Errorf("place %s into priority:%d: %w", j.ID, j.Opts.Priority, err)
		}
		return nil

	default:
		return q.pushWaiting(ctx, j.ID, j.Opts.LIFO)
	}
}

func (q *Queue) pushWaiting(ctx context.Context, jobID string, lifo bool) error {
	if lifo {
		return q.client.RPush(ctx, q.keys.Waiting(), jobID).Err()
	}
	return q.client.LPush(ctx, q.keys.Waiting(), jobID).Err()
}

// Promote moves every delayed job whose fire time has passed onto the
// front of waiting, and — if this queue has priority levels configured
// — drains them into waiting too. Returns the total number of jobs
// promoted from the delayed set (priority drains are reported
// separately by the priority package).
func (q *Queue) Promote(ctx context.Context) (int, error) {
	now := float64(time.Now().UnixMilli())
	ids, err := q.client.ZRangeByScore(ctx, q.keys.Delayed(), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("promote: list delayed: %w", err)
	}

	moved := 0
	for _, id := range ids {
		j, err := q.loadJob(ctx, id)
		if err != nil {
			return moved, err
		}
		if j == nil {
			_ = q.client.ZRem(ctx, q.keys.Delayed(), id).Err()
			continue
		}
		j.Status = job.StatusWaiting

		pipe := q.client.Pipeline()
		data, err := json.Marshal(j)
		if err != nil {
			return moved, fmt.Errorf("marshal job %s: %w", j.ID, err)
		}
		pipe.HSet(ctx, q.keys.Job(j.ID), "record", data)
		pipe.ZRem(ctx, q.keys.Delayed(), id)
		pipe.LPush(ctx, q.keys.Waiting(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, fmt.Errorf("promote job %s: %w", id, err)
		}
		moved++
	}

	if q.pri != nil {
		if _, err := q.pri.Drain(ctx); err != nil {
			return moved, fmt.Errorf("promote: priority drain: %w", err)
		}
	}

	return moved, nil
}

// DispatchBatch atomically moves up to n job ids from the tail of
// waiting onto the tail of active, one LMOVE per job, returning the ids
// moved. Used by the worker loop's tick; a worker still must acquire
// each id's per-job lock before invoking its handler.
func (q *Queue) DispatchBatch(ctx context.Context, n int) ([]string, error) {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := q.client.LMove(ctx, q.keys.Waiting(), q.keys.Active(), "right", "right").Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return ids, fmt.Errorf("dispatch batch: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ReturnToWaiting moves jobID from active back onto the head of waiting
// without touching its attempt count or status history. Used by the
// worker when a dispatched job's routing key doesn't match this
// worker's configured set, so another worker can pick it up.
func (q *Queue) ReturnToWaiting(ctx context.Context, jobID string) error {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.keys.Active(), 1, jobID)
	pipe.LPush(ctx, q.keys.Waiting(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("return %s to waiting: %w", jobID, err)
	}
	return nil
}

// RequeueStalled moves jobID from active back to the head of waiting,
// incrementing its attempt count, and emits jobStalled. Used by the
// stalled-job checker when a lease has expired but attempts remain.
func (q *Queue) RequeueStalled(ctx context.Context, jobID string) error {
	j, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	j.AttemptsMade++
	j.Status = job.StatusWaiting

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", jobID, err)
	}
	pipe := q.client.Pipeline()
	pipe.HSet(ctx, q.keys.Job(jobID), "record", data)
	pipe.LRem(ctx, q.keys.Active(), 1, jobID)
	pipe.LPush(ctx, q.keys.Waiting(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue stalled job %s: %w", jobID, err)
	}

	q.events.Emit(events.JobStalled, q.name, jobID, nil)
	return nil
}

// MarkActive loads jobID, stamps processedOn, and persists it. Called
// by the worker immediately after acquiring the per-job lock.
func (q *Queue) MarkActive(ctx context.Context, jobID string) (*job.Job, error) {
	j, err := q.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	j.MarkActive(time.Now())
	if err := q.storeJob(ctx, j); err != nil {
		return nil, err
	}
	q.events.Emit(events.JobActive, q.name, j.ID, nil)
	return j, nil
}

// CompleteJob marks jobID completed, moves it from active to completed,
// re-evaluates its dependents, and emits jobCompleted. If
// opts.removeOnComplete is set, the job is deleted entirely instead of
// retained in completed.
func (q *Queue) CompleteJob(ctx context.Context, jobID string, returnValue json.RawMessage) error {
	j, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	now := time.Now()
	j.MarkCompleted(now, returnValue)

	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.keys.Active(), 1, jobID)
	if j.Opts.RemoveOnComplete {
		pipe.Del(ctx, q.keys.Job(jobID))
	} else {
		data, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", jobID, err)
		}
		pipe.HSet(ctx, q.keys.Job(jobID), "record", data)
		pipe.LPush(ctx, q.keys.Completed(), jobID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}

	q.events.Emit(events.JobCompleted, q.name, jobID, nil)
	q.metrics.RecordOutcome(q.name, false)

	if err := q.reevaluateDependents(ctx, jobID); err != nil {
		q.log.ErrorContext(ctx, "failed to re-evaluate dependents", "jobId", jobID, "error", err.Error())
	}
	return nil
}

// FailJob records a handler failure for jobID and routes it to retry,
// dead-letter, or terminal failure per backoff and dead-letter policy.
// Returns true if the job reached a terminal state (failed or
// dead-letter).
func (q *Queue) FailJob(ctx context.Context, jobID string, reason string) (terminal bool, err error) {
	j, err := q.loadJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, fmt.Errorf("job not found: %s", jobID)
	}

	j.AppendStacktrace(reason)
	j.MarkFailedRetryable(reason)

	if err := q.client.LRem(ctx, q.keys.Active(), 1, jobID).Err(); err != nil {
		return false, fmt.Errorf("remove %s from active: %w", jobID, err)
	}
	if err := q.client.LPush(ctx, q.keys.Failed(), jobID).Err(); err != nil {
		return false, fmt.Errorf("push %s to failed: %w", jobID, err)
	}

	if q.dead != nil && j.ExceedsDeadLetterThreshold() {
		now := time.Now()
		j.MarkDeadLetter(now, reason)
		if err := q.client.LRem(ctx, q.keys.Failed(), 1, jobID).Err(); err != nil {
			return false, fmt.Errorf("remove %s from failed for dead-letter: %w", jobID, err)
		}
		if err := q.dead.Move(ctx, j, reason); err != nil {
			return false, fmt.Errorf("move %s to dead-letter: %w", jobID, err)
		}
		if err := q.client.Del(ctx, q.keys.Job(jobID)).Err(); err != nil {
			return false, fmt.Errorf("delete dead-lettered job %s record: %w", jobID, err)
		}
		q.events.Emit(events.JobMovedToDeadLetter, q.name, jobID, reason)
		q.metrics.RecordOutcome(q.name, true)
		return true, nil
	}

	if j.CanRetry() {
		delay := j.RetryDelay()
		if delay > 0 {
			j.Status = job.StatusDelayed
			score := float64(time.Now().Add(delay).UnixMilli())
			pipe := q.client.Pipeline()
			data, merr := json.Marshal(j)
			if merr != nil {
				return false, fmt.Errorf("marshal job %s: %w", jobID, merr)
			}
			pipe.HSet(ctx, q.keys.Job(jobID), "record", data)
			pipe.LRem(ctx, q.keys.Failed(), 1, jobID)
			pipe.ZAdd(ctx, q.keys.Delayed(), redis.Z{Score: score, Member: jobID})
			if _, err := pipe.Exec(ctx); err != nil {
				return false, fmt.Errorf("schedule retry for %s: %w", jobID, err)
			}
			q.events.Emit(events.JobDelayed, q.name, jobID, nil)
		} else {
			j.Status = job.StatusWaiting
			pipe := q.client.Pipeline()
			data, merr := json.Marshal(j)
			if merr != nil {
				return false, fmt.Errorf("marshal job %s: %w", jobID, merr)
			}
			pipe.HSet(ctx, q.keys.Job(jobID), "record", data)
			pipe.LRem(ctx, q.keys.Failed(), 1, jobID)
			pipe.LPush(ctx, q.keys.Waiting(), jobID)
			if _, err := pipe.Exec(ctx); err != nil {
				return false, fmt.Errorf("requeue %s: %w", jobID, err)
			}
		}
		q.metrics.RecordOutcome(q.name, true)
		return false, nil
	}

	now := time.Now()
	j.MarkFailedTerminal(now, reason)
	if err := q.storeJob(ctx, j); err != nil {
		return false, err
	}
	if j.Opts.RemoveOnFail {
		if err := q.client.LRem(ctx, q.keys.Failed(), 1, jobID).Err(); err != nil {
			return false, fmt.Errorf("remove %s from failed for removeOnFail: %w", jobID, err)
		}
		if err := q.client.Del(ctx, q.keys.Job(jobID)).Err(); err != nil {
			return false, fmt.Errorf("delete removed job %s: %w", jobID, err)
		}
	}
	q.events.Emit(events.JobFailed, q.name, jobID, reason)
	q.metrics.RecordOutcome(q.name, true)
	return true, nil
}

// FailJobTerminal transitions jobID directly to the terminal failed
// state, bypassing FailJob's retry/dead-letter decision tree (which is
// gated on opts.attempts and the dead-letter policy, not on a caller's
// own retry budget). Used by callers such as the stalled checker that
// enforce an independent retry cap and need the job to stop regardless
// of how many attempts opts still allows.
func (q *Queue) FailJobTerminal(ctx context.Context, jobID string, reason string) error {
	j, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if err := q.client.LRem(ctx, q.keys.Active(), 1, jobID).Err(); err != nil {
		return fmt.Errorf("remove %s from active: %w", jobID, err)
	}
	if err := q.client.LPush(ctx, q.keys.Failed(), jobID).Err(); err != nil {
		return fmt.Errorf("push %s to failed: %w", jobID, err)
	}

	j.AppendStacktrace(reason)
	j.MarkFailedTerminal(time.Now(), reason)
	if err := q.storeJob(ctx, j); err != nil {
		return err
	}
	if j.Opts.RemoveOnFail {
		if err := q.client.LRem(ctx, q.keys.Failed(), 1, jobID).Err(); err != nil {
			return fmt.Errorf("remove %s from failed for removeOnFail: %w", jobID, err)
		}
		if err := q.client.Del(ctx, q.keys.Job(jobID)).Err(); err != nil {
			return fmt.Errorf("delete removed job %s: %w", jobID, err)
		}
	}
	q.events.Emit(events.JobFailed, q.name, jobID, reason)
	q.metrics.RecordOutcome(q.name, true)
	return nil
}

// reevaluateDependents moves every dependent of jobID from
// dependency-wait to waiting once all of its dependencies are finished
// or no longer exist.
func (q *Queue) reevaluateDependents(ctx context.Context, jobID string) error {
	dependents, err := q.client.SMembers(ctx, q.keys.JobDependents(jobID)).Result()
	if err != nil {
		return fmt.Errorf("list dependents of %s: %w", jobID, err)
	}

	for _, depID := range dependents {
		dj, err := q.loadJob(ctx, depID)
		if err != nil {
			return err
		}
		if dj == nil || dj.Status != job.StatusDepWait {
			continue
		}

		allResolved := true
		for _, d := range dj.Dependencies {
			parent, err := q.loadJob(ctx, d)
			if err != nil {
				return err
			}
			if parent != nil && parent.FinishedOn == nil {
				allResolved = false
				break
			}
		}
		if !allResolved {
			continue
		}

		dj.Status = job.StatusWaiting
		if err := q.storeJob(ctx, dj); err != nil {
			return err
		}
		if err := q.client.SRem(ctx, q.keys.DependencyWait(), depID).Err(); err != nil {
			return fmt.Errorf("remove %s from dependency-wait: %w", depID, err)
		}
		if err := q.place(ctx, dj); err != nil {
			return err
		}
	}
	return nil
}

// GetJob loads a job by id, returning nil, nil if it doesn't exist.
func (q *Queue) GetJob(ctx context.Context, id string) (*job.Job, error) {
	return q.loadJob(ctx, id)
}

// GetJobs returns jobs in status within [start, end] (inclusive,
// 0-indexed), in the order of the underlying structure. For
// StatusWaiting on a priority-configured queue, the priority levels
// (highest first) are unioned ahead of the plain waiting list before
// slicing.
func (q *Queue) GetJobs(ctx context.Context, status job.Status, start, end int64) ([]*job.Job, error) {
	ids, err := q.listIDs(ctx, status, start, end)
	if err != nil {
		return nil, err
	}
	jobs := make([]*job.Job, 0, len(ids))
	for _, id := range ids {
		j, err := q.loadJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if j != nil {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (q *Queue) listIDs(ctx context.Context, status job.Status, start, end int64) ([]string, error) {
	switch status {
	case job.StatusWaiting:
		if q.pri == nil {
			return q.client.LRange(ctx, q.keys.Waiting(), start, end).Result()
		}
		all := []string{}
		for level := q.pri.Levels() - 1; level >= 0; level-- {
			ids, err := q.client.LRange(ctx, q.keys.PriorityLevel(level), 0, -1).Result()
			if err != nil {
				return nil, fmt.Errorf("list priority level %d: %w", level, err)
			}
			all = append(all, ids...)
		}
		waiting, err := q.client.LRange(ctx, q.keys.Waiting(), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("list waiting: %w", err)
		}
		all = append(all, waiting...)
		return sliceRange(all, start, end), nil
	case job.StatusActive:
		return q.client.LRange(ctx, q.keys.Active(), start, end).Result()
	case job.StatusCompleted:
		return q.client.LRange(ctx, q.keys.Completed(), start, end).Result()
	case job.StatusFailed:
		return q.client.LRange(ctx, q.keys.Failed(), start, end).Result()
	case job.StatusDelayed:
		return q.client.ZRange(ctx, q.keys.Delayed(), start, end).Result()
	case job.StatusDepWait:
		ids, err := q.client.SMembers(ctx, q.keys.DependencyWait()).Result()
		if err != nil {
			return nil, err
		}
		return sliceRange(ids, start, end), nil
	case job.StatusPaused:
		return q.client.LRange(ctx, q.keys.PausedList(), start, end).Result()
	default:
		return nil, fmt.Errorf("unsupported status for range query: %s", status)
	}
}

func sliceRange(ids []string, start, end int64) []string {
	n := int64(len(ids))
	if n == 0 {
		return ids
	}
	if end < 0 || end >= n {
		end = n - 1
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		return []string{}
	}
	return ids[start : end+1]
}

// GetJobCounts returns the length of every state structure.
func (q *Queue) GetJobCounts(ctx context.Context) (map[job.Status]int64, error) {
	counts := make(map[job.Status]int64)

	waitingLen, err := q.client.LLen(ctx, q.keys.Waiting()).Result()
	if err != nil {
		return nil, err
	}
	if q.pri != nil {
		depths, err := q.pri.Depths(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range depths {
			waitingLen += d
		}
	}
	counts[job.StatusWaiting] = waitingLen

	activeLen, err := q.client.LLen(ctx, q.keys.Active()).Result()
	if err != nil {
		return nil, err
	}
	counts[job.StatusActive] = activeLen

	completedLen, err := q.client.LLen(ctx, q.keys.Completed()).Result()
	if err != nil {
		return nil, err
	}
	counts[job.StatusCompleted] = completedLen

	failedLen, err := q.client.LLen(ctx, q.keys.Failed()).Result()
	if err != nil {
		return nil, err
	}
	counts[job.StatusFailed] = failedLen

	delayedLen, err := q.client.ZCard(ctx, q.keys.Delayed()).Result()
	if err != nil {
		return nil, err
	}
	counts[job.StatusDelayed] = delayedLen

	depWaitLen, err := q.client.SCard(ctx, q.keys.DependencyWait()).Result()
	if err != nil {
		return nil, err
	}
	counts[job.StatusDepWait] = depWaitLen

	paused, err := q.IsPaused(ctx)
	if err != nil {
		return nil, err
	}
	if paused {
		counts[job.StatusPaused] = 1
	} else {
		counts[job.StatusPaused] = 0
	}

	q.metrics.RecordSample(q.name, counts)
	return counts, nil
}

// Pause sets this queue's pause flag; the worker tick skips dispatch
// while it is set.
func (q *Queue) Pause(ctx context.Context) error {
	return q.client.Set(ctx, q.keys.Paused(), "1", 0).Err()
}

// Resume clears the pause flag.
func (q *Queue) Resume(ctx context.Context) error {
	return q.client.Del(ctx, q.keys.Paused()).Err()
}

// IsPaused reports whether the pause flag is set.
func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	n, err := q.client.Exists(ctx, q.keys.Paused()).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveJob deletes id from every state structure it might be in, its
// job hash, and its dependents set, then re-evaluates its dependents.
func (q *Queue) RemoveJob(ctx context.Context, id string) error {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.keys.Waiting(), 0, id)
	pipe.LRem(ctx, q.keys.Active(), 0, id)
	pipe.LRem(ctx, q.keys.Completed(), 0, id)
	pipe.LRem(ctx, q.keys.Failed(), 0, id)
	pipe.LRem(ctx, q.keys.PausedList(), 0, id)
	pipe.ZRem(ctx, q.keys.Delayed(), id)
	pipe.SRem(ctx, q.keys.DependencyWait(), id)
	if q.pri != nil {
		for level := 0; level < q.pri.Levels(); level++ {
			pipe.LRem(ctx, q.keys.PriorityLevel(level), 0, id)
		}
	}
	pipe.Del(ctx, q.keys.Job(id))
	pipe.Del(ctx, q.keys.JobDependents(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove job %s: %w", id, err)
	}

	q.events.Emit(events.JobRemoved, q.name, id, nil)
	return q.reevaluateDependents(ctx, id)
}

// Empty deletes every key under this queue's prefix.
func (q *Queue) Empty(ctx context.Context) error {
	pattern := q.keys.Base() + ":*"
	var keysToDelete []string
	iter := q.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keysToDelete = append(keysToDelete, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("empty queue %s: scan: %w", q.name, err)
	}
	if len(keysToDelete) == 0 {
		return nil
	}
	if err := q.client.Del(ctx, keysToDelete...).Err(); err != nil {
		return fmt.Errorf("empty queue %s: %w", q.name, err)
	}
	return nil
}

// BulkRemove removes every id, skipping ids that no longer exist and
// counting only successful removals.
func (q *Queue) BulkRemove(ctx context.Context, ids []string) (removed int, err error) {
	for _, id := range ids {
		exists, err := q.client.Exists(ctx, q.keys.Job(id)).Result()
		if err != nil {
			return removed, err
		}
		if exists == 0 {
			continue
		}
		if err := q.RemoveJob(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// BulkPause moves each id out of waiting/priority/delayed into the
// paused list, skipping ids found in neither.
func (q *Queue) BulkPause(ctx context.Context, ids []string) (paused int, err error) {
	for _, id := range ids {
		moved := false

		if n, err := q.client.LRem(ctx, q.keys.Waiting(), 1, id).Result(); err != nil {
			return paused, err
		} else if n > 0 {
			moved = true
		}
		if !moved && q.pri != nil {
			for level := 0; level < q.pri.Levels(); level++ {
				n, err := q.client.LRem(ctx, q.keys.PriorityLevel(level), 1, id).Result()
				if err != nil {
					return paused, err
				}
				if n > 0 {
					moved = true
					break
				}
			}
		}
		if !moved {
			n, err := q.client.ZRem(ctx, q.keys.Delayed(), id).Result()
			if err != nil {
				return paused, err
			}
			if n > 0 {
				moved = true
			}
		}
		if !moved {
			continue
		}

		if err := q.client.LPush(ctx, q.keys.PausedList(), id).Err(); err != nil {
			return paused, fmt.Errorf("push %s to paused list: %w", id, err)
		}
		if j, err := q.loadJob(ctx, id); err == nil && j != nil {
			j.Status = job.StatusPaused
			_ = q.storeJob(ctx, j)
		}
		paused++
	}
	return paused, nil
}

// BulkResume moves each id out of the paused list back into waiting,
// skipping ids not currently paused.
func (q *Queue) BulkResume(ctx context.Context, ids []string) (resumed int, err error) {
	for _, id := range ids {
		n, err := q.client.LRem(ctx, q.keys.PausedList(), 1, id).Result()
		if err != nil {
			return resumed, err
		}
		if n == 0 {
			continue
		}
		if err := q.pushWaiting(ctx, id, false); err != nil {
			return resumed, err
		}
		if j, err := q.loadJob(ctx, id); err == nil && j != nil {
			j.Status = job.StatusWaiting
			_ = q.storeJob(ctx, j)
		}
		resumed++
	}
	return resumed, nil
}
