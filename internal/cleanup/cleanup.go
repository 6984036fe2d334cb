// Package cleanup implements the periodic double-policy trim of a
// queue's completed and failed lists: age-based removal first, then a
// cap-based removal of the oldest survivors. A job marked KeepJobs is
// exempt from both passes.
package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/job"
	"github.com/muaviaUsmani/jobqueue/internal/keyspace"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
	"github.com/redis/go-redis/v9"
)

// DefaultInterval is how often Sweep should be invoked by a caller's
// own ticker.
const DefaultInterval = time.Hour

// Policy configures age and count limits for one status list.
type Policy struct {
	Lifetime time.Duration
	Cap      int
}

// Options configures a Sweeper.
type Options struct {
	Completed Policy
	Failed    Policy
	Logger    logger.Logger
}

// DefaultOptions returns the baseline cleanup tuning.
func DefaultOptions() Options {
	return Options{
		Completed: Policy{Lifetime: 24 * time.Hour, Cap: 1000},
		Failed:    Policy{Lifetime: 7 * 24 * time.Hour, Cap: 1000},
	}
}

// Sweeper periodically trims one queue's completed/failed lists.
type Sweeper struct {
	client *redis.Client
	keys   *keyspace.Keys
	opts   Options
	log    logger.Logger
}

// New returns a Sweeper for the queue addressed by keys.
func New(client *redis.Client, keys *keyspace.Keys, opts Options) *Sweeper {
	log := opts.Logger
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	if opts.Completed.Lifetime <= 0 {
		opts.Completed.Lifetime = 24 * time.Hour
	}
	if opts.Completed.Cap <= 0 {
		opts.Completed.Cap = 1000
	}
	if opts.Failed.Lifetime <= 0 {
		opts.Failed.Lifetime = 7 * 24 * time.Hour
	}
	if opts.Failed.Cap <= 0 {
		opts.Failed.Cap = 1000
	}
	return &Sweeper{client: client, keys: keys, opts: opts, log: log.WithComponent(logger.ComponentCleanup)}
}

// Run ticks at interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.ErrorContext(ctx, "cleanup sweep failed", "error", err.Error())
			}
		}
	}
}

// Sweep trims completed then failed, returning the total removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	removed, err := s.sweepList(ctx, s.keys.Completed(), s.opts.Completed)
	if err != nil {
		return removed, fmt.Errorf("sweep completed: %w", err)
	}
	r2, err := s.sweepList(ctx, s.keys.Failed(), s.opts.Failed)
	removed += r2
	if err != nil {
		return removed, fmt.Errorf("sweep failed: %w", err)
	}
	return removed, nil
}

type entry struct {
	id         string
	finishedOn time.Time
	keep       bool
}

func (s *Sweeper) sweepList(ctx context.Context, listKey string, policy Policy) (int, error) {
	ids, err := s.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", listKey, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	entries := make([]entry, 0, len(ids))
	now := time.Now()
	removed := 0

	for _, id := range ids {
		data, err := s.client.HGet(ctx, s.keys.Job(id), "record").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("load job %s: %w", id, err)
		}
		var j job.Job
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			return removed, fmt.Errorf("unmarshal job %s: %w", id, err)
		}
		if j.FinishedOn == nil {
			continue
		}
		entries = append(entries, entry{id: id, finishedOn: *j.FinishedOn, keep: j.Opts.KeepJobs})
	}

	var survivors []entry
	for _, e := range entries {
		if !e.keep && now.Sub(e.finishedOn) > policy.Lifetime {
			if err := s.remove(ctx, listKey, e.id); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		survivors = append(survivors, e)
	}

	if len(survivors) <= policy.Cap {
		return removed, nil
	}

	sortByFinishedOnAsc(survivors)
	excess := len(survivors) - policy.Cap
	for i := 0; i < len(survivors) && excess > 0; i++ {
		if survivors[i].keep {
			continue
		}
		if err := s.remove(ctx, listKey, survivors[i].id); err != nil {
			return removed, err
		}
		removed++
		excess--
	}
	return removed, nil
}

func (s *Sweeper) remove(ctx context.Context, listKey, jobID string) error {
	pipe := s.client.Pipeline()
	pipe.LRem(ctx, listKey, 0, jobID)
	pipe.Del(ctx, s.keys.Job(jobID))
	pipe.Del(ctx, s.keys.JobDependents(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove job %s: %w", jobID, err)
	}
	return nil
}

// sortByFinishedOnAsc sorts oldest-first, in place.
func sortByFinishedOnAsc(entries []entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].finishedOn.Before(entries[j-1].finishedOn); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
