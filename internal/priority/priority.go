// Package priority implements N-level priority lists and the pump that
// drains them into a queue's waiting list, highest level first.
package priority

import (
	"context"
	"fmt"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/keyspace"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
	"github.com/redis/go-redis/v9"
)

// DefaultInterval is the pump's drain period.
const DefaultInterval = 25 * time.Millisecond

// Lookup resolves a job id's current priority level and lifo flag,
// letting Reorder re-read option state without this package importing
// the job/queue packages (they import this one, not the reverse).
type Lookup func(ctx context.Context, jobID string) (level int, lifo bool, ok bool, err error)

// Pump drains a queue's priority:{0..levels-1} lists into its waiting
// list on a fixed tick, highest level first.
type Pump struct {
	client   *redis.Client
	keys     *keyspace.Keys
	levels   int
	interval time.Duration
	log      logger.Logger
}

// New returns a Pump over levels priority lists (0..levels-1, higher
// index is higher priority) for the queue identified by keys. interval
// <= 0 uses DefaultInterval. log may be nil, in which case a no-op
// logger is used.
func New(client *redis.Client, keys *keyspace.Keys, levels int, interval time.Duration, log logger.Logger) *Pump {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &Pump{client: client, keys: keys, levels: levels, interval: interval, log: log.WithComponent(logger.ComponentPriority)}
}

// Levels returns the configured number of priority levels.
func (p *Pump) Levels() int { return p.levels }

// ValidLevel reports whether level is in range 0..levels-1.
func (p *Pump) ValidLevel(level int) bool {
	return level >= 0 && level < p.levels
}

// Push places jobID onto the list for level. lifo pushes to the tail
// (RPush); otherwise the job is pushed to the head (LPush), matching
// the queue's normal submission order so the pump's repeated
// RPopLPush drain preserves within-level FIFO order into waiting.
func (p *Pump) Push(ctx context.Context, jobID string, level int, lifo bool) error {
	if !p.ValidLevel(level) {
		return fmt.Errorf("priority: level %d out of range 0..%d", level, p.levels-1)
	}
	key := p.keys.PriorityLevel(level)
	if lifo {
		return p.client.RPush(ctx, key, jobID).Err()
	}
	return p.client.LPush(ctx, key, jobID).Err()
}

// Run ticks every p.interval, draining all levels into waiting, until
// ctx is cancelled.
func (p *Pump) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Drain(ctx); err != nil {
				p.log.ErrorContext(ctx, "priority pump drain failed", "error", err.Error())
			}
		}
	}
}

// Drain moves every job currently queued in priority:0..levels-1 into
// waiting, processing levels highest index first so a full queue at a
// lower level never blocks a higher one. Returns the total number of
// jobs moved.
func (p *Pump) Drain(ctx context.Context) (int, error) {
	waiting := p.keys.Waiting()
	total := 0

	for level := p.levels - 1; level >= 0; level-- {
		n, err := p.drainLevel(ctx, level, waiting)
		total += n
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// drainLevel repeatedly moves the oldest entry in priority:{level} onto
// the head of waiting. Moving the tail (oldest) element each time and
// pushing it onto waiting's head, one job at a time, means the last
// entry moved (the newest in this level) ends up closest to waiting's
// head and the first entry moved (the oldest) ends up deepest — which
// is exactly the relative order a worker's tail-side RPop expects.
func (p *Pump) drainLevel(ctx context.Context, level int, waiting string) (int, error) {
	key := p.keys.PriorityLevel(level)
	moved := 0
	for {
		res, err := p.client.RPopLPush(ctx, key, waiting).Result()
		if err == redis.Nil {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("priority: drain level %d: %w", level, err)
		}
		moved++
		_ = res
	}
}

// Reorder re-reads every job queued across all priority levels via
// lookup and, if a job's current priority no longer matches the level
// it sits in, moves it to the matching level. Jobs lookup reports as no
// longer present (ok=false) are left alone (already dispatched or
// removed by another path). This is the queue's optional "dynamic
// reordering" pass; callers decide how often to invoke it.
func (p *Pump) Reorder(ctx context.Context, lookup Lookup) (int, error) {
	moved := 0
	for level := 0; level < p.levels; level++ {
		key := p.keys.PriorityLevel(level)
		ids, err := p.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return moved, fmt.Errorf("priority: reorder read level %d: %w", level, err)
		}

		for _, id := range ids {
			newLevel, lifo, ok, err := lookup(ctx, id)
			if err != nil {
				return moved, fmt.Errorf("priority: reorder lookup %s: %w", id, err)
			}
			if !ok || newLevel == level {
				continue
			}
			if !p.ValidLevel(newLevel) {
				continue
			}

			removed, err := p.client.LRem(ctx, key, 1, id).Result()
			if err != nil {
				return moved, fmt.Errorf("priority: reorder remove %s: %w", id, err)
			}
			if removed == 0 {
				continue
			}
			if err := p.Push(ctx, id, newLevel, lifo); err != nil {
				return moved, fmt.Errorf("priority: reorder push %s: %w", id, err)
			}
			moved++
		}
	}
	return moved, nil
}

// Depths returns the current length of every priority level, index 0
// first, for queue-depth metrics and getJobCounts.
func (p *Pump) Depths(ctx context.Context) ([]int64, error) {
	depths := make([]int64, p.levels)
	for level := 0; level < p.levels; level++ {
		n, err := p.client.LLen(ctx, p.keys.PriorityLevel(level)).Result()
		if err != nil {
			return nil, fmt.Errorf("priority: depth level %d: %w", level, err)
		}
		depths[level] = n
	}
	return depths, nil
}
