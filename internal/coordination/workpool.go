package coordination

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/keyspace"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
	"github.com/redis/go-redis/v9"
)

// DefaultPollInterval is how often the coordinator heartbeats and
// recomputes worker distribution.
const DefaultPollInterval = 5 * time.Second

// InstanceRecord is one running instance's published coordination state.
type InstanceRecord struct {
	InstanceID      string
	MaxWorkers      int
	AssignedWorkers int
	LastHeartbeat   time.Time
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	InstanceID   string
	MaxWorkers   int
	PollInterval time.Duration
	Logger       logger.Logger
}

// Coordinator publishes this instance's record and, each poll interval,
// recomputes a fair worker-count distribution across every live
// instance. Only the distribution this instance's own record resolves
// to matters locally; every instance runs the same computation and
// converges on the same answer since they observe the same instance
// records.
type Coordinator struct {
	client       *redis.Client
	prefix       string
	instanceID   string
	maxWorkers   int
	pollInterval time.Duration
	log          logger.Logger

	assigned atomic.Int64
	mu       sync.Mutex
}

// NewCoordinator returns a Coordinator publishing under prefix.
func NewCoordinator(client *redis.Client, prefix string, opts CoordinatorOptions) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if prefix == "" {
		prefix = keyspace.DefaultPrefix
	}
	c := &Coordinator{
		client:       client,
		prefix:       prefix,
		instanceID:   opts.InstanceID,
		maxWorkers:   maxWorkers,
		pollInterval: interval,
		log:          log.WithComponent(logger.ComponentCoordinator),
	}
	c.assigned.Store(int64(maxWorkers))
	return c
}

// GetWorkerCount returns this instance's current worker allocation, as
// of the last poll.
func (c *Coordinator) GetWorkerCount() int { return int(c.assigned.Load()) }

// Run polls until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.poll(ctx); err != nil {
		c.log.ErrorContext(ctx, "initial coordination poll failed", "error", err.Error())
	}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.poll(ctx); err != nil {
				c.log.ErrorContext(ctx, "coordination poll failed", "error", err.Error())
			}
		}
	}
}

func (c *Coordinator) poll(ctx context.Context) error {
	if err := c.heartbeat(ctx); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	instances, err := c.listInstances(ctx)
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}
	if len(instances) == 0 {
		return nil
	}

	distribution := computeDistribution(instances)
	share, ok := distribution[c.instanceID]
	if !ok {
		share = c.maxWorkers
	}
	c.assigned.Store(int64(share))

	if err := c.writeAssigned(ctx, share); err != nil {
		return fmt.Errorf("write assigned workers: %w", err)
	}
	return nil
}

func (c *Coordinator) heartbeat(ctx context.Context) error {
	key := keyspace.InstanceKey(c.prefix, c.instanceID)
	ttl := c.pollInterval * 3
	fields := map[string]interface{}{
		"maxWorkers":      c.maxWorkers,
		"assignedWorkers": c.assigned.Load(),
		"lastHeartbeat":   time.Now().UnixNano(),
	}
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Coordinator) writeAssigned(ctx context.Context, assigned int) error {
	key := keyspace.InstanceKey(c.prefix, c.instanceID)
	return c.client.HSet(ctx, key, "assignedWorkers", assigned).Err()
}

func (c *Coordinator) listInstances(ctx context.Context) ([]*InstanceRecord, error) {
	pattern := keyspace.InstancesPattern(c.prefix)
	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan instances: %w", err)
	}

	threshold := c.pollInterval * 3
	now := time.Now()
	instances := make([]*InstanceRecord, 0, len(keys))
	for _, key := range keys {
		fields, err := c.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read instance %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		id := strings.TrimPrefix(key, c.prefix+":instances:")
		rec := parseInstanceRecord(id, fields)
		if now.Sub(rec.LastHeartbeat) > threshold {
			if err := c.client.Del(ctx, key).Err(); err != nil {
				c.log.ErrorContext(ctx, "failed to evict stale instance", "instanceId", rec.InstanceID, "error", err.Error())
			}
			continue
		}
		instances = append(instances, rec)
	}

	sort.Slice(instances, func(i, j int) bool { return instances[i].InstanceID < instances[j].InstanceID })
	return instances, nil
}

func parseInstanceRecord(id string, fields map[string]string) *InstanceRecord {
	rec := &InstanceRecord{InstanceID: id}
	if v, ok := fields["maxWorkers"]; ok {
		fmt.Sscanf(v, "%d", &rec.MaxWorkers)
	}
	if v, ok := fields["assignedWorkers"]; ok {
		fmt.Sscanf(v, "%d", &rec.AssignedWorkers)
	}
	if v, ok := fields["lastHeartbeat"]; ok {
		var nanos int64
		fmt.Sscanf(v, "%d", &nanos)
		rec.LastHeartbeat = time.Unix(0, nanos)
	}
	return rec
}

// computeDistribution implements the two-pass fair worker-count
// distribution: a proportional first pass capped at each instance's
// maxWorkers, then a remainder pass that adds one worker at a time to
// the least-loaded instances (by assigned/maxWorkers ratio) with room,
// wrapping around until the cluster target is met.
func computeDistribution(instances []*InstanceRecord) map[string]int {
	var totalAssigned, totalMax int
	for _, inst := range instances {
		totalAssigned += inst.AssignedWorkers
		totalMax += inst.MaxWorkers
	}
	target := totalAssigned
	if totalMax < target {
		target = totalMax
	}

	result := make(map[string]int, len(instances))
	remainingTarget := target
	remainingCapacity := totalMax

	for _, inst := range instances {
		if remainingCapacity <= 0 || inst.MaxWorkers <= 0 {
			result[inst.InstanceID] = 0
			continue
		}
		share := int(math.Floor(float64(inst.MaxWorkers) / float64(remainingCapacity) * float64(remainingTarget)))
		if share > inst.MaxWorkers {
			share = inst.MaxWorkers
		}
		result[inst.InstanceID] = share
		remainingTarget -= share
		remainingCapacity -= inst.MaxWorkers
	}

	for remainingTarget > 0 {
		type candidate struct {
			id    string
			ratio float64
		}
		var candidates []candidate
		for _, inst := range instances {
			if inst.MaxWorkers > 0 && result[inst.InstanceID] < inst.MaxWorkers {
				candidates = append(candidates, candidate{inst.InstanceID, float64(result[inst.InstanceID]) / float64(inst.MaxWorkers)})
			}
		}
		if len(candidates) == 0 {
			break
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].ratio < candidates[j].ratio })
		for _, cand := range candidates {
			if remainingTarget <= 0 {
				break
			}
			result[cand.id]++
			remainingTarget--
		}
	}

	return result
}
