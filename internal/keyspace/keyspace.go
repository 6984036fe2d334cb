// Package keyspace builds the namespaced Redis keys used by every
// subsystem in the queue. Per-queue keys share the form
// "{prefix}:{queue}:..." (the dead-letter keys use a "-dead-letter"
// suffix instead), precomputed once per queue and handed out to every
// subsystem that needs a key for the same logical queue. Batch, leader
// and instance keys sit directly under the prefix.
package keyspace

import (
	"strconv"
	"strings"
)

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "queue"

// Keys builds all Redis keys for one named queue under a shared prefix.
type Keys struct {
	prefix string
	queue  string
	base   string
}

// New returns a Keys builder for the given prefix and queue name. An empty
// prefix falls back to DefaultPrefix.
func New(prefix, queue string) *Keys {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Keys{
		prefix: prefix,
		queue:  queue,
		base:   prefix + ":" + queue,
	}
}

// Prefix returns the configured prefix.
func (k *Keys) Prefix() string { return k.prefix }

// QueueName returns the queue name this builder was created for.
func (k *Keys) QueueName() string { return k.queue }

// Base returns "{prefix}:{queue}" with no trailing segment.
func (k *Keys) Base() string { return k.base }

// Waiting is the list of job ids ready for dispatch.
func (k *Keys) Waiting() string { return k.base + ":waiting" }

// Active is the list of job ids currently leased to a worker.
func (k *Keys) Active() string { return k.base + ":active" }

// Completed is the list of successfully finished job ids.
func (k *Keys) Completed() string { return k.base + ":completed" }

// Failed is the list of terminally-failed (non-DLQ) job ids.
func (k *Keys) Failed() string { return k.base + ":failed" }

// Delayed is the sorted set of job ids scored by fire-time-ms.
func (k *Keys) Delayed() string { return k.base + ":delayed" }

// Paused is the flag key gating dispatch for this queue.
func (k *Keys) Paused() string { return k.base + ":paused" }

// PausedList holds jobs moved out of waiting/delayed by bulkPause.
func (k *Keys) PausedList() string { return k.base + ":paused:jobs" }

// DependencyWait is the set of job ids blocked on unfinished dependencies.
func (k *Keys) DependencyWait() string { return k.base + ":dependency-wait" }

// Job is the hash holding one job's full record.
func (k *Keys) Job(id string) string { return k.base + ":job:" + id }

// JobDependents is the set of job ids depending on the given job id.
func (k *Keys) JobDependents(id string) string { return k.base + ":job:" + id + ":dependents" }

// PriorityLevel is the list backing one priority level (0..N-1).
func (k *Keys) PriorityLevel(level int) string {
	return k.base + ":priority:" + strconv.Itoa(level)
}

// Lock is the key for a named distributed-lock resource, namespaced under
// this queue (resources are typically job ids or schedule ids).
func (k *Keys) Lock(resource string) string { return k.base + ":lock:" + resource }

// RateLimit is the sorted-set key for a rate-limit identifier.
func (k *Keys) RateLimit(identifier string) string { return k.base + ":limit:" + identifier }

// DeadLetterList is "{name}-dead-letter", a suffix form rather than the
// standard "{base}:..." shape, preserved intentionally.
func (k *Keys) DeadLetterList() string { return k.prefix + ":" + k.queue + "-dead-letter" }

// DeadLetterJob is the hash for one dead-letter entry.
func (k *Keys) DeadLetterJob(id string) string { return k.DeadLetterList() + ":job:" + id }

// Schedule is the hash holding cron schedule run-state.
func (k *Keys) Schedule(scheduleID string) string { return k.base + ":schedule:" + scheduleID }

// Batch is the hash holding a batch's aggregate state.
func (k *Keys) Batch(id string) string { return k.prefix + ":batch:" + id }

// LeaderKey is the cluster-wide singleton leader record for a named role.
func LeaderKey(prefix, role string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ":leader:" + role
}

// InstanceKey is the per-instance coordination record.
func InstanceKey(prefix, instanceID string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ":instances:" + instanceID
}

// InstancesPattern returns the key glob that matches all instance
// records under a prefix, used by the work coordinator to discover peers.
func InstancesPattern(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ":instances:*"
}

// TrimPrefix strips the queue's base from a full key, useful for log
// messages that want the short form.
func (k *Keys) TrimPrefix(fullKey string) string {
	return strings.TrimPrefix(fullKey, k.base+":")
}
