// Package deadletter implements the per-queue dead-letter store: a
// suffix-named list of job IDs plus one hash per entry recording why
// and when a job was moved there. It satisfies internal/queue's
// DeadLetterSink interface so Queue.FailJob can route exhausted jobs
// here without either package importing the other's concrete type.
// Entries can be republished back onto their origin queue.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/events"
	"github.com/muaviaUsmani/jobqueue/internal/job"
	"github.com/muaviaUsmani/jobqueue/internal/keyspace"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
	"github.com/redis/go-redis/v9"
)

// OriginQueue is the subset of internal/queue.Queue needed to
// re-submit a republished job to its originating queue.
type OriginQueue interface {
	Add(ctx context.Context, name string, data json.RawMessage, opts job.Opts) (*job.Job, error)
}

// Entry is one dead-lettered job record.
type Entry struct {
	ID                string        `json:"id"`
	OriginalQueue     string        `json:"originalQueue"`
	Name              string        `json:"name"`
	Data              json.RawMessage `json:"data"`
	Opts              job.Opts      `json:"opts"`
	FailedReason      string        `json:"failedReason"`
	AttemptsMade      int           `json:"attemptsMade"`
	Stacktrace        []string      `json:"stacktrace,omitempty"`
	MovedAt           time.Time     `json:"movedAt"`
	OriginalTimestamp time.Time     `json:"originalTimestamp"`
}

// RepublishOptions configures Store.RepublishJob.
type RepublishOptions struct {
	// ResetRetries, if true, gives the re-submitted job a full fresh
	// attempts budget. If false (the zero value), the new job's attemptsMade
	// is seeded from the dead-lettered entry, preserving how close to
	// exhaustion it already was.
	ResetRetries bool
}

// Store is the dead-letter sink for one queue.
type Store struct {
	client  *redis.Client
	keys    *keyspace.Keys
	origin  OriginQueue
	events  *events.Emitter
	log     logger.Logger
}

// New returns a Store for the queue addressed by keys, whose
// republished jobs are re-submitted through origin. emitter may be nil
// (events are then simply not published).
func New(client *redis.Client, keys *keyspace.Keys, origin OriginQueue, emitter *events.Emitter, log logger.Logger) *Store {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &Store{client: client, keys: keys, origin: origin, events: emitter, log: log.WithComponent(logger.ComponentDeadLetter)}
}

// Move records j as dead-lettered with reason and appends it to the
// dead-letter list. Satisfies internal/queue.DeadLetterSink.
func (s *Store) Move(ctx context.Context, j *job.Job, reason string) error {
	entry := Entry{
		ID:                j.ID,
		OriginalQueue:     j.QueueName,
		Name:              j.Name,
		Data:              j.Data,
		Opts:              j.Opts,
		FailedReason:      reason,
		AttemptsMade:      j.AttemptsMade,
		Stacktrace:        j.Stacktrace,
		MovedAt:           time.Now(),
		OriginalTimestamp: j.Timestamp,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry %s: %w", j.ID, err)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.keys.DeadLetterJob(j.ID), "record", data)
	pipe.LPush(ctx, s.keys.DeadLetterList(), j.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store dead-letter entry %s: %w", j.ID, err)
	}
	return nil
}

// GetJobs returns dead-letter entries in list order within [start,end]
// (inclusive, Redis LRANGE semantics; -1 means "to the end").
func (s *Store) GetJobs(ctx context.Context, start, end int64) ([]*Entry, error) {
	ids, err := s.client.LRange(ctx, s.keys.DeadLetterList(), start, end).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead-letter entries: %w", err)
	}
	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		e, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *Store) load(ctx context.Context, id string) (*Entry, error) {
	data, err := s.client.HGet(ctx, s.keys.DeadLetterJob(id), "record").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dead-letter entry %s: %w", id, err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("unmarshal dead-letter entry %s: %w", id, err)
	}
	return &e, nil
}

// RepublishJob re-submits a dead-lettered job to its original queue and
// removes it from the dead-letter store.
func (s *Store) RepublishJob(ctx context.Context, jobID string, opts RepublishOptions) (*job.Job, error) {
	e, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("dead-letter entry not found: %s", jobID)
	}

	newOpts := e.Opts
	newOpts.JobID = ""
	j, err := s.origin.Add(ctx, e.Name, e.Data, newOpts)
	if err != nil {
		return nil, fmt.Errorf("republish %s: %w", jobID, err)
	}

	if !opts.ResetRetries && e.AttemptsMade > 0 {
		if err := s.seedAttemptsMade(ctx, j.ID, e.AttemptsMade); err != nil {
			s.log.ErrorContext(ctx, "failed to seed attemptsMade on republish", "jobId", j.ID, "error", err.Error())
		} else {
			j.AttemptsMade = e.AttemptsMade
		}
	}

	if err := s.RemoveJob(ctx, jobID); err != nil {
		return j, fmt.Errorf("remove republished dead-letter entry %s: %w", jobID, err)
	}
	if s.events != nil {
		s.events.Emit(events.JobRepublishedFromDeadLetter, e.OriginalQueue, j.ID, nil)
	}
	return j, nil
}

func (s *Store) seedAttemptsMade(ctx context.Context, jobID string, attempts int) error {
	data, err := s.client.HGet(ctx, s.keys.Job(jobID), "record").Result()
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	var j job.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	j.AttemptsMade = attempts
	out, err := json.Marshal(&j)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", jobID, err)
	}
	return s.client.HSet(ctx, s.keys.Job(jobID), "record", out).Err()
}

// RemoveJob deletes a dead-letter entry without republishing it.
func (s *Store) RemoveJob(ctx context.Context, jobID string) error {
	pipe := s.client.Pipeline()
	pipe.LRem(ctx, s.keys.DeadLetterList(), 0, jobID)
	pipe.Del(ctx, s.keys.DeadLetterJob(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove dead-letter entry %s: %w", jobID, err)
	}
	return nil
}

// Clear deletes every dead-letter entry for this queue.
func (s *Store) Clear(ctx context.Context) error {
	ids, err := s.client.LRange(ctx, s.keys.DeadLetterList(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list dead-letter entries: %w", err)
	}
	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.keys.DeadLetterJob(id))
	}
	pipe.Del(ctx, s.keys.DeadLetterList())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear dead-letter list: %w", err)
	}
	return nil
}
