// Package batch implements fan-out submission of a set of jobs as one
// unit with aggregate status/progress tracking: a Batch record (id,
// creation timestamp, set of job ids, status in {waiting, active,
// completed, failed}, progress, error). A batch is also a "group" for
// event-naming purposes: creating one emits both batchAdded and
// groupCreated, removing one emits groupRemoved.
package batch

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
	"github.com/redis/go-redis/v9"
)

// Status is a batch's aggregate state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Batch is the aggregate record over a set of jobs submitted together.
type Batch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	JobIDs    []string  `json:"jobIds"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
}

// JobInput is one job to submit as part of a batch.
type JobInput struct {
	Name string
	Data json.RawMessage
	Opts job.Opts
}

// origin is the subset of *queue.Queue a Store needs: submission and
// per-job status lookup. Kept narrow to avoid an import cycle with
// internal/queue, which does not depend on internal/batch.
type origin interface {
	Add(ctx context.Context, name string, data json.RawMessage, opts job.Opts) (*job.Job, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
}

// Store creates and tracks batches over one origin queue.
type Store struct {
	client *redis.Client
	keys   *keyspace.Keys
	origin origin
	events *events.Emitter
	log    logger.Logger
}

// New returns a Store. emitter and log may be nil.
func New(client *redis.Client, keys *keyspace.Keys, origin origin, emitter *events.Emitter, log logger.Logger) *Store {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &Store{
		client: client,
		keys:   keys,
		origin: origin,
		events: emitter,
		log:    log.WithComponent(logger.ComponentBatch),
	}
}

// Add submits every job in inputs to the origin queue and records the
// resulting batch. A submission failure partway through still returns
// the batch recording whatever jobs were successfully added, plus the
// error; callers may inspect Batch.JobIDs to see what went through.
func (s *Store) Add(ctx context.Context, name string, inputs []JobInput) (*Batch, error) {
	b := &Batch{
		ID:        idgen.NewBatchID(),
		Name:      name,
		CreatedAt: time.Now(),
		JobIDs:    make([]string, 0, len(inputs)),
		Status:    StatusWaiting,
	}

	for _, in := range inputs {
		j, err := s.origin.Add(ctx, in.Name, in.Data, in.Opts)
		if err != nil {
			_ = s.save(ctx, b)
			return b, fmt.Errorf("add batch job %q: %w", in.Name, err)
		}
		b.JobIDs = append(b.JobIDs, j.ID)
	}

	if err := s.save(ctx, b); err != nil {
		return b, fmt.Errorf("save batch: %w", err)
	}

	s.emit(events.BatchAdded, b, "")
	s.emit(events.GroupCreated, b, "")
	s.log.InfoContext(ctx, "batch added", "batchId", b.ID, "jobs", len(b.JobIDs))
	return b, nil
}

// Get loads the batch, recomputes its aggregate status/progress/error
// from the current state of its member jobs, persists the refreshed
// record, and emits batchProgress/batchCompleted/batchFailed if the
// status or progress changed since the last Get.
func (s *Store) Get(ctx context.Context, id string) (*Batch, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	prevStatus := b.Status
	prevProgress := b.Progress

	if err := s.refresh(ctx, b); err != nil {
		return nil, fmt.Errorf("refresh batch %s: %w", id, err)
	}

	if err := s.save(ctx, b); err != nil {
		return nil, fmt.Errorf("save batch: %w", err)
	}

	if b.Status != prevStatus || b.Progress != prevProgress {
		switch b.Status {
		case StatusCompleted:
			s.emit(events.BatchCompleted, b, "")
		case StatusFailed:
			s.emit(events.BatchFailed, b, b.Error)
		default:
			s.emit(events.BatchProgress, b, "")
		}
	}
	return b, nil
}

// refresh recomputes Status/Progress/Error from the member jobs'
// current recorded status. Aggregate rule: failed if any member job is
// failed or dead-letter; completed if every member job is completed;
// active if any member job is active or completed; waiting otherwise.
// Progress is
// the mean of each member's own Progress field, with completed jobs
// counted as 100.
func (s *Store) refresh(ctx context.Context, b *Batch) error {
	if len(b.JobIDs) == 0 {
		return nil
	}

	var completed, failed, active int
	var progressSum int
	var firstErr string

	for _, id := range b.JobIDs {
		j, err := s.origin.GetJob(ctx, id)
		if err != nil {
			return fmt.Errorf("load member job %s: %w", id, err)
		}
		if j == nil {
			continue
		}
		switch j.Status {
		case job.StatusCompleted:
			completed++
			progressSum += 100
		case job.StatusFailed, job.StatusDeadLetter:
			failed++
			progressSum += j.Progress
			if firstErr == "" {
				firstErr = j.FailedReason
			}
		case job.StatusActive:
			active++
			progressSum += j.Progress
		default:
			progressSum += j.Progress
		}
	}

	total := len(b.JobIDs)
	b.Progress = progressSum / total

	switch {
	case failed > 0:
		b.Status = StatusFailed
		b.Error = firstErr
	case completed == total:
		b.Status = StatusCompleted
	case active > 0 || completed > 0:
		b.Status = StatusActive
	default:
		b.Status = StatusWaiting
	}
	return nil
}

// Remove deletes the batch record. Member jobs are untouched; removing
// a batch is bookkeeping cleanup, not a cascade onto its jobs.
func (s *Store) Remove(ctx context.Context, id string) error {
	b, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.keys.Batch(id)).Err(); err != nil {
		return fmt.Errorf("delete batch %s: %w", id, err)
	}
	s.emit(events.GroupRemoved, b, "")
	return nil
}

func (s *Store) save(ctx context.Context, b *Batch) error {
	blob, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	return s.client.HSet(ctx, s.keys.Batch(b.ID), "record", string(blob)).Err()
}

func (s *Store) load(ctx context.Context, id string) (*Batch, error) {
	blob, err := s.client.HGet(ctx, s.keys.Batch(id), "record").Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("batch %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	var b Batch
	if err := json.Unmarshal([]byte(blob), &b); err != nil {
		return nil, fmt.Errorf("unmarshal batch %s: %w", id, err)
	}
	return &b, nil
}

func (s *Store) emit(name events.Name, b *Batch, reason string) {
	if s.events == nil {
		return
	}
	s.events.Emit(name, "", b.ID, reason)
}
