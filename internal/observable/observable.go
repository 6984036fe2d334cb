// Package observable implements the aggregate, multi-queue view over a
// set of named queues: a poller that snapshots each queue's job counts
// on an interval, plus fan-out submission of one payload to every
// tracked queue at once. Grounded on internal/metrics' polling
// aggregation shape and internal/stalled's Run/interval-task pattern,
// generalized from a single queue to many.
package observable

import (
	"context"
	"fmt"
	"sync"
	"time"

	"encoding/json"

	"github.com/muaviaUsmani/jobqueue/internal/events"
	"github.com/muaviaUsmani/jobqueue/internal/job"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
)

// DefaultPollInterval is how often Start refreshes the snapshot.
const DefaultPollInterval = 5 * time.Second

// Queue is the subset of *queue.Queue an Observable needs: per-queue
// name, count query, and submission (for fan-out Add). Kept narrow to
// avoid internal/queue depending back on this package.
type Queue interface {
	Name() string
	GetJobCounts(ctx context.Context) (map[job.Status]int64, error)
	Add(ctx context.Context, name string, data json.RawMessage, opts job.Opts) (*job.Job, error)
}

// Snapshot is one point-in-time aggregate read across every tracked
// queue.
type Snapshot struct {
	TakenAt time.Time
	Counts  map[string]map[job.Status]int64
}

// Options configures an Observable.
type Options struct {
	PollInterval time.Duration
	Emitter      *events.Emitter
	Logger       logger.Logger
}

// Observable polls a fixed set of queues and holds the latest combined
// snapshot, matching the data model's {id, list of queues, poll
// interval, running flag, last snapshot}.
type Observable struct {
	id           string
	queues       []Queue
	pollInterval time.Duration
	events       *events.Emitter
	log          logger.Logger

	mu       sync.RWMutex
	running  bool
	snapshot *Snapshot
	cancel   context.CancelFunc
}

// New returns an Observable over queues, identified by id.
func New(id string, queues []Queue, opts Options) *Observable {
	log := opts.Logger
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Observable{
		id:           id,
		queues:       queues,
		pollInterval: interval,
		events:       opts.Emitter,
		log:          log.WithComponent(logger.ComponentObservable),
	}
}

// ID returns the observable's identifier.
func (o *Observable) ID() string { return o.id }

// IsRunning reports whether Start's poll loop is currently active.
func (o *Observable) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// LastSnapshot returns the most recently collected snapshot, or nil if
// none has been taken yet.
func (o *Observable) LastSnapshot() *Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot
}

// Start begins polling every pollInterval until ctx is cancelled or
// Stop is called. Start blocks the calling goroutine; callers that want
// it in the background should invoke it as `go o.Start(ctx)`.
func (o *Observable) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		cancel()
		return fmt.Errorf("observable %s already running", o.id)
	}
	o.running = true
	o.cancel = cancel
	o.mu.Unlock()

	o.emit(events.ObservableStarted)
	o.log.InfoContext(ctx, "observable started", "observableId", o.id, "queues", len(o.queues))

	if err := o.collect(runCtx); err != nil {
		o.log.ErrorContext(ctx, "initial observable poll failed", "observableId", o.id, "error", err.Error())
	}

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			o.mu.Lock()
			o.running = false
			o.mu.Unlock()
			o.emit(events.ObservableStopped)
			o.log.InfoContext(ctx, "observable stopped", "observableId", o.id)
			return runCtx.Err()
		case <-ticker.C:
			if err := o.collect(runCtx); err != nil {
				o.log.ErrorContext(ctx, "observable poll failed", "observableId", o.id, "error", err.Error())
			}
		}
	}
}

// Stop ends the poll loop started by Start. Safe to call when not
// running.
func (o *Observable) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Observable) collect(ctx context.Context) error {
	counts := make(map[string]map[job.Status]int64, len(o.queues))
	for _, q := range o.queues {
		c, err := q.GetJobCounts(ctx)
		if err != nil {
			return fmt.Errorf("get counts for queue %s: %w", q.Name(), err)
		}
		counts[q.Name()] = c
	}

	o.mu.Lock()
	o.snapshot = &Snapshot{TakenAt: time.Now(), Counts: counts}
	o.mu.Unlock()
	return nil
}

// AddResult pairs a queue name with the outcome of a fan-out
// submission to it.
type AddResult struct {
	QueueName string
	Job       *job.Job
	Err       error
}

// AddToAll submits the same job (name/data/opts) to every tracked
// queue, continuing past individual failures and reporting one result
// per queue.
func (o *Observable) AddToAll(ctx context.Context, name string, data json.RawMessage, opts job.Opts) []AddResult {
	results := make([]AddResult, 0, len(o.queues))
	for _, q := range o.queues {
		j, err := q.Add(ctx, name, data, opts)
		results = append(results, AddResult{QueueName: q.Name(), Job: j, Err: err})
		if err != nil {
			o.log.ErrorContext(ctx, "fan-out submission failed", "observableId", o.id, "queue", q.Name(), "error", err.Error())
		}
	}
	return results
}

func (o *Observable) emit(name events.Name) {
	if o.events == nil {
		return
	}
	o.events.Emit(name, "", o.id, nil)
}
