// Package worker implements the fixed-tick polling loop that dispatches
// waiting jobs, acquires their per-job lock, invokes the registered
// handler, and reports the outcome back to the queue. Each tick
// promotes due delayed/priority jobs, then dispatches a batch into
// active and fans it out to one goroutine per job.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/config"
	joberrors "github.com/muaviaUsmani/jobqueue/internal/errors"
	"github.com/muaviaUsmani/jobqueue/internal/job"
	"github.com/muaviaUsmani/jobqueue/internal/lock"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
	"github.com/muaviaUsmani/jobqueue/internal/metrics"
	"github.com/muaviaUsmani/jobqueue/internal/queue"
	"github.com/muaviaUsmani/jobqueue/internal/result"
)

// HandlerFunc processes one job's payload and returns its result value.
type HandlerFunc func(ctx context.Context, j *job.Job) (json.RawMessage, error)

// Registry maps job names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Get retrieves the handler for name.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// DefaultTickInterval is the fixed worker-loop poll period.
const DefaultTickInterval = 50 * time.Millisecond

// DefaultShutdownTimeout bounds how long Stop waits for in-flight jobs.
const DefaultShutdownTimeout = 30 * time.Second

// Options configures a new Worker.
type Options struct {
	Concurrency     int
	JobTimeout      time.Duration
	TickInterval    time.Duration
	ShutdownTimeout time.Duration
	// RoutingKeys restricts this worker to jobs whose Opts.RoutingKey is
	// either unset or a member of this set. An empty set accepts every
	// job regardless of routing key.
	RoutingKeys []string
	// JobFilter, if set, additionally restricts this worker to jobs that
	// pass its ShouldProcessJob (priority levels and, in job-specialized
	// mode, job names). Used by specialized/job-specialized worker modes.
	JobFilter *config.WorkerConfig
	Lock      lock.Options
	Result    result.Backend
	Logger    logger.Logger
}

// Worker polls one Queue on a fixed tick, dispatching up to its
// concurrency limit of jobs to per-job goroutines.
type Worker struct {
	q       *queue.Queue
	reg     *Registry
	locks   *lock.Manager
	lockOpt lock.Options
	result  result.Backend
	log     logger.Logger

	concurrency     atomic.Int64
	jobTimeout      time.Duration
	tickInterval    time.Duration
	shutdownTimeout time.Duration
	routingKeys     map[string]struct{}
	jobFilter       *config.WorkerConfig

	inFlight atomic.Int64
	stopCh   chan struct{}
	wg       sync.WaitGroup
	metrics  *metrics.Collector
}

// New returns a Worker over q, dispatching to handlers registered in
// reg, using locks for per-job distributed locks.
func New(q *queue.Queue, reg *Registry, locks *lock.Manager, opts Options) *Worker {
	log := opts.Logger
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	tick := opts.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	shutdown := opts.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = DefaultShutdownTimeout
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	lockOpt := opts.Lock
	if lockOpt.Duration <= 0 {
		lockOpt = lock.DefaultOptions()
	}

	var routingKeys map[string]struct{}
	if len(opts.RoutingKeys) > 0 {
		routingKeys = make(map[string]struct{}, len(opts.RoutingKeys))
		for _, k := range opts.RoutingKeys {
			routingKeys[k] = struct{}{}
		}
	}

	w := &Worker{
		q:               q,
		reg:             reg,
		locks:           locks,
		lockOpt:         lockOpt,
		result:          opts.Result,
		log:             log.WithComponent(logger.ComponentWorker),
		jobTimeout:      opts.JobTimeout,
		tickInterval:    tick,
		shutdownTimeout: shutdown,
		routingKeys:     routingKeys,
		jobFilter:       opts.JobFilter,
		stopCh:          make(chan struct{}),
		metrics:         metrics.Default(),
	}
	w.concurrency.Store(int64(concurrency))
	return w
}

// AdjustConcurrency changes the worker's in-flight job ceiling. It never
// interrupts jobs already dispatched; a lower ceiling simply slows new
// dispatch until inFlight drops below it.
func (w *Worker) AdjustConcurrency(n int) {
	if n < 0 {
		n = 0
	}
	w.concurrency.Store(int64(n))
}

// Run drives the tick loop until ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			if err := w.tick(ctx); err != nil {
				w.log.ErrorContext(ctx, "worker tick failed", "error", err.Error())
			}
		}
	}
}

func (w *Worker) tick(ctx context.Context) error {
	paused, err := w.q.IsPaused(ctx)
	if err != nil {
		return fmt.Errorf("check paused: %w", err)
	}
	if paused {
		return nil
	}

	if _, err := w.q.Promote(ctx); err != nil {
		return fmt.Errorf("promote: %w", err)
	}

	slots := int(w.concurrency.Load() - w.inFlight.Load())
	if slots <= 0 {
		return nil
	}

	ids, err := w.q.DispatchBatch(ctx, slots)
	if err != nil {
		return fmt.Errorf("dispatch batch: %w", err)
	}

	for _, id := range ids {
		w.inFlight.Add(1)
		w.wg.Add(1)
		go w.process(ctx, id)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, jobID string) {
	defer w.wg.Done()
	defer w.inFlight.Add(-1)
	defer func() {
		w.metrics.RecordWorkerActivity(w.q.Name(), w.inFlight.Load(), w.concurrency.Load())
	}()

	defer func() {
		if r := recover(); r != nil {
			panicErr := &joberrors.PanicError{Value: r, Stacktrace: string(debug.Stack())}
			w.log.ErrorContext(ctx, "job handler panicked", "jobId", jobID, "panic", joberrors.FormatPanicForLog(panicErr))
			if _, err := w.q.FailJob(ctx, jobID, panicErr.Error()); err != nil {
				w.log.ErrorContext(ctx, "failed to record panicked job", "jobId", jobID, "error", err.Error())
			}
		}
	}()

	resource := w.q.Keys().Lock(jobID)
	l, err := w.locks.Acquire(ctx, resource, w.lockOpt)
	if err != nil {
		w.log.ErrorContext(ctx, "lock acquire errored", "jobId", jobID, "error", err.Error())
		return
	}
	if l == nil {
		// Another worker already holds this job's lock; leave it in
		// active for the stalled checker to reconcile.
		return
	}
	defer func() { _, _ = l.Release(context.Background()) }()

	j, err := w.q.MarkActive(ctx, jobID)
	if err != nil {
		w.log.ErrorContext(ctx, "mark active failed", "jobId", jobID, "error", err.Error())
		return
	}

	if !w.acceptsRoutingKey(j.Opts.RoutingKey) {
		if err := w.q.ReturnToWaiting(ctx, jobID); err != nil {
			w.log.ErrorContext(ctx, "failed to return mismatched-routing job to waiting", "jobId", jobID, "error", err.Error())
		}
		return
	}

	if w.jobFilter != nil && !w.jobFilter.ShouldProcessJob(j) {
		if err := w.q.ReturnToWaiting(ctx, jobID); err != nil {
			w.log.ErrorContext(ctx, "failed to return filtered job to waiting", "jobId", jobID, "error", err.Error())
		}
		return
	}

	handler, ok := w.reg.Get(j.Name)
	if !ok {
		msg := fmt.Sprintf("no handler registered for job name %q", j.Name)
		if _, err := w.q.FailJob(ctx, jobID, msg); err != nil {
			w.log.ErrorContext(ctx, "failed to fail unregistered job", "jobId", jobID, "error", err.Error())
		}
		return
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if w.jobTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	returnValue, handlerErr := handler(runCtx, j)
	duration := time.Since(start)

	if handlerErr != nil {
		w.log.InfoContext(ctx, "job failed", "jobId", jobID, "name", j.Name, "duration", duration.String(), "error", handlerErr.Error())
		if _, err := w.q.FailJob(ctx, jobID, handlerErr.Error()); err != nil {
			w.log.ErrorContext(ctx, "failed to record job failure", "jobId", jobID, "error", err.Error())
		}
		w.storeResult(ctx, jobID, job.StatusFailed, nil, handlerErr.Error(), duration)
		return
	}

	if err := w.q.CompleteJob(ctx, jobID, returnValue); err != nil {
		w.log.ErrorContext(ctx, "failed to record job completion", "jobId", jobID, "error", err.Error())
		return
	}
	w.storeResult(ctx, jobID, job.StatusCompleted, returnValue, "", duration)
	w.log.InfoContext(ctx, "job completed", "jobId", jobID, "name", j.Name, "duration", duration.String())
}

func (w *Worker) acceptsRoutingKey(key string) bool {
	if w.routingKeys == nil || key == "" {
		return true
	}
	_, ok := w.routingKeys[key]
	return ok
}

func (w *Worker) storeResult(ctx context.Context, jobID string, status job.Status, value []byte, errMsg string, duration time.Duration) {
	if w.result == nil {
		return
	}
	r := &job.JobResult{
		JobID:       jobID,
		Status:      status,
		Result:      value,
		Error:       errMsg,
		CompletedAt: time.Now(),
		Duration:    duration,
	}
	if err := w.result.StoreResult(ctx, r); err != nil {
		w.log.ErrorContext(ctx, "failed to store job result", "jobId", jobID, "error", err.Error())
	}
}

// Stop signals the tick loop to exit and waits up to shutdownTimeout for
// in-flight jobs to finish. Jobs still running when the timeout elapses
// are left in active for the stalled checker to reconcile.
func (w *Worker) Stop() {
	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.shutdownTimeout):
		w.log.Warn("worker shutdown timed out with jobs still in flight", "inFlight", w.inFlight.Load())
	}
}
