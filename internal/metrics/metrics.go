// Package metrics implements rolling per-queue counters and rates:
// windows of the last 100 samples for state counts, a monotonic
// added-counter, and a processed-rate (jobs per minute).
package metrics

import (
	"sync"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/job"
)

const windowSize = 100

var (
	globalCollector *Collector
	once            sync.Once
)

// sample is one rolling-window data point: a state-count snapshot taken
// at Timestamp.
type sample struct {
	Timestamp time.Time
	Counts    map[job.Status]int64
}

// queueMetrics holds one queue's rolling window and counters.
type queueMetrics struct {
	mu sync.RWMutex

	window  []sample
	added   int64
	errors  int64
	ops     int64
	workers struct {
		active int64
		total  int64
	}
}

func newQueueMetrics() *queueMetrics {
	return &queueMetrics{window: make([]sample, 0, windowSize)}
}

func (q *queueMetrics) recordSample(counts map[job.Status]int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cp := make(map[job.Status]int64, len(counts))
	for k, v := range counts {
		cp[k] = v
	}

	q.window = append(q.window, sample{Timestamp: time.Now(), Counts: cp})
	if len(q.window) > windowSize {
		q.window = q.window[len(q.window)-windowSize:]
	}
}

// processedRate returns completed+failed+dead-letter jobs per minute, derived from
// the first and last rolling-window samples.
func (q *queueMetrics) processedRate() float64 {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.window) < 2 {
		return 0
	}
	first, last := q.window[0], q.window[len(q.window)-1]
	elapsed := last.Timestamp.Sub(first.Timestamp)
	if elapsed <= 0 {
		return 0
	}

	processedAt := func(s sample) int64 {
		return s.Counts[job.StatusCompleted] + s.Counts[job.StatusFailed] + s.Counts[job.StatusDeadLetter]
	}
	delta := processedAt(last) - processedAt(first)
	if delta < 0 {
		delta = 0
	}
	return float64(delta) / elapsed.Minutes()
}

// QueueSnapshot is a point-in-time view of one queue's metrics.
type QueueSnapshot struct {
	QueueName         string                `json:"queueName"`
	Counts            map[job.Status]int64  `json:"counts"`
	Added             int64                 `json:"added"`
	ProcessedPerMinute float64              `json:"processedPerMinute"`
	WorkerUtilization float64               `json:"workerUtilization"`
	ErrorRate         float64               `json:"errorRate"`
}

// Collector tracks rolling metrics for any number of named queues.
type Collector struct {
	mu     sync.RWMutex
	queues map[string]*queueMetrics
}

// NewCollector returns an empty multi-queue collector.
func NewCollector() *Collector {
	return &Collector{queues: make(map[string]*queueMetrics)}
}

// Default returns the process-wide collector instance.
func Default() *Collector {
	once.Do(func() { globalCollector = NewCollector() })
	return globalCollector
}

func (c *Collector) queue(name string) *queueMetrics {
	c.mu.RLock()
	q, ok := c.queues[name]
	c.mu.RUnlock()
	if ok {
		return q
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.queues[name]; ok {
		return q
	}
	q = newQueueMetrics()
	c.queues[name] = q
	return q
}

// RecordAdded increments the added-counter for a queue.
func (c *Collector) RecordAdded(queueName string) {
	q := c.queue(queueName)
	q.mu.Lock()
	q.added++
	q.mu.Unlock()
}

// RecordSample takes a fresh rolling-window point from a getJobCounts()
// style snapshot. Callers (typically the worker tick or an observable
// poll) are responsible for calling this periodically.
func (c *Collector) RecordSample(queueName string, counts map[job.Status]int64) {
	c.queue(queueName).recordSample(counts)
}

// RecordOutcome records one handler invocation's outcome for error-rate
// tracking.
func (c *Collector) RecordOutcome(queueName string, failed bool) {
	q := c.queue(queueName)
	q.mu.Lock()
	q.ops++
	if failed {
		q.errors++
	}
	q.mu.Unlock()
}

// RecordWorkerActivity updates worker utilization for a queue.
func (c *Collector) RecordWorkerActivity(queueName string, active, total int64) {
	q := c.queue(queueName)
	q.mu.Lock()
	q.workers.active = active
	q.workers.total = total
	q.mu.Unlock()
}

// GetMetrics returns a fresh snapshot for the named queue.
func (c *Collector) GetMetrics(queueName string) QueueSnapshot {
	q := c.queue(queueName)

	q.mu.RLock()
	defer q.mu.RUnlock()

	var latest map[job.Status]int64
	if len(q.window) > 0 {
		latest = q.window[len(q.window)-1].Counts
	} else {
		latest = map[job.Status]int64{}
	}

	var utilization float64
	if q.workers.total > 0 {
		utilization = float64(q.workers.active) / float64(q.workers.total) * 100
	}

	var errorRate float64
	if q.ops > 0 {
		errorRate = float64(q.errors) / float64(q.ops) * 100
	}

	return QueueSnapshot{
		QueueName:          queueName,
		Counts:             latest,
		Added:              q.added,
		ProcessedPerMinute: q.processedRate(),
		WorkerUtilization:  utilization,
		ErrorRate:          errorRate,
	}
}

// Reset clears all tracked queues (useful for testing).
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = make(map[string]*queueMetrics)
}

// GetMetrics returns a snapshot for queueName from the global collector.
func GetMetrics(queueName string) QueueSnapshot {
	return Default().GetMetrics(queueName)
}

// ResetMetrics resets the global collector.
func ResetMetrics() {
	Default().Reset()
}
