// Package stalled implements the periodic sweep that recovers jobs
// whose lease (processedOn) has expired without the handler reporting
// completion or failure — typically because the worker crashed or was
// killed mid-job.
package stalled

import (
	"context"
	"fmt"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/job"
	"github.com/muaviaUsmani/jobqueue/internal/lock"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
	"github.com/muaviaUsmani/jobqueue/internal/queue"
)

// DefaultCheckInterval is how often the checker sweeps active.
const DefaultCheckInterval = 30 * time.Second

// DefaultStalledThreshold is how long a job may sit in active with no
// update before it's considered stalled.
const DefaultStalledThreshold = 10 * time.Second

// DefaultMaxRetries is how many times a stalled job may be requeued
// before it's failed outright.
const DefaultMaxRetries = 3

// Options configures a Checker.
type Options struct {
	CheckInterval     time.Duration
	StalledThreshold  time.Duration
	MaxStalledRetries int
	Logger            logger.Logger
}

// Checker periodically scans one queue's active list for expired
// leases and either requeues or fails each stalled job.
type Checker struct {
	q       *queue.Queue
	locks   *lock.Manager
	log     logger.Logger
	interval  time.Duration
	threshold time.Duration
	maxRetries int
}

// New returns a Checker for q.
func New(q *queue.Queue, locks *lock.Manager, opts Options) *Checker {
	log := opts.Logger
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	interval := opts.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	threshold := opts.StalledThreshold
	if threshold <= 0 {
		threshold = DefaultStalledThreshold
	}
	maxRetries := opts.MaxStalledRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Checker{
		q:          q,
		locks:      locks,
		log:        log.WithComponent(logger.ComponentStalled),
		interval:   interval,
		threshold:  threshold,
		maxRetries: maxRetries,
	}
}

// Run ticks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				c.log.ErrorContext(ctx, "stalled sweep failed", "error", err.Error())
			}
		}
	}
}

// Sweep runs one pass over active, returning the number of jobs acted
// on (requeued or failed).
func (c *Checker) Sweep(ctx context.Context) (int, error) {
	ids, err := c.q.GetJobs(ctx, job.StatusActive, 0, -1)
	if err != nil {
		return 0, fmt.Errorf("list active: %w", err)
	}

	acted := 0
	now := time.Now()
	for _, j := range ids {
		if j.ProcessedOn == nil {
			continue
		}
		if now.Sub(*j.ProcessedOn) <= c.threshold {
			continue
		}

		resource := c.q.Keys().Lock(j.ID)
		l, err := c.locks.Acquire(ctx, resource, lock.Options{Duration: c.threshold, Retries: 0})
		if err != nil {
			c.log.ErrorContext(ctx, "lock acquire errored during stalled sweep", "jobId", j.ID, "error", err.Error())
			continue
		}
		if l == nil {
			// Still actively held by its original worker; not stalled.
			continue
		}

		if j.AttemptsMade < c.maxRetries {
			if err := c.q.RequeueStalled(ctx, j.ID); err != nil {
				c.log.ErrorContext(ctx, "failed to requeue stalled job", "jobId", j.ID, "error", err.Error())
			} else {
				acted++
			}
		} else {
			if err := c.q.FailJobTerminal(ctx, j.ID, "stalled and exceeded retries"); err != nil {
				c.log.ErrorContext(ctx, "failed to fail exhausted stalled job", "jobId", j.ID, "error", err.Error())
			} else {
				acted++
			}
		}

		if _, err := l.Release(ctx); err != nil {
			c.log.ErrorContext(ctx, "failed to release lock after stalled sweep", "jobId", j.ID, "error", err.Error())
		}
	}
	return acted, nil
}
