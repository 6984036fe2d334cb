// Package job defines the job record, its lifecycle states, submission
// options, and the JSON tags that give a job its stored form in Redis.
package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is one of the eight primary job states. A job is in exactly
// one of these at any instant.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDelayed    Status = "delayed"
	StatusPaused     Status = "paused"
	StatusDepWait    Status = "dep-wait"
	StatusDeadLetter Status = "dead-letter"
)

// BackoffType selects the retry-delay formula for a failed attempt.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff configures the retry delay policy.
type Backoff struct {
	Type  BackoffType   `json:"type,omitempty"`
	Delay time.Duration `json:"delay,omitempty"`
}

// DeadLetterOpts enables and tunes per-job dead-letter behavior.
type DeadLetterOpts struct {
	Enabled    bool `json:"enabled,omitempty"`
	MaxRetries int  `json:"maxRetries,omitempty"`
}

// Repeat carries cron recurrence options. The Every field is accepted
// for wire compatibility but intentionally ignored (see DESIGN.md).
type Repeat struct {
	Cron      string     `json:"cron,omitempty"`
	Every     string     `json:"every,omitempty"`
	Timezone  string     `json:"tz,omitempty"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// Opts holds every submission-time option recognized by Queue.Add.
// (Named Opts, not Options, so its field accessor Attempts() below
// doesn't collide with the raw field.)
type Opts struct {
	Delay            time.Duration  `json:"delay,omitempty"`
	MaxAttempts      int            `json:"attempts,omitempty"`
	Backoff          Backoff        `json:"backoff,omitempty"`
	Priority         int            `json:"priority,omitempty"`
	LIFO             bool           `json:"lifo,omitempty"`
	JobID            string         `json:"jobId,omitempty"`
	DependsOn        []string       `json:"dependsOn,omitempty"`
	KeepJobs         bool           `json:"keepJobs,omitempty"`
	RemoveOnComplete bool           `json:"removeOnComplete,omitempty"`
	RemoveOnFail     bool           `json:"removeOnFail,omitempty"`
	DeadLetter       DeadLetterOpts `json:"deadLetter,omitempty"`
	Repeat           Repeat         `json:"repeat,omitempty"`
	// RoutingKey is an optional worker-affinity dispatch filter, layered
	// on top of priority/waiting dispatch.
	RoutingKey string `json:"routingKey,omitempty"`
}

// DefaultAttempts is used when Opts.MaxAttempts is unset (zero value).
const DefaultAttempts = 1

// Attempts returns the configured max attempts, defaulting to 1.
func (o Opts) Attempts() int {
	if o.MaxAttempts == 0 {
		return DefaultAttempts
	}
	return o.MaxAttempts
}

// HasUnresolvedDependencies reports whether DependsOn is non-empty.
func (o Opts) HasUnresolvedDependencies() bool {
	return len(o.DependsOn) > 0
}

// ValidateRoutingKey validates a routing key: non-empty, alphanumeric
// plus underscore/hyphen, max 64 chars.
func ValidateRoutingKey(key string) error {
	if key == "" {
		return fmt.Errorf("routing key cannot be empty")
	}
	if len(key) > 64 {
		return fmt.Errorf("routing key too long: %d characters (max 64)", len(key))
	}
	for _, char := range key {
		if (char < 'a' || char > 'z') &&
			(char < 'A' || char > 'Z') &&
			(char < '0' || char > '9') &&
			char != '_' && char != '-' {
			return fmt.Errorf("invalid routing key format: must contain only alphanumeric characters, underscores, and hyphens")
		}
	}
	return nil
}

// Job is one submitted unit of work.
type Job struct {
	ID        string          `json:"id"`
	QueueName string          `json:"queueName"`
	Data      json.RawMessage `json:"data"`
	Opts      Opts            `json:"opts"`
	Status    Status          `json:"status"`

	Timestamp    time.Time     `json:"timestamp"`
	Delay        time.Duration `json:"delay"`
	AttemptsMade int           `json:"attemptsMade"`
	Progress     int           `json:"progress"`

	ProcessedOn *time.Time `json:"processedOn,omitempty"`
	FinishedOn  *time.Time `json:"finishedOn,omitempty"`

	ReturnValue  json.RawMessage `json:"returnValue,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	Stacktrace   []string        `json:"stacktrace,omitempty"`

	// Dependencies is a snapshot of Opts.DependsOn taken at submission
	// time, so a stored job record carries its own dependency list
	// independent of the Opts that produced it.
	Dependencies []string `json:"dependencies,omitempty"`

	// Name identifies which registered handler processes this job, so
	// worker handler lookup by name works alongside the per-queue state
	// machine.
	Name string `json:"name"`
}

// MaxStacktraceEntries bounds Job.Stacktrace.
const MaxStacktraceEntries = 10

// New creates a job in the waiting state. The caller (Queue.Add) decides
// the actual placement — delayed, priority, dep-wait — from Opts.
func New(queueName, name string, data json.RawMessage, opts Opts) *Job {
	return &Job{
		ID:           opts.JobID,
		QueueName:    queueName,
		Name:         name,
		Data:         data,
		Opts:         opts,
		Status:       StatusWaiting,
		Timestamp:    time.Now(),
		Delay:        opts.Delay,
		Progress:     0,
		Dependencies: opts.DependsOn,
	}
}

// AppendStacktrace appends a frame, dropping the oldest once the bound
// is exceeded.
func (j *Job) AppendStacktrace(frame string) {
	j.Stacktrace = append(j.Stacktrace, frame)
	if len(j.Stacktrace) > MaxStacktraceEntries {
		j.Stacktrace = j.Stacktrace[len(j.Stacktrace)-MaxStacktraceEntries:]
	}
}

// SetProgress validates and stores a 0..100 progress value.
func (j *Job) SetProgress(p int) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("invalid progress value %d: must be 0..100", p)
	}
	j.Progress = p
	return nil
}

// MarkActive stamps ProcessedOn and transitions to active.
func (j *Job) MarkActive(now time.Time) {
	j.Status = StatusActive
	j.ProcessedOn = &now
}

// MarkCompleted stamps FinishedOn, stores the return value, and
// transitions to completed. FinishedOn is only ever set on a terminal
// state.
func (j *Job) MarkCompleted(now time.Time, returnValue json.RawMessage) {
	j.Status = StatusCompleted
	j.FinishedOn = &now
	j.ReturnValue = returnValue
}

// MarkFailedRetryable increments attempts and records the failure reason
// without setting FinishedOn — the job is going back to waiting/delayed.
func (j *Job) MarkFailedRetryable(reason string) {
	j.AttemptsMade++
	j.FailedReason = reason
}

// MarkFailedTerminal stamps FinishedOn and transitions to the terminal
// failed state (no further retries, dead-letter disabled for this job).
func (j *Job) MarkFailedTerminal(now time.Time, reason string) {
	j.Status = StatusFailed
	j.FinishedOn = &now
	j.FailedReason = reason
}

// MarkDeadLetter stamps FinishedOn and transitions to dead-letter.
func (j *Job) MarkDeadLetter(now time.Time, reason string) {
	j.Status = StatusDeadLetter
	j.FinishedOn = &now
	j.FailedReason = reason
}

// CanRetry reports whether another attempt is allowed under opts.attempts.
func (j *Job) CanRetry() bool {
	return j.AttemptsMade < j.Opts.Attempts()
}

// ExceedsDeadLetterThreshold reports whether the job has made at least as
// many attempts as the dead-letter policy's maxRetries.
func (j *Job) ExceedsDeadLetterThreshold() bool {
	if !j.Opts.DeadLetter.Enabled {
		return false
	}
	max := j.Opts.DeadLetter.MaxRetries
	if max == 0 {
		max = j.Opts.Attempts()
	}
	return j.AttemptsMade >= max
}

// RetryDelay computes the backoff delay for the current AttemptsMade:
//
//	fixed:       opts.backoff.delay
//	exponential: opts.backoff.delay * 2^(attemptsMade-1)
func (j *Job) RetryDelay() time.Duration {
	b := j.Opts.Backoff
	if b.Delay <= 0 {
		return 0
	}
	if b.Type != BackoffExponential {
		return b.Delay
	}
	shift := j.AttemptsMade - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 62 {
		shift = 62 // guard against overflow on pathological attempt counts
	}
	return b.Delay * time.Duration(int64(1)<<uint(shift))
}
