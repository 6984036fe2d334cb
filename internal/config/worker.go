package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/job"
)

// WorkerMode defines the operational mode of a worker process.
type WorkerMode string

const (
	// WorkerModeThin is a single-process worker handling all queues.
	// Use for: development, testing, very low traffic (<100 jobs/hour).
	WorkerModeThin WorkerMode = "thin"

	// WorkerModeDefault is the standard priority-aware worker.
	// Use for: standard production (1K-10K jobs/hour).
	WorkerModeDefault WorkerMode = "default"

	// WorkerModeSpecialized is a worker dedicated to specific priority levels.
	// Use for: high traffic with priority isolation (10K+ jobs/hour).
	WorkerModeSpecialized WorkerMode = "specialized"

	// WorkerModeJobSpecialized is a worker handling specific job types only.
	// Use for: different resource requirements per job type.
	WorkerModeJobSpecialized WorkerMode = "job-specialized"

	// WorkerModeSchedulerOnly runs only the cron scheduler (no job execution).
	// Use for: dedicated scheduler process in distributed setup.
	WorkerModeSchedulerOnly WorkerMode = "scheduler-only"
)

// WorkerConfig holds worker-specific configuration.
type WorkerConfig struct {
	// Mode determines the operational mode of the worker.
	Mode WorkerMode

	// Concurrency is the number of concurrent worker goroutines.
	// Recommended ranges by mode:
	//   - thin: 1-10
	//   - default: 10-50
	//   - specialized: 10-100 (depends on priority isolation)
	//   - job-specialized: depends on job type
	//   - scheduler-only: 0 (no workers)
	Concurrency int

	// PriorityLevels is N, the number of priority lists this worker's
	// queue is configured with. Priority values observed on jobs range
	// 0..PriorityLevels-1.
	PriorityLevels int

	// Priorities restricts which priority levels this worker claims.
	// Empty slice means all levels 0..PriorityLevels-1.
	Priorities []int

	// RoutingKeys specifies which routing keys this worker should handle.
	// Examples: ["default"], ["gpu"], ["gpu", "default"]. The keys form
	// an allow-list; their order does not affect dispatch.
	// Defaults to ["default"] if not specified.
	RoutingKeys []string

	// JobTypes specifies which job names this worker should handle.
	// Empty slice means all job types. Only applicable in job-specialized
	// mode. Example: ["send_email", "generate_report"].
	JobTypes []string

	// SchedulerInterval is how often to check for due cron schedules.
	// Default: 1 second.
	SchedulerInterval time.Duration

	// EnableScheduler determines whether to run the cron scheduler loop.
	// Always true in thin, default and scheduler-only modes; specialized
	// and job-specialized modes turn it off unless ENABLE_SCHEDULER is
	// set.
	EnableScheduler bool
}

// LoadWorkerConfig loads worker configuration from environment variables.
func LoadWorkerConfig() (*WorkerConfig, error) {
	cfg := &WorkerConfig{
		Mode:              WorkerMode(getEnv("WORKER_MODE", string(WorkerModeDefault))),
		Concurrency:       getEnvAsInt("WORKER_CONCURRENCY", 10),
		PriorityLevels:    getEnvAsInt("WORKER_PRIORITY_LEVELS", 5),
		RoutingKeys:       getEnvAsStringSlice("WORKER_ROUTING_KEYS", []string{"default"}),
		JobTypes:          parseJobTypes(getEnv("WORKER_JOB_TYPES", "")),
		SchedulerInterval: getEnvAsDuration("SCHEDULER_INTERVAL", 1*time.Second),
		EnableScheduler:   getEnvAsBool("ENABLE_SCHEDULER", true),
	}
	cfg.Priorities = parsePriorities(getEnv("WORKER_PRIORITIES", ""), cfg.PriorityLevels)

	cfg.applyModeDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyModeDefaults applies sensible defaults based on the worker mode.
func (c *WorkerConfig) applyModeDefaults() {
	switch c.Mode {
	case WorkerModeThin:
		if c.Concurrency == 10 { // user didn't override
			c.Concurrency = 5
		}
		if len(c.Priorities) == 0 {
			c.Priorities = allPriorities(c.PriorityLevels)
		}
		c.EnableScheduler = true

	case WorkerModeDefault:
		if len(c.Priorities) == 0 {
			c.Priorities = allPriorities(c.PriorityLevels)
		}
		if !getEnvAsBool("ENABLE_SCHEDULER", false) {
			c.EnableScheduler = true
		}

	case WorkerModeSpecialized:
		if len(c.Priorities) == 0 {
			// Default to the highest-urgency level if not specified.
			c.Priorities = []int{c.PriorityLevels - 1}
		}
		if getEnv("ENABLE_SCHEDULER", "") == "" {
			c.EnableScheduler = false
		}

	case WorkerModeJobSpecialized:
		if len(c.Priorities) == 0 {
			c.Priorities = allPriorities(c.PriorityLevels)
		}
		if getEnv("ENABLE_SCHEDULER", "") == "" {
			c.EnableScheduler = false
		}

	case WorkerModeSchedulerOnly:
		c.Concurrency = 0
		c.Priorities = nil
		c.JobTypes = nil
		c.EnableScheduler = true
	}
}

// Validate checks if the worker configuration is valid.
func (c *WorkerConfig) Validate() error {
	validModes := []WorkerMode{
		WorkerModeThin,
		WorkerModeDefault,
		WorkerModeSpecialized,
		WorkerModeJobSpecialized,
		WorkerModeSchedulerOnly,
	}
	validMode := false
	for _, mode := range validModes {
		if c.Mode == mode {
			validMode = true
			break
		}
	}
	if !validMode {
		return fmt.Errorf("invalid worker mode: %s (must be one of: thin, default, specialized, job-specialized, scheduler-only)", c.Mode)
	}

	if c.PriorityLevels < 1 {
		return fmt.Errorf("priority levels must be at least 1 (got %d)", c.PriorityLevels)
	}

	if c.Mode != WorkerModeSchedulerOnly {
		if c.Concurrency < 1 {
			return fmt.Errorf("worker concurrency must be at least 1 (got %d)", c.Concurrency)
		}
		if c.Concurrency > 1000 {
			return fmt.Errorf("worker concurrency too high: %d (maximum 1000)", c.Concurrency)
		}
	} else if c.Concurrency != 0 {
		return fmt.Errorf("scheduler-only mode must have concurrency=0 (got %d)", c.Concurrency)
	}

	if c.Mode != WorkerModeSchedulerOnly {
		if len(c.Priorities) == 0 {
			return fmt.Errorf("worker must process at least one priority level")
		}
		for _, p := range c.Priorities {
			if p < 0 || p >= c.PriorityLevels {
				return fmt.Errorf("invalid priority level: %d (must be 0..%d)", p, c.PriorityLevels-1)
			}
		}
	}

	if c.Mode == WorkerModeJobSpecialized {
		if len(c.JobTypes) == 0 {
			return fmt.Errorf("job-specialized mode requires at least one job type to be specified")
		}
		for _, jt := range c.JobTypes {
			if strings.TrimSpace(jt) == "" {
				return fmt.Errorf("job type cannot be empty")
			}
		}
	}

	if c.EnableScheduler {
		if c.SchedulerInterval < 100*time.Millisecond {
			return fmt.Errorf("scheduler interval too short: %v (minimum 100ms)", c.SchedulerInterval)
		}
		if c.SchedulerInterval > 1*time.Minute {
			return fmt.Errorf("scheduler interval too long: %v (maximum 1 minute)", c.SchedulerInterval)
		}
	}

	return nil
}

// ShouldProcessJob reports whether this worker should claim j, based on
// configured priority levels, routing keys, and (in job-specialized mode)
// job types.
func (c *WorkerConfig) ShouldProcessJob(j *job.Job) bool {
	if len(c.Priorities) > 0 {
		match := false
		for _, p := range c.Priorities {
			if j.Opts.Priority == p {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if len(c.RoutingKeys) > 0 && j.Opts.RoutingKey != "" {
		match := false
		for _, rk := range c.RoutingKeys {
			if j.Opts.RoutingKey == rk {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if c.Mode == WorkerModeJobSpecialized && len(c.JobTypes) > 0 {
		match := false
		for _, jt := range c.JobTypes {
			if j.Name == jt {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	return true
}

// String returns a human-readable description of the worker config.
func (c *WorkerConfig) String() string {
	priorities := "all"
	if len(c.Priorities) > 0 && len(c.Priorities) < c.PriorityLevels {
		parts := make([]string, len(c.Priorities))
		for i, p := range c.Priorities {
			parts[i] = strconv.Itoa(p)
		}
		priorities = strings.Join(parts, ",")
	}

	jobTypes := "all"
	if len(c.JobTypes) > 0 {
		if len(c.JobTypes) <= 3 {
			jobTypes = strings.Join(c.JobTypes, ",")
		} else {
			jobTypes = fmt.Sprintf("%s... (%d types)", strings.Join(c.JobTypes[:3], ","), len(c.JobTypes))
		}
	}

	scheduler := "disabled"
	if c.EnableScheduler {
		scheduler = fmt.Sprintf("enabled (interval: %v)", c.SchedulerInterval)
	}

	return fmt.Sprintf(
		"WorkerConfig{mode=%s, concurrency=%d, priorities=%s, jobTypes=%s, scheduler=%s}",
		c.Mode, c.Concurrency, priorities, jobTypes, scheduler,
	)
}

// parsePriorities parses a comma-separated string of integer priority
// levels; values outside 0..levels-1 are dropped. Empty string returns
// nil (defaults apply).
func parsePriorities(s string, levels int) []int {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	priorities := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		p, err := strconv.Atoi(trimmed)
		if err != nil || p < 0 || p >= levels {
			continue
		}
		priorities = append(priorities, p)
	}

	if len(priorities) == 0 {
		return nil
	}
	return priorities
}

// parseJobTypes parses a comma-separated string of job types. Empty
// string returns nil (all job types).
func parseJobTypes(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	jobTypes := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			jobTypes = append(jobTypes, trimmed)
		}
	}

	if len(jobTypes) == 0 {
		return nil
	}
	return jobTypes
}

// allPriorities returns every level 0..levels-1 in order.
func allPriorities(levels int) []int {
	all := make([]int, levels)
	for i := range all {
		all[i] = i
	}
	return all
}
