package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/muaviaUsmani/jobqueue/internal/batch"
	"github.com/muaviaUsmani/jobqueue/internal/config"
	"github.com/muaviaUsmani/jobqueue/internal/job"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
)

func testConfig(t *testing.T, addr string) *config.Config {
	t.Helper()
	logCfg := logger.DefaultConfig()
	logCfg.Console.Enabled = false
	return &config.Config{
		RedisURL:                "redis://" + addr,
		Prefix:                  "queue",
		APIPort:                 "8080",
		WorkerConcurrency:       4,
		JobTimeout:              5 * time.Second,
		MaxRetries:              3,
		WorkerRoutingKeys:       []string{"default"},
		CronSchedulerInterval:   time.Second,
		ResultBackendEnabled:    true,
		ResultBackendTTLSuccess: time.Hour,
		ResultBackendTTLFailure: time.Hour,
		Lock: config.LockConfig{
			Duration:   5 * time.Second,
			Retries:    3,
			RetryDelay: 50 * time.Millisecond,
		},
		Stalled: config.StalledConfig{
			CheckInterval:     time.Second,
			StalledThreshold:  10 * time.Second,
			MaxStalledRetries: 3,
		},
		Cleanup: config.CleanupConfig{
			Interval:          time.Hour,
			CompletedLifetime: 24 * time.Hour,
			FailedLifetime:    7 * 24 * time.Hour,
			CompletedCap:      1000,
			FailedCap:         1000,
		},
		Logging: logCfg,
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	s := miniredis.RunT(t)
	c, err := New(testConfig(t, s.Addr()), "test-queue", Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_BuildsReadyClient(t *testing.T) {
	c := newTestClient(t)
	if c.Queue == nil {
		t.Fatal("expected Queue to be initialized")
	}
	if c.Workers == nil {
		t.Fatal("expected Workers registry to be initialized")
	}
}

func TestNew_InvalidRedisURLErrors(t *testing.T) {
	cfg := testConfig(t, "unused")
	cfg.RedisURL = "not-a-url"
	if _, err := New(cfg, "test-queue", Options{}); err == nil {
		t.Fatal("expected error for invalid redis url, got nil")
	}
}

func TestClient_AddAndGetJob(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	payload := map[string]string{"key": "value"}
	j, err := c.Add(ctx, "test_job", payload, job.Opts{})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if j.ID == "" {
		t.Fatal("expected non-empty job ID")
	}
	if j.Status != job.StatusWaiting {
		t.Errorf("Status = %v, want waiting", j.Status)
	}

	got, err := c.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Name != "test_job" {
		t.Errorf("Name = %q, want test_job", got.Name)
	}
}

func TestClient_AddMarshalsPayload(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	type testPayload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	j, err := c.Add(ctx, "test_job", testPayload{Name: "test", Count: 42}, job.Opts{})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	got, err := c.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	var out testPayload
	if err := json.Unmarshal(got.Data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.Name != "test" || out.Count != 42 {
		t.Errorf("payload = %+v, want {test 42}", out)
	}
}

func TestClient_GetJobMissingReturnsError(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.GetJob(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected error for missing job, got nil")
	}
}

func TestClient_AddConcurrentSubmissions(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	const jobCount = 50
	errs := make(chan error, jobCount)
	for i := 0; i < jobCount; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if _, err := c.Add(ctx, "concurrent_job", map[string]int{"index": idx}, job.Opts{}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Add() error = %v", err)
	}
}

func TestClient_SubmitAndWaitReturnsHandlerResult(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.RegisterHandler("echo", func(ctx context.Context, j *job.Job) (json.RawMessage, error) {
		return j.Data, nil
	})

	go c.RunWorker(ctx)

	res, err := c.SubmitAndWait(ctx, "echo", map[string]string{"hello": "world"}, job.Opts{}, 2*time.Second)
	if err != nil {
		t.Fatalf("SubmitAndWait() error = %v", err)
	}
	if res.Status != job.StatusCompleted {
		t.Errorf("Status = %v, want completed", res.Status)
	}
}

func TestClient_SubmitAndWaitWithoutResultBackendErrors(t *testing.T) {
	s := miniredis.RunT(t)
	cfg := testConfig(t, s.Addr())
	cfg.ResultBackendEnabled = false
	c, err := New(cfg, "test-queue", Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	if _, err := c.SubmitAndWait(context.Background(), "echo", nil, job.Opts{}, time.Second); err == nil {
		t.Fatal("expected error when result backend disabled, got nil")
	}
}

func TestClient_NewBatchAggregatesAcrossJobs(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	b, err := c.NewBatch(ctx, "import", []batch.JobInput{
		{Name: "row", Data: json.RawMessage(`{"i":1}`)},
		{Name: "row", Data: json.RawMessage(`{"i":2}`)},
	})
	if err != nil {
		t.Fatalf("NewBatch() error = %v", err)
	}
	if len(b.JobIDs) != 2 {
		t.Fatalf("JobIDs = %v, want 2 entries", b.JobIDs)
	}

	got, err := c.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if got.Status != batch.StatusWaiting {
		t.Errorf("Status = %v, want waiting", got.Status)
	}
}

func TestClient_RunLeaderElectionNoOpWhenDisabled(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := c.RunLeaderElection(ctx); err != nil {
		t.Errorf("RunLeaderElection() error = %v, want nil (disabled no-op)", err)
	}
}

func TestClient_RunCoordinatorNoOpWhenDisabled(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := c.RunCoordinator(ctx); err != nil {
		t.Errorf("RunCoordinator() error = %v, want nil (disabled no-op)", err)
	}
}
