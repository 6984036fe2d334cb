package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/muaviaUsmani/jobqueue/internal/job"
	"github.com/muaviaUsmani/jobqueue/internal/queue"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestMove_StoresEntryAndAppendsToList(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	q := queue.New(client, "emails", queue.Options{Prefix: "queue"})
	store := New(client, q.Keys(), q, nil, nil)

	j := job.New("emails", "send", json.RawMessage(`{"to":"a@example.com"}`), job.Opts{MaxAttempts: 3, JobID: "dl-entry-move"})
	j.AttemptsMade = 3
	j.Stacktrace = []string{"boom"}

	if err := store.Move(ctx, j, "exceeded retries"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}

	entries, err := store.GetJobs(ctx, 0, -1)
	if err != nil {
		t.Fatalf("GetJobs() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("GetJobs() len = %d, want 1", len(entries))
	}
	if entries[0].ID != j.ID || entries[0].FailedReason != "exceeded retries" || entries[0].AttemptsMade != 3 {
		t.Errorf("entry = %+v, unexpected fields", entries[0])
	}
}

func TestRepublishJob_ResetsRetriesWhenRequested(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	q := queue.New(client, "emails", queue.Options{Prefix: "queue"})
	store := New(client, q.Keys(), q, nil, nil)

	j := job.New("emails", "send", json.RawMessage(`{}`), job.Opts{MaxAttempts: 3, JobID: "dl-entry-reset"})
	j.AttemptsMade = 3
	if err := store.Move(ctx, j, "exceeded retries"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}

	republished, err := store.RepublishJob(ctx, j.ID, RepublishOptions{ResetRetries: true})
	if err != nil {
		t.Fatalf("RepublishJob() error = %v", err)
	}
	if republished.AttemptsMade != 0 {
		t.Errorf("AttemptsMade = %d, want 0 (reset)", republished.AttemptsMade)
	}

	got, err := q.GetJob(ctx, republished.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != job.StatusWaiting {
		t.Errorf("status = %s, want waiting", got.Status)
	}

	remaining, err := store.GetJobs(ctx, 0, -1)
	if err != nil {
		t.Fatalf("GetJobs() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("dead-letter entries remaining = %d, want 0", len(remaining))
	}
}

func TestRepublishJob_PreservesAttemptsWhenNotReset(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	q := queue.New(client, "emails", queue.Options{Prefix: "queue"})
	store := New(client, q.Keys(), q, nil, nil)

	j := job.New("emails", "send", json.RawMessage(`{}`), job.Opts{MaxAttempts: 5, JobID: "dl-entry-preserve"})
	j.AttemptsMade = 4
	if err := store.Move(ctx, j, "exceeded retries"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}

	republished, err := store.RepublishJob(ctx, j.ID, RepublishOptions{ResetRetries: false})
	if err != nil {
		t.Fatalf("RepublishJob() error = %v", err)
	}
	if republished.AttemptsMade != 4 {
		t.Errorf("AttemptsMade = %d, want 4 (preserved)", republished.AttemptsMade)
	}

	got, err := q.GetJob(ctx, republished.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.AttemptsMade != 4 {
		t.Errorf("stored AttemptsMade = %d, want 4", got.AttemptsMade)
	}
}

func TestRemoveJob_DeletesWithoutRepublishing(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	q := queue.New(client, "emails", queue.Options{Prefix: "queue"})
	store := New(client, q.Keys(), q, nil, nil)

	j := job.New("emails", "send", json.RawMessage(`{}`), job.Opts{JobID: "dl-entry-remove"})
	if err := store.Move(ctx, j, "boom"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if err := store.RemoveJob(ctx, j.ID); err != nil {
		t.Fatalf("RemoveJob() error = %v", err)
	}
	entries, err := store.GetJobs(ctx, 0, -1)
	if err != nil {
		t.Fatalf("GetJobs() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}
}

func TestClear_RemovesAllEntries(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	q := queue.New(client, "emails", queue.Options{Prefix: "queue"})
	store := New(client, q.Keys(), q, nil, nil)

	for i := 0; i < 3; i++ {
		j := job.New("emails", "send", json.RawMessage(`{}`), job.Opts{JobID: fmt.Sprintf("dl-entry-clear-%d", i)})
		if err := store.Move(ctx, j, "boom"); err != nil {
			t.Fatalf("Move() error = %v", err)
		}
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	entries, err := store.GetJobs(ctx, 0, -1)
	if err != nil {
		t.Fatalf("GetJobs() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0 after Clear", len(entries))
	}
}

func TestRepublishJob_MissingEntryErrors(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	q := queue.New(client, "emails", queue.Options{Prefix: "queue"})
	store := New(client, q.Keys(), q, nil, nil)

	if _, err := store.RepublishJob(ctx, "does-not-exist", RepublishOptions{}); err == nil {
		t.Error("expected error for missing dead-letter entry")
	}
}
