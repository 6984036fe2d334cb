package metrics

import (
	"testing"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/job"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}

	m := c.GetMetrics("emails")
	if m.Added != 0 {
		t.Errorf("Added = %d, want 0", m.Added)
	}
	if m.ProcessedPerMinute != 0 {
		t.Errorf("ProcessedPerMinute = %f, want 0", m.ProcessedPerMinute)
	}
	if len(m.Counts) != 0 {
		t.Errorf("Counts = %v, want empty", m.Counts)
	}
}

func TestRecordAdded(t *testing.T) {
	c := NewCollector()

	c.RecordAdded("emails")
	c.RecordAdded("emails")
	c.RecordAdded("reports")

	if got := c.GetMetrics("emails").Added; got != 2 {
		t.Errorf("emails Added = %d, want 2", got)
	}
	if got := c.GetMetrics("reports").Added; got != 1 {
		t.Errorf("reports Added = %d, want 1", got)
	}
}

func TestRecordSample_LatestCountsReturned(t *testing.T) {
	c := NewCollector()

	c.RecordSample("emails", map[job.Status]int64{job.StatusWaiting: 3})
	c.RecordSample("emails", map[job.Status]int64{job.StatusWaiting: 1, job.StatusActive: 2})

	m := c.GetMetrics("emails")
	if m.Counts[job.StatusWaiting] != 1 {
		t.Errorf("StatusWaiting = %d, want 1 (latest sample)", m.Counts[job.StatusWaiting])
	}
	if m.Counts[job.StatusActive] != 2 {
		t.Errorf("StatusActive = %d, want 2", m.Counts[job.StatusActive])
	}
}

func TestRecordSample_WindowTrimsTo100(t *testing.T) {
	c := NewCollector()

	for i := 0; i < windowSize+20; i++ {
		c.RecordSample("emails", map[job.Status]int64{job.StatusCompleted: int64(i)})
	}

	q := c.queue("emails")
	q.mu.RLock()
	n := len(q.window)
	oldest := q.window[0].Counts[job.StatusCompleted]
	q.mu.RUnlock()

	if n != windowSize {
		t.Errorf("window length = %d, want %d", n, windowSize)
	}
	if oldest != 20 {
		t.Errorf("oldest retained sample = %d, want 20 (first 20 trimmed)", oldest)
	}
}

func TestRecordOutcome_ErrorRate(t *testing.T) {
	c := NewCollector()

	c.RecordOutcome("emails", false)
	c.RecordOutcome("emails", false)
	c.RecordOutcome("emails", false)
	c.RecordOutcome("emails", true)

	m := c.GetMetrics("emails")
	if m.ErrorRate != 25.0 {
		t.Errorf("ErrorRate = %f, want 25.0", m.ErrorRate)
	}
}

func TestRecordWorkerActivity_Utilization(t *testing.T) {
	c := NewCollector()

	c.RecordWorkerActivity("emails", 5, 10)
	if got := c.GetMetrics("emails").WorkerUtilization; got != 50.0 {
		t.Errorf("WorkerUtilization = %f, want 50.0", got)
	}

	c.RecordWorkerActivity("emails", 10, 10)
	if got := c.GetMetrics("emails").WorkerUtilization; got != 100.0 {
		t.Errorf("WorkerUtilization = %f, want 100.0", got)
	}

	c.RecordWorkerActivity("emails", 0, 0)
	if got := c.GetMetrics("emails").WorkerUtilization; got != 0.0 {
		t.Errorf("WorkerUtilization = %f, want 0.0 when total is zero", got)
	}
}

func TestProcessedRate_RequiresTwoSamples(t *testing.T) {
	c := NewCollector()

	c.RecordSample("emails", map[job.Status]int64{job.StatusCompleted: 5})
	if got := c.GetMetrics("emails").ProcessedPerMinute; got != 0 {
		t.Errorf("ProcessedPerMinute with one sample = %f, want 0", got)
	}
}

func TestProcessedRate_ComputesFromWindowDelta(t *testing.T) {
	c := NewCollector()

	q := c.queue("emails")
	now := time.Now()
	q.mu.Lock()
	q.window = append(q.window,
		sample{Timestamp: now.Add(-2 * time.Minute), Counts: map[job.Status]int64{job.StatusCompleted: 0}},
		sample{Timestamp: now, Counts: map[job.Status]int64{job.StatusCompleted: 20}},
	)
	q.mu.Unlock()

	rate := c.GetMetrics("emails").ProcessedPerMinute
	if rate < 9.9 || rate > 10.1 {
		t.Errorf("ProcessedPerMinute = %f, want ~10", rate)
	}
}

func TestQueuesAreIsolated(t *testing.T) {
	c := NewCollector()

	c.RecordAdded("emails")
	c.RecordSample("emails", map[job.Status]int64{job.StatusWaiting: 5})

	reports := c.GetMetrics("reports")
	if reports.Added != 0 || len(reports.Counts) != 0 {
		t.Errorf("reports queue contaminated by emails: %+v", reports)
	}
}

func TestReset(t *testing.T) {
	c := NewCollector()

	c.RecordAdded("emails")
	c.RecordSample("emails", map[job.Status]int64{job.StatusCompleted: 1})
	c.RecordWorkerActivity("emails", 5, 10)

	c.Reset()

	m := c.GetMetrics("emails")
	if m.Added != 0 {
		t.Errorf("Added after reset = %d, want 0", m.Added)
	}
	if len(m.Counts) != 0 {
		t.Errorf("Counts after reset = %v, want empty", m.Counts)
	}
	if m.WorkerUtilization != 0 {
		t.Errorf("WorkerUtilization after reset = %f, want 0", m.WorkerUtilization)
	}
}

func TestGlobalCollector(t *testing.T) {
	ResetMetrics()

	Default().RecordAdded("emails")
	Default().RecordSample("emails", map[job.Status]int64{job.StatusCompleted: 1})

	if got := GetMetrics("emails").Added; got != 1 {
		t.Errorf("Added = %d, want 1", got)
	}

	ResetMetrics()
	if got := GetMetrics("emails").Added; got != 0 {
		t.Errorf("Added after reset = %d, want 0", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewCollector()
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				c.RecordAdded("emails")
				c.RecordOutcome("emails", false)
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	if got := c.GetMetrics("emails").Added; got != 1000 {
		t.Errorf("Added = %d, want 1000", got)
	}
}

func BenchmarkRecordSample(b *testing.B) {
	c := NewCollector()
	counts := map[job.Status]int64{job.StatusWaiting: 3, job.StatusActive: 2}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.RecordSample("emails", counts)
	}
}

func BenchmarkGetMetrics(b *testing.B) {
	c := NewCollector()
	for i := 0; i < 100; i++ {
		c.RecordSample("emails", map[job.Status]int64{job.StatusCompleted: int64(i)})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.GetMetrics("emails")
	}
}

func BenchmarkConcurrentRecording(b *testing.B) {
	c := NewCollector()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c.RecordAdded("emails")
			c.RecordOutcome("emails", false)
		}
	})
}
