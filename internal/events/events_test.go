package events

import (
	"sync"
	"testing"
	"time"
)

func TestEmit_DeliversToSubscriber(t *testing.T) {
	e := New()
	received := make(chan Event, 1)
	unsub := e.Subscribe(JobAdded, func(ev Event) { received <- ev })
	defer unsub()

	e.Emit(JobAdded, "emails", "job-1", nil)

	select {
	case ev := <-received:
		if ev.JobID != "job-1" || ev.QueueName != "emails" {
			t.Errorf("got %+v, want job-1/emails", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEmit_NoSubscribersIsNoop(t *testing.T) {
	e := New()
	e.Emit(JobAdded, "emails", "job-1", nil)
}

func TestEmit_OnlyMatchingChannelReceives(t *testing.T) {
	e := New()
	addedCh := make(chan Event, 1)
	completedCh := make(chan Event, 1)
	e.Subscribe(JobAdded, func(ev Event) { addedCh <- ev })
	e.Subscribe(JobCompleted, func(ev Event) { completedCh <- ev })

	e.Emit(JobAdded, "q", "job-1", nil)

	select {
	case <-addedCh:
	case <-time.After(time.Second):
		t.Fatal("jobAdded subscriber did not receive")
	}
	select {
	case <-completedCh:
		t.Fatal("jobCompleted subscriber should not have received a jobAdded event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	e := New()
	var mu sync.Mutex
	count := 0
	unsub := e.Subscribe(JobAdded, func(ev Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	e.Emit(JobAdded, "q", "job-1", nil)
	time.Sleep(50 * time.Millisecond)
	unsub()
	e.Emit(JobAdded, "q", "job-2", nil)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("count = %d, want 1 (second emit after unsubscribe should not be delivered)", count)
	}
}

func TestEmit_SlowSubscriberDoesNotBlock(t *testing.T) {
	e := New()
	block := make(chan struct{})
	e.Subscribe(JobAdded, func(ev Event) { <-block })

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			e.Emit(JobAdded, "q", "job", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit() blocked on a slow subscriber instead of dropping")
	}
	close(block)
}

func TestSubscriberCount(t *testing.T) {
	e := New()
	if e.SubscriberCount(JobAdded) != 0 {
		t.Fatal("expected 0 subscribers initially")
	}
	unsub := e.Subscribe(JobAdded, func(ev Event) {})
	if e.SubscriberCount(JobAdded) != 1 {
		t.Fatal("expected 1 subscriber after Subscribe")
	}
	unsub()
	time.Sleep(10 * time.Millisecond)
	if e.SubscriberCount(JobAdded) != 0 {
		t.Fatal("expected 0 subscribers after unsubscribe")
	}
}
