// Package events implements the in-process, best-effort pub/sub used to
// notify local subscribers about job and queue lifecycle transitions
// (jobAdded, jobCompleted, jobFailed, ...). Subscribers run in their own
// goroutine fed by a buffered channel; a subscriber that falls behind
// misses the events that do not fit its buffer rather than blocking
// emission.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/logger"
)

// Name identifies an event channel.
type Name string

const (
	JobAdded                     Name = "jobAdded"
	JobCompleted                 Name = "jobCompleted"
	JobFailed                    Name = "jobFailed"
	JobProgress                  Name = "jobProgress"
	JobActive                    Name = "jobActive"
	JobStalled                   Name = "jobStalled"
	JobDelayed                   Name = "jobDelayed"
	JobRemoved                   Name = "jobRemoved"
	Ready                        Name = "ready"
	Error                        Name = "error"
	BatchAdded                   Name = "batchAdded"
	BatchCompleted               Name = "batchCompleted"
	BatchFailed                  Name = "batchFailed"
	BatchProgress                Name = "batchProgress"
	GroupCreated                 Name = "groupCreated"
	GroupRemoved                 Name = "groupRemoved"
	ObservableStarted            Name = "observableStarted"
	ObservableStopped            Name = "observableStopped"
	JobMovedToDeadLetter         Name = "jobMovedToDeadLetter"
	JobRepublishedFromDeadLetter Name = "jobRepublishedFromDeadLetter"
)

// Event is one emitted occurrence.
type Event struct {
	Name      Name
	QueueName string
	JobID     string
	Data      interface{}
	At        time.Time
}

// subscriberBuffer bounds how many unconsumed events a subscriber may
// queue; further events are dropped for it until it catches up.
const subscriberBuffer = 64

type subscriber struct {
	ch     chan Event
	cancel func()
}

// Emitter fans out events to in-process subscribers, per channel name.
// Emission never blocks the caller: a subscriber whose buffer is full
// has the event silently dropped for it.
type Emitter struct {
	mu   sync.RWMutex
	subs map[Name][]*subscriber
	log  logger.Logger
}

// New returns an empty Emitter. Logging is a no-op until SetLogger is
// called.
func New() *Emitter {
	return &Emitter{subs: make(map[Name][]*subscriber), log: &logger.NoOpLogger{}}
}

// SetLogger attaches a logger used to report dropped events. A nil
// logger is ignored.
func (e *Emitter) SetLogger(log logger.Logger) {
	if log == nil {
		return
	}
	e.log = log.WithComponent(logger.ComponentEvents)
}

// Subscribe registers fn to receive every event published to name,
// running fn in its own goroutine fed from an internal buffered
// channel. The returned func unsubscribes and stops that goroutine.
func (e *Emitter) Subscribe(name Name, fn func(Event)) (unsubscribe func()) {
	ch := make(chan Event, subscriberBuffer)
	done := make(chan struct{})
	sub := &subscriber{ch: ch}

	e.mu.Lock()
	e.subs[name] = append(e.subs[name], sub)
	e.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				fn(ev)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	sub.cancel = func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			subs := e.subs[name]
			for i, s := range subs {
				if s == sub {
					e.subs[name] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(done)
		})
	}
	return sub.cancel
}

// Emit publishes an event to every current subscriber of name,
// best-effort: a subscriber with a full buffer has this event dropped
// for it rather than blocking the emitting goroutine.
func (e *Emitter) Emit(name Name, queueName, jobID string, data interface{}) {
	e.mu.RLock()
	subs := e.subs[name]
	snapshot := make([]*subscriber, len(subs))
	copy(snapshot, subs)
	e.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	ev := Event{Name: name, QueueName: queueName, JobID: jobID, Data: data, At: time.Now()}
	for _, s := range snapshot {
		select {
		case s.ch <- ev:
		default:
			e.log.WarnContext(context.Background(), "subscriber buffer full, dropping event", "event", string(name), "jobId", jobID)
		}
	}
}

// SubscriberCount reports how many subscribers are currently registered
// for name, mainly for tests and diagnostics.
func (e *Emitter) SubscriberCount(name Name) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[name])
}
