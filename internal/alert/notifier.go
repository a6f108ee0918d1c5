// Package alert provides an in-process pub/sub bus for run lifecycle and
// parity alerts, consumed by the serve command's log subscriber and by
// operator tooling embedding the engine.
package alert

import (
	"sync"
	"time"
)

// Kind classifies a notification.
type Kind int

const (
	RunStarted Kind = iota
	RunSucceeded
	RunFailed
	ParityFailed
	RunStale
)

func (k Kind) String() string {
	switch k {
	case RunStarted:
		return "run_started"
	case RunSucceeded:
		return "run_succeeded"
	case RunFailed:
		return "run_failed"
	case ParityFailed:
		return "parity_failed"
	case RunStale:
		return "run_stale"
	default:
		return "unknown"
	}
}

// Notification is one alert event.
type Notification struct {
	Kind      Kind
	TaskCode  string
	RunID     string
	Message   string
	Timestamp time.Time
}

// Notifier is a non-blocking fan-out bus. A subscriber that falls behind
// loses notifications rather than stalling the pipeline.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
}

// NewNotifier creates a notifier; bufferSize is each subscriber's channel
// capacity.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{bufferSize: bufferSize}
}

// Publish delivers the notification to every matching subscriber.
func (n *Notifier) Publish(notif Notification) {
	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now().UTC()
	}
	n.subscribers.Range(func(key, value interface{}) bool {
		sub := value.(*Subscriber)
		if sub.matches(notif.TaskCode) {
			select {
			case sub.Ch <- notif:
			default:
				// Subscriber full: drop, never block the publisher.
			}
		}
		return true
	})
}

// Subscribe registers a subscriber. Empty taskCodes receives everything;
// otherwise only notifications whose task code prefix-matches one entry.
func (n *Notifier) Subscribe(id string, taskCodes ...string) *Subscriber {
	sub := &Subscriber{
		ID:        id,
		TaskCodes: taskCodes,
		Ch:        make(chan Notification, n.bufferSize),
	}
	n.subscribers.Store(id, sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	if value, ok := n.subscribers.LoadAndDelete(id); ok {
		close(value.(*Subscriber).Ch)
	}
}

// Subscriber receives notifications on Ch until unsubscribed.
type Subscriber struct {
	ID        string
	TaskCodes []string
	Ch        chan Notification
}

func (s *Subscriber) matches(taskCode string) bool {
	if len(s.TaskCodes) == 0 {
		return true
	}
	for _, f := range s.TaskCodes {
		if len(f) == 0 {
			return true
		}
		if len(taskCode) >= len(f) && taskCode[:len(f)] == f {
			return true
		}
	}
	return false
}
