// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from the node's components (session
// machine, recovery supervisor, transport) to subscribers (the run
// command's log tail, future diagnostics surfaces). The bus is
// nil-safe: calling Publish on a nil *Bus is a no-op, so the core runs
// unchanged with observability disabled.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceSession identifies events from the session state machine.
	SourceSession = "session"
	// SourceSupervisor identifies events from the recovery supervisor.
	SourceSupervisor = "supervisor"
	// SourceTransport identifies events from the transport adapter.
	SourceTransport = "transport"
	// SourceIdentity identifies events from the identity store.
	SourceIdentity = "identity"
)

// Kind constants describe the type of event within a source.
const (
	// KindPhaseChange signals a session phase transition.
	// Data: from, to.
	KindPhaseChange = "phase_change"
	// KindAnnounceSent signals the one-time identity announcement.
	// Data: topic.
	KindAnnounceSent = "announce_sent"
	// KindConfigAdopted signals a runtime configuration was adopted.
	// Data: sample_every_ms, samples_per_report, green, yellow, orange,
	// buzz_every_s, show_every_s.
	KindConfigAdopted = "config_adopted"
	// KindReportPublished signals a successful report publish.
	// Data: co2_mean, temp_mean, samples, attempts.
	KindReportPublished = "report_published"
	// KindReportFailed signals a report that exhausted its publish
	// retries. Data: attempts.
	KindReportFailed = "report_failed"
	// KindRestartRequested signals the machine went terminal and the
	// deadman will restart the node. Data: reason.
	KindRestartRequested = "restart_requested"

	// KindRetryAttempt signals one supervised attempt of a network
	// operation. Data: op, attempt, max.
	KindRetryAttempt = "retry_attempt"
	// KindRetryExhausted signals a supervised operation ran out of
	// attempts. Data: op, attempts.
	KindRetryExhausted = "retry_exhausted"

	// KindConnUp signals the transport session came up.
	// Data: broker.
	KindConnUp = "conn_up"
	// KindConnDown signals the transport session went down.
	// Data: error.
	KindConnDown = "conn_down"
	// KindConnDropped signals the node forcibly dropped its transport
	// session after publish retries were exhausted.
	KindConnDropped = "conn_dropped"

	// KindIdentityRegenerated signals the identity store replaced a
	// missing or corrupt record. Data: identity, topic_suffix.
	KindIdentityRegenerated = "identity_regenerated"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers, because the tick loop must never stall on an
// observer.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full: drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
