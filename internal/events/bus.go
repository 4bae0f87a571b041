// Package events is the in-process broadcast bus behind GET /v1/events.
// Dispatch publishes each step of a request, the pending store each
// staged, confirmed, or cancelled action, and connwatch each service
// transition. A nil *Bus accepts and discards everything.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceDispatch identifies events from the dispatch engine.
	SourceDispatch = "dispatch"
	// SourceRouter identifies events from the intent classifier.
	SourceRouter = "router"
	// SourcePending identifies events from the confirmation gate.
	SourcePending = "pending"
	// SourceConnwatch identifies service health transitions.
	SourceConnwatch = "connwatch"
)

// Kind constants describe the type of event within a source.
const (
	// KindRequestStart signals an instruction was received.
	// Data: request_id, session.
	KindRequestStart = "request_start"
	// KindRouted signals classification finished.
	// Data: request_id, category, degraded, latency_ms.
	KindRouted = "routed"
	// KindAgentInvoked signals the bound agent returned.
	// Data: request_id, agent, calls.
	KindAgentInvoked = "agent_invoked"
	// KindDirectAnswer signals the request was answered from text alone.
	// Data: request_id.
	KindDirectAnswer = "direct_answer"
	// KindCapabilityRejected signals a call failed validation.
	// Data: request_id, capability, error.
	KindCapabilityRejected = "capability_rejected"
	// KindCapabilityCall signals a SAFE capability is being invoked.
	// Data: request_id, capability.
	KindCapabilityCall = "capability_call"
	// KindCapabilityDone signals a capability invocation finished.
	// Data: request_id, capability, ok, duration_ms.
	KindCapabilityDone = "capability_done"
	// KindRequestComplete signals the response was produced.
	// Data: request_id, category, needs_validation, elapsed_ms.
	KindRequestComplete = "request_complete"

	// KindActionStaged signals a side-effecting call awaits confirmation.
	// Data: session, capability, token, expires_at.
	KindActionStaged = "action_staged"
	// KindActionConfirmed signals a staged action was executed.
	// Data: session, capability, ok.
	KindActionConfirmed = "action_confirmed"
	// KindActionCancelled signals a staged action was discarded.
	// Data: session, had_action.
	KindActionCancelled = "action_cancelled"

	// KindServiceReady signals a watched service became reachable.
	// Data: service.
	KindServiceReady = "service_ready"
	// KindServiceDown signals a watched service became unreachable.
	// Data: service, error.
	KindServiceDown = "service_down"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus fans events out to subscribers without ever blocking the
// publisher: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[<-chan Event]chan Event
	dropped atomic.Uint64
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish delivers e to every subscriber with buffer space.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with the given buffer size. Release
// it with Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel. Repeated
// calls are no-ops.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were skipped because a
// subscriber was full.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
