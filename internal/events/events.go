// Package events provides the in-process event bus used for the engine
// progress feed and for queue snapshot change notifications.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/transfer-sync/internal/constants"
	"github.com/rescale/transfer-sync/internal/transfer"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	// Engine side
	EventTransferProgress EventType = "transfer_progress" // Incremental byte progress for one task

	// Synchronizer side
	EventQueueUpdated      EventType = "queue_updated"      // Observable queue state changed
	EventStreamInterrupted EventType = "stream_interrupted" // Progress stream lost, polling takes over
)

// UpdateReason says which trigger produced a queue change.
type UpdateReason string

const (
	ReasonCommand  UpdateReason = "command"  // Snapshot returned by a user command
	ReasonPoll     UpdateReason = "poll"     // Snapshot returned by a poll tick or fetch
	ReasonProgress UpdateReason = "progress" // Progress event merged into the active list
	ReasonPending  UpdateReason = "pending"  // Pending-cancel flag changed
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// ProgressEvent carries one engine progress notification.
type ProgressEvent struct {
	BaseEvent
	Progress transfer.ProgressEvent
}

// NewProgressEvent wraps a transfer progress event for publishing.
func NewProgressEvent(ev transfer.ProgressEvent) *ProgressEvent {
	return &ProgressEvent{
		BaseEvent: BaseEvent{EventType: EventTransferProgress, Time: time.Now()},
		Progress:  ev,
	}
}

// QueueUpdatedEvent is published by a synchronizer after every observable
// change. Snapshot and Speeds are private copies owned by the receiver.
type QueueUpdatedEvent struct {
	BaseEvent
	Kind       transfer.Kind
	Reason     UpdateReason
	Version    uint64
	Snapshot   transfer.Snapshot
	Speeds     map[string]float64
	Cancelling []string
}

// StreamInterruptedEvent is published when a progress subscription fails.
type StreamInterruptedEvent struct {
	BaseEvent
	Kind    transfer.Kind
	Attempt int
	Err     error
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
	onDrop        func(Event)
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// SetDropHandler installs a callback invoked (while publishing) for each
// event dropped because a subscriber buffer was full.
func (eb *EventBus) SetDropHandler(fn func(Event)) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.onDrop = fn
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. Events are
// dropped for subscribers whose buffer is full.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		eb.send(ch, event)
	}
	for _, ch := range eb.all {
		eb.send(ch, event)
	}
}

func (eb *EventBus) send(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		eb.droppedEvents.Add(1)
		if eb.onDrop != nil {
			eb.onDrop(event)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishProgress is a convenience method for publishing engine progress.
func (eb *EventBus) PublishProgress(ev transfer.ProgressEvent) {
	eb.Publish(NewProgressEvent(ev))
}

// Unsubscribe removes a subscription channel and closes it so that a
// receiver ranging over it terminates.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				close(subCh)
				return
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			close(subCh)
			return
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// ResetDroppedEventCount resets the dropped event counter to zero
func (eb *EventBus) ResetDroppedEventCount() int64 {
	return eb.droppedEvents.Swap(0)
}
