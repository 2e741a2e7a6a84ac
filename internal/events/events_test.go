package events

import (
	"testing"
	"time"

	"github.com/rescale/transfer-sync/internal/transfer"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventTransferProgress)

	bus.PublishProgress(transfer.ProgressEvent{
		TaskID:           "task-1",
		Kind:             transfer.KindDownload,
		BytesTransferred: 512,
		SpeedBps:         transfer.Float64(128),
	})

	select {
	case received := <-ch:
		progress, ok := received.(*ProgressEvent)
		if !ok {
			t.Fatal("Expected ProgressEvent")
		}
		if progress.Progress.TaskID != "task-1" {
			t.Errorf("Expected task 'task-1', got '%s'", progress.Progress.TaskID)
		}
		if progress.Progress.BytesTransferred != 512 {
			t.Errorf("Expected 512 bytes, got %d", progress.Progress.BytesTransferred)
		}
		if progress.Timestamp().IsZero() {
			t.Error("Expected timestamp to be set")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch1 := bus.Subscribe(EventQueueUpdated)
	ch2 := bus.Subscribe(EventQueueUpdated)

	bus.Publish(&QueueUpdatedEvent{
		BaseEvent: BaseEvent{EventType: EventQueueUpdated, Time: time.Now()},
		Kind:      transfer.KindUpload,
		Reason:    ReasonPoll,
	})

	received1 := false
	received2 := false

	select {
	case <-ch1:
		received1 = true
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case <-ch2:
		received2 = true
	case <-time.After(100 * time.Millisecond):
	}

	if !received1 || !received2 {
		t.Error("Not all subscribers received the event")
	}
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	progressCh := bus.Subscribe(EventTransferProgress)
	queueCh := bus.Subscribe(EventQueueUpdated)

	bus.PublishProgress(transfer.ProgressEvent{TaskID: "t"})

	select {
	case <-progressCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("Progress subscriber didn't receive event")
	}

	select {
	case <-queueCh:
		t.Error("Queue subscriber received wrong event type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	allCh := bus.SubscribeAll()

	bus.PublishProgress(transfer.ProgressEvent{TaskID: "t"})
	bus.Publish(&StreamInterruptedEvent{
		BaseEvent: BaseEvent{EventType: EventStreamInterrupted, Time: time.Now()},
		Kind:      transfer.KindDownload,
	})

	count := 0
	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
			count++
		case <-time.After(100 * time.Millisecond):
		}
	}

	if count != 2 {
		t.Errorf("Expected to receive 2 events, got %d", count)
	}
}

func TestEventBus_NonBlockingCountsDrops(t *testing.T) {
	bus := NewEventBus(2)
	defer bus.Close()

	var dropped int
	bus.SetDropHandler(func(Event) { dropped++ })

	ch := bus.Subscribe(EventTransferProgress)

	for i := 0; i < 10; i++ {
		bus.PublishProgress(transfer.ProgressEvent{TaskID: "t", BytesTransferred: int64(i)})
	}

	if got := bus.GetDroppedEventCount(); got != 8 {
		t.Errorf("Expected 8 dropped events, got %d", got)
	}
	if dropped != 8 {
		t.Errorf("Expected drop handler to run 8 times, got %d", dropped)
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
			continue
		default:
		}
		break
	}
	if count != 2 {
		t.Errorf("Expected 2 buffered events, got %d", count)
	}

	if prev := bus.ResetDroppedEventCount(); prev != 8 {
		t.Errorf("Reset should return previous count 8, got %d", prev)
	}
	if bus.GetDroppedEventCount() != 0 {
		t.Error("Counter should be zero after reset")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventQueueUpdated)
	all := bus.SubscribeAll()

	bus.Unsubscribe(ch)
	bus.Unsubscribe(all)

	if _, ok := <-ch; ok {
		t.Error("typed channel should be closed after Unsubscribe")
	}
	if _, ok := <-all; ok {
		t.Error("all-events channel should be closed after Unsubscribe")
	}

	// Publishing after unsubscribe must not panic on the closed channels.
	bus.Publish(&QueueUpdatedEvent{BaseEvent: BaseEvent{EventType: EventQueueUpdated}})
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)

	ch := bus.Subscribe(EventTransferProgress)

	bus.Close()

	_, ok := <-ch
	if ok {
		t.Error("Channel should be closed after bus.Close()")
	}

	// Publishing and subscribing after close should not panic
	bus.PublishProgress(transfer.ProgressEvent{TaskID: "t"})
	if _, ok := <-bus.Subscribe(EventTransferProgress); ok {
		t.Error("Subscribe after Close should return a closed channel")
	}
}
