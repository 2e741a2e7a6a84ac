package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rescale/transfer-sync/internal/events"
	"github.com/rescale/transfer-sync/internal/transfer"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSubscriberAppliesStreamEvents(t *testing.T) {
	backend := newFakeBackend(transfer.Snapshot{Active: []transfer.Task{activeTask("T1", 1000)}})
	stream := newFakeStream()
	backend.streams <- stream

	s, _ := newTestSync(t, backend)
	s.Start(context.Background())
	defer s.Close()

	waitFor(t, "initial fetch", func() bool { return s.IsActive("T1") })

	stream.events <- transfer.ProgressEvent{TaskID: "T1", BytesTransferred: 250, SpeedBps: transfer.Float64(50)}
	waitFor(t, "progress merge", func() bool {
		task, _, _ := s.Task("T1")
		return task.BytesTransferred != nil && *task.BytesTransferred == 250
	})
	if speed, ok := s.SpeedFor("T1"); !ok || speed != 50 {
		t.Errorf("SpeedFor = %v %v", speed, ok)
	}
	if backend.subscriptions() != 1 {
		t.Errorf("expected a single subscription, got %d", backend.subscriptions())
	}
}

func TestSubscriberRecoversFromStreamFailure(t *testing.T) {
	backend := newFakeBackend(transfer.Snapshot{Active: []transfer.Task{activeTask("T1", 1000)}})
	first := newFakeStream()
	second := newFakeStream()
	backend.streams <- first
	backend.streams <- second

	s, bus := newTestSync(t, backend)
	interrupted := bus.Subscribe(events.EventStreamInterrupted)

	s.Start(context.Background())
	defer s.Close()
	waitFor(t, "initial fetch", func() bool { return s.IsActive("T1") })
	fetchesBefore := backend.count("fetch")

	first.fail <- errors.New("connection reset by peer")

	select {
	case ev := <-interrupted:
		si := ev.(*events.StreamInterruptedEvent)
		if !errors.Is(si.Err, transfer.ErrStreamInterrupted) {
			t.Errorf("interruption should wrap ErrStreamInterrupted, got %v", si.Err)
		}
		if si.Attempt != 1 || si.Kind != transfer.KindDownload {
			t.Errorf("unexpected interruption event %+v", si)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no stream interruption published")
	}

	waitFor(t, "resubscribe", func() bool { return backend.subscriptions() >= 2 })
	waitFor(t, "refresh after resubscribe", func() bool { return backend.count("fetch") > fetchesBefore })

	second.events <- transfer.ProgressEvent{TaskID: "T1", BytesTransferred: 900}
	waitFor(t, "merge on new stream", func() bool {
		task, _, _ := s.Task("T1")
		return task.BytesTransferred != nil && *task.BytesTransferred == 900
	})
}

func TestSubscriberRetriesFailedSubscribe(t *testing.T) {
	backend := newFakeBackend(transfer.Snapshot{})
	backend.subErr = errEngineDown

	s, _ := newTestSync(t, backend)
	s.Start(context.Background())

	waitFor(t, "retries", func() bool { return backend.subscriptions() >= 3 })
	s.Close()

	calls := backend.subscriptions()
	time.Sleep(20 * time.Millisecond)
	if backend.subscriptions() != calls {
		t.Error("subscriber kept running after Close")
	}
}

func TestSubscriberDiscoversUnknownTask(t *testing.T) {
	backend := newFakeBackend(transfer.Snapshot{Failed: []transfer.Task{finishedTask("T2", transfer.StatusFailed)}})
	stream := newFakeStream()
	backend.streams <- stream

	s, _ := newTestSync(t, backend)
	s.Start(context.Background())
	defer s.Close()
	waitFor(t, "initial fetch", func() bool {
		_, _, ok := s.Task("T2")
		return ok
	})

	// A late event for a failed task is ignored without a fetch.
	stream.events <- transfer.ProgressEvent{TaskID: "T2", BytesTransferred: 10}

	// Another client enqueued T5; its progress reveals it.
	backend.setSnapshot(transfer.Snapshot{
		Active: []transfer.Task{activeTask("T5", 100)},
		Failed: []transfer.Task{finishedTask("T2", transfer.StatusFailed)},
	})
	stream.events <- transfer.ProgressEvent{TaskID: "T5", BytesTransferred: 10}
	waitFor(t, "discovery fetch", func() bool { return s.IsActive("T5") })

	if _, list, _ := s.Task("T2"); list != transfer.ListFailed {
		t.Errorf("T2 should remain failed, got %s", list)
	}

	// Discovery is throttled to one fetch per poll interval.
	stream.events <- transfer.ProgressEvent{TaskID: "T6", BytesTransferred: 1}
	stream.events <- transfer.ProgressEvent{TaskID: "T7", BytesTransferred: 1}
	time.Sleep(30 * time.Millisecond)
	if got := backend.count("fetch"); got != 2 {
		t.Errorf("expected 2 fetches (initial + one discovery), got %d", got)
	}
}

func TestStartIsIdempotentAndCloseWithoutStart(t *testing.T) {
	backend := newFakeBackend(transfer.Snapshot{})
	backend.streams <- newFakeStream()

	s, _ := newTestSync(t, backend)
	s.Start(context.Background())
	s.Start(context.Background())
	waitFor(t, "subscribe", func() bool { return backend.subscriptions() == 1 })
	s.Close()
	s.Close()

	idle, _ := newTestSync(t, newFakeBackend(transfer.Snapshot{}))
	idle.Close()
	idle.Start(context.Background()) // no-op after Close
}

func TestCalculateBackoff(t *testing.T) {
	if CalculateBackoff(0, time.Second, time.Minute) != 0 {
		t.Error("attempt 0 should not wait")
	}
	for attempt := 1; attempt <= 80; attempt++ {
		d := CalculateBackoff(attempt, 100*time.Millisecond, 2*time.Second)
		if d < 0 || d >= 2*time.Second {
			t.Errorf("attempt %d: backoff %v out of range", attempt, d)
		}
	}
	for i := 0; i < 50; i++ {
		if d := CalculateBackoff(1, 100*time.Millisecond, time.Minute); d >= 200*time.Millisecond {
			t.Errorf("attempt 1 backoff %v should be below 200ms", d)
		}
	}
}

func TestManager(t *testing.T) {
	down := newFakeBackend(transfer.Snapshot{})
	up := newFakeBackend(transfer.Snapshot{})
	bus := events.NewEventBus(10)
	defer bus.Close()

	m := NewManager(map[transfer.Kind]Backend{
		transfer.KindUpload:   up,
		transfer.KindDownload: down,
	}, bus, nil, Options{PollInterval: time.Hour})

	kinds := m.Kinds()
	if len(kinds) != 2 || kinds[0] != transfer.KindDownload || kinds[1] != transfer.KindUpload {
		t.Errorf("Kinds = %v", kinds)
	}
	s, err := m.For(transfer.KindUpload)
	if err != nil || s.Kind() != transfer.KindUpload {
		t.Fatalf("For(upload) = %v, %v", s, err)
	}
	if _, err := m.For("sideways"); !transfer.IsInvalidRequest(err) {
		t.Errorf("expected ErrInvalidRequest for unknown kind, got %v", err)
	}
	if m.Bus() != bus {
		t.Error("Bus should return the shared bus")
	}

	m.Start(context.Background())
	waitFor(t, "both initial fetches", func() bool {
		return down.count("fetch") == 1 && up.count("fetch") == 1
	})
	m.Close()
}
