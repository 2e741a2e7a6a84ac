package queue

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rescale/transfer-sync/internal/transfer"
)

// fakeBackend is a scripted engine. Commands return the snapshot produced
// by the matching hook, or current when the hook is nil.
type fakeBackend struct {
	mu      sync.Mutex
	current transfer.Snapshot
	calls   map[string]int
	err     error

	onEnqueue func(transfer.Request) (transfer.Snapshot, error)
	onCancel  func(string) (transfer.Snapshot, error)

	// cancelGate, when set, blocks Cancel until it is closed.
	cancelStarted chan struct{}
	cancelGate    chan struct{}

	streams   chan *fakeStream
	subErr    error
	subCalls  int
	subscribe chan struct{}
}

func newFakeBackend(snap transfer.Snapshot) *fakeBackend {
	return &fakeBackend{
		current:   snap,
		calls:     make(map[string]int),
		streams:   make(chan *fakeStream, 8),
		subscribe: make(chan struct{}, 8),
	}
}

func (f *fakeBackend) record(op string) (transfer.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.err != nil {
		return transfer.Snapshot{}, f.err
	}
	return f.current.Clone(), nil
}

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeBackend) setSnapshot(snap transfer.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = snap
}

func (f *fakeBackend) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeBackend) Enqueue(ctx context.Context, req transfer.Request) (transfer.Snapshot, error) {
	if f.onEnqueue != nil {
		f.mu.Lock()
		f.calls["enqueue"]++
		f.mu.Unlock()
		return f.onEnqueue(req)
	}
	return f.record("enqueue")
}

func (f *fakeBackend) Cancel(ctx context.Context, taskID string) (transfer.Snapshot, error) {
	if f.cancelStarted != nil {
		close(f.cancelStarted)
	}
	if f.cancelGate != nil {
		<-f.cancelGate
	}
	if f.onCancel != nil {
		f.mu.Lock()
		f.calls["cancel"]++
		f.mu.Unlock()
		return f.onCancel(taskID)
	}
	return f.record("cancel")
}

func (f *fakeBackend) Remove(ctx context.Context, taskID string) (transfer.Snapshot, error) {
	return f.record("remove")
}

func (f *fakeBackend) ClearFailed(ctx context.Context) (transfer.Snapshot, error) {
	return f.record("clear-failed")
}

func (f *fakeBackend) ClearHistory(ctx context.Context) (transfer.Snapshot, error) {
	return f.record("clear-history")
}

func (f *fakeBackend) FetchSnapshot(ctx context.Context) (transfer.Snapshot, error) {
	return f.record("fetch")
}

func (f *fakeBackend) SubscribeProgress(ctx context.Context) (ProgressStream, error) {
	f.mu.Lock()
	f.subCalls++
	err := f.subErr
	f.mu.Unlock()
	select {
	case f.subscribe <- struct{}{}:
	default:
	}
	if err != nil {
		return nil, err
	}
	select {
	case st := <-f.streams:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeBackend) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subCalls
}

// fakeStream delivers queued events, then blocks until closed or failed.
type fakeStream struct {
	events chan transfer.ProgressEvent
	fail   chan error
	done   chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan transfer.ProgressEvent, 16),
		fail:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (s *fakeStream) Recv() (transfer.ProgressEvent, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case err := <-s.fail:
		return transfer.ProgressEvent{}, err
	case <-s.done:
		return transfer.ProgressEvent{}, io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

var errEngineDown = errors.New("dial unix: connection refused")

func activeTask(id string, size int64) transfer.Task {
	return transfer.Task{
		ID:        id,
		Kind:      transfer.KindDownload,
		Status:    transfer.StatusInProgress,
		SizeTotal: transfer.Int64(size),
	}
}

func finishedTask(id string, status transfer.Status) transfer.Task {
	return transfer.Task{ID: id, Kind: transfer.KindDownload, Status: status}
}
