package enginesim

import (
	"context"
	"io"
	"sync"

	"github.com/rescale/transfer-sync/internal/events"
	"github.com/rescale/transfer-sync/internal/queue"
	"github.com/rescale/transfer-sync/internal/transfer"
)

// LocalBackend binds the engine to one kind and serves it in-process.
type LocalBackend struct {
	engine *Engine
	kind   transfer.Kind
}

var _ queue.Backend = (*LocalBackend)(nil)

// Backend returns the in-process command surface for kind.
func (e *Engine) Backend(kind transfer.Kind) *LocalBackend {
	return &LocalBackend{engine: e, kind: kind}
}

// Backends returns an in-process backend for every kind.
func (e *Engine) Backends() map[transfer.Kind]queue.Backend {
	out := make(map[transfer.Kind]queue.Backend, len(transfer.Kinds))
	for _, k := range transfer.Kinds {
		out[k] = e.Backend(k)
	}
	return out
}

func (b *LocalBackend) Enqueue(ctx context.Context, req transfer.Request) (transfer.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return transfer.Snapshot{}, err
	}
	return b.engine.Enqueue(b.kind, req)
}

func (b *LocalBackend) Cancel(ctx context.Context, taskID string) (transfer.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return transfer.Snapshot{}, err
	}
	return b.engine.Cancel(b.kind, taskID)
}

func (b *LocalBackend) Remove(ctx context.Context, taskID string) (transfer.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return transfer.Snapshot{}, err
	}
	return b.engine.Remove(b.kind, taskID)
}

func (b *LocalBackend) ClearFailed(ctx context.Context) (transfer.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return transfer.Snapshot{}, err
	}
	return b.engine.ClearFailed(b.kind)
}

func (b *LocalBackend) ClearHistory(ctx context.Context) (transfer.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return transfer.Snapshot{}, err
	}
	return b.engine.ClearHistory(b.kind)
}

func (b *LocalBackend) FetchSnapshot(ctx context.Context) (transfer.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return transfer.Snapshot{}, err
	}
	return b.engine.Snapshot(b.kind)
}

// SubscribeProgress taps the engine bus for this kind's progress events.
func (b *LocalBackend) SubscribeProgress(ctx context.Context) (queue.ProgressStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.engine.bus == nil {
		return nil, transfer.ErrStreamInterrupted
	}
	return newBusStream(ctx, b.engine.bus, b.kind), nil
}

// busStream adapts an event bus subscription to queue.ProgressStream.
type busStream struct {
	bus  *events.EventBus
	ch   <-chan events.Event
	kind transfer.Kind
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	stop func() bool
}

func newBusStream(ctx context.Context, bus *events.EventBus, kind transfer.Kind) *busStream {
	s := &busStream{
		bus:  bus,
		ch:   bus.Subscribe(events.EventTransferProgress),
		kind: kind,
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.stop = context.AfterFunc(ctx, func() { s.Close() })
	s.mu.Unlock()
	return s
}

func (s *busStream) Recv() (transfer.ProgressEvent, error) {
	for {
		select {
		case <-s.done:
			return transfer.ProgressEvent{}, io.EOF
		case ev, ok := <-s.ch:
			if !ok {
				return transfer.ProgressEvent{}, io.EOF
			}
			pe, isProgress := ev.(*events.ProgressEvent)
			if !isProgress || pe.Progress.Kind != s.kind {
				continue
			}
			return pe.Progress, nil
		}
	}
}

func (s *busStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.bus.Unsubscribe(s.ch)
	})
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
	}
	s.mu.Unlock()
	return nil
}
