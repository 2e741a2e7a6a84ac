// Package queue keeps a client-side view of one transfer queue consistent
// with the transfer engine. A Synchronizer owns the view for one kind and
// reconciles three update sources: command responses, the progress stream
// and a periodic snapshot poll.
package queue

import (
	"context"

	"github.com/rescale/transfer-sync/internal/transfer"
)

// Backend is the engine command surface for a single queue kind. Every
// command returns the engine's complete snapshot after applying it.
//
// Implementations classify failures with transfer.ErrBackendUnavailable
// and transfer.ErrInvalidRequest, and own any request timeouts.
type Backend interface {
	Enqueue(ctx context.Context, req transfer.Request) (transfer.Snapshot, error)
	Cancel(ctx context.Context, taskID string) (transfer.Snapshot, error)
	Remove(ctx context.Context, taskID string) (transfer.Snapshot, error)
	ClearFailed(ctx context.Context) (transfer.Snapshot, error)
	ClearHistory(ctx context.Context) (transfer.Snapshot, error)
	FetchSnapshot(ctx context.Context) (transfer.Snapshot, error)

	// SubscribeProgress opens a long-lived progress feed. The stream ends
	// when ctx is done, when Close is called, or when the engine drops it.
	SubscribeProgress(ctx context.Context) (ProgressStream, error)
}

// ProgressStream delivers progress events in engine order.
type ProgressStream interface {
	// Recv blocks for the next event. It returns io.EOF when the engine
	// closed the stream cleanly.
	Recv() (transfer.ProgressEvent, error)

	// Close releases the stream. It must be safe to call more than once
	// and concurrently with Recv.
	Close() error
}
