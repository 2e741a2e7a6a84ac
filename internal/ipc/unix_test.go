//go:build !windows

package ipc

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rescale/transfer-sync/internal/enginesim"
	"github.com/rescale/transfer-sync/internal/events"
	"github.com/rescale/transfer-sync/internal/logging"
	"github.com/rescale/transfer-sync/internal/transfer"
)

func startTestServer(t *testing.T) (*enginesim.Engine, *Client) {
	t.Helper()

	// Keep the socket path short; unix socket paths are length limited.
	dir, err := os.MkdirTemp("", "ipc")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "test.sock")

	bus := events.NewEventBus(100)
	t.Cleanup(bus.Close)
	engine := enginesim.New(bus, nil, enginesim.Options{RateBytesPerSecond: 100, MaxConcurrent: 1})

	server := NewServer(engine.Backends(), logging.NewNopLogger(), socketPath)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(server.Stop)

	client := NewClient(socketPath)
	client.SetTimeout(2 * time.Second)
	return engine, client
}

func TestUnixIPCClientServer(t *testing.T) {
	engine, client := startTestServer(t)
	downloads := client.Backend(transfer.KindDownload)
	ctx := context.Background()
	target := t.TempDir()

	var taskID string

	t.Run("Ping", func(t *testing.T) {
		if err := client.Ping(ctx); err != nil {
			t.Fatalf("Ping failed: %v", err)
		}
	})

	t.Run("Enqueue", func(t *testing.T) {
		snap, err := downloads.Enqueue(ctx, transfer.Request{ItemRef: "file-1", Target: target, Size: 1000})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if len(snap.Active) != 1 {
			t.Fatalf("Expected 1 active task, got %d", len(snap.Active))
		}
		taskID = snap.Active[0].ID
	})

	t.Run("EnqueueInvalid", func(t *testing.T) {
		_, err := downloads.Enqueue(ctx, transfer.Request{ItemRef: "file-2", Target: filepath.Join(target, "missing")})
		if !transfer.IsInvalidRequest(err) {
			t.Errorf("Expected ErrInvalidRequest, got %v", err)
		}
	})

	t.Run("FetchSnapshot", func(t *testing.T) {
		engine.Step(time.Second)
		snap, err := downloads.FetchSnapshot(ctx)
		if err != nil {
			t.Fatalf("FetchSnapshot failed: %v", err)
		}
		if got := *snap.Active[0].BytesTransferred; got != 100 {
			t.Errorf("Expected 100 bytes, got %d", got)
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		snap, err := downloads.Cancel(ctx, taskID)
		if err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if len(snap.Failed) != 1 || snap.Failed[0].Status != transfer.StatusCancelled {
			t.Errorf("Expected cancelled task in failed list, got %+v", snap)
		}
	})

	t.Run("ClearFailed", func(t *testing.T) {
		snap, err := downloads.ClearFailed(ctx)
		if err != nil {
			t.Fatalf("ClearFailed failed: %v", err)
		}
		if !snap.IsEmpty() {
			t.Errorf("Expected empty snapshot, got %+v", snap)
		}
	})

	t.Run("RemoveUnknown", func(t *testing.T) {
		if _, err := downloads.Remove(ctx, taskID); !transfer.IsInvalidRequest(err) {
			t.Errorf("Expected ErrInvalidRequest, got %v", err)
		}
	})

	t.Run("ClearHistory", func(t *testing.T) {
		if _, err := client.Backend(transfer.KindUpload).ClearHistory(ctx); err != nil {
			t.Errorf("ClearHistory failed: %v", err)
		}
	})

	t.Run("UnknownKind", func(t *testing.T) {
		if _, err := client.Backend("sideways").FetchSnapshot(ctx); !transfer.IsInvalidRequest(err) {
			t.Errorf("Expected ErrInvalidRequest, got %v", err)
		}
	})
}

func TestUnixIPCProgressStream(t *testing.T) {
	engine, client := startTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := client.Backend(transfer.KindDownload)
	stream, err := backend.SubscribeProgress(ctx)
	if err != nil {
		t.Fatalf("SubscribeProgress failed: %v", err)
	}
	defer stream.Close()

	snap, err := backend.Enqueue(ctx, transfer.Request{ItemRef: "file-1", Target: t.TempDir(), Size: 1000})
	if err != nil {
		t.Fatal(err)
	}

	// Upload progress must not leak into the download stream.
	engine.Bus().PublishProgress(transfer.ProgressEvent{TaskID: "up", Kind: transfer.KindUpload, BytesTransferred: 1})
	engine.Step(time.Second)

	got := make(chan transfer.ProgressEvent, 1)
	errs := make(chan error, 1)
	go func() {
		ev, err := stream.Recv()
		if err != nil {
			errs <- err
			return
		}
		got <- ev
	}()

	select {
	case ev := <-got:
		if ev.TaskID != snap.Active[0].ID || ev.BytesTransferred != 100 {
			t.Errorf("Unexpected progress event %+v", ev)
		}
	case err := <-errs:
		t.Fatalf("Recv failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for progress")
	}

	// Cancelling the subscription context ends the stream.
	cancel()
	done := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Errorf("Expected io.EOF after cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not end after cancel")
	}
}

func TestUnixIPCServerUnavailable(t *testing.T) {
	dir, err := os.MkdirTemp("", "ipc")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	client := NewClient(filepath.Join(dir, "nobody.sock"))
	client.SetTimeout(200 * time.Millisecond)

	if _, err := client.Backend(transfer.KindDownload).FetchSnapshot(context.Background()); !transfer.IsUnavailable(err) {
		t.Errorf("Expected ErrBackendUnavailable, got %v", err)
	}
	if _, err := client.Backend(transfer.KindDownload).SubscribeProgress(context.Background()); !transfer.IsUnavailable(err) {
		t.Errorf("Expected ErrBackendUnavailable for subscribe, got %v", err)
	}
}

func TestUnixIPCStaleSocketReplaced(t *testing.T) {
	dir, err := os.MkdirTemp("", "ipc")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	socketPath := filepath.Join(dir, "stale.sock")
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	server := NewServer(nil, nil, socketPath)
	if err := server.Start(); err != nil {
		t.Fatalf("Start over stale socket failed: %v", err)
	}
	defer server.Stop()

	second := NewServer(nil, nil, socketPath)
	if err := second.Start(); err == nil {
		second.Stop()
		t.Error("Second server on a live socket should fail")
	}
}
