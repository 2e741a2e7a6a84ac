package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rescale/transfer-sync/internal/constants"
	"github.com/rescale/transfer-sync/internal/queue"
	"github.com/rescale/transfer-sync/internal/transfer"
)

// Client connects to the IPC server via Unix domain socket or named pipe.
type Client struct {
	timeout    time.Duration
	socketPath string
}

// NewClient creates a new IPC client for socketPath.
func NewClient(socketPath string) *Client {
	return &Client{
		timeout:    constants.DefaultBackendTimeout,
		socketPath: socketPath,
	}
}

// SetTimeout sets the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// connect establishes a connection to the socket or pipe.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := dial(dialCtx, c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to IPC server at %s: %v", transfer.ErrBackendUnavailable, c.socketPath, err)
	}

	return conn, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

func writeRequest(conn net.Conn, req *Request) error {
	data, err := req.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("%w: failed to send request: %v", transfer.ErrBackendUnavailable, err)
	}
	return nil
}

func readResponse(reader *bufio.Reader) (*Response, error) {
	respData, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", transfer.ErrBackendUnavailable, err)
	}

	resp, err := DecodeResponse(respData)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", transfer.ErrBackendUnavailable, err)
	}
	return resp, nil
}

// sendRequest sends a request and receives a response.
func (c *Client) sendRequest(ctx context.Context, req *Request) (*Response, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// Set deadline for the entire operation
	conn.SetDeadline(c.deadline(ctx))

	if err := writeRequest(conn, req); err != nil {
		return nil, err
	}
	resp, err := readResponse(bufio.NewReader(conn))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return resp, nil
}

// snapshotCall runs a command that answers with a snapshot.
func (c *Client) snapshotCall(ctx context.Context, req *Request) (transfer.Snapshot, error) {
	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return transfer.Snapshot{}, err
	}
	if err := resp.Err(); err != nil {
		return transfer.Snapshot{}, err
	}
	snap, err := resp.GetSnapshot()
	if err != nil {
		return transfer.Snapshot{}, fmt.Errorf("%w: malformed snapshot: %v", transfer.ErrBackendUnavailable, err)
	}
	return snap, nil
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.snapshotCall(ctx, NewRequest(MsgGetSnapshot, transfer.KindDownload))
	return err
}

// Backend returns the command surface for one kind.
func (c *Client) Backend(kind transfer.Kind) *KindClient {
	return &KindClient{client: c, kind: kind}
}

// Backends returns a backend for every kind.
func (c *Client) Backends() map[transfer.Kind]queue.Backend {
	out := make(map[transfer.Kind]queue.Backend, len(transfer.Kinds))
	for _, k := range transfer.Kinds {
		out[k] = c.Backend(k)
	}
	return out
}

// KindClient implements queue.Backend over IPC for a single kind.
type KindClient struct {
	client *Client
	kind   transfer.Kind
}

var _ queue.Backend = (*KindClient)(nil)

func (k *KindClient) Enqueue(ctx context.Context, req transfer.Request) (transfer.Snapshot, error) {
	return k.client.snapshotCall(ctx, NewEnqueueRequest(k.kind, req))
}

func (k *KindClient) Cancel(ctx context.Context, taskID string) (transfer.Snapshot, error) {
	return k.client.snapshotCall(ctx, NewTaskRequest(MsgCancel, k.kind, taskID))
}

func (k *KindClient) Remove(ctx context.Context, taskID string) (transfer.Snapshot, error) {
	return k.client.snapshotCall(ctx, NewTaskRequest(MsgRemove, k.kind, taskID))
}

func (k *KindClient) ClearFailed(ctx context.Context) (transfer.Snapshot, error) {
	return k.client.snapshotCall(ctx, NewRequest(MsgClearFailed, k.kind))
}

func (k *KindClient) ClearHistory(ctx context.Context) (transfer.Snapshot, error) {
	return k.client.snapshotCall(ctx, NewRequest(MsgClearHistory, k.kind))
}

func (k *KindClient) FetchSnapshot(ctx context.Context) (transfer.Snapshot, error) {
	return k.client.snapshotCall(ctx, NewRequest(MsgGetSnapshot, k.kind))
}

// SubscribeProgress opens a long-lived connection receiving progress
// pushes. Only the handshake is bounded by the client timeout.
func (k *KindClient) SubscribeProgress(ctx context.Context) (queue.ProgressStream, error) {
	conn, err := k.client.connect(ctx)
	if err != nil {
		return nil, err
	}

	conn.SetDeadline(k.client.deadline(ctx))
	if err := writeRequest(conn, NewRequest(MsgSubscribeProgress, k.kind)); err != nil {
		conn.Close()
		return nil, err
	}

	reader := bufio.NewReader(conn)
	resp, err := readResponse(reader)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := resp.Err(); err != nil {
		conn.Close()
		return nil, err
	}
	if resp.Type != MsgSubscribed {
		conn.Close()
		return nil, fmt.Errorf("%w: unexpected handshake %q", transfer.ErrBackendUnavailable, resp.Type)
	}
	conn.SetDeadline(time.Time{})

	st := &progressStream{conn: conn, reader: reader}
	st.mu.Lock()
	st.stop = context.AfterFunc(ctx, func() { st.Close() })
	st.mu.Unlock()
	return st, nil
}

// progressStream reads Progress pushes from a subscribed connection.
type progressStream struct {
	conn   net.Conn
	reader *bufio.Reader
	once   sync.Once

	mu     sync.Mutex
	stop   func() bool
	closed bool
}

func (s *progressStream) Recv() (transfer.ProgressEvent, error) {
	for {
		data, err := s.reader.ReadBytes('\n')
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if errors.Is(err, io.EOF) || closed {
				return transfer.ProgressEvent{}, io.EOF
			}
			return transfer.ProgressEvent{}, fmt.Errorf("%w: %v", transfer.ErrStreamInterrupted, err)
		}

		resp, err := DecodeResponse(data)
		if err != nil {
			return transfer.ProgressEvent{}, fmt.Errorf("%w: %v", transfer.ErrStreamInterrupted, err)
		}
		if err := resp.Err(); err != nil {
			return transfer.ProgressEvent{}, fmt.Errorf("%w: %v", transfer.ErrStreamInterrupted, err)
		}
		if resp.Type != MsgProgress {
			continue
		}
		return resp.GetProgress()
	}
}

func (s *progressStream) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		stop := s.stop
		s.mu.Unlock()
		err = s.conn.Close()
		if stop != nil {
			stop()
		}
	})
	return err
}
