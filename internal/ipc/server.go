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
	"github.com/rescale/transfer-sync/internal/logging"
	"github.com/rescale/transfer-sync/internal/queue"
	"github.com/rescale/transfer-sync/internal/transfer"
)

// requestDeadline bounds reading a request and writing its response.
const requestDeadline = 30 * time.Second

// Server exposes one backend per kind on a Unix domain socket, or a named
// pipe on Windows.
type Server struct {
	backends   map[transfer.Kind]queue.Backend
	logger     *logging.Logger
	socketPath string
	listener   net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new IPC server listening on socketPath.
func NewServer(backends map[transfer.Kind]queue.Backend, logger *logging.Logger, socketPath string) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		backends:   backends,
		logger:     logger.Named("ipc"),
		socketPath: socketPath,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins listening for IPC connections.
func (s *Server) Start() error {
	listener, err := listen(s.socketPath)
	if err != nil {
		return err
	}
	s.listener = listener

	s.logger.Info().Str("socket", s.socketPath).Msg("IPC server started")

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully shuts down the IPC server.
func (s *Server) Stop() {
	s.logger.Debug().Msg("Stopping IPC server")
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()
	cleanup(s.socketPath)
	s.logger.Info().Msg("IPC server stopped")
}

// GetSocketPath returns the socket the server listens on.
func (s *Server) GetSocketPath() string {
	return s.socketPath
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("Failed to accept IPC connection")
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection processes a single client connection: one request and
// its response, or a progress subscription that lasts until either side
// closes.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	conn.SetDeadline(time.Now().Add(requestDeadline))

	reader := bufio.NewReader(io.LimitReader(conn, constants.IPCMaxMessageSize))
	data, err := reader.ReadBytes('\n')
	if err != nil {
		if err != io.EOF {
			s.logger.Warn().Err(err).Msg("Failed to read IPC request")
		}
		return
	}

	req, err := DecodeRequest(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to decode IPC request")
		s.sendResponse(conn, NewErrorResponse(fmt.Errorf("%w: invalid request format", transfer.ErrInvalidRequest)))
		return
	}

	s.logger.Debug().Str("type", string(req.Type)).Str("kind", string(req.Kind)).Msg("IPC request received")

	backend, ok := s.backends[req.Kind]
	if !ok {
		s.sendResponse(conn, NewErrorResponse(fmt.Errorf("%w: unknown transfer kind %q", transfer.ErrInvalidRequest, req.Kind)))
		return
	}

	if req.Type == MsgSubscribeProgress {
		s.streamProgress(conn, backend)
		return
	}

	s.sendResponse(conn, s.handleRequest(req, backend))
}

// handleRequest dispatches a command to the backend.
func (s *Server) handleRequest(req *Request, backend queue.Backend) *Response {
	ctx, cancel := context.WithTimeout(s.ctx, requestDeadline)
	defer cancel()

	var (
		snap transfer.Snapshot
		err  error
	)
	switch req.Type {
	case MsgEnqueue:
		if req.Transfer == nil {
			return NewErrorResponse(fmt.Errorf("%w: enqueue without transfer request", transfer.ErrInvalidRequest))
		}
		snap, err = backend.Enqueue(ctx, *req.Transfer)
	case MsgCancel:
		snap, err = backend.Cancel(ctx, req.TaskID)
	case MsgRemove:
		snap, err = backend.Remove(ctx, req.TaskID)
	case MsgClearFailed:
		snap, err = backend.ClearFailed(ctx)
	case MsgClearHistory:
		snap, err = backend.ClearHistory(ctx)
	case MsgGetSnapshot:
		snap, err = backend.FetchSnapshot(ctx)
	default:
		return NewErrorResponse(fmt.Errorf("%w: unknown request type %q", transfer.ErrInvalidRequest, req.Type))
	}

	if err != nil {
		s.logger.Debug().Err(err).Str("type", string(req.Type)).Msg("IPC request failed")
		return NewErrorResponse(err)
	}
	return NewSnapshotResponse(snap)
}

// streamProgress forwards the backend's progress feed until the client
// disconnects, the backend stream ends, or the server stops.
func (s *Server) streamProgress(conn net.Conn, backend queue.Backend) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	stream, err := backend.SubscribeProgress(ctx)
	if err != nil {
		s.sendResponse(conn, NewErrorResponse(err))
		return
	}
	defer stream.Close()

	conn.SetDeadline(time.Time{})
	if !s.sendResponse(conn, NewSubscribedResponse()) {
		return
	}

	// The client never writes after subscribing; a read returning means it
	// went away.
	go func() {
		io.Copy(io.Discard, conn)
		cancel()
		stream.Close()
	}()

	for {
		ev, err := stream.Recv()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				s.logger.Warn().Err(err).Msg("Progress stream ended")
			}
			return
		}
		conn.SetWriteDeadline(time.Now().Add(requestDeadline))
		if !s.sendResponse(conn, NewProgressResponse(ev)) {
			return
		}
	}
}

// sendResponse sends a response to the client.
func (s *Server) sendResponse(conn net.Conn, resp *Response) bool {
	data, err := resp.Encode()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode IPC response")
		return false
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send IPC response")
		return false
	}
	return true
}
