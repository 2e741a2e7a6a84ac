// Package httpapi serves the engine command surface over HTTP and provides
// the matching client, so a synchronizer can run against a remote engine.
//
// Every command answers with the engine's snapshot for the kind. Progress
// is streamed as newline-delimited JSON on a long-lived GET.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rescale/transfer-sync/internal/logging"
	"github.com/rescale/transfer-sync/internal/queue"
	"github.com/rescale/transfer-sync/internal/transfer"
)

const (
	backendKey      = "backend"
	shutdownTimeout = 5 * time.Second
	ndjsonType      = "application/x-ndjson"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

const (
	codeInvalidRequest = "invalid_request"
	codeUnavailable    = "unavailable"
)

// Server exposes one backend per kind under /api/v1/:kind.
type Server struct {
	backends map[transfer.Kind]queue.Backend
	logger   *logging.Logger
	router   *gin.Engine
}

// NewServer builds the router for backends.
func NewServer(backends map[transfer.Kind]queue.Backend, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Server{
		backends: backends,
		logger:   logger.Named("http"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), ZerologLogger(s.logger))
	s.RegisterRoutes(router)
	s.router = router
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RegisterRoutes registers API routes on the provided gin engine.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/:kind", s.resolveBackend)
	{
		api.GET("/snapshot", s.GetSnapshot)
		api.POST("/enqueue", s.Enqueue)
		api.POST("/tasks/:id/cancel", s.Cancel)
		api.DELETE("/tasks/:id", s.Remove)
		api.POST("/clear-failed", s.ClearFailed)
		api.POST("/clear-history", s.ClearHistory)
		api.GET("/progress", s.StreamProgress)
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP API listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP API shutdown incomplete")
		srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("HTTP API stopped")
	return nil
}

// resolveBackend binds the :kind path segment to its backend.
func (s *Server) resolveBackend(c *gin.Context) {
	kind := transfer.Kind(c.Param("kind"))
	backend, ok := s.backends[kind]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{
			Error: "unknown transfer kind " + string(kind),
			Code:  codeInvalidRequest,
		})
		return
	}
	c.Set(backendKey, backend)
	c.Next()
}

func backendFrom(c *gin.Context) queue.Backend {
	return c.MustGet(backendKey).(queue.Backend)
}

// GetSnapshot returns the engine's current snapshot.
func (s *Server) GetSnapshot(c *gin.Context) {
	snap, err := backendFrom(c).FetchSnapshot(c.Request.Context())
	s.reply(c, snap, err)
}

// Enqueue submits a transfer request.
func (s *Server) Enqueue(c *gin.Context) {
	var req transfer.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Warn().Err(err).Msg("invalid enqueue request")
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: codeInvalidRequest})
		return
	}
	snap, err := backendFrom(c).Enqueue(c.Request.Context(), req)
	s.reply(c, snap, err)
}

// Cancel asks the engine to stop an active task.
func (s *Server) Cancel(c *gin.Context) {
	snap, err := backendFrom(c).Cancel(c.Request.Context(), c.Param("id"))
	s.reply(c, snap, err)
}

// Remove deletes a task from whichever list holds it.
func (s *Server) Remove(c *gin.Context) {
	snap, err := backendFrom(c).Remove(c.Request.Context(), c.Param("id"))
	s.reply(c, snap, err)
}

// ClearFailed drops failed and cancelled tasks.
func (s *Server) ClearFailed(c *gin.Context) {
	snap, err := backendFrom(c).ClearFailed(c.Request.Context())
	s.reply(c, snap, err)
}

// ClearHistory drops every finished task.
func (s *Server) ClearHistory(c *gin.Context) {
	snap, err := backendFrom(c).ClearHistory(c.Request.Context())
	s.reply(c, snap, err)
}

// StreamProgress writes one JSON progress event per line until the client
// goes away or the engine ends the feed.
func (s *Server) StreamProgress(c *gin.Context) {
	ctx := c.Request.Context()
	stream, err := backendFrom(c).SubscribeProgress(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", ndjsonType)
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	enc := json.NewEncoder(c.Writer)
	for {
		ev, err := stream.Recv()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				s.logger.Warn().Err(err).Msg("progress stream ended")
			}
			return
		}
		if err := enc.Encode(ev); err != nil {
			s.logger.Debug().Err(err).Msg("progress client went away")
			return
		}
		c.Writer.Flush()
	}
}

func (s *Server) reply(c *gin.Context, snap transfer.Snapshot, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) fail(c *gin.Context, err error) {
	if transfer.IsInvalidRequest(err) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: codeInvalidRequest})
		return
	}
	s.logger.Warn().Err(err).Str("path", c.FullPath()).Msg("backend unavailable")
	c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Code: codeUnavailable})
}
