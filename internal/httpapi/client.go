package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/transfer-sync/internal/constants"
	"github.com/rescale/transfer-sync/internal/logging"
	"github.com/rescale/transfer-sync/internal/queue"
	"github.com/rescale/transfer-sync/internal/transfer"
)

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// retryablehttp logs every attempt at info; keep them at debug
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// Client talks to an engine's HTTP API.
type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	timeout    time.Duration
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = constants.HTTPRetryMax
	retryClient.RetryWaitMin = constants.HTTPRetryWaitMin
	retryClient.RetryWaitMax = constants.HTTPRetryWaitMax
	retryClient.Logger = &retryLogger{logger: logger.Named("http-client")}
	// Hand the last response back so its error body can be classified
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		httpClient: retryClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		timeout:    constants.DefaultBackendTimeout,
	}
}

// SetTimeout sets the per-request timeout. For progress subscriptions it
// only bounds the wait for response headers.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
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

func (c *Client) endpoint(kind transfer.Kind, parts ...string) string {
	path := c.baseURL + "/api/v1/" + url.PathEscape(string(kind))
	for _, p := range parts {
		path += "/" + p
	}
	return path
}

// do performs a request and decodes a snapshot reply.
func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}) (transfer.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload interface{}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return transfer.Snapshot{}, fmt.Errorf("failed to encode request: %w", err)
		}
		payload = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return transfer.Snapshot{}, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transfer.Snapshot{}, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return transfer.Snapshot{}, statusError(resp)
	}

	var snap transfer.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return transfer.Snapshot{}, fmt.Errorf("%w: malformed snapshot: %v", transfer.ErrBackendUnavailable, err)
	}
	return snap, nil
}

// transportError classifies a failed round trip.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
		return ctxErr
	}
	return fmt.Errorf("%w: %v", transfer.ErrBackendUnavailable, err)
}

// statusError maps a non-2xx reply onto the transfer sentinels: 4xx is a
// rejected request, anything else means the engine is unavailable.
func statusError(resp *http.Response) error {
	var body errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = resp.Status
	}

	if body.Code == codeInvalidRequest || (resp.StatusCode >= 400 && resp.StatusCode < 500 && body.Code != codeUnavailable) {
		return fmt.Errorf("%w: server error: %s", transfer.ErrInvalidRequest, msg)
	}
	return fmt.Errorf("%w: server error (%d): %s", transfer.ErrBackendUnavailable, resp.StatusCode, msg)
}

// KindClient implements queue.Backend over HTTP for a single kind.
type KindClient struct {
	client *Client
	kind   transfer.Kind
}

var _ queue.Backend = (*KindClient)(nil)

func (k *KindClient) Enqueue(ctx context.Context, req transfer.Request) (transfer.Snapshot, error) {
	return k.client.do(ctx, http.MethodPost, k.client.endpoint(k.kind, "enqueue"), req)
}

func (k *KindClient) Cancel(ctx context.Context, taskID string) (transfer.Snapshot, error) {
	return k.client.do(ctx, http.MethodPost, k.client.endpoint(k.kind, "tasks", url.PathEscape(taskID), "cancel"), nil)
}

func (k *KindClient) Remove(ctx context.Context, taskID string) (transfer.Snapshot, error) {
	return k.client.do(ctx, http.MethodDelete, k.client.endpoint(k.kind, "tasks", url.PathEscape(taskID)), nil)
}

func (k *KindClient) ClearFailed(ctx context.Context) (transfer.Snapshot, error) {
	return k.client.do(ctx, http.MethodPost, k.client.endpoint(k.kind, "clear-failed"), nil)
}

func (k *KindClient) ClearHistory(ctx context.Context) (transfer.Snapshot, error) {
	return k.client.do(ctx, http.MethodPost, k.client.endpoint(k.kind, "clear-history"), nil)
}

func (k *KindClient) FetchSnapshot(ctx context.Context) (transfer.Snapshot, error) {
	return k.client.do(ctx, http.MethodGet, k.client.endpoint(k.kind, "snapshot"), nil)
}

// SubscribeProgress opens the NDJSON progress feed. The stream lives as
// long as ctx; only the wait for headers is bounded by the timeout.
func (k *KindClient) SubscribeProgress(ctx context.Context) (queue.ProgressStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	headerTimer := time.AfterFunc(k.client.timeout, cancel)

	req, err := retryablehttp.NewRequestWithContext(streamCtx, http.MethodGet, k.client.endpoint(k.kind, "progress"), nil)
	if err != nil {
		headerTimer.Stop()
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", ndjsonType)

	resp, err := k.client.httpClient.Do(req)
	if !headerTimer.Stop() {
		// Headers did not arrive in time
		if resp != nil {
			resp.Body.Close()
		}
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: progress subscription timed out", transfer.ErrBackendUnavailable)
	}
	if err != nil {
		cancel()
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, statusError(resp)
	}

	return &progressStream{
		ctx:     ctx,
		body:    resp.Body,
		scanner: newScanner(resp.Body),
		cancel:  cancel,
	}, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), constants.IPCMaxMessageSize)
	return sc
}

// progressStream decodes one event per line of the response body.
type progressStream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc

	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func (s *progressStream) Recv() (transfer.ProgressEvent, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev transfer.ProgressEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return transfer.ProgressEvent{}, fmt.Errorf("%w: %v", transfer.ErrStreamInterrupted, err)
		}
		return ev, nil
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	err := s.scanner.Err()
	if err == nil || closed || s.ctx.Err() != nil {
		return transfer.ProgressEvent{}, io.EOF
	}
	return transfer.ProgressEvent{}, fmt.Errorf("%w: %v", transfer.ErrStreamInterrupted, err)
}

func (s *progressStream) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		err = s.body.Close()
	})
	return err
}
