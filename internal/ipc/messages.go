// Package ipc carries the engine command surface over a Unix domain socket
// using newline-delimited JSON messages.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rescale/transfer-sync/internal/transfer"
)

// MessageType identifies the type of IPC message.
type MessageType string

const (
	// Request types (client -> server)
	MsgEnqueue           MessageType = "Enqueue"
	MsgCancel            MessageType = "Cancel"
	MsgRemove            MessageType = "Remove"
	MsgClearFailed       MessageType = "ClearFailed"
	MsgClearHistory      MessageType = "ClearHistory"
	MsgGetSnapshot       MessageType = "GetSnapshot"
	MsgSubscribeProgress MessageType = "SubscribeProgress" // Keeps the connection open

	// Response types (server -> client)
	MsgSnapshot   MessageType = "Snapshot"
	MsgSubscribed MessageType = "Subscribed"
	MsgProgress   MessageType = "Progress" // Pushed on a subscribed connection
	MsgError      MessageType = "Error"
)

// ErrorCode classifies a failed request so the client can map it back to
// the transfer error sentinels.
type ErrorCode string

const (
	CodeInvalidRequest ErrorCode = "invalid_request"
	CodeUnavailable    ErrorCode = "unavailable"
)

// Request represents an IPC request from client to server.
type Request struct {
	Type MessageType   `json:"type"`
	Kind transfer.Kind `json:"kind"`

	// TaskID is set for Cancel and Remove.
	TaskID string `json:"task_id,omitempty"`

	// Transfer is set for Enqueue.
	Transfer *transfer.Request `json:"transfer,omitempty"`
}

// Response represents an IPC response or push message from the server.
type Response struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Code    ErrorCode   `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRequest creates a new IPC request for a queue kind.
func NewRequest(msgType MessageType, kind transfer.Kind) *Request {
	return &Request{Type: msgType, Kind: kind}
}

// NewTaskRequest creates a request addressing one task.
func NewTaskRequest(msgType MessageType, kind transfer.Kind, taskID string) *Request {
	return &Request{Type: msgType, Kind: kind, TaskID: taskID}
}

// NewEnqueueRequest creates an Enqueue request.
func NewEnqueueRequest(kind transfer.Kind, req transfer.Request) *Request {
	return &Request{Type: MsgEnqueue, Kind: kind, Transfer: &req}
}

// NewSnapshotResponse creates a snapshot response.
func NewSnapshotResponse(snap transfer.Snapshot) *Response {
	return &Response{Type: MsgSnapshot, Success: true, Data: &snap}
}

// NewSubscribedResponse acknowledges a progress subscription.
func NewSubscribedResponse() *Response {
	return &Response{Type: MsgSubscribed, Success: true}
}

// NewProgressResponse creates a progress push message.
func NewProgressResponse(ev transfer.ProgressEvent) *Response {
	return &Response{Type: MsgProgress, Success: true, Data: &ev}
}

// NewErrorResponse creates an error response, classifying err.
func NewErrorResponse(err error) *Response {
	code := CodeUnavailable
	if transfer.IsInvalidRequest(err) {
		code = CodeInvalidRequest
	}
	return &Response{Type: MsgError, Success: false, Error: err.Error(), Code: code}
}

// Encode serializes a request to JSON.
func (r *Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Encode serializes a response to JSON.
func (r *Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRequest deserializes a request from JSON.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodeResponse deserializes a response from JSON.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Err converts a failed response back into a wrapped sentinel error.
// Returns nil for successful responses.
func (r *Response) Err() error {
	if r.Success {
		return nil
	}
	sentinel := transfer.ErrBackendUnavailable
	if r.Code == CodeInvalidRequest {
		sentinel = transfer.ErrInvalidRequest
	}
	if r.Error == "" {
		return sentinel
	}
	return fmt.Errorf("%w: server error: %s", sentinel, r.Error)
}

// GetSnapshot extracts a Snapshot from a response.
func (r *Response) GetSnapshot() (transfer.Snapshot, error) {
	var snap transfer.Snapshot
	if err := r.decodeData(&snap); err != nil {
		return transfer.Snapshot{}, err
	}
	return snap, nil
}

// GetProgress extracts a ProgressEvent from a push message.
func (r *Response) GetProgress() (transfer.ProgressEvent, error) {
	var ev transfer.ProgressEvent
	if err := r.decodeData(&ev); err != nil {
		return transfer.ProgressEvent{}, err
	}
	return ev, nil
}

// decodeData handles both typed data (in-process) and the generic map
// produced by JSON decoding into interface{}.
func (r *Response) decodeData(out interface{}) error {
	if r.Data == nil {
		return errors.New("response has no data")
	}

	switch v := r.Data.(type) {
	case *transfer.Snapshot:
		if snap, ok := out.(*transfer.Snapshot); ok {
			*snap = *v
			return nil
		}
	case *transfer.ProgressEvent:
		if ev, ok := out.(*transfer.ProgressEvent); ok {
			*ev = *v
			return nil
		}
	}

	// Re-marshal and unmarshal to convert
	data, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
