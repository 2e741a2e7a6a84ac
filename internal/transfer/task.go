// Package transfer defines the transfer queue data model shared by the
// synchronizer, the engine transports and the simulated engine.
package transfer

import (
	"fmt"
	"time"
)

// Kind indicates whether a task is an upload or download.
type Kind string

const (
	KindDownload Kind = "download"
	KindUpload   Kind = "upload"
)

// Kinds lists every queue kind in display order.
var Kinds = []Kind{KindDownload, KindUpload}

// ParseKind converts a user-supplied string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDownload, KindUpload:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown transfer kind %q", ErrInvalidRequest, s)
	}
}

// Status represents the lifecycle status of a transfer task.
type Status string

const (
	StatusInProgress Status = "in-progress" // Queued or moving bytes
	StatusCompleted  Status = "completed"   // Successfully completed
	StatusFailed     Status = "failed"      // Failed with error
	StatusCancelled  Status = "cancelled"   // Cancelled by user
)

// IsTerminal returns true for completed, failed and cancelled.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is one unit of transfer work as reported by the engine.
// Optional numeric and time fields are pointers so that "unknown" and zero
// stay distinguishable.
type Task struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`

	Name   string `json:"name,omitempty"`   // Display name (filename)
	Source string `json:"source,omitempty"` // Item reference the task was created from
	Target string `json:"target,omitempty"` // Destination directory or folder ID

	SizeTotal        *int64 `json:"size_total,omitempty"`
	BytesTransferred *int64 `json:"bytes_transferred,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	// Result is the saved path (download), remote file ID (upload) or
	// session handle, once the engine has one.
	Result string `json:"result,omitempty"`
}

// Clone returns a deep copy of the task. Pointer fields are duplicated so
// the copy can be handed to observers safely.
func (t Task) Clone() Task {
	c := t
	if t.SizeTotal != nil {
		v := *t.SizeTotal
		c.SizeTotal = &v
	}
	if t.BytesTransferred != nil {
		v := *t.BytesTransferred
		c.BytesTransferred = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return c
}

// ProgressRatio returns BytesTransferred / SizeTotal. The second result is
// false when either field is missing or the total is zero.
func ProgressRatio(t Task) (float64, bool) {
	if t.BytesTransferred == nil || t.SizeTotal == nil || *t.SizeTotal == 0 {
		return 0, false
	}
	return float64(*t.BytesTransferred) / float64(*t.SizeTotal), true
}

// Request is the input to an enqueue command.
type Request struct {
	// ItemRef identifies what to transfer:
	//   - downloads: remote file ID
	//   - uploads: local file path
	ItemRef string `json:"item_ref"`

	// Target is the destination:
	//   - downloads: local directory
	//   - uploads: remote folder ID
	Target string `json:"target"`

	// Overwrite allows replacing an existing destination.
	Overwrite bool `json:"overwrite"`

	// Name and Size are optional hints for display before the engine
	// reports its own values.
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Int64 returns a pointer to v. Handy for optional fields.
func Int64(v int64) *int64 { return &v }

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Time returns a pointer to v.
func Time(v time.Time) *time.Time { return &v }
