package transfer

import "fmt"

// ProgressEvent is an incremental byte-progress notification for one task,
// pushed by the engine asynchronously and unordered relative to snapshots.
type ProgressEvent struct {
	TaskID           string   `json:"task_id"`
	Kind             Kind     `json:"kind,omitempty"`
	BytesTransferred int64    `json:"bytes_transferred"`
	SizeTotal        *int64   `json:"size_total,omitempty"`
	SpeedBps         *float64 `json:"speed_bps,omitempty"`
}

// Validate returns ErrMalformedEvent when the event cannot be correlated
// with a task.
func (e ProgressEvent) Validate() error {
	if e.TaskID == "" {
		return fmt.Errorf("%w: missing task id", ErrMalformedEvent)
	}
	if e.BytesTransferred < 0 {
		return fmt.Errorf("%w: negative byte count for task %s", ErrMalformedEvent, e.TaskID)
	}
	return nil
}
