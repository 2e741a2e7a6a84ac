package transfer

import "errors"

// Error taxonomy for the reconciliation layer. Transports wrap these with
// fmt.Errorf("...: %w", ...) so callers can test with errors.Is.
var (
	// ErrBackendUnavailable indicates a transport or process level failure
	// reaching the engine.
	ErrBackendUnavailable = errors.New("transfer backend unavailable")

	// ErrInvalidRequest indicates the engine rejected a command, e.g. an
	// unusable target directory or an unknown task.
	ErrInvalidRequest = errors.New("invalid transfer request")

	// ErrStreamInterrupted indicates the progress stream closed or failed.
	// Never surfaced to command callers.
	ErrStreamInterrupted = errors.New("progress stream interrupted")

	// ErrMalformedEvent indicates a progress event without a task id.
	ErrMalformedEvent = errors.New("malformed progress event")
)

// IsUnavailable reports whether err is (or wraps) ErrBackendUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// IsInvalidRequest reports whether err is (or wraps) ErrInvalidRequest.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}
