// Package diskspace checks free space on the filesystem a download will
// land on.
package diskspace

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space for %s: need %s, have %s available",
		e.Path, humanize.IBytes(uint64(e.RequiredBytes)), humanize.IBytes(uint64(e.AvailableBytes)))
}

// CheckAvailableSpace reports whether the filesystem holding targetPath has
// room for requiredBytes scaled by safetyMargin (1.1 = 10% headroom).
// targetPath itself need not exist, but its directory must. When the
// filesystem cannot be queried the check passes.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	available, err := availableBytes(filepath.Dir(targetPath))
	if err != nil {
		// Network and virtual filesystems; let the write fail on its own
		return nil
	}

	required := int64(float64(requiredBytes) * safetyMargin)
	if available < required {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// GetAvailableSpace returns the available space in bytes for the filesystem
// containing path. Returns 0 if unable to determine.
func GetAvailableSpace(path string) int64 {
	available, err := availableBytes(filepath.Dir(path))
	if err != nil {
		return 0
	}
	return available
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}
