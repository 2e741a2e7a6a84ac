// Package validation checks names and paths that arrive in transfer
// requests before they touch the local filesystem.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is wrapped by every rejection below.
var ErrUnsafePath = errors.New("unsafe path")

// ValidateFilename accepts a single path component. Separators of either
// style, NUL bytes, "." and ".." are rejected; "data..v2.csv" is fine.
func ValidateFilename(filename string) error {
	switch {
	case filename == "":
		return fmt.Errorf("%w: filename cannot be empty", ErrUnsafePath)
	case strings.ContainsRune(filename, 0):
		return fmt.Errorf("%w: filename contains null byte: %q", ErrUnsafePath, filename)
	case strings.ContainsAny(filename, `/\`):
		return fmt.Errorf("%w: filename cannot contain path separators: %s", ErrUnsafePath, filename)
	case filename == "." || filename == "..":
		return fmt.Errorf("%w: filename cannot be %q", ErrUnsafePath, filename)
	}
	return nil
}

// ValidatePathInDirectory checks that path, resolved against baseDir when
// relative, stays inside baseDir.
//
//	ValidatePathInDirectory("../../etc/passwd", "/tmp/results") // error
//	ValidatePathInDirectory("run-4/out.csv", "/tmp/results")    // ok
func ValidatePathInDirectory(path string, baseDir string) error {
	if path == "" || baseDir == "" {
		return fmt.Errorf("%w: path and base directory are required", ErrUnsafePath)
	}

	base, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}

	resolved := filepath.Clean(path)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(base, resolved)
	}

	rel, err := filepath.Rel(base, resolved)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s escapes %s", ErrUnsafePath, path, baseDir)
	}
	return nil
}
