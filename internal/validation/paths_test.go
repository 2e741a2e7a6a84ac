package validation

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestValidateFilename(t *testing.T) {
	testCases := []struct {
		name        string
		filename    string
		expectValid bool
	}{
		{"simple", "file.txt", true},
		{"version dots", "file.v1.2.3.txt", true},
		{"double dot inside", "data..v2.csv", true},
		{"hidden file", ".hidden", true},
		{"spaces", "my file.txt", true},

		{"empty", "", false},
		{"dot", ".", false},
		{"dot dot", "..", false},
		{"unix traversal", "../etc/passwd", false},
		{"windows traversal", `..\windows\system32`, false},
		{"nested", "dir/file.txt", false},
		{"null byte", "file\x00.txt", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateFilename(tc.filename)
			if tc.expectValid && err != nil {
				t.Errorf("ValidateFilename(%q) unexpected error: %v", tc.filename, err)
			}
			if !tc.expectValid {
				if err == nil {
					t.Errorf("ValidateFilename(%q) expected error", tc.filename)
				} else if !errors.Is(err, ErrUnsafePath) {
					t.Errorf("error should wrap ErrUnsafePath: %v", err)
				}
			}
		})
	}
}

func TestValidatePathInDirectory(t *testing.T) {
	base := t.TempDir()

	testCases := []struct {
		name        string
		path        string
		expectValid bool
	}{
		{"relative inside", "run-4/out.csv", true},
		{"absolute inside", filepath.Join(base, "out.csv"), true},
		{"base itself", base, true},
		{"clean back inside", "a/../b.txt", true},
		{"escapes", "../../etc/passwd", false},
		{"absolute outside", filepath.Join(filepath.Dir(base), "elsewhere.txt"), false},
		{"empty", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePathInDirectory(tc.path, base)
			if tc.expectValid && err != nil {
				t.Errorf("ValidatePathInDirectory(%q) unexpected error: %v", tc.path, err)
			}
			if !tc.expectValid && err == nil {
				t.Errorf("ValidatePathInDirectory(%q) expected error", tc.path)
			}
		})
	}
}
