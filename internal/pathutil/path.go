// Package pathutil provides path validation utilities and document key handling.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckDirectoryWritable checks if a directory exists and is writable.
// If the directory doesn't exist, it attempts to create it.
func CheckDirectoryWritable(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot access directory %s: %w", absPath, err)
		}
		if err := os.MkdirAll(absPath, 0755); err != nil {
			return fmt.Errorf("directory %s does not exist and cannot be created: %w", absPath, err)
		}
	} else if !info.IsDir() {
		return fmt.Errorf("path %s exists but is not a directory", absPath)
	}

	// Probe with a real file; permission bits lie on some mounts
	testFile, err := os.CreateTemp(absPath, ".docvault-write-test-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", absPath, err)
	}
	name := testFile.Name()
	_, writeErr := testFile.Write([]byte("test"))
	testFile.Close()
	os.Remove(name)

	if writeErr != nil {
		return fmt.Errorf("directory %s is not writable: %w", absPath, writeErr)
	}

	return nil
}

// CheckFileDirectoryWritable checks if the directory containing a file path is writable.
func CheckFileDirectoryWritable(filePath string, fileType string) error {
	if filePath == "" {
		return nil // Empty path is valid for some config options (like log file)
	}

	dir := filepath.Dir(filePath)
	if dir == "" || dir == "." {
		dir = "./"
	}

	if err := CheckDirectoryWritable(dir); err != nil {
		return fmt.Errorf("%s file directory check failed: %w", fileType, err)
	}

	return nil
}
