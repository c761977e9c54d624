// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package util holds small helpers shared by the config and registry loaders.
package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// MaxFileSize bounds configuration and registry files
const MaxFileSize = 10 * 1024 * 1024

// ReadFileSafely reads a regular file of at most MaxFileSize bytes after
// resolving its absolute path.
func ReadFileSafely(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path for %s: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", absPath)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d", absPath, info.Size(), MaxFileSize)
	}
	return os.ReadFile(absPath) // #nosec G304
}
