// Package workspace locates the medic workspace root.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/steveyegge/medic/internal/constants"
)

// ErrNotFound indicates no workspace was found.
var ErrNotFound = errors.New("not in a medic workspace")

// Find locates the workspace root by walking up from startDir. A directory is
// a workspace if it holds medic.toml or a .medic state directory; medic.toml
// wins when both appear at different levels. Returns "" if none is found.
// Does not resolve symlinks to stay consistent with os.Getwd().
func Find(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	var stateMatch string
	current := absDir
	for {
		if isFile(filepath.Join(current, constants.FileConfig)) {
			return current, nil
		}
		if stateMatch == "" && isDir(constants.MedicDir(current)) {
			stateMatch = current
		}

		parent := filepath.Dir(current)
		if parent == current {
			return stateMatch, nil
		}
		current = parent
	}
}

// FindOrError is like Find but returns ErrNotFound if no workspace exists.
func FindOrError(startDir string) (string, error) {
	root, err := Find(startDir)
	if err != nil {
		return "", err
	}
	if root == "" {
		return "", ErrNotFound
	}
	return root, nil
}

// FindFromCwdOr locates the workspace from the working directory, falling
// back to the working directory itself when none is found.
func FindFromCwdOr() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	root, err := Find(cwd)
	if err != nil {
		return "", err
	}
	if root == "" {
		return cwd, nil
	}
	return root, nil
}

// IsWorkspace checks if dir itself is a workspace root.
func IsWorkspace(dir string) (bool, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, fmt.Errorf("resolving path: %w", err)
	}
	return isFile(filepath.Join(absDir, constants.FileConfig)) || isDir(constants.MedicDir(absDir)), nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
