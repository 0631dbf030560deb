package util

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AtomicWriteJSON marshals v as indented JSON and writes it atomically.
// Readers never observe a partially written document.
func AtomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return AtomicWriteFile(path, data, 0o644)
}

// AtomicWriteJSONModTime is AtomicWriteJSON but the replaced file carries
// modTime instead of the time of the write. The timestamp is set before the
// rename, so no reader ever sees the file with a fresh mtime.
func AtomicWriteJSONModTime(path string, v any, modTime time.Time) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, data, 0o644, modTime)
}

// AtomicWriteFile writes data to a uniquely named sibling "<base>.*.tmp" and
// renames it over path, so concurrent writers never share a scratch file.
// The parent directory is created if missing.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return writeAtomic(path, data, perm, time.Time{})
}

func writeAtomic(path string, data []byte, perm os.FileMode, modTime time.Time) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", base, err)
	}

	f, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", base, err)
	}
	tmpPath := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", base, err)
	}
	if err = f.Chmod(perm); err != nil {
		return fmt.Errorf("setting mode on %s: %w", base, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", base, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", base, err)
	}
	if !modTime.IsZero() {
		if err = os.Chtimes(tmpPath, modTime, modTime); err != nil {
			return fmt.Errorf("setting times on %s: %w", base, err)
		}
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing %s: %w", base, err)
	}
	return nil
}
