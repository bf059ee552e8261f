// Package filex contains the file helpers shared by the filesystem driver and
// the CLI: directory creation and crash-safe file replacement.
package filex

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	DirPerm  os.FileMode = 0o700
	FilePerm os.FileMode = 0o600
)

// rename is swapped in tests to simulate a failed commit.
var rename = os.Rename

// EnsureDir creates dir and its parents when missing and returns its absolute
// path. It fails if dir exists but is not a directory.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, DirPerm); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}
	return abs, nil
}

// Exists reports whether path exists. Errors other than "not exist" are returned.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// WriteTemp writes data to a new temp file in dir, fsyncs it and applies perm.
// The caller renames or removes the returned path.
func WriteTemp(dir, pattern string, data []byte, perm os.FileMode) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(path, perm); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	return path, nil
}

// Commit renames tmp over path. tmp is removed when the rename fails.
func Commit(tmp, path string) error {
	if err := rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// WriteAtomic replaces path with data. Readers see either the old or the new
// content, never a partial file.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := WriteTemp(filepath.Dir(path), ".tmp-*", data, perm)
	if err != nil {
		return err
	}
	return Commit(tmp, path)
}

// ProbeWritable creates and removes an empty file in dir.
func ProbeWritable(dir, pattern string) error {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Remove(name)
}
