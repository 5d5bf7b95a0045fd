package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// File keeps a profile's items in a single JSON document on disk. The whole
// document is rewritten atomically on every mutation.
type File struct {
	path  string
	mu    sync.RWMutex
	items map[string]string
}

// OpenFile loads the document at path, creating an empty one if it does not
// exist yet.
func OpenFile(path string) (*File, error) {
	targetDir := filepath.Dir(path)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %q: %w", targetDir, err)
	}

	f := &File{path: path, items: make(map[string]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Write the empty document to make sure the directory is writable
			if err := f.flush(); err != nil {
				return nil, fmt.Errorf("failed to initialize storage file at %q: %w", path, err)
			}
			return f, nil
		}
		return nil, fmt.Errorf("failed to read storage file at %q: %w", path, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &f.items); err != nil {
			return nil, fmt.Errorf("invalid storage file format at %q: %w", path, err)
		}
		if f.items == nil {
			f.items = make(map[string]string)
		}
	}
	return f, nil
}

// Path returns the location of the backing document
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(_ context.Context, key string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	v, ok := f.items[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.items[key]
	f.items[key] = value
	if err := f.flush(); err != nil {
		if existed {
			f.items[key] = prev
		} else {
			delete(f.items, key)
		}
		return err
	}
	return nil
}

func (f *File) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.items[key]
	if !existed {
		return nil
	}
	delete(f.items, key)
	if err := f.flush(); err != nil {
		f.items[key] = prev
		return err
	}
	return nil
}

func (f *File) Keys(_ context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *File) Usage(_ context.Context) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var total int64
	for k, v := range f.items {
		total += entrySize(k, v)
	}
	return total, nil
}

func (f *File) Close() error { return nil }

// flush writes the items through a temp file and rename. Callers hold f.mu.
func (f *File) flush() error {
	targetDir := filepath.Dir(f.path)

	tmpFile, err := os.CreateTemp(targetDir, filepath.Base(f.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %q: %w", targetDir, err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		if _, err := os.Stat(tmpPath); err == nil {
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(f.items); err != nil {
		return fmt.Errorf("failed to encode storage file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync storage file: %w", err)
	}

	// Close before renaming (required on Windows)
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("failed to rename temp file to %q: %w", f.path, err)
	}

	if err := os.Chmod(f.path, 0644); err != nil {
		return fmt.Errorf("failed to set permissions on storage file: %w", err)
	}
	return nil
}
