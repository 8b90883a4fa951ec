package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileStore keeps all keys in a single JSON file, rewritten on every change.
// Good enough for a single-process collector; Redis is the alternative when
// several collectors share state.
type FileStore struct {
	mu       sync.RWMutex
	entries  map[string]json.RawMessage
	filename string
}

// NewFileStore opens or creates the backing file.
func NewFileStore(filename string) (*FileStore, error) {
	fs := &FileStore{
		entries:  make(map[string]json.RawMessage),
		filename: filename,
	}
	if err := fs.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	raw, ok := fs.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (fs *FileStore) Set(_ context.Context, key string, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !json.Valid(value) {
		return fmt.Errorf("value for %q is not valid JSON", key)
	}
	fs.entries[key] = append(json.RawMessage(nil), value...)
	return fs.save()
}

func (fs *FileStore) Delete(_ context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.entries[key]; !ok {
		return nil
	}
	delete(fs.entries, key)
	return fs.save()
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.filename)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &fs.entries)
}

// save writes via a temp file so a crash mid-write cannot truncate state.
func (fs *FileStore) save() error {
	data, err := json.MarshalIndent(fs.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := fs.filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, fs.filename); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
