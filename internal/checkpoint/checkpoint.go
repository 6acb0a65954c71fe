// Package checkpoint persists the time of the last successful sync pass.
//
// The checkpoint lives outside the local entry database, so clearing or
// rebuilding the entry collection leaves it intact.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the default checkpoint file name inside the data directory.
const FileName = "last_sync.json"

// Store loads and saves the sync checkpoint.
type Store interface {
	// Load returns the last saved time. ok is false if none was ever saved.
	Load() (t time.Time, ok bool, err error)
	// Save replaces the checkpoint.
	Save(t time.Time) error
}

type fileState struct {
	LastSync time.Time `json:"lastSync"`
}

// FileStore keeps the checkpoint in a small JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a FileStore backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the checkpoint file path.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the checkpoint. A missing file means no sync has completed yet.
func (f *FileStore) Load() (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse checkpoint %s: %w", f.path, err)
	}
	if state.LastSync.IsZero() {
		return time.Time{}, false, nil
	}
	return state.LastSync, true, nil
}

// Save writes the checkpoint atomically (temp file + rename).
func (f *FileStore) Save(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(fileState{LastSync: t.UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if err := writeFileAtomic(f.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	// Data must be on disk before the rename makes it visible.
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry for a rename. Best effort: some
// platforms cannot fsync a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// MemoryStore keeps the checkpoint in memory.
type MemoryStore struct {
	mu   sync.Mutex
	t    time.Time
	set  bool
	fail error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the saved time, if any.
func (m *MemoryStore) Load() (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t, m.set, nil
}

// Save records t, or returns the error configured with FailWith.
func (m *MemoryStore) Save(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.t = t
	m.set = true
	return nil
}

// FailWith makes subsequent saves return err (nil restores normal saves).
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}
