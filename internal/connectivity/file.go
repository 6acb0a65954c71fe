package connectivity

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileSource reads connectivity from a status file and watches it with
// fsnotify. The file holds "online" or "offline"; a missing or unreadable
// file counts as offline. Writers may replace the file atomically, so the
// parent directory is watched rather than the file itself.
type FileSource struct {
	broadcaster

	path   string
	logger *log.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewFileSource returns a FileSource for path. The initial state is read
// immediately.
func NewFileSource(path string, logger *log.Logger) *FileSource {
	if logger == nil {
		logger = log.New(os.Stderr, "[monitor] ", log.LstdFlags)
	}
	f := &FileSource{
		path:   path,
		logger: logger,
	}
	f.state = readStatusFile(path)
	return f
}

// Start begins watching the status file's directory.
func (f *FileSource) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return fmt.Errorf("file source already running")
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create status directory %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch status directory %s: %w", dir, err)
	}

	f.watcher = watcher
	f.done = make(chan struct{})
	f.running = true

	// Catch changes made between construction and Start
	f.refresh()

	f.wg.Add(1)
	go f.processEvents(ctx)

	return nil
}

// Close stops watching. It blocks until the event goroutine has exited.
func (f *FileSource) Close() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.mu.Unlock()

	close(f.done)

	if err := f.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	f.wg.Wait()
	return nil
}

func (f *FileSource) processEvents(ctx context.Context) {
	defer f.wg.Done()

	name := filepath.Clean(f.path)
	for {
		select {
		case <-f.done:
			return
		case <-ctx.Done():
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			f.refresh()

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Printf("Status file watcher error: %v", err)
		}
	}
}

// refresh re-reads the file and signals subscribers on change.
func (f *FileSource) refresh() {
	s := readStatusFile(f.path)
	if s == f.current() {
		return
	}
	f.logger.Printf("Status file reports %s", s)
	f.publish(s)
}

func readStatusFile(path string) State {
	// #nosec G304 - path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return Offline
	}
	switch strings.ToLower(strings.TrimSpace(string(data))) {
	case "online", "up", "1", "true":
		return Online
	default:
		return Offline
	}
}

// WriteStatusFile records a reading for a FileSource to pick up.
// The write is atomic so watchers never observe a partial file.
func WriteStatusFile(path string, online bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp status file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(StateOf(online).String() + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write status file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace status file: %w", err)
	}
	return nil
}
