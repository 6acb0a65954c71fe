package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/invitekit/contactsync/internal/checkpoint"
	"github.com/invitekit/contactsync/internal/contact"
	"github.com/invitekit/contactsync/internal/notice"
	"github.com/invitekit/contactsync/internal/remote"
)

// DefaultPushTimeout bounds a single record push.
const DefaultPushTimeout = 15 * time.Second

// ErrPushFailed is matched by the error Sync returns when at least one
// entry could not be pushed.
var ErrPushFailed = errors.New("push failed")

// EntryStore is the part of the local store the coordinator needs.
type EntryStore interface {
	// GetUnsynced returns unsynced entries in a deterministic order.
	GetUnsynced(ctx context.Context) ([]contact.Entry, error)
	// MarkSynced flags an entry version as acknowledged by the remote. It
	// reports false when the entry was saved again since that version.
	MarkSynced(ctx context.Context, id string, version int64) (bool, error)
}

// Status summarizes how a Sync call ended.
type Status string

const (
	// StatusSynced means every unsynced entry was pushed.
	StatusSynced Status = "synced"
	// StatusNothingToSync means there were no unsynced entries.
	StatusNothingToSync Status = "nothing_to_sync"
	// StatusAlreadyRunning means another pass was in flight; nothing was done.
	StatusAlreadyRunning Status = "already_running"
	// StatusFailed means at least one entry (or the store read) failed.
	StatusFailed Status = "failed"
)

// Result describes one Sync call.
type Result struct {
	Status Status
	Pushed []string
	// Superseded lists pushed entries that were edited during the push.
	// They stay unsynced so the next pass sends the newer version.
	Superseded []string
	Failed     []PushError
	Started  time.Time
	Finished time.Time
}

// Duration returns how long the pass took.
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// PushError records why one entry was not synced.
type PushError struct {
	ID  string
	Err error
}

func (e PushError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e PushError) Unwrap() error {
	return e.Err
}

// SyncError is returned when some entries failed to push. Entries pushed in
// the same pass stay synced.
type SyncError struct {
	Pushed   int
	Failures []PushError
}

func (e *SyncError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%d of %d entries failed to push: %s",
		len(e.Failures), len(e.Failures)+e.Pushed, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrPushFailed) true.
func (e *SyncError) Is(target error) bool {
	return target == ErrPushFailed
}

// Unwrap exposes the per-entry causes to errors.Is and errors.As.
func (e *SyncError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i := range e.Failures {
		errs[i] = e.Failures[i]
	}
	return errs
}

// Options configures a Coordinator.
type Options struct {
	// PushTimeout bounds each record push (default: 15s)
	PushTimeout time.Duration

	// Logger for sync activity (default: stderr with "[sync] " prefix)
	Logger *log.Logger

	// Notifier receives user-visible notices (default: discard)
	Notifier notice.Notifier

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// Coordinator runs sync passes. Safe for concurrent use.
type Coordinator struct {
	store       EntryStore
	remote      remote.RecordService
	checkpoint  checkpoint.Store
	pushTimeout time.Duration
	logger      *log.Logger
	notifier    notice.Notifier
	now         func() time.Time

	running atomic.Bool

	mu          sync.RWMutex
	lastSync    time.Time
	hasLastSync bool
}

// New creates a Coordinator. The last checkpoint is loaded once here;
// a checkpoint that cannot be read is logged and treated as absent.
func New(store EntryStore, svc remote.RecordService, cp checkpoint.Store, opts Options) *Coordinator {
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = DefaultPushTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if opts.Notifier == nil {
		opts.Notifier = notice.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if cp == nil {
		cp = checkpoint.NewMemoryStore()
	}

	c := &Coordinator{
		store:       store,
		remote:      svc,
		checkpoint:  cp,
		pushTimeout: opts.PushTimeout,
		logger:      opts.Logger,
		notifier:    opts.Notifier,
		now:         opts.Now,
	}

	if t, ok, err := cp.Load(); err != nil {
		c.logger.Printf("Warning: failed to load checkpoint: %v", err)
	} else if ok {
		c.lastSync = t
		c.hasLastSync = true
	}

	return c
}

// InProgress reports whether a pass is running.
func (c *Coordinator) InProgress() bool {
	return c.running.Load()
}

// LastSync returns the time of the last pass that pushed at least one entry.
func (c *Coordinator) LastSync() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync, c.hasLastSync
}

// Sync runs one pass. See the package documentation for semantics.
func (c *Coordinator) Sync(ctx context.Context) (Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Printf("Sync already in progress, skipping")
		return Result{Status: StatusAlreadyRunning}, nil
	}
	defer c.running.Store(false)

	result := Result{Started: c.now()}

	entries, err := c.store.GetUnsynced(ctx)
	if err != nil {
		result.Status = StatusFailed
		result.Finished = c.now()
		c.logger.Printf("Failed to read unsynced entries: %v", err)
		c.notifier.Notify(notice.SyncFailed(0, 0))
		return result, fmt.Errorf("failed to read unsynced entries: %w", err)
	}

	if len(entries) == 0 {
		result.Status = StatusNothingToSync
		result.Finished = c.now()
		c.logger.Printf("No new contacts to sync")
		c.notifier.Notify(notice.NothingToSync())
		return result, nil
	}

	c.logger.Printf("Starting sync of %d entries", len(entries))

	for i := range entries {
		entry := &entries[i]

		if err := ctx.Err(); err != nil {
			// Caller gave up; everything not yet pushed stays unsynced.
			for _, rest := range entries[i:] {
				result.Failed = append(result.Failed, PushError{ID: rest.ID, Err: err})
			}
			break
		}

		marked, err := c.push(ctx, entry)
		if err != nil {
			c.logger.Printf("Failed to push %s: %v", entry.String(), err)
			result.Failed = append(result.Failed, PushError{ID: entry.ID, Err: err})
			continue
		}
		result.Pushed = append(result.Pushed, entry.ID)
		if !marked {
			result.Superseded = append(result.Superseded, entry.ID)
		}
	}

	if len(result.Pushed) > 0 {
		c.advanceCheckpoint()
	}
	result.Finished = c.now()

	c.logger.Printf("Sync finished: pushed=%d superseded=%d failed=%d in %v",
		len(result.Pushed), len(result.Superseded), len(result.Failed), result.Duration())

	if len(result.Failed) > 0 {
		result.Status = StatusFailed
		c.notifier.Notify(notice.SyncFailed(len(result.Pushed), len(result.Failed)))
		return result, &SyncError{Pushed: len(result.Pushed), Failures: result.Failed}
	}

	result.Status = StatusSynced
	c.notifier.Notify(notice.SyncComplete(len(result.Pushed)))
	return result, nil
}

// push sends one record and marks the pushed version synced after the
// remote acknowledged it. marked is false when the entry changed meanwhile.
func (c *Coordinator) push(ctx context.Context, entry *contact.Entry) (marked bool, err error) {
	pushCtx, cancel := context.WithTimeout(ctx, c.pushTimeout)
	_, err = c.remote.Upsert(pushCtx, entry.Contact)
	cancel()
	if err != nil {
		return false, err
	}

	marked, err = c.store.MarkSynced(ctx, entry.ID, entry.Version)
	if err != nil {
		// The remote has the record; the next pass pushes it again, which
		// the upsert makes harmless.
		return false, fmt.Errorf("pushed but failed to mark synced: %w", err)
	}
	return marked, nil
}

func (c *Coordinator) advanceCheckpoint() {
	t := c.now()
	if err := c.checkpoint.Save(t); err != nil {
		c.logger.Printf("Warning: failed to save checkpoint: %v", err)
	}

	c.mu.Lock()
	c.lastSync = t
	c.hasLastSync = true
	c.mu.Unlock()
}
