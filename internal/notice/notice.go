// Package notice carries transient, user-visible notices ("sync failed, will
// retry", "you're offline") from the core to whatever surface shows them.
//
// Notices are fire-and-forget. A Notifier must never block the caller for
// long and never returns an error.
package notice

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Kind identifies what happened.
type Kind string

const (
	KindSaved            Kind = "saved"
	KindSaveFailed       Kind = "save_failed"
	KindFound            Kind = "found"
	KindNotFound         Kind = "not_found"
	KindQueryTooShort    Kind = "query_too_short"
	KindNothingToSync    Kind = "nothing_to_sync"
	KindSyncComplete     Kind = "sync_complete"
	KindSyncFailed       Kind = "sync_failed"
	KindOnline           Kind = "online"
	KindOffline          Kind = "offline"
	KindOfflineRequested Kind = "offline_requested"
	KindConnected        Kind = "connected"
)

// Level is the display severity.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a single transient message.
type Notice struct {
	Kind      Kind            `json:"kind"`
	Level     Level           `json:"level"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SyncData is attached to sync_complete and sync_failed notices.
type SyncData struct {
	Pushed int `json:"pushed"`
	Failed int `json:"failed"`
}

// Notifier receives notices.
type Notifier interface {
	Notify(n Notice)
}

// Func adapts a function to Notifier.
type Func func(n Notice)

func (f Func) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Notifier = Func(func(Notice) {})

// Multi fans a notice out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(n Notice) {
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}

// LogNotifier writes notices to a logger.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier returns a LogNotifier; nil uses log.Default().
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(n Notice) {
	l.logger.Printf("%s %s: %s", n.Level, n.Kind, n.Message)
}

// Recorder keeps every notice it receives. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.notices))
	for i, n := range r.notices {
		kinds[i] = n.Kind
	}
	return kinds
}

// Count returns how many notices of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.notices {
		if n.Kind == kind {
			count++
		}
	}
	return count
}

// New builds a notice stamped with the current time.
func New(kind Kind, level Level, message string) Notice {
	return Notice{
		Kind:      kind,
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithData attaches a JSON payload. Marshal failures leave Data empty.
func (n Notice) WithData(v any) Notice {
	data, err := json.Marshal(v)
	if err == nil {
		n.Data = data
	}
	return n
}

// Saved reports a locally persisted submission.
func Saved() Notice {
	return New(KindSaved, LevelSuccess, "Thank you! Your information has been saved.")
}

// SaveFailed reports a submission that could not be persisted.
func SaveFailed() Notice {
	return New(KindSaveFailed, LevelError, "There was a problem saving your information.")
}

// Found reports a lookup hit.
func Found() Notice {
	return New(KindFound, LevelSuccess, "Found your information!")
}

// NotFound reports a lookup miss.
func NotFound() Notice {
	return New(KindNotFound, LevelInfo, "No matching information found. Please fill out the form below.")
}

// QueryTooShort reports a lookup rejected before scanning.
func QueryTooShort(min int) Notice {
	return New(KindQueryTooShort, LevelWarning, fmt.Sprintf("Please enter at least %d characters to search", min))
}

// NothingToSync reports an empty sync pass.
func NothingToSync() Notice {
	return New(KindNothingToSync, LevelInfo, "No new contacts to sync")
}

// SyncComplete reports a pass where every entry was pushed.
func SyncComplete(pushed int) Notice {
	return New(KindSyncComplete, LevelSuccess, fmt.Sprintf("Successfully synced %d contacts", pushed)).
		WithData(SyncData{Pushed: pushed})
}

// SyncFailed reports a pass with at least one failed entry.
func SyncFailed(pushed, failed int) Notice {
	return New(KindSyncFailed, LevelError, "Failed to sync contacts. Will retry when back online.").
		WithData(SyncData{Pushed: pushed, Failed: failed})
}

// Online reports an offline to online transition.
func Online() Notice {
	return New(KindOnline, LevelSuccess, "You're back online!")
}

// Offline reports an online to offline transition.
func Offline() Notice {
	return New(KindOffline, LevelWarning, "You're offline. Changes will be saved locally.")
}

// OfflineRequested reports a manual sync declined while offline.
func OfflineRequested() Notice {
	return New(KindOfflineRequested, LevelWarning, "You're offline. Please try again when you have internet connection.")
}
