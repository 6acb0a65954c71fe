package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/invitekit/contactsync/internal/notice"
)

// SyncFunc runs one sync pass.
type SyncFunc func(ctx context.Context) error

// Options configures a Monitor.
type Options struct {
	Logger   *log.Logger
	Notifier notice.Notifier

	// SyncOnStart runs a pass at Start when the source is already online,
	// flushing entries left over from an earlier offline session.
	SyncOnStart bool
}

// Monitor turns connectivity signals into sync passes.
type Monitor struct {
	source   Source
	sync     SyncFunc
	logger   *log.Logger
	notifier notice.Notifier
	opts     Options

	online atomic.Bool

	mu          sync.Mutex
	running     bool
	unsubscribe func()
	done        chan struct{}
	syncCtx     context.Context
	syncCancel  context.CancelFunc
	loopWg      sync.WaitGroup
	syncWg      sync.WaitGroup
}

// NewMonitor creates a Monitor for source. syncFn is called once for
// every offline to online transition.
func NewMonitor(source Source, syncFn SyncFunc, opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[monitor] ", log.LstdFlags)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notice.Discard
	}
	m := &Monitor{
		source:   source,
		sync:     syncFn,
		logger:   logger,
		notifier: notifier,
		opts:     opts,
	}
	m.online.Store(source.Online())
	return m
}

// Start subscribes to the source and runs the event loop until ctx is
// cancelled or Stop is called. The source itself is started by the caller,
// normally before the monitor so its first reading becomes the baseline.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor already running")
	}

	m.done = make(chan struct{})
	// Passes are bound to ctx, never to connectivity events.
	m.syncCtx, m.syncCancel = context.WithCancel(ctx)

	// Each run gets its own queue so a restart never sees states from the
	// previous one.
	done := m.done
	events := make(chan State, 16)
	m.unsubscribe = m.source.Subscribe(func(s State) {
		select {
		case events <- s:
		case <-done:
		case <-ctx.Done():
		}
	})
	m.running = true

	// The state at Start is the baseline, not a transition
	initial := StateOf(m.source.Online())
	m.online.Store(initial == Online)
	if initial == Online && m.opts.SyncOnStart {
		m.triggerSync("startup")
	}

	m.loopWg.Add(1)
	go m.loop(ctx, done, events)

	m.logger.Printf("Monitor started (%s)", initial)
	return nil
}

// Stop unsubscribes, ends the event loop and waits for in-flight passes.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.unsubscribe()
	close(m.done)
	m.mu.Unlock()

	m.loopWg.Wait()
	m.syncWg.Wait()
	m.syncCancel()
	m.logger.Printf("Monitor stopped")
}

// Online reports the monitor's view of connectivity.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// RequestSync runs a pass on behalf of the user. While offline it emits
// an offline_requested notice and returns ErrOffline without calling sync.
func (m *Monitor) RequestSync(ctx context.Context) error {
	if !m.online.Load() {
		m.notifier.Notify(notice.OfflineRequested())
		return ErrOffline
	}
	return m.sync(ctx)
}

func (m *Monitor) loop(ctx context.Context, done <-chan struct{}, events <-chan State) {
	defer m.loopWg.Done()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case s := <-events:
			m.handle(s)
		}
	}
}

func (m *Monitor) handle(s State) {
	wasOnline := m.online.Swap(s == Online)

	switch {
	case s == Online && !wasOnline:
		m.logger.Printf("Connectivity restored")
		m.notifier.Notify(notice.Online())
		m.triggerSync("reconnect")
	case s == Offline && wasOnline:
		m.logger.Printf("Connectivity lost")
		m.notifier.Notify(notice.Offline())
	}
}

// triggerSync runs a pass in the background so the loop keeps reading
// connectivity events while it is in flight.
func (m *Monitor) triggerSync(reason string) {
	m.syncWg.Add(1)
	go func() {
		defer m.syncWg.Done()

		err := m.sync(m.syncCtx)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			m.logger.Printf("Sync (%s) cancelled", reason)
		default:
			m.logger.Printf("Sync (%s) failed: %v", reason, err)
		}
	}()
}
