package connectivity

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invitekit/contactsync/internal/notice"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// countingSync records calls and can hold each pass until released.
type countingSync struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
	err     error
}

func newCountingSync() *countingSync {
	return &countingSync{started: make(chan struct{}, 16)}
}

func (c *countingSync) Sync(ctx context.Context) error {
	c.calls.Add(1)
	c.started <- struct{}{}
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestManualSource_SubscribeAndUnsubscribe(t *testing.T) {
	src := NewManualSource(false)
	assert.False(t, src.Online())

	var got []State
	var mu sync.Mutex
	unsubscribe := src.Subscribe(func(s State) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	src.Set(true)
	src.Set(true)
	assert.True(t, src.Online())

	unsubscribe()
	unsubscribe()
	src.Set(false)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Online, Online}, got)
	assert.Equal(t, 0, src.subscriberCount())
}

func TestMonitor_SyncsOncePerTransition(t *testing.T) {
	src := NewManualSource(false)
	syncer := newCountingSync()
	rec := &notice.Recorder{}

	m := NewMonitor(src, syncer.Sync, Options{Logger: quietLogger(), Notifier: rec})
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	src.Set(true)
	<-syncer.started

	// Repeated online signals do not re-sync
	src.Set(true)
	src.Set(true)
	waitFor(t, func() bool { return rec.Count(notice.KindOnline) == 1 })

	src.Set(false)
	waitFor(t, func() bool { return !m.Online() })
	src.Set(true)
	<-syncer.started

	m.Stop()
	assert.Equal(t, int32(2), syncer.calls.Load())
	assert.Equal(t, 2, rec.Count(notice.KindOnline))
	assert.Equal(t, 1, rec.Count(notice.KindOffline))
}

func TestMonitor_OfflineDoesNotCancelInFlightSync(t *testing.T) {
	src := NewManualSource(false)
	syncer := newCountingSync()
	syncer.release = make(chan struct{})

	var finished atomic.Bool
	syncFn := func(ctx context.Context) error {
		err := syncer.Sync(ctx)
		if err == nil {
			finished.Store(true)
		}
		return err
	}

	m := NewMonitor(src, syncFn, Options{Logger: quietLogger()})
	require.NoError(t, m.Start(context.Background()))

	src.Set(true)
	<-syncer.started

	src.Set(false)
	waitFor(t, func() bool { return !m.Online() })

	close(syncer.release)
	m.Stop()
	assert.True(t, finished.Load(), "in-flight sync should complete after going offline")
}

func TestMonitor_RequestSyncOffline(t *testing.T) {
	src := NewManualSource(false)
	syncer := newCountingSync()
	rec := &notice.Recorder{}

	m := NewMonitor(src, syncer.Sync, Options{Logger: quietLogger(), Notifier: rec})
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	err := m.RequestSync(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, int32(0), syncer.calls.Load())
	assert.Equal(t, 1, rec.Count(notice.KindOfflineRequested))
}

func TestMonitor_RequestSyncOnline(t *testing.T) {
	src := NewManualSource(true)
	syncer := newCountingSync()
	syncer.err = errors.New("remote down")

	m := NewMonitor(src, syncer.Sync, Options{Logger: quietLogger()})
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	err := m.RequestSync(context.Background())
	assert.EqualError(t, err, "remote down")
	assert.Equal(t, int32(1), syncer.calls.Load())
}

func TestMonitor_SyncOnStart(t *testing.T) {
	src := NewManualSource(true)
	syncer := newCountingSync()

	m := NewMonitor(src, syncer.Sync, Options{Logger: quietLogger(), SyncOnStart: true})
	require.NoError(t, m.Start(context.Background()))
	<-syncer.started
	m.Stop()

	assert.Equal(t, int32(1), syncer.calls.Load())
}

func TestMonitor_StopUnsubscribes(t *testing.T) {
	src := NewManualSource(false)
	m := NewMonitor(src, newCountingSync().Sync, Options{Logger: quietLogger()})
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 1, src.subscriberCount())

	assert.Error(t, m.Start(context.Background()), "second Start should fail")

	m.Stop()
	m.Stop()
	assert.Equal(t, 0, src.subscriberCount())
}

func TestMonitor_CancelledContextDoesNotBlockSource(t *testing.T) {
	src := NewManualSource(false)
	m := NewMonitor(src, newCountingSync().Sync, Options{Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	cancel()
	m.loopWg.Wait()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 40; i++ {
			src.Set(i%2 == 0)
		}
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Set blocked after the monitor's context was cancelled")
	}
	m.Stop()
}

func TestMonitor_RestartDropsQueuedStates(t *testing.T) {
	src := NewManualSource(false)
	syncer := newCountingSync()
	m := NewMonitor(src, syncer.Sync, Options{Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	cancel()
	m.loopWg.Wait()

	// Queued while nothing drains the first run's events
	src.Set(true)
	m.Stop()
	src.Set(false)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), syncer.calls.Load(), "state from the previous run must not trigger a sync")

	src.Set(true)
	waitFor(t, func() bool { return syncer.calls.Load() == 1 })
}

func TestFileSource_WatchesStatusFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status", "online")

	src := NewFileSource(path, quietLogger())
	assert.False(t, src.Online(), "missing file should read as offline")

	states := make(chan State, 8)
	unsubscribe := src.Subscribe(func(s State) { states <- s })
	defer unsubscribe()

	require.NoError(t, src.Start(context.Background()))
	defer src.Close()

	require.NoError(t, WriteStatusFile(path, true))
	select {
	case s := <-states:
		assert.Equal(t, Online, s)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for online signal")
	}
	assert.True(t, src.Online())

	require.NoError(t, WriteStatusFile(path, false))
	waitFor(t, func() bool { return !src.Online() })
}

func TestReadStatusFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		content string
		want    State
	}{
		{"online\n", Online},
		{"  ONLINE ", Online},
		{"1", Online},
		{"offline", Offline},
		{"", Offline},
		{"garbage", Offline},
	}
	for i, tt := range tests {
		path := filepath.Join(dir, "status")
		require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))
		assert.Equal(t, tt.want, readStatusFile(path), "case %d: %q", i, tt.content)
	}
}

func TestProbeSource(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := DefaultProbeConfig(server.URL)
	cfg.Interval = 20 * time.Millisecond
	cfg.Logger = quietLogger()
	src := NewProbeSource(cfg)

	require.NoError(t, src.Start(context.Background()))
	defer src.Close()
	assert.True(t, src.Online(), "first probe runs during Start")

	healthy.Store(false)
	waitFor(t, func() bool { return !src.Online() })

	healthy.Store(true)
	waitFor(t, func() bool { return src.Online() })
}

func TestProbeSource_RequiresURL(t *testing.T) {
	src := NewProbeSource(ProbeConfig{Logger: quietLogger()})
	assert.Error(t, src.Start(context.Background()))
}
