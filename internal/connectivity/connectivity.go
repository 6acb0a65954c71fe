// Package connectivity observes online/offline transitions and drives
// automatic sync passes.
//
// A Source reports the current state and notifies subscribers of changes.
// The Monitor subscribes to a Source and calls its sync function once for
// every offline to online transition; manual requests are declined with
// ErrOffline while the source reports offline.
package connectivity

import (
	"context"
	"errors"
	"sync"
)

// ErrOffline is returned by Monitor.RequestSync while offline. It is a
// declined request, not a failure.
var ErrOffline = errors.New("currently offline")

// State is a connectivity reading.
type State int

const (
	// Offline means the remote record service is not reachable.
	Offline State = iota
	// Online means pushes may be attempted.
	Online
)

// String returns "online" or "offline".
func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// StateOf converts a boolean reading.
func StateOf(online bool) State {
	if online {
		return Online
	}
	return Offline
}

// Source is a connectivity signal.
type Source interface {
	// Online reports the latest known state.
	Online() bool
	// Subscribe registers fn for state signals. The returned function
	// removes the subscription and is safe to call more than once.
	Subscribe(fn func(State)) (unsubscribe func())
	// Start begins observing. Sources that need no background work return nil.
	Start(ctx context.Context) error
	// Close stops observing and releases resources.
	Close() error
}

// broadcaster holds the current state and the subscriber set shared by
// every Source implementation.
type broadcaster struct {
	mu     sync.Mutex
	state  State
	subs   map[int]func(State)
	nextID int
}

func (b *broadcaster) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == Online
}

func (b *broadcaster) Subscribe(fn func(State)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func(State))
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// publish records s and signals every subscriber outside the lock.
// Reports whether the state changed.
func (b *broadcaster) publish(s State) bool {
	b.mu.Lock()
	changed := b.state != s
	b.state = s
	subs := make([]func(State), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
	return changed
}

func (b *broadcaster) current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *broadcaster) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// ManualSource is set explicitly. Every Set signals subscribers, even when
// the state does not change, the way a host environment may repeat events.
type ManualSource struct {
	broadcaster
}

// NewManualSource returns a ManualSource in the given state.
func NewManualSource(online bool) *ManualSource {
	m := &ManualSource{}
	m.state = StateOf(online)
	return m
}

// Set reports a new reading.
func (m *ManualSource) Set(online bool) {
	m.publish(StateOf(online))
}

func (m *ManualSource) Start(ctx context.Context) error { return nil }

func (m *ManualSource) Close() error { return nil }
