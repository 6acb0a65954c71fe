// Package identity assigns opaque, collision-resistant record identities.
package identity

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Assigner produces identities for records that do not carry one yet.
type Assigner interface {
	NewID() string
}

// UUID assigns random (version 4) UUIDs.
type UUID struct{}

// NewID returns a new random UUID string.
func (UUID) NewID() string {
	return uuid.NewString()
}

// Default is the assigner used when none is configured.
var Default Assigner = UUID{}

// Sequence assigns predictable identities ("<prefix>-1", "<prefix>-2", ...).
// Used where tests need stable IDs.
type Sequence struct {
	Prefix string

	mu   sync.Mutex
	next int
}

// NewSequence returns a Sequence that starts at 1.
func NewSequence(prefix string) *Sequence {
	return &Sequence{Prefix: prefix}
}

// NewID returns the next identity in the sequence.
func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	prefix := s.Prefix
	if prefix == "" {
		prefix = "id"
	}
	return fmt.Sprintf("%s-%d", prefix, s.next)
}
