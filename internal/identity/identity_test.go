package identity

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUID_NewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := UUID{}.NewID()
		parsed, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), parsed.Version())
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSequence_NewID(t *testing.T) {
	s := NewSequence("contact")
	assert.Equal(t, "contact-1", s.NewID())
	assert.Equal(t, "contact-2", s.NewID())

	empty := &Sequence{}
	assert.Equal(t, "id-1", empty.NewID())
}

func TestSequence_Concurrent(t *testing.T) {
	s := NewSequence("c")
	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := make(map[string]bool)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := s.NewID()
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 50)
}
