package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/invitekit/contactsync/internal/contact"
	"github.com/invitekit/contactsync/internal/identity"
)

// MemoryService is a map-backed RecordService.
// Records are cloned on the way in and out so callers never share slices
// with the service.
type MemoryService struct {
	mu       sync.Mutex
	records  map[string]contact.Contact
	assigner identity.Assigner
	now      func() time.Time

	latency  time.Duration
	failures map[string]error
	upserts  int
}

// NewMemoryService returns an empty MemoryService.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		records:  make(map[string]contact.Contact),
		assigner: identity.Default,
		now:      time.Now,
		failures: make(map[string]error),
	}
}

// SetLatency delays every Upsert by d, honoring context cancellation.
func (m *MemoryService) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// FailUpserts makes Upsert of the given identity return err.
// A nil err clears the failure.
func (m *MemoryService) FailUpserts(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, id)
		return
	}
	m.failures[id] = err
}

// UpsertCount returns how many Upsert calls reached the service,
// including failed ones.
func (m *MemoryService) UpsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

// Get returns the stored record with the identity.
func (m *MemoryService) Get(id string) (contact.Contact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.records[id]
	if !ok {
		return contact.Contact{}, false
	}
	return c.Clone(), true
}

func (m *MemoryService) List(ctx context.Context) ([]contact.Contact, error) {
	return m.collect(ctx, "")
}

func (m *MemoryService) Search(ctx context.Context, term string) ([]contact.Contact, error) {
	return m.collect(ctx, term)
}

func (m *MemoryService) collect(ctx context.Context, term string) ([]contact.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]contact.Contact, 0, len(m.records))
	for _, c := range m.records {
		if matchesSearch(&c, term) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryService) Upsert(ctx context.Context, c contact.Contact) (contact.Contact, error) {
	m.mu.Lock()
	m.upserts++
	latency := m.latency
	failure := m.failures[c.ID]
	m.mu.Unlock()

	if err := sleepCtx(ctx, latency); err != nil {
		return contact.Contact{}, err
	}
	if failure != nil {
		return contact.Contact{}, failure
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c = c.Clone()
	if c.ID == "" {
		c.ID = m.assigner.NewID()
	}
	now := m.now().UTC()
	if existing, ok := m.records[c.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.records[c.ID] = c
	return c.Clone(), nil
}

func (m *MemoryService) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.records, id)
	return nil
}
