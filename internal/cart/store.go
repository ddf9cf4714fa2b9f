package cart

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCartNotFound = errors.New("cart not found")

type Store interface {
	Get(ctx context.Context, sessionID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, sessionID string) error
}

type memoryEntry struct {
	cart      Cart
	expiresAt time.Time
}

// MemoryStore keeps carts in process memory. Entries expire after ttl.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return nil, ErrCartNotFound
	}
	if s.ttl > 0 && s.now().After(e.expiresAt) {
		delete(s.entries, sessionID)
		return nil, ErrCartNotFound
	}
	c := e.cart
	c.Items = append([]Item(nil), e.cart.Items...)
	return &c, nil
}

func (s *MemoryStore) Save(_ context.Context, c *Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	cp.Items = append([]Item(nil), c.Items...)
	s.entries[c.SessionID] = memoryEntry{cart: cp, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, sessionID)
	return nil
}
