package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PassStore keeps single-use gate passes per user. A pass is issued for every
// approval and consumed by one successful load of the gated page.
type PassStore interface {
	// Grant issues a new pass to the user and returns its id
	Grant(ctx context.Context, userID string) (string, error)
	// Consume removes exactly one pass of the user. It reports false when the
	// user holds no pass.
	Consume(ctx context.Context, userID string) (bool, error)
	// Count returns the number of passes the user currently holds
	Count(ctx context.Context, userID string) (int, error)
}

type memoryPass struct {
	id        string
	expiresAt time.Time
}

// MemoryPassStore is a process local PassStore
type MemoryPassStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	passes map[string][]memoryPass
}

// NewMemoryPassStore creates an empty in-memory pass store. A zero ttl keeps
// passes until they are consumed.
func NewMemoryPassStore(ttl time.Duration) *MemoryPassStore {
	return &MemoryPassStore{
		ttl:    ttl,
		now:    time.Now,
		passes: make(map[string][]memoryPass),
	}
}

// WithClock overrides the time source used for expiry
func (m *MemoryPassStore) WithClock(now func() time.Time) *MemoryPassStore {
	m.now = now
	return m
}

// Grant issues a new pass to the user
func (m *MemoryPassStore) Grant(ctx context.Context, userID string) (string, error) {
	pass := memoryPass{id: uuid.NewString()}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ttl > 0 {
		pass.expiresAt = m.now().Add(m.ttl)
	}
	m.passes[userID] = append(m.passes[userID], pass)
	return pass.id, nil
}

// live drops the expired passes of the user. The caller holds the lock.
func (m *MemoryPassStore) live(userID string) []memoryPass {
	now := m.now()
	passes := m.passes[userID][:0]
	for _, pass := range m.passes[userID] {
		if pass.expiresAt.IsZero() || now.Before(pass.expiresAt) {
			passes = append(passes, pass)
		}
	}
	if len(passes) == 0 {
		delete(m.passes, userID)
		return nil
	}
	m.passes[userID] = passes
	return passes
}

// Consume removes the oldest live pass of the user
func (m *MemoryPassStore) Consume(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	passes := m.live(userID)
	if len(passes) == 0 {
		return false, nil
	}
	if len(passes) == 1 {
		delete(m.passes, userID)
	} else {
		m.passes[userID] = passes[1:]
	}
	return true, nil
}

// Count returns the number of live passes the user holds
func (m *MemoryPassStore) Count(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live(userID)), nil
}
