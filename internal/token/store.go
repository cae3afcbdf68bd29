package token

import (
	"context"
	"sync"
	"time"
)

// IssuedStore tracks the JTIs of live download tokens. Redemption requires
// the JTI to still be present, which gives operators a kill switch (flush the
// store) independent of JWT expiry.
type IssuedStore interface {
	Save(ctx context.Context, jti string, ttl time.Duration) error
	Valid(ctx context.Context, jti string) (bool, error)
}

// MemoryStore is the in-process IssuedStore for tests and dev mode.
type MemoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	clock   func() time.Time
}

// NewMemoryStore creates an empty issued-token store. A nil clock defaults to
// time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{expires: make(map[string]time.Time), clock: clock}
}

func (s *MemoryStore) Save(_ context.Context, jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[jti] = s.clock().Add(ttl)
	return nil
}

func (s *MemoryStore) Valid(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.expires[jti]
	if !ok {
		return false, nil
	}
	if s.clock().After(expiresAt) {
		delete(s.expires, jti)
		return false, nil
	}
	return true, nil
}
