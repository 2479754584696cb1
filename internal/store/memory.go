package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryStore is an in-process SessionStore. Sessions live in a map
// guarded by a read-write mutex; each user additionally has a
// mutation lock so Mutate calls for the same user serialize while
// Get stays wait-free against long mutations.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// locks holds one *sync.Mutex per user ID for Mutate exclusivity.
	// Entries are created lazily and never removed: deleting an entry
	// while a waiter still holds a reference to the old mutex would
	// let a later caller mint a fresh one and run a second mutation
	// for the same user concurrently. A parked mutex per seen user is
	// a few dozen bytes.
	locks sync.Map

	ttl time.Duration
}

// Compile-time interface check.
var _ SessionStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. ttl bounds the lifetime of
// abandoned sessions; zero means SessionTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// userLock returns the mutation lock for a user, creating it if needed.
func (m *MemoryStore) userLock(userID string) *sync.Mutex {
	l, _ := m.locks.LoadOrStore(userID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (m *MemoryStore) Mutate(ctx context.Context, userID string, fn func(cur *Session) (*Session, error)) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	cur := m.sessions[userID]
	m.mu.RUnlock()

	// fn operates on a copy so an error return leaves the stored
	// session untouched.
	var work *Session
	if cur != nil {
		c := *cur
		work = &c
	}

	next, err := fn(work)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if next == nil {
		delete(m.sessions, userID)
		return nil
	}
	next.UserID = userID
	now := time.Now().Unix()
	if next.CreatedAt == 0 {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	m.sessions[userID] = next
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

// StartSweeper launches a goroutine that removes sessions idle for
// longer than the store TTL, checking every interval. It stops when
// ctx is cancelled.
func (m *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// sweep removes every session whose last update is older than the TTL.
func (m *MemoryStore) sweep() {
	cutoff := time.Now().Add(-m.ttl).Unix()

	m.mu.Lock()
	var expired []string
	for userID, s := range m.sessions {
		if s.UpdatedAt < cutoff {
			expired = append(expired, userID)
		}
	}
	for _, userID := range expired {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("Expired idle sessions removed")
	}
}
