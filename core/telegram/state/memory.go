package state

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryStore struct {
	*keyedMutex
	cache *gocache.Cache
	now   func() time.Time
}

// NewMemoryStore keeps sessions in process memory; idle sessions expire after ttl.
func NewMemoryStore(ttl time.Duration) Store {
	cleanup := ttl
	if cleanup <= 0 || cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}
	return &memoryStore{
		keyedMutex: newKeyedMutex(),
		cache:      gocache.New(ttl, cleanup),
		now:        time.Now,
	}
}

func memoryKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func (m *memoryStore) Get(_ context.Context, userID int64) (*Session, bool, error) {
	v, ok := m.cache.Get(memoryKey(userID))
	if !ok {
		return nil, false, nil
	}
	s, ok := v.(*Session)
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

func (m *memoryStore) Put(_ context.Context, s *Session) error {
	stored := s.Clone()
	stamp(stored, m.now())
	s.CreatedAt, s.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	m.cache.SetDefault(memoryKey(s.UserID), stored)
	return nil
}

func (m *memoryStore) Clear(_ context.Context, userID int64) error {
	m.cache.Delete(memoryKey(userID))
	return nil
}
