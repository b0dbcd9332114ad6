package store

import (
	"context"
	"sort"
	"sync"

	"hwplanner/internal/model"
)

// MemoryStore keeps deep copies of users in a map.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[int64]*model.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[int64]*model.User)}
}

func (s *MemoryStore) Load(_ context.Context, id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, u *model.User) error {
	c := u.Clone()
	s.mu.Lock()
	s.users[u.ID] = c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) UserIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) Close() error { return nil }
