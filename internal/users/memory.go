package users

import (
	"context"
	"sync"
	"time"

	"tgauth/internal/types"
)

// MemoryStore keeps users in process memory. Records do not survive restarts.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[int64]*types.UserRecord
	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[int64]*types.UserRecord{}}
}

func (s *MemoryStore) FindByExternalID(ctx context.Context, externalID int64) (types.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.UserRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[externalID]
	if !ok {
		return types.UserRecord{}, ErrNotFound
	}
	return copyRecord(u), nil
}

func (s *MemoryStore) Create(ctx context.Context, id types.Identity, now time.Time) (types.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.UserRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id.ExternalID]; ok {
		return types.UserRecord{}, ErrConflict
	}
	s.nextID++
	login := now.UTC()
	u := &types.UserRecord{
		ID:           s.nextID,
		ExternalID:   id.ExternalID,
		FirstName:    id.FirstName,
		LastName:     id.LastName,
		Username:     id.Username,
		LanguageCode: id.LanguageCode,
		PhotoURL:     id.PhotoURL,
		IsPremium:    id.IsPremium,
		IsBot:        id.IsBot,
		IsActive:     true,
		CreatedAt:    now.UTC(),
		LastLoginAt:  &login,
	}
	s.byID[id.ExternalID] = u
	return copyRecord(u), nil
}

func (s *MemoryStore) TouchLastLogin(ctx context.Context, externalID int64, now time.Time) (types.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.UserRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[externalID]
	if !ok {
		return types.UserRecord{}, ErrNotFound
	}
	login := now.UTC()
	u.LastLoginAt = &login
	return copyRecord(u), nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id types.Identity) (types.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.UserRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id.ExternalID]
	if !ok {
		return types.UserRecord{}, ErrNotFound
	}
	u.ApplyProfile(id)
	return copyRecord(u), nil
}

// Len returns the number of stored users.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func copyRecord(u *types.UserRecord) types.UserRecord {
	out := *u
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		out.LastLoginAt = &t
	}
	return out
}
