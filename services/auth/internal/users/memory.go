package users

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps users in process memory. It backs the memory storage
// driver and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
	now   func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[uuid.UUID]User),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, p CreateParams) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := NormalizeEmail(p.Email)
	for _, u := range s.users {
		switch {
		case u.Email == email:
			return User{}, fmt.Errorf("users.memory.Create: %w", &DuplicateError{Field: "email"})
		case u.Username == p.Username:
			return User{}, fmt.Errorf("users.memory.Create: %w", &DuplicateError{Field: "username"})
		case u.IGURL != nil && p.IGURL != nil && *u.IGURL == *p.IGURL:
			return User{}, fmt.Errorf("users.memory.Create: %w", &DuplicateError{Field: "igUrl"})
		}
	}

	now := s.now().UTC()
	u := User{
		ID:           uuid.New(),
		Email:        email,
		Username:     p.Username,
		PasswordHash: p.PasswordHash,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Gender:       p.Gender,
		Birthdate:    p.Birthdate,
		Location:     p.Location,
		Interests:    slices.Clone(nonNil(p.Interests)),
		Bio:          p.Bio,
		IGURL:        p.IGURL,
		Role:         RoleUser,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) ByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("users.memory.ByEmail: %w", ErrNotFound)
}

func (s *MemoryStore) ByID(_ context.Context, id uuid.UUID) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("users.memory.ByID: %w", ErrNotFound)
	}
	return u, nil
}

func (s *MemoryStore) SetRole(_ context.Context, id uuid.UUID, role Role) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("users.memory.SetRole: %w", ErrNotFound)
	}
	u.Role = role
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return u, nil
}

// SetStatus changes the account status.
func (s *MemoryStore) SetStatus(id uuid.UUID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	s.users[id] = u
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len reports the number of stored users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
