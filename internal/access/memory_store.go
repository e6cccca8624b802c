package access

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
	roles map[string]*Role
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*User),
		roles: make(map[string]*Role),
	}
}

func cloneUser(u *User) *User {
	c := *u
	c.Permissions = append([]string(nil), u.Permissions...)
	return &c
}

func cloneRole(r *Role) *Role {
	c := *r
	c.Permissions = append([]string(nil), r.Permissions...)
	return &c
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, tenantID, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.TenantID == tenantID && strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) UpdateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return ErrUserNotFound
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *MemoryStore) ListUsers(ctx context.Context, tenantID string) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*User
	for _, u := range s.users {
		if u.TenantID == tenantID {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.ID] = cloneRole(r)
	return nil
}

func (s *MemoryStore) GetRole(ctx context.Context, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	return cloneRole(r), nil
}

func (s *MemoryStore) UpdateRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; !ok {
		return ErrRoleNotFound
	}
	s.roles[r.ID] = cloneRole(r)
	return nil
}

func (s *MemoryStore) ListRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Role
	for _, r := range s.roles {
		if r.TenantID == tenantID {
			out = append(out, cloneRole(r))
		}
	}
	return out, nil
}
