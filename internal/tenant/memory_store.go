package tenant

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory tenant store for demo/development.
type MemoryStore struct {
	mu         sync.RWMutex
	tenants    map[string]*Tenant // by ID
	subdomains map[string]string  // subdomain → ID
	domains    map[string]string  // custom domain → ID
}

// NewMemoryStore creates a new in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:    make(map[string]*Tenant),
		subdomains: make(map[string]string),
		domains:    make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Subdomain != "" {
		if _, exists := m.subdomains[t.Subdomain]; exists {
			return ErrSubdomainTaken
		}
	}
	if t.CustomDomain != "" {
		if _, exists := m.domains[t.CustomDomain]; exists {
			return ErrDomainTaken
		}
	}
	if t.Type == TypeCustomer && t.ParentTenantID != "" {
		parent, ok := m.tenants[t.ParentTenantID]
		if !ok || parent.Type != TypePartner {
			return ErrParentNotPartner
		}
	}

	cp := clone(t)
	m.tenants[t.ID] = cp
	if t.Subdomain != "" {
		m.subdomains[t.Subdomain] = t.ID
	}
	if t.CustomDomain != "" {
		m.domains[t.CustomDomain] = t.ID
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(t), nil
}

func (m *MemoryStore) GetBySubdomain(_ context.Context, subdomain string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.subdomains[subdomain]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m.tenants[id]), nil
}

func (m *MemoryStore) GetByCustomDomain(_ context.Context, domain string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.domains[domain]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m.tenants[id]), nil
}

func (m *MemoryStore) Update(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.tenants[t.ID]
	if !ok {
		return ErrNotFound
	}

	if t.Subdomain != old.Subdomain && t.Subdomain != "" {
		if owner, exists := m.subdomains[t.Subdomain]; exists && owner != t.ID {
			return ErrSubdomainTaken
		}
	}
	if t.CustomDomain != old.CustomDomain && t.CustomDomain != "" {
		if owner, exists := m.domains[t.CustomDomain]; exists && owner != t.ID {
			return ErrDomainTaken
		}
	}

	if old.Subdomain != "" {
		delete(m.subdomains, old.Subdomain)
	}
	if old.CustomDomain != "" {
		delete(m.domains, old.CustomDomain)
	}

	cp := clone(t)
	m.tenants[t.ID] = cp
	if t.Subdomain != "" {
		m.subdomains[t.Subdomain] = t.ID
	}
	if t.CustomDomain != "" {
		m.domains[t.CustomDomain] = t.ID
	}
	return nil
}

func (m *MemoryStore) ListChildren(_ context.Context, parentID string) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var children []*Tenant
	for _, t := range m.tenants {
		if t.ParentTenantID == parentID {
			children = append(children, clone(t))
		}
	}
	return children, nil
}

func (m *MemoryStore) CountChildrenSince(_ context.Context, parentID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, t := range m.tenants {
		if t.ParentTenantID == parentID && !t.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// clone copies a tenant including its flag map so callers cannot mutate
// store state through returned pointers.
func clone(t *Tenant) *Tenant {
	cp := *t
	if t.FeatureFlags != nil {
		cp.FeatureFlags = make(map[string]bool, len(t.FeatureFlags))
		for k, v := range t.FeatureFlags {
			cp.FeatureFlags[k] = v
		}
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
