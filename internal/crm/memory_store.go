package crm

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory CRM store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	contacts map[string]*Contact
	deals    map[string]*Deal
	tasks    map[string]*Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts: make(map[string]*Contact),
		deals:    make(map[string]*Deal),
		tasks:    make(map[string]*Task),
	}
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

func (m *MemoryStore) CreateContact(_ context.Context, c *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.contacts[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetContact(_ context.Context, tenantID, id string) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[id]
	if !ok || c.TenantID != tenantID {
		return nil, ErrContactNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) UpdateContact(_ context.Context, c *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.contacts[c.ID]
	if !ok || old.TenantID != c.TenantID {
		return ErrContactNotFound
	}
	cp := *c
	m.contacts[c.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteContact(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.TenantID != tenantID {
		return ErrContactNotFound
	}
	delete(m.contacts, id)
	return nil
}

func (m *MemoryStore) ListContacts(_ context.Context, tenantID string, opts ListOptions) ([]*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(opts.Search)
	var out []*Contact
	for _, c := range m.contacts {
		if c.TenantID != tenantID {
			continue
		}
		if search != "" && !contactMatches(c, search) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	out = afterCursor(out, opts, func(c *Contact) (int64, string) {
		return c.CreatedAt.UnixNano(), c.ID
	})
	if limit := clampLimit(opts.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func contactMatches(c *Contact, search string) bool {
	return strings.Contains(strings.ToLower(c.Name), search) ||
		strings.Contains(strings.ToLower(c.Email), search) ||
		strings.Contains(strings.ToLower(c.Company), search)
}

// ---------------------------------------------------------------------------
// Deals
// ---------------------------------------------------------------------------

func (m *MemoryStore) CreateDeal(_ context.Context, d *Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deals[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDeal(_ context.Context, tenantID, id string) (*Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deals[id]
	if !ok || d.TenantID != tenantID {
		return nil, ErrDealNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) UpdateDeal(_ context.Context, d *Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.deals[d.ID]
	if !ok || old.TenantID != d.TenantID {
		return ErrDealNotFound
	}
	cp := *d
	m.deals[d.ID] = &cp
	return nil
}

func (m *MemoryStore) ListDeals(_ context.Context, tenantID string, opts ListOptions) ([]*Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Deal
	for _, d := range m.deals {
		if d.TenantID != tenantID {
			continue
		}
		if opts.Stage != "" && d.Stage != opts.Stage {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	out = afterCursor(out, opts, func(d *Deal) (int64, string) {
		return d.CreatedAt.UnixNano(), d.ID
	})
	if limit := clampLimit(opts.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) PipelineStats(_ context.Context, tenantID string) (*PipelineStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &PipelineStats{
		TenantID:   tenantID,
		ByStage:    make(map[Stage]int),
		ValueStage: make(map[Stage]int64),
	}
	for _, d := range m.deals {
		if d.TenantID != tenantID {
			continue
		}
		stats.TotalDeals++
		stats.ByStage[d.Stage]++
		stats.ValueStage[d.Stage] += d.ValueCents
		switch {
		case d.Stage == StageClosedWon:
			stats.WonValue += d.ValueCents
		case !d.Stage.Closed():
			stats.OpenValue += d.ValueCents
		}
	}
	return stats, nil
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

func (m *MemoryStore) CreateTask(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, tenantID, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok || t.TenantID != tenantID {
		return nil, ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tasks[t.ID]
	if !ok || old.TenantID != t.TenantID {
		return ErrTaskNotFound
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *MemoryStore) ListTasks(_ context.Context, tenantID string, opts ListOptions) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Task
	for _, t := range m.tasks {
		if t.TenantID != tenantID {
			continue
		}
		if opts.Open && t.Done {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	out = afterCursor(out, opts, func(t *Task) (int64, string) {
		return t.CreatedAt.UnixNano(), t.ID
	})
	if limit := clampLimit(opts.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// afterCursor drops records at or before the cursor position in a
// newest-first slice.
func afterCursor[T any](items []*T, opts ListOptions, key func(*T) (int64, string)) []*T {
	if opts.After.IsZero() {
		return items
	}
	cutNanos := opts.After.UnixNano()
	for i, it := range items {
		nanos, id := key(it)
		if nanos < cutNanos || (nanos == cutNanos && id < opts.AfterID) {
			return items[i:]
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
