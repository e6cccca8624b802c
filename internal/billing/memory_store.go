package billing

import (
	"context"
	"sync"
	"time"
)

type usageKey struct {
	tenantID    string
	feature     string
	periodStart time.Time
}

// MemoryStore is an in-memory billing store for demo/development.
type MemoryStore struct {
	mu            sync.RWMutex
	plans         map[string]*Plan
	subscriptions map[string]*Subscription // by ID
	usage         map[usageKey]*UsageRecord
}

// NewMemoryStore creates an in-memory billing store pre-seeded with the
// template plan catalogue.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		plans:         make(map[string]*Plan),
		subscriptions: make(map[string]*Subscription),
		usage:         make(map[usageKey]*UsageRecord),
	}
	for i := range TemplatePlans {
		cp := TemplatePlans[i]
		m.plans[cp.ID] = &cp
	}
	return m
}

func (m *MemoryStore) CreatePlan(_ context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.plans[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPlan(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPlans(_ context.Context) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plans := make([]*Plan, 0, len(m.plans))
	for _, p := range m.plans {
		cp := *p
		plans = append(plans, &cp)
	}
	return plans, nil
}

func (m *MemoryStore) CreateSubscription(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Enforce at most one active subscription per tenant.
	if s.Status == SubscriptionActive {
		for _, existing := range m.subscriptions {
			if existing.TenantID == s.TenantID && existing.Status == SubscriptionActive {
				existing.Status = SubscriptionCanceled
				existing.UpdatedAt = time.Now().UTC()
			}
		}
	}

	cp := *s
	m.subscriptions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetActiveSubscription(_ context.Context, tenantID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subscriptions {
		if s.TenantID == tenantID && s.Status == SubscriptionActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNoActiveSubscription
}

func (m *MemoryStore) UpdateSubscription(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[s.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	cp := *s
	m.subscriptions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) IncrementUsage(_ context.Context, tenantID, feature string, periodStart, periodEnd time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := usageKey{tenantID, feature, periodStart}
	rec, ok := m.usage[key]
	if !ok {
		rec = &UsageRecord{
			TenantID:    tenantID,
			Feature:     feature,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		}
		m.usage[key] = rec
	}
	rec.UsageCount++
	rec.UpdatedAt = time.Now().UTC()
	return rec.UsageCount, nil
}

func (m *MemoryStore) GetUsage(_ context.Context, tenantID, feature string, periodStart time.Time) (*UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.usage[usageKey{tenantID, feature, periodStart}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) ListUsage(_ context.Context, tenantID string, periodStart time.Time) ([]*UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*UsageRecord
	for key, rec := range m.usage {
		if key.tenantID == tenantID && key.periodStart.Equal(periodStart) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
