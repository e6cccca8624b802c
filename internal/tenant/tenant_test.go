package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTenant(id, sub string, typ Type) *Tenant {
	now := time.Now().UTC()
	return &Tenant{
		ID: id, Name: id, Subdomain: sub, Type: typ,
		Status: StatusActive, CreatedAt: now, UpdatedAt: now,
	}
}

func TestMemoryStoreSubdomainUniqueness(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTenant("ten_a", "acme", TypePartner)))
	err := store.Create(ctx, newTenant("ten_b", "acme", TypePartner))
	assert.ErrorIs(t, err, ErrSubdomainTaken)
}

func TestMemoryStoreCustomDomainUniqueness(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := newTenant("ten_a", "a", TypePartner)
	a.CustomDomain = "crm.acme.com"
	require.NoError(t, store.Create(ctx, a))

	b := newTenant("ten_b", "b", TypePartner)
	b.CustomDomain = "crm.acme.com"
	assert.ErrorIs(t, store.Create(ctx, b), ErrDomainTaken)
}

func TestMemoryStoreParentMustBePartner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTenant("ten_cust", "cust", TypeCustomer)))

	child := newTenant("ten_child", "child", TypeCustomer)
	child.ParentTenantID = "ten_cust"
	assert.ErrorIs(t, store.Create(ctx, child), ErrParentNotPartner)

	orphan := newTenant("ten_orphan", "orphan", TypeCustomer)
	orphan.ParentTenantID = "ten_missing"
	assert.ErrorIs(t, store.Create(ctx, orphan), ErrParentNotPartner)
}

func TestMemoryStoreUpdateReindexesLookups(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTenant("ten_a", "acme", TypePartner)))

	got, err := store.Get(ctx, "ten_a")
	require.NoError(t, err)
	got.Subdomain = "acme-new"
	require.NoError(t, store.Update(ctx, got))

	_, err = store.GetBySubdomain(ctx, "acme")
	assert.ErrorIs(t, err, ErrNotFound)
	found, err := store.GetBySubdomain(ctx, "acme-new")
	require.NoError(t, err)
	assert.Equal(t, "ten_a", found.ID)
}

func TestMemoryStoreCloneIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := newTenant("ten_a", "acme", TypePartner)
	a.FeatureFlags = map[string]bool{"aiTools": true}
	require.NoError(t, store.Create(ctx, a))

	got, err := store.Get(ctx, "ten_a")
	require.NoError(t, err)
	got.FeatureFlags["aiTools"] = false
	got.Name = "mutated"

	again, err := store.Get(ctx, "ten_a")
	require.NoError(t, err)
	assert.True(t, again.FeatureFlags["aiTools"])
	assert.Equal(t, "ten_a", again.Name)
}

func TestMemoryStoreChildren(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTenant("ten_p", "partner", TypePartner)))
	for _, id := range []string{"ten_c1", "ten_c2"} {
		c := newTenant(id, id, TypeCustomer)
		c.ParentTenantID = "ten_p"
		require.NoError(t, store.Create(ctx, c))
	}

	children, err := store.ListChildren(ctx, "ten_p")
	require.NoError(t, err)
	assert.Len(t, children, 2)

	n, err := store.CountChildrenSince(ctx, "ten_p", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.CountChildrenSince(ctx, "ten_p", time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPendingApproval, StatusActive, true},
		{StatusPendingApproval, StatusSuspended, false},
		{StatusActive, StatusSuspended, true},
		{StatusActive, StatusTrial, false},
		{StatusSuspended, StatusActive, true},
		{StatusTrial, StatusActive, true},
		{StatusTrial, StatusSuspended, true},
	}
	for _, tc := range cases {
		tn := &Tenant{Status: tc.from}
		assert.Equal(t, tc.ok, tn.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(StatusTrial))
	assert.False(t, ValidStatus(Status("archived")))
}
