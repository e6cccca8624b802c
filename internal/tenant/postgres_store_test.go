package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/closedesk/closedesk/internal/testutil"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	partner := &Tenant{
		ID: "ten_pg_p", Name: "PG Partner", Subdomain: "pgpartner",
		CustomDomain: "crm.pgpartner.test",
		Type:         TypePartner, Status: StatusActive,
		FeatureFlags: map[string]bool{"aiTools": false},
		Branding:     Branding{CompanyName: "PG Partner", PrimaryColor: "#112233"},
		CreatedAt:    now, UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, partner))

	got, err := store.Get(ctx, "ten_pg_p")
	require.NoError(t, err)
	assert.Equal(t, "pgpartner", got.Subdomain)
	assert.False(t, got.FeatureFlags["aiTools"])
	assert.Equal(t, "#112233", got.Branding.PrimaryColor)

	bySub, err := store.GetBySubdomain(ctx, "pgpartner")
	require.NoError(t, err)
	assert.Equal(t, "ten_pg_p", bySub.ID)

	byDomain, err := store.GetByCustomDomain(ctx, "crm.pgpartner.test")
	require.NoError(t, err)
	assert.Equal(t, "ten_pg_p", byDomain.ID)

	_, err = store.Get(ctx, "ten_pg_none")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStoreUniqueness(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	a := &Tenant{ID: "ten_pg_a", Name: "A", Subdomain: "pgdup",
		Type: TypePartner, Status: StatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Create(ctx, a))

	b := &Tenant{ID: "ten_pg_b", Name: "B", Subdomain: "pgdup",
		Type: TypePartner, Status: StatusActive, CreatedAt: now, UpdatedAt: now}
	assert.ErrorIs(t, store.Create(ctx, b), ErrSubdomainTaken)
}

func TestPostgresStoreCustomerParentMustBePartner(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	partner := &Tenant{ID: "ten_pg_root", Name: "Root", Subdomain: "pgroot",
		Type: TypePartner, Status: StatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Create(ctx, partner))

	customer := &Tenant{ID: "ten_pg_cust", Name: "Cust", Subdomain: "pgcust",
		Type: TypeCustomer, ParentTenantID: "ten_pg_root",
		Status: StatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Create(ctx, customer))

	// A customer cannot parent another customer.
	nested := &Tenant{ID: "ten_pg_nested", Name: "Nested", Subdomain: "pgnested",
		Type: TypeCustomer, ParentTenantID: "ten_pg_cust",
		Status: StatusActive, CreatedAt: now, UpdatedAt: now}
	assert.ErrorIs(t, store.Create(ctx, nested), ErrParentNotPartner)
	_, err := store.Get(ctx, "ten_pg_nested")
	assert.ErrorIs(t, err, ErrNotFound)

	// Missing parent is rejected the same way.
	orphan := &Tenant{ID: "ten_pg_orphan", Name: "Orphan", Subdomain: "pgorphan",
		Type: TypeCustomer, ParentTenantID: "ten_pg_ghost",
		Status: StatusActive, CreatedAt: now, UpdatedAt: now}
	assert.ErrorIs(t, store.Create(ctx, orphan), ErrParentNotPartner)
}

func TestPostgresStoreChildren(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	parent := &Tenant{ID: "ten_pg_parent", Name: "P", Subdomain: "pgparent",
		Type: TypePartner, Status: StatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Create(ctx, parent))

	child := &Tenant{ID: "ten_pg_child", Name: "C", Subdomain: "pgchild",
		Type: TypeCustomer, ParentTenantID: "ten_pg_parent",
		Status: StatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Create(ctx, child))

	children, err := store.ListChildren(ctx, "ten_pg_parent")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "ten_pg_child", children[0].ID)

	n, err := store.CountChildrenSince(ctx, "ten_pg_parent", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
