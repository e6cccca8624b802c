package tenant

import (
	"context"
	"time"
)

// Store persists tenant data.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	GetBySubdomain(ctx context.Context, subdomain string) (*Tenant, error)
	GetByCustomDomain(ctx context.Context, domain string) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
	ListChildren(ctx context.Context, parentID string) ([]*Tenant, error)
	// CountChildrenSince counts customer tenants created under a partner at or
	// after the given time. Used for growth statistics.
	CountChildrenSince(ctx context.Context, parentID string, since time.Time) (int, error)
}
