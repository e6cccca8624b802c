package billing

import (
	"context"
	"time"
)

// Store persists plans, subscriptions, and usage counters.
type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, id string) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)

	CreateSubscription(ctx context.Context, s *Subscription) error
	GetActiveSubscription(ctx context.Context, tenantID string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error

	// IncrementUsage atomically inserts or bumps the usage counter for
	// (tenantID, feature, periodStart) and returns the new count. Never a
	// read-modify-write in application code.
	IncrementUsage(ctx context.Context, tenantID, feature string, periodStart, periodEnd time.Time) (int64, error)
	GetUsage(ctx context.Context, tenantID, feature string, periodStart time.Time) (*UsageRecord, error)
	ListUsage(ctx context.Context, tenantID string, periodStart time.Time) ([]*UsageRecord, error)
}
