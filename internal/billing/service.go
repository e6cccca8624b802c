package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/closedesk/closedesk/internal/circuitbreaker"
	"github.com/closedesk/closedesk/internal/idgen"
	"github.com/closedesk/closedesk/internal/logging"
	"github.com/closedesk/closedesk/internal/metrics"
	"github.com/closedesk/closedesk/internal/syncutil"
	"github.com/closedesk/closedesk/internal/tenant"
	"github.com/closedesk/closedesk/internal/traces"
)

// Service implements the feature gate and subscription lifecycle.
type Service struct {
	tenants   tenant.Store
	store     Store
	stripeKey string

	// provisionMu serializes subscription provisioning per tenant so two
	// concurrent admin requests cannot race to create duplicate Stripe
	// customers for the same tenant.
	provisionMu *syncutil.ContextShardedMutex

	// stripeBreaker stops hammering Stripe while it is down.
	stripeBreaker *circuitbreaker.Breaker
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStripeKey enables Stripe customer provisioning.
func WithStripeKey(key string) ServiceOption {
	return func(s *Service) {
		s.stripeKey = key
	}
}

// NewService creates a billing service.
func NewService(tenants tenant.Store, store Store, opts ...ServiceOption) *Service {
	s := &Service{
		tenants:       tenants,
		store:         store,
		provisionMu:   syncutil.NewContextShardedMutex(),
		stripeBreaker: circuitbreaker.New(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store for admin handlers.
func (s *Service) Store() Store {
	return s.store
}

// HasFeatureAccess decides whether a tenant may use a named feature.
// Every rule fails closed:
//  1. tenant missing or not active
//  2. no active subscription
//  3. plan does not enable the feature (the plan is the ceiling)
//  4. tenant flag explicitly false (tenant flags narrow, never widen)
//
// A nil error with false means a clean denial; a non-nil error means the
// check itself failed and callers should respond 500, not 403.
func (s *Service) HasFeatureAccess(ctx context.Context, tenantID, feature string) (bool, error) {
	ctx, span := traces.StartSpan(ctx, "billing.HasFeatureAccess",
		traces.TenantID(tenantID), traces.Feature(feature))
	defer span.End()

	t, err := s.tenants.Get(ctx, tenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("feature gate: load tenant: %w", err)
	}
	if !t.IsActive() {
		return false, nil
	}

	sub, err := s.store.GetActiveSubscription(ctx, tenantID)
	if errors.Is(err, ErrNoActiveSubscription) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("feature gate: load subscription: %w", err)
	}

	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if errors.Is(err, ErrPlanNotFound) {
		// A dangling plan reference is a deployment problem; deny rather
		// than grant on missing data.
		logging.L(ctx).Warn("active subscription references missing plan",
			"tenant_id", tenantID, "plan_id", sub.PlanID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("feature gate: load plan: %w", err)
	}

	if !plan.HasFeature(feature) {
		return false, nil
	}
	if v, ok := t.FeatureFlags[feature]; ok && !v {
		return false, nil
	}
	return true, nil
}

// TrackFeatureUsage bumps the calendar-month usage counter for the feature,
// using at to pick the period. Returns the new count.
func (s *Service) TrackFeatureUsage(ctx context.Context, tenantID, feature string, at time.Time) (int64, error) {
	start, end := PeriodBounds(at)
	count, err := s.store.IncrementUsage(ctx, tenantID, feature, start, end)
	if err != nil {
		return 0, fmt.Errorf("track feature usage: %w", err)
	}
	metrics.FeatureUsageTracked.WithLabelValues(feature).Inc()
	return count, nil
}

// ProvisionSubscription creates an active subscription on the given plan
// for a tenant, replacing any current one. The billing period is anchored
// to the current calendar month.
func (s *Service) ProvisionSubscription(ctx context.Context, tenantID, planID string) error {
	ctx, span := traces.StartSpan(ctx, "billing.ProvisionSubscription",
		traces.TenantID(tenantID), traces.PlanID(planID))
	defer span.End()

	unlock, err := s.provisionMu.LockContext(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("provision subscription: %w", err)
	}
	defer unlock()

	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return err
	}

	now := time.Now().UTC()
	start, end := PeriodBounds(now)
	sub := &Subscription{
		ID:                 idgen.WithPrefix("sub_"),
		TenantID:           tenantID,
		PlanID:             planID,
		Status:             SubscriptionActive,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if s.stripeKey != "" {
		customerID, err := s.ensureStripeCustomer(ctx, tenantID)
		if err != nil {
			// Stripe being down must not block provisioning.
			logging.L(ctx).Warn("stripe customer creation failed",
				"tenant_id", tenantID, "error", err)
		} else {
			sub.StripeCustomerID = customerID
		}
	}

	return s.store.CreateSubscription(ctx, sub)
}

// MonthlyRevenueCents sums the active-subscription plan prices for the
// given tenants. Used for partner revenue statistics.
func (s *Service) MonthlyRevenueCents(ctx context.Context, tenantIDs []string) (int64, error) {
	var total int64
	for _, id := range tenantIDs {
		sub, err := s.store.GetActiveSubscription(ctx, id)
		if errors.Is(err, ErrNoActiveSubscription) {
			continue
		}
		if err != nil {
			return 0, err
		}
		plan, err := s.store.GetPlan(ctx, sub.PlanID)
		if err != nil {
			if errors.Is(err, ErrPlanNotFound) {
				continue
			}
			return 0, err
		}
		total += plan.MonthlyPriceCents
	}
	return total, nil
}
