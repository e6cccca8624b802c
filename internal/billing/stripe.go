package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/customer"

	"github.com/closedesk/closedesk/internal/retry"
)

// breakerKey groups all Stripe calls under one circuit.
const breakerKey = "stripe"

// ErrStripeUnavailable is returned while the Stripe circuit is open.
var ErrStripeUnavailable = errors.New("stripe temporarily unavailable")

// ensureStripeCustomer creates a Stripe customer for the tenant and returns
// its id. Callers only reach this when a Stripe key is configured.
func (s *Service) ensureStripeCustomer(ctx context.Context, tenantID string) (string, error) {
	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("stripe customer: load tenant: %w", err)
	}

	if !s.stripeBreaker.Allow(breakerKey) {
		return "", ErrStripeUnavailable
	}

	stripe.Key = s.stripeKey

	params := &stripe.CustomerParams{
		Name: stripe.String(t.Name),
	}
	params.Context = ctx
	if t.Branding.SupportEmail != "" {
		params.Email = stripe.String(t.Branding.SupportEmail)
	}
	params.AddMetadata("tenant_id", t.ID)
	params.AddMetadata("tenant_type", string(t.Type))

	var cust *stripe.Customer
	err = retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		var callErr error
		cust, callErr = customer.New(params)
		if callErr == nil {
			return nil
		}
		// Bad requests will not get better on retry.
		var stripeErr *stripe.Error
		if errors.As(callErr, &stripeErr) && stripeErr.HTTPStatusCode < 500 {
			return retry.Permanent(callErr)
		}
		return callErr
	})
	if err != nil {
		s.stripeBreaker.RecordFailure(breakerKey)
		return "", fmt.Errorf("stripe customer: create: %w", err)
	}
	s.stripeBreaker.RecordSuccess(breakerKey)
	return cust.ID, nil
}
