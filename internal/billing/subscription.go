package billing

import "time"

// SubscriptionStatus represents a subscription's lifecycle state.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription links a tenant to a plan. A tenant has at most one
// subscription with status "active" at any time; the store enforces this on
// create.
type Subscription struct {
	ID                 string             `json:"id"`
	TenantID           string             `json:"tenantId"`
	PlanID             string             `json:"planId"`
	Status             SubscriptionStatus `json:"status"`
	StripeCustomerID   string             `json:"stripeCustomerId,omitempty"`
	CurrentPeriodStart time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time          `json:"currentPeriodEnd"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}
