// Package billing provides subscription plans, the feature gate, and
// per-tenant usage tracking for the Closedesk platform.
//
// Feature access is a two-layer AND-gate: the subscription plan defines the
// ceiling of what a tenant may use, and the tenant's own feature flags can
// only narrow that further. A feature absent from both layers is disabled.
package billing

import (
	"errors"
	"time"
)

// Errors
var (
	ErrPlanNotFound         = errors.New("billing: plan not found")
	ErrNoActiveSubscription = errors.New("billing: no active subscription")
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
)

// Feature names known to the platform. Plans and tenant flags reference
// these; gates accept arbitrary strings so new features need no code change
// here.
const (
	FeatureCRM               = "crm"
	FeatureAITools           = "aiTools"
	FeaturePipelineAnalytics = "pipelineAnalytics"
	FeatureWhiteLabel        = "whiteLabel"
	FeatureCustomDomain      = "customDomain"
	FeatureAPIAccess         = "apiAccess"
)

// Limits holds the numeric caps of a plan.
type Limits struct {
	MaxUsers            int `json:"maxUsers"`            // 0 = unlimited
	MaxAPICallsPerMonth int `json:"maxApiCallsPerMonth"` // 0 = unlimited
	MaxStorageMB        int `json:"maxStorageMb"`        // 0 = unlimited
}

// Plan defines a subscription tier: the feature ceiling, usage limits, and
// monthly price.
type Plan struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	MonthlyPriceCents int64           `json:"monthlyPriceCents"`
	Features          map[string]bool `json:"features"`
	Limits            Limits          `json:"limits"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// HasFeature reports whether the plan enables the named feature.
// Absent features are disabled (default-deny).
func (p *Plan) HasFeature(name string) bool {
	return p.Features[name]
}

// TemplatePlans is the built-in plan catalogue, seeded into new
// deployments. IDs are stable so migrations and tests can reference them.
var TemplatePlans = []Plan{
	{
		ID:                "plan_starter",
		Name:              "Starter",
		MonthlyPriceCents: 2900,
		Features: map[string]bool{
			FeatureCRM: true,
		},
		Limits: Limits{MaxUsers: 3, MaxAPICallsPerMonth: 10000, MaxStorageMB: 512},
	},
	{
		ID:                "plan_professional",
		Name:              "Professional",
		MonthlyPriceCents: 9900,
		Features: map[string]bool{
			FeatureCRM:               true,
			FeatureAITools:           true,
			FeaturePipelineAnalytics: true,
			FeatureAPIAccess:         true,
		},
		Limits: Limits{MaxUsers: 25, MaxAPICallsPerMonth: 100000, MaxStorageMB: 10240},
	},
	{
		ID:                "plan_partner",
		Name:              "Partner",
		MonthlyPriceCents: 29900,
		Features: map[string]bool{
			FeatureCRM:               true,
			FeatureAITools:           true,
			FeaturePipelineAnalytics: true,
			FeatureAPIAccess:         true,
			FeatureWhiteLabel:        true,
			FeatureCustomDomain:      true,
		},
		Limits: Limits{}, // unlimited
	},
}

// TemplatePlan returns the built-in plan with the given id, or nil.
func TemplatePlan(id string) *Plan {
	for i := range TemplatePlans {
		if TemplatePlans[i].ID == id {
			cp := TemplatePlans[i]
			return &cp
		}
	}
	return nil
}
