// Package tenant provides multi-tenancy for the Closedesk platform.
//
// Every tenant is either a partner (a white-label reseller that provisions
// customer workspaces under itself) or a customer workspace. Requests are
// mapped to a tenant by the Resolver and gated by status, plan features,
// and permissions further down the middleware chain.
package tenant

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound         = errors.New("tenant: not found")
	ErrSubdomainTaken   = errors.New("tenant: subdomain already taken")
	ErrDomainTaken      = errors.New("tenant: custom domain already taken")
	ErrParentNotPartner = errors.New("tenant: parent must be a partner tenant")
	ErrBadTransition    = errors.New("tenant: invalid status transition")
)

// Status represents a tenant's lifecycle state.
type Status string

const (
	StatusActive          Status = "active"
	StatusSuspended       Status = "suspended"
	StatusTrial           Status = "trial"
	StatusPendingApproval Status = "pending_approval"
)

// Type distinguishes white-label partners from the customer workspaces
// they provision.
type Type string

const (
	TypePartner  Type = "partner"
	TypeCustomer Type = "customer"
)

// Branding holds display metadata for a tenant's white-label surface.
// Opaque to resolution and gating logic.
type Branding struct {
	CompanyName    string `json:"companyName,omitempty"`
	PrimaryColor   string `json:"primaryColor,omitempty"`
	SecondaryColor string `json:"secondaryColor,omitempty"`
	LogoURL        string `json:"logoUrl,omitempty"`
	SupportEmail   string `json:"supportEmail,omitempty"`
}

// Tenant represents an isolated organisation on the platform.
type Tenant struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Subdomain      string          `json:"subdomain,omitempty"`
	CustomDomain   string          `json:"customDomain,omitempty"`
	Type           Type            `json:"type"`
	ParentTenantID string          `json:"parentTenantId,omitempty"` // customers only
	Status         Status          `json:"status"`
	FeatureFlags   map[string]bool `json:"featureFlags,omitempty"` // narrowing overrides on the plan ceiling
	Branding       Branding        `json:"branding"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// IsActive reports whether the tenant may serve traffic.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}

// validTransitions encodes the allowed status changes. Tenants are never
// hard-deleted; archival is handled elsewhere.
var validTransitions = map[Status][]Status{
	StatusPendingApproval: {StatusActive},
	StatusTrial:           {StatusActive, StatusSuspended},
	StatusActive:          {StatusSuspended},
	StatusSuspended:       {StatusActive},
}

// CanTransition reports whether the tenant may move to the given status.
func (t *Tenant) CanTransition(to Status) bool {
	for _, s := range validTransitions[t.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a known tenant status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusSuspended, StatusTrial, StatusPendingApproval:
		return true
	}
	return false
}
