package tenant

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/closedesk/closedesk/internal/idgen"
	"github.com/closedesk/closedesk/internal/metrics"
	"github.com/closedesk/closedesk/internal/security"
	"github.com/closedesk/closedesk/internal/validation"
)

// Provisioner is the slice of the billing layer the provisioning handlers
// need. Declared here so tenant does not import billing; billing.Service
// satisfies it.
type Provisioner interface {
	ProvisionSubscription(ctx context.Context, tenantID, planID string) error
	MonthlyRevenueCents(ctx context.Context, tenantIDs []string) (int64, error)
}

// Default plans assigned at provisioning time when the request names none.
const (
	defaultPartnerPlan  = "plan_partner"
	defaultCustomerPlan = "plan_starter"
)

// Handler provides HTTP endpoints for tenant provisioning and management.
type Handler struct {
	store   Store
	billing Provisioner
}

// NewHandler creates a new tenant handler.
func NewHandler(store Store, billing Provisioner) *Handler {
	return &Handler{store: store, billing: billing}
}

// RegisterAdminRoutes sets up platform-admin tenant lifecycle routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/partners", h.OnboardPartner)
	r.POST("/tenants/:id/approve", h.ApproveTenant)
	r.POST("/tenants/:id/suspend", h.SuspendTenant)
	r.POST("/tenants/:id/activate", h.ActivateTenant)
	r.GET("/tenants/:id", h.GetTenant)
}

// RegisterPartnerRoutes sets up routes used by partners to run their
// white-label business. The caller's feature gate is applied by the
// server when these are mounted; every handler additionally scopes the
// target to the resolved tenant, so a partner can only act on its own
// workspace and its own customers.
func (h *Handler) RegisterPartnerRoutes(r *gin.RouterGroup) {
	r.POST("/partners/:id/customers", h.ProvisionCustomer)
	r.GET("/partners/:id/stats", h.PartnerStats)
	r.PATCH("/tenants/:id/branding", h.UpdateBranding)
	r.PATCH("/tenants/:id/features", h.UpdateFeatureFlags)
}

// OnboardPartner handles POST /admin/partners. New partners start in
// pending_approval and cannot serve traffic until approved.
func (h *Handler) OnboardPartner(c *gin.Context) {
	var req struct {
		Name         string `json:"name" binding:"required"`
		Subdomain    string `json:"subdomain" binding:"required"`
		CustomDomain string `json:"customDomain"`
		SupportEmail string `json:"supportEmail"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name and subdomain required"})
		return
	}

	req.Subdomain = validation.SanitizeSubdomain(req.Subdomain)
	if errs := validation.Validate(
		validation.ValidSubdomain("subdomain", req.Subdomain),
		validation.ValidEmail("supportEmail", req.SupportEmail),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "details": errs})
		return
	}
	if req.CustomDomain != "" && !validation.IsValidDomain(req.CustomDomain) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_domain", "message": "customDomain must be a bare domain name"})
		return
	}

	now := time.Now().UTC()
	t := &Tenant{
		ID:           idgen.WithPrefix("ten_"),
		Name:         validation.SanitizeString(req.Name, 200),
		Subdomain:    req.Subdomain,
		CustomDomain: req.CustomDomain,
		Type:         TypePartner,
		Status:       StatusPendingApproval,
		Branding: Branding{
			CompanyName:  validation.SanitizeString(req.Name, 200),
			SupportEmail: req.SupportEmail,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.Create(c.Request.Context(), t); err != nil {
		switch {
		case errors.Is(err, ErrSubdomainTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "subdomain_taken", "message": "subdomain already in use"})
		case errors.Is(err, ErrDomainTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "domain_taken", "message": "custom domain already in use"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create tenant"})
		}
		return
	}

	metrics.TenantsProvisioned.WithLabelValues(string(TypePartner)).Inc()
	c.JSON(http.StatusCreated, gin.H{"tenant": t})
}

// ApproveTenant handles POST /admin/tenants/:id/approve. Moves a pending
// partner to active and provisions its subscription.
func (h *Handler) ApproveTenant(c *gin.Context) {
	var req struct {
		PlanID string `json:"planId"`
	}
	_ = c.ShouldBindJSON(&req) // body optional

	t, ok := h.loadTenant(c)
	if !ok {
		return
	}
	if !t.CanTransition(StatusActive) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": "tenant cannot move from " + string(t.Status) + " to active",
		})
		return
	}

	t.Status = StatusActive
	t.UpdatedAt = time.Now().UTC()
	if err := h.store.Update(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update tenant"})
		return
	}

	planID := req.PlanID
	if planID == "" {
		planID = defaultPartnerPlan
		if t.Type == TypeCustomer {
			planID = defaultCustomerPlan
		}
	}
	if err := h.billing.ProvisionSubscription(c.Request.Context(), t.ID, planID); err != nil {
		c.JSON(http.StatusCreated, gin.H{
			"tenant":  t,
			"warning": "tenant approved but subscription provisioning failed; assign a plan manually",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// SuspendTenant handles POST /admin/tenants/:id/suspend.
func (h *Handler) SuspendTenant(c *gin.Context) {
	h.transition(c, StatusSuspended)
}

// ActivateTenant handles POST /admin/tenants/:id/activate. Reinstates a
// suspended tenant; approval of pending tenants goes through ApproveTenant
// so the subscription gets provisioned.
func (h *Handler) ActivateTenant(c *gin.Context) {
	t, ok := h.loadTenant(c)
	if !ok {
		return
	}
	if t.Status == StatusPendingApproval {
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": "pending tenants must be approved"})
		return
	}
	h.applyTransition(c, t, StatusActive)
}

func (h *Handler) transition(c *gin.Context, to Status) {
	t, ok := h.loadTenant(c)
	if !ok {
		return
	}
	h.applyTransition(c, t, to)
}

func (h *Handler) applyTransition(c *gin.Context, t *Tenant, to Status) {
	if !t.CanTransition(to) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": "tenant cannot move from " + string(t.Status) + " to " + string(to),
		})
		return
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	if err := h.store.Update(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update tenant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// GetTenant handles GET /admin/tenants/:id.
func (h *Handler) GetTenant(c *gin.Context) {
	t, ok := h.loadTenant(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// ProvisionCustomer handles POST /partners/:id/customers. Creates a
// customer workspace under a partner, active immediately, with a
// subscription on the requested (or default) plan.
func (h *Handler) ProvisionCustomer(c *gin.Context) {
	partnerID := c.Param("id")
	if partnerID != IDFromContext(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "partners can only provision customers under their own workspace"})
		return
	}

	parent, err := h.store.Get(c.Request.Context(), partnerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "partner not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load partner"})
		return
	}
	if parent.Type != TypePartner {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not_a_partner", "message": "customers can only be provisioned under partner tenants"})
		return
	}
	if !parent.IsActive() {
		c.JSON(http.StatusForbidden, gin.H{"error": "tenant_inactive", "message": "partner is " + string(parent.Status)})
		return
	}

	var req struct {
		Name      string          `json:"name" binding:"required"`
		Subdomain string          `json:"subdomain" binding:"required"`
		PlanID    string          `json:"planId"`
		Flags     map[string]bool `json:"featureFlags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name and subdomain required"})
		return
	}

	req.Subdomain = validation.SanitizeSubdomain(req.Subdomain)
	if !validation.IsValidSubdomain(req.Subdomain) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_subdomain",
			"message": "subdomain must be 3-63 lowercase alphanumeric/hyphens, start/end alphanumeric",
		})
		return
	}

	now := time.Now().UTC()
	t := &Tenant{
		ID:             idgen.WithPrefix("ten_"),
		Name:           validation.SanitizeString(req.Name, 200),
		Subdomain:      req.Subdomain,
		Type:           TypeCustomer,
		ParentTenantID: parent.ID,
		Status:         StatusActive,
		FeatureFlags:   req.Flags,
		Branding: Branding{
			// Customers inherit the partner's white-label branding.
			CompanyName:    parent.Branding.CompanyName,
			PrimaryColor:   parent.Branding.PrimaryColor,
			SecondaryColor: parent.Branding.SecondaryColor,
			LogoURL:        parent.Branding.LogoURL,
			SupportEmail:   parent.Branding.SupportEmail,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.Create(c.Request.Context(), t); err != nil {
		switch {
		case errors.Is(err, ErrSubdomainTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "subdomain_taken", "message": "subdomain already in use"})
		case errors.Is(err, ErrParentNotPartner):
			c.JSON(http.StatusBadRequest, gin.H{"error": "not_a_partner", "message": "parent must be a partner tenant"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create tenant"})
		}
		return
	}

	planID := req.PlanID
	if planID == "" {
		planID = defaultCustomerPlan
	}
	warning := ""
	if err := h.billing.ProvisionSubscription(c.Request.Context(), t.ID, planID); err != nil {
		warning = "workspace created but subscription provisioning failed; assign a plan manually"
	}

	metrics.TenantsProvisioned.WithLabelValues(string(TypeCustomer)).Inc()
	resp := gin.H{"tenant": t}
	if warning != "" {
		resp["warning"] = warning
	}
	c.JSON(http.StatusCreated, resp)
}

// PartnerStats handles GET /partners/:id/stats: customer counts,
// month-over-month growth, and monthly recurring revenue.
func (h *Handler) PartnerStats(c *gin.Context) {
	partnerID := c.Param("id")
	if partnerID != IDFromContext(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "stats are only available for your own workspace"})
		return
	}

	parent, err := h.store.Get(c.Request.Context(), partnerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "partner not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load partner"})
		return
	}
	if parent.Type != TypePartner {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not_a_partner", "message": "stats are only available for partner tenants"})
		return
	}

	children, err := h.store.ListChildren(c.Request.Context(), partnerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list customers"})
		return
	}

	active := 0
	ids := make([]string, 0, len(children))
	for _, child := range children {
		ids = append(ids, child.ID)
		if child.IsActive() {
			active++
		}
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	newThisMonth, err := h.store.CountChildrenSince(c.Request.Context(), partnerID, monthStart)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to count customers"})
		return
	}
	prevStart := monthStart.AddDate(0, -1, 0)
	sincePrev, err := h.store.CountChildrenSince(c.Request.Context(), partnerID, prevStart)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to count customers"})
		return
	}
	newLastMonth := sincePrev - newThisMonth

	growthPct := 0.0
	if newLastMonth > 0 {
		growthPct = float64(newThisMonth-newLastMonth) / float64(newLastMonth) * 100
	}

	revenue, err := h.billing.MonthlyRevenueCents(c.Request.Context(), ids)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to compute revenue"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"partnerId":           partnerID,
		"totalCustomers":      len(children),
		"activeCustomers":     active,
		"newThisMonth":        newThisMonth,
		"newLastMonth":        newLastMonth,
		"growthPct":           growthPct,
		"monthlyRevenueCents": revenue,
	})
}

// UpdateBranding handles PATCH /tenants/:id/branding. Colours must be hex,
// the logo URL must pass SSRF checks, the support email must parse.
func (h *Handler) UpdateBranding(c *gin.Context) {
	t, ok := h.loadOwnedTenant(c)
	if !ok {
		return
	}

	var req struct {
		CompanyName    *string `json:"companyName"`
		PrimaryColor   *string `json:"primaryColor"`
		SecondaryColor *string `json:"secondaryColor"`
		LogoURL        *string `json:"logoUrl"`
		SupportEmail   *string `json:"supportEmail"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}

	if req.CompanyName != nil {
		t.Branding.CompanyName = validation.SanitizeString(*req.CompanyName, 200)
	}
	if req.PrimaryColor != nil {
		if *req.PrimaryColor != "" && !validation.IsValidHexColor(*req.PrimaryColor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_color", "message": "primaryColor must be a hex colour"})
			return
		}
		t.Branding.PrimaryColor = *req.PrimaryColor
	}
	if req.SecondaryColor != nil {
		if *req.SecondaryColor != "" && !validation.IsValidHexColor(*req.SecondaryColor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_color", "message": "secondaryColor must be a hex colour"})
			return
		}
		t.Branding.SecondaryColor = *req.SecondaryColor
	}
	if req.LogoURL != nil {
		if *req.LogoURL != "" {
			if err := security.ValidateEndpointURL(*req.LogoURL); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_logo_url", "message": err.Error()})
				return
			}
		}
		t.Branding.LogoURL = *req.LogoURL
	}
	if req.SupportEmail != nil {
		if *req.SupportEmail != "" && !validation.IsValidEmail(*req.SupportEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email", "message": "supportEmail must be a valid email address"})
			return
		}
		t.Branding.SupportEmail = *req.SupportEmail
	}

	t.UpdatedAt = time.Now().UTC()
	if err := h.store.Update(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update tenant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// UpdateFeatureFlags handles PATCH /tenants/:id/features. Flags only
// narrow the plan: setting one true never grants a feature the plan lacks,
// so arbitrary keys are allowed here.
func (h *Handler) UpdateFeatureFlags(c *gin.Context) {
	t, ok := h.loadOwnedTenant(c)
	if !ok {
		return
	}

	var req struct {
		Flags map[string]bool `json:"featureFlags" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "featureFlags required"})
		return
	}

	if t.FeatureFlags == nil {
		t.FeatureFlags = make(map[string]bool, len(req.Flags))
	}
	for k, v := range req.Flags {
		t.FeatureFlags[k] = v
	}

	t.UpdatedAt = time.Now().UTC()
	if err := h.store.Update(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update tenant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

func (h *Handler) loadTenant(c *gin.Context) (*Tenant, bool) {
	t, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load tenant"})
		return nil, false
	}
	return t, true
}

// loadOwnedTenant loads the path tenant and verifies the caller may manage
// it: the target must be the resolved tenant itself or one of its
// customers. Foreign tenants get the same 404 as unknown ids so their
// existence is not leaked.
func (h *Handler) loadOwnedTenant(c *gin.Context) (*Tenant, bool) {
	t, ok := h.loadTenant(c)
	if !ok {
		return nil, false
	}
	callerID := IDFromContext(c)
	if callerID == "" || (t.ID != callerID && t.ParentTenantID != callerID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
		return nil, false
	}
	return t, true
}
