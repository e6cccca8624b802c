package billing

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/closedesk/closedesk/internal/idgen"
	"github.com/closedesk/closedesk/internal/logging"
	"github.com/closedesk/closedesk/internal/tenant"
	"github.com/closedesk/closedesk/internal/validation"
)

// Handler exposes the plan catalogue and subscription endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the public billing surface.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)
}

// RegisterTenantRoutes mounts the tenant-scoped billing surface; the server
// applies RequireActiveTenant first.
func (h *Handler) RegisterTenantRoutes(r *gin.RouterGroup) {
	r.GET("/subscription", h.GetSubscription)
	r.GET("/usage", h.GetUsage)
}

// RegisterAdminRoutes mounts the platform-admin billing surface.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/plans", h.CreatePlan)
	r.POST("/tenants/:id/subscription", h.ProvisionSubscription)
}

// ListPlans handles GET /plans.
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.svc.Store().ListPlans(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list plans.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans, "count": len(plans)})
}

// GetSubscription handles GET /subscription for the resolved tenant.
func (h *Handler) GetSubscription(c *gin.Context) {
	tenantID := tenant.IDFromContext(c)
	sub, err := h.svc.Store().GetActiveSubscription(c.Request.Context(), tenantID)
	if errors.Is(err, ErrNoActiveSubscription) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "no_subscription",
			"message": "Tenant has no active subscription.",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load subscription.",
		})
		return
	}

	resp := gin.H{"subscription": sub}
	if plan, err := h.svc.Store().GetPlan(c.Request.Context(), sub.PlanID); err == nil {
		resp["plan"] = plan
	}
	c.JSON(http.StatusOK, resp)
}

// GetUsage handles GET /usage: the resolved tenant's per-feature counters for
// the current calendar month.
func (h *Handler) GetUsage(c *gin.Context) {
	tenantID := tenant.IDFromContext(c)
	start, end := PeriodBounds(time.Now().UTC())

	records, err := h.svc.Store().ListUsage(c.Request.Context(), tenantID, start)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load usage.",
		})
		return
	}

	usage := make(map[string]int64, len(records))
	for _, rec := range records {
		usage[rec.Feature] = rec.UsageCount
	}
	c.JSON(http.StatusOK, gin.H{
		"periodStart": start,
		"periodEnd":   end,
		"usage":       usage,
	})
}

// CreatePlan handles POST /plans (platform admin).
func (h *Handler) CreatePlan(c *gin.Context) {
	var req struct {
		Name              string          `json:"name" binding:"required"`
		MonthlyPriceCents int64           `json:"monthlyPriceCents"`
		Features          map[string]bool `json:"features"`
		Limits            Limits          `json:"limits"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.MonthlyPriceCents < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_price",
			"message": "monthlyPriceCents must not be negative",
		})
		return
	}

	now := time.Now().UTC()
	plan := &Plan{
		ID:                idgen.WithPrefix("plan_"),
		Name:              validation.SanitizeString(req.Name, 100),
		MonthlyPriceCents: req.MonthlyPriceCents,
		Features:          req.Features,
		Limits:            req.Limits,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if plan.Features == nil {
		plan.Features = map[string]bool{}
	}

	if err := h.svc.Store().CreatePlan(c.Request.Context(), plan); err != nil {
		logging.L(c.Request.Context()).Error("failed to create plan", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create plan.",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"plan": plan})
}

// ProvisionSubscription handles POST /tenants/:id/subscription (platform
// admin): puts the tenant on the named plan, replacing any current
// subscription.
func (h *Handler) ProvisionSubscription(c *gin.Context) {
	var req struct {
		PlanID string `json:"planId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	tenantID := c.Param("id")
	if err := h.svc.ProvisionSubscription(c.Request.Context(), tenantID, req.PlanID); err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "plan_not_found",
				"message": "No plan with that id.",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to provision subscription",
			"tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to provision subscription.",
		})
		return
	}

	sub, err := h.svc.Store().GetActiveSubscription(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusCreated, gin.H{"status": "provisioned"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"subscription": sub})
}
