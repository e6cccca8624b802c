package tenant

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/closedesk/closedesk/internal/logging"
)

// Context keys used by the resolution middleware. Downstream handlers read
// these via FromContext/TenantID rather than touching the keys directly.
const (
	ContextKeyTenant   = "tenant"
	ContextKeyTenantID = "tenantId"
	ContextKeyFeatures = "tenantFeatures"
)

// Middleware resolves the request's tenant and attaches it to the gin
// context. Resolution never rejects a request: absence of a tenant is only
// an error for routes that explicitly require one (see RequireActiveTenant).
func Middleware(resolver *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, strategyName := resolver.Resolve(c.Request.Context(), c.Request)
		if t != nil {
			c.Set(ContextKeyTenant, t)
			c.Set(ContextKeyTenantID, t.ID)
			c.Set(ContextKeyFeatures, t.FeatureFlags)

			ctx := logging.WithTenantID(c.Request.Context(), t.ID)
			c.Request = c.Request.WithContext(ctx)

			logging.L(ctx).Debug("tenant resolved",
				"strategy", strategyName,
				"tenant_status", string(t.Status),
			)
		}
		c.Next()
	}
}

// RequireActiveTenant rejects requests with no resolved tenant (400) or a
// tenant that is not active (403). Tenant-scoped route groups apply this
// before any feature or permission gate.
func RequireActiveTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := FromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "tenant_required",
				"message": "No tenant could be resolved for this request.",
			})
			return
		}
		if !t.IsActive() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "tenant_inactive",
				"message": fmt.Sprintf("Tenant is %s.", t.Status),
			})
			return
		}
		c.Next()
	}
}

// FromContext returns the resolved tenant, if any.
func FromContext(c *gin.Context) (*Tenant, bool) {
	v, exists := c.Get(ContextKeyTenant)
	if !exists {
		return nil, false
	}
	t, ok := v.(*Tenant)
	return t, ok
}

// IDFromContext returns the resolved tenant's id, or "".
func IDFromContext(c *gin.Context) string {
	id, _ := c.Get(ContextKeyTenantID)
	s, _ := id.(string)
	return s
}
