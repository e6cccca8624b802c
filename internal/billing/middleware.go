package billing

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/closedesk/closedesk/internal/logging"
	"github.com/closedesk/closedesk/internal/metrics"
	"github.com/closedesk/closedesk/internal/tenant"
)

// RequireFeature gates a route group on a plan feature. Responses:
// 400 when no tenant is attached, 403 when the gate denies, 500 when the
// check itself fails. On success the monthly usage counter is bumped before
// the handler runs.
func RequireFeature(svc *Service, feature string) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := tenant.FromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "tenant_required",
				"message": "No tenant could be resolved for this request.",
			})
			return
		}

		ctx := c.Request.Context()
		allowed, err := svc.HasFeatureAccess(ctx, t.ID, feature)
		if err != nil {
			logging.L(ctx).Error("feature gate check failed",
				"feature", feature,
				"error", err,
			)
			metrics.FeatureGateDecisions.WithLabelValues(feature, "error").Inc()
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Feature access check failed.",
			})
			return
		}
		if !allowed {
			metrics.FeatureGateDecisions.WithLabelValues(feature, "denied").Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "feature_disabled",
				"message": "Feature '" + feature + "' is not enabled for this tenant.",
			})
			return
		}
		metrics.FeatureGateDecisions.WithLabelValues(feature, "allowed").Inc()

		// Usage tracking is best-effort: a counter hiccup must not take the
		// route down with it.
		if _, err := svc.TrackFeatureUsage(ctx, t.ID, feature, time.Now()); err != nil {
			logging.L(ctx).Warn("feature usage tracking failed",
				"feature", feature,
				"error", err,
			)
		}

		c.Next()
	}
}
