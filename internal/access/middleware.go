package access

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/closedesk/closedesk/internal/logging"
	"github.com/closedesk/closedesk/internal/metrics"
)

// UserIDHeader carries the authenticated user id, attached by the auth
// proxy in front of this service.
const UserIDHeader = "X-User-ID"

// ContextKeyUserID is the gin context key holding the caller's user id.
const ContextKeyUserID = "userId"

// Identify reads the authenticated user id off the request and stores it
// in the gin context. It never rejects; permission gates downstream do.
func Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(UserIDHeader); id != "" {
			c.Set(ContextKeyUserID, id)
		}
		c.Next()
	}
}

// UserIDFromContext returns the caller's user id, if identified.
func UserIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// RequirePermission gates a route on a permission. Unidentified callers
// get 401, storage failures 500, denials 403.
func RequirePermission(svc *Service, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserIDFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication_required",
			})
			return
		}

		allowed, err := svc.HasPermission(c.Request.Context(), userID, permission)
		if err != nil {
			logging.L(c.Request.Context()).Error("permission check failed",
				"user_id", userID, "permission", permission, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "internal_error",
			})
			return
		}
		if !allowed {
			metrics.PermissionDenials.WithLabelValues(permission).Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "permission_denied",
				"message": "You do not have the '" + permission + "' permission.",
			})
			return
		}
		c.Next()
	}
}
