package webhooks

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/closedesk/closedesk/internal/idgen"
	"github.com/closedesk/closedesk/internal/security"
	"github.com/closedesk/closedesk/internal/tenant"
)

// Handler provides tenant-scoped webhook management endpoints.
type Handler struct {
	store        Store
	urlValidator func(string) error
}

// NewHandler creates a new webhook handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store, urlValidator: security.ValidateEndpointURL}
}

// RegisterRoutes mounts webhook management on a tenant-scoped group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateWebhook)
	r.GET("/webhooks", h.ListWebhooks)
	r.DELETE("/webhooks/:id", h.DeleteWebhook)
}

// CreateWebhook handles POST /webhooks.
func (h *Handler) CreateWebhook(c *gin.Context) {
	var req struct {
		URL    string   `json:"url" binding:"required"`
		Events []string `json:"events" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if err := h.urlValidator(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	events := make([]EventType, 0, len(req.Events))
	for _, e := range req.Events {
		et := EventType(e)
		if !IsKnownEventType(et) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_event_type",
				"message": "Unknown event type: " + e,
			})
			return
		}
		events = append(events, et)
	}

	secret := generateSecret()
	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		TenantID:  tenant.IDFromContext(c),
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": gin.H{
			"id":        sub.ID,
			"url":       sub.URL,
			"events":    sub.Events,
			"active":    sub.Active,
			"createdAt": sub.CreatedAt,
		},
		"secret": secret, // Only shown once!
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-Closedesk-Signature",
		},
	})
}

// ListWebhooks handles GET /webhooks.
func (h *Handler) ListWebhooks(c *gin.Context) {
	subs, err := h.store.ListByTenant(c.Request.Context(), tenant.IDFromContext(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}

	// Don't expose secrets
	hooks := make([]gin.H, len(subs))
	for i, sub := range subs {
		hooks[i] = gin.H{
			"id":          sub.ID,
			"url":         sub.URL,
			"events":      sub.Events,
			"active":      sub.Active,
			"createdAt":   sub.CreatedAt,
			"lastSuccess": sub.LastSuccess,
			"lastError":   sub.LastError,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"webhooks": hooks,
		"count":    len(hooks),
	})
}

// DeleteWebhook handles DELETE /webhooks/:id. The subscription must
// belong to the resolved tenant.
func (h *Handler) DeleteWebhook(c *gin.Context) {
	id := c.Param("id")

	sub, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, ErrSubscriptionNotFound) || (err == nil && sub.TenantID != tenant.IDFromContext(c)) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "webhook_not_found",
			"message": "Webhook not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "deleted",
		"message": "Webhook deleted",
	})
}

func generateSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
