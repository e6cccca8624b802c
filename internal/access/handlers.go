package access

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/closedesk/closedesk/internal/logging"
	"github.com/closedesk/closedesk/internal/tenant"
	"github.com/closedesk/closedesk/internal/validation"
)

// Handler exposes user and role management endpoints. Routes are
// tenant-scoped: the server mounts them behind the tenant middleware and a
// manage_users permission gate.
type Handler struct {
	svc   *Service
	store Store
}

func NewHandler(svc *Service, store Store) *Handler {
	return &Handler{svc: svc, store: store}
}

// RegisterRoutes mounts the user/role management surface.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/users", h.CreateUser)
	r.GET("/users", h.ListUsers)
	r.POST("/users/:id/permissions", h.GrantPermissions)
	r.PATCH("/users/:id/role", h.AssignRole)

	r.POST("/roles", h.CreateRole)
	r.GET("/roles", h.ListRoles)
}

// CreateUser handles POST /users.
func (h *Handler) CreateUser(c *gin.Context) {
	var req struct {
		Email   string `json:"email" binding:"required"`
		Name    string `json:"name" binding:"required"`
		RoleID  string `json:"roleId"`
		IsAdmin bool   `json:"isAdmin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if !validation.IsValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_email",
			"message": "email must be a valid address",
		})
		return
	}

	tenantID := tenant.IDFromContext(c)
	u, err := h.svc.CreateUser(c.Request.Context(), tenantID, req.Email,
		validation.SanitizeString(req.Name, 200), req.RoleID, req.IsAdmin)
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "role_not_found",
				"message": "roleId does not reference an existing role",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create user.",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

// ListUsers handles GET /users.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context(), tenant.IDFromContext(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list users.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// GrantPermissions handles POST /users/:id/permissions.
func (h *Handler) GrantPermissions(c *gin.Context) {
	var req struct {
		Permissions []string `json:"permissions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	u, err := h.loadTenantUser(c)
	if err != nil {
		return
	}

	u, err = h.svc.GrantPermissions(c.Request.Context(), u.ID, req.Permissions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to grant permissions.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// AssignRole handles PATCH /users/:id/role.
func (h *Handler) AssignRole(c *gin.Context) {
	var req struct {
		RoleID string `json:"roleId"` // empty clears the role
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	u, err := h.loadTenantUser(c)
	if err != nil {
		return
	}

	if req.RoleID != "" {
		role, err := h.store.GetRole(c.Request.Context(), req.RoleID)
		if errors.Is(err, ErrRoleNotFound) || (err == nil && role.TenantID != u.TenantID) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "role_not_found",
				"message": "roleId does not reference a role of this tenant",
			})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to load role.",
			})
			return
		}
	}

	u.RoleID = req.RoleID
	if err := h.store.UpdateUser(c.Request.Context(), u); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to update user.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// CreateRole handles POST /roles.
func (h *Handler) CreateRole(c *gin.Context) {
	var req struct {
		Name        string   `json:"name" binding:"required"`
		Permissions []string `json:"permissions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	role, err := h.svc.CreateRole(c.Request.Context(), tenant.IDFromContext(c),
		validation.SanitizeString(req.Name, 100), req.Permissions)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to create role", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create role.",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"role": role})
}

// ListRoles handles GET /roles.
func (h *Handler) ListRoles(c *gin.Context) {
	roles, err := h.store.ListRoles(c.Request.Context(), tenant.IDFromContext(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list roles.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles, "count": len(roles)})
}

// loadTenantUser loads the :id user and verifies it belongs to the resolved
// tenant, writing the error response itself on failure.
func (h *Handler) loadTenantUser(c *gin.Context) (*User, error) {
	u, err := h.store.GetUser(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrUserNotFound) || (err == nil && u.TenantID != tenant.IDFromContext(c)) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "user_not_found",
			"message": "No user with that id.",
		})
		return nil, ErrUserNotFound
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load user.",
		})
		return nil, err
	}
	return u, nil
}
