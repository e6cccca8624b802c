// Package access provides users, roles, and the permission gate.
//
// Authentication itself happens upstream (an auth proxy attaches the user
// id); this package only answers "may this user do that" using an ordered
// short-circuit chain: super-admin bypass, then the user's own ad-hoc
// permissions, then the permissions of the user's role. Default-deny.
package access

import (
	"errors"
	"time"
)

// Errors
var (
	ErrUserNotFound = errors.New("access: user not found")
	ErrRoleNotFound = errors.New("access: role not found")
)

// Common permission identifiers. Gates accept arbitrary strings.
const (
	PermManageContacts = "manage_contacts"
	PermManageDeals    = "manage_deals"
	PermManageTasks    = "manage_tasks"
	PermManageUsers    = "manage_users"
	PermManageBilling  = "manage_billing"
	PermViewAnalytics  = "view_analytics"
)

// Role groups permissions within a tenant.
type Role struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// User is a platform user within a tenant. IsAdmin marks platform
// super-admins who bypass every permission check.
type User struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	IsAdmin     bool      `json:"isAdmin"`
	RoleID      string    `json:"roleId,omitempty"`
	Permissions []string  `json:"permissions,omitempty"` // ad-hoc grants on top of the role
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
