package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/closedesk/closedesk/internal/idgen"
	"github.com/closedesk/closedesk/internal/logging"
	"github.com/closedesk/closedesk/internal/traces"
)

// Service answers permission questions and manages users and roles.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// HasPermission reports whether the user may perform the named action.
// The chain short-circuits in order: super-admin bypass, the user's own
// ad-hoc permissions, then the role's permissions. A user with no role
// and no matching ad-hoc grant is denied. Unknown users are denied
// without error; storage failures are returned to the caller.
func (s *Service) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	ctx, span := traces.StartSpan(ctx, "access.HasPermission",
		traces.UserID(userID), attribute.String("permission", permission))
	defer span.End()

	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("permission check: %w", err)
	}

	if u.IsAdmin {
		return true, nil
	}
	if contains(u.Permissions, permission) {
		return true, nil
	}
	if u.RoleID == "" {
		return false, nil
	}

	role, err := s.store.GetRole(ctx, u.RoleID)
	if errors.Is(err, ErrRoleNotFound) {
		// Dangling role reference. Deny rather than fail the request.
		logging.L(ctx).Warn("user references missing role",
			"user_id", u.ID, "role_id", u.RoleID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("permission check: %w", err)
	}
	return contains(role.Permissions, permission), nil
}

// CreateUser registers a user under a tenant.
func (s *Service) CreateUser(ctx context.Context, tenantID, email, name, roleID string, isAdmin bool) (*User, error) {
	if roleID != "" {
		if _, err := s.store.GetRole(ctx, roleID); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	u := &User{
		ID:        idgen.WithPrefix("usr_"),
		TenantID:  tenantID,
		Email:     email,
		Name:      name,
		IsAdmin:   isAdmin,
		RoleID:    roleID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateRole registers a role under a tenant.
func (s *Service) CreateRole(ctx context.Context, tenantID, name string, permissions []string) (*Role, error) {
	now := time.Now().UTC()
	r := &Role{
		ID:          idgen.WithPrefix("role_"),
		TenantID:    tenantID,
		Name:        name,
		Permissions: permissions,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateRole(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// GrantPermissions adds ad-hoc permissions to a user.
func (s *Service) GrantPermissions(ctx context.Context, userID string, permissions []string) (*User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range permissions {
		if !contains(u.Permissions, p) {
			u.Permissions = append(u.Permissions, p)
		}
	}
	u.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
