package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/aegis-grc/aegis/internal/platform/httpx"
)

// RepositoryPort defines data access methods for the catalog.
type RepositoryPort interface {
	CreateRole(ctx context.Context, role Role) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	GrantPermission(ctx context.Context, roleID, permissionID, grantedBy int64) error
	RolePermissions(ctx context.Context, roleName string) ([]Permission, error)
}

// Service is the injectable permission catalog. One instance is constructed
// at startup and passed to every component that needs role or permission
// lookups; nothing reads role data from package-level state.
type Service struct {
	repo RepositoryPort
}

// NewService builds the catalog service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

var titleCaser = cases.Title(language.English)

// RegisterRoleInput describes a role registration.
type RegisterRoleInput struct {
	Name           string
	DisplayName    string
	HierarchyLevel int
	IsSystemRole   bool
}

// RegisterRole registers a role. Exact duplicates are idempotent no-ops;
// a name collision with different attributes fails with Conflict.
func (s *Service) RegisterRole(ctx context.Context, in RegisterRoleInput) (Role, error) {
	name := normalizeName(in.Name)
	if name == "" {
		return Role{}, fmt.Errorf("catalog: role name required: %w", httpx.ErrValidation)
	}
	if in.HierarchyLevel <= 0 {
		return Role{}, fmt.Errorf("catalog: role hierarchy level must be positive: %w", httpx.ErrValidation)
	}
	role := Role{
		Name:           name,
		DisplayName:    strings.TrimSpace(in.DisplayName),
		HierarchyLevel: in.HierarchyLevel,
		IsSystemRole:   in.IsSystemRole,
	}
	if role.DisplayName == "" {
		role.DisplayName = displayNameFor(name)
	}

	existing, err := s.repo.GetRoleByName(ctx, name)
	switch {
	case err == nil:
		if sameRole(existing, role) {
			return existing, nil
		}
		return Role{}, fmt.Errorf("catalog: role %q already registered with different attributes: %w", name, httpx.ErrConflict)
	case !errors.Is(err, httpx.ErrNotFound):
		return Role{}, err
	}

	created, err := s.repo.CreateRole(ctx, role)
	if err != nil {
		// A concurrent register may have won the insert; exact duplicates
		// stay idempotent, everything else is a real conflict.
		if errors.Is(err, httpx.ErrConflict) {
			if winner, getErr := s.repo.GetRoleByName(ctx, name); getErr == nil && sameRole(winner, role) {
				return winner, nil
			}
		}
		return Role{}, err
	}
	return created, nil
}

// RegisterPermission registers an exact (resource, action) capability.
func (s *Service) RegisterPermission(ctx context.Context, resource, action, description string) (Permission, error) {
	resource = normalizeName(resource)
	action = normalizeName(action)
	if resource == "" || action == "" {
		return Permission{}, fmt.Errorf("catalog: permission resource and action required: %w", httpx.ErrValidation)
	}
	perm := Permission{
		Name:        PermissionName(resource, action),
		Resource:    resource,
		Action:      action,
		Description: strings.TrimSpace(description),
	}

	existing, err := s.repo.GetPermissionByName(ctx, perm.Name)
	switch {
	case err == nil:
		if existing.Description == perm.Description || perm.Description == "" {
			return existing, nil
		}
		return Permission{}, fmt.Errorf("catalog: permission %q already registered with different attributes: %w", perm.Name, httpx.ErrConflict)
	case !errors.Is(err, httpx.ErrNotFound):
		return Permission{}, err
	}

	created, err := s.repo.CreatePermission(ctx, perm)
	if err != nil {
		if errors.Is(err, httpx.ErrConflict) {
			if winner, getErr := s.repo.GetPermissionByName(ctx, perm.Name); getErr == nil {
				return winner, nil
			}
		}
		return Permission{}, err
	}
	return created, nil
}

// GrantPermissionToRole grants a permission to a role. Duplicate grants are
// idempotent; unknown role or permission names fail with NotFound.
func (s *Service) GrantPermissionToRole(ctx context.Context, roleName, permissionName string, grantedBy int64) error {
	role, err := s.repo.GetRoleByName(ctx, normalizeName(roleName))
	if err != nil {
		return err
	}
	perm, err := s.repo.GetPermissionByName(ctx, strings.ToLower(strings.TrimSpace(permissionName)))
	if err != nil {
		return err
	}
	return s.repo.GrantPermission(ctx, role.ID, perm.ID, grantedBy)
}

// GetRole fetches a role by canonical name.
func (s *Service) GetRole(ctx context.Context, name string) (Role, error) {
	return s.repo.GetRoleByName(ctx, normalizeName(name))
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// ListPermissions returns all permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// HierarchyRank exposes the total order over roles.
func (s *Service) HierarchyRank(ctx context.Context, roleName string) (int, error) {
	role, err := s.repo.GetRoleByName(ctx, normalizeName(roleName))
	if err != nil {
		return 0, err
	}
	return role.HierarchyLevel, nil
}

// CanEscalateTo reports whether roleA strictly outranks roleB. This is the
// sole definition of "who outranks whom" in the engine.
func (s *Service) CanEscalateTo(ctx context.Context, roleA, roleB string) (bool, error) {
	rankA, err := s.HierarchyRank(ctx, roleA)
	if err != nil {
		return false, err
	}
	rankB, err := s.HierarchyRank(ctx, roleB)
	if err != nil {
		return false, err
	}
	return rankA > rankB, nil
}

// RolePermissions returns the effective permission set of a role.
func (s *Service) RolePermissions(ctx context.Context, roleName string) ([]Permission, error) {
	return s.repo.RolePermissions(ctx, normalizeName(roleName))
}

// RolePermissionNames returns the permission names granted to a role.
func (s *Service) RolePermissionNames(ctx context.Context, roleName string) ([]string, error) {
	perms, err := s.RolePermissions(ctx, roleName)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// displayNameFor projects "organization_head" to "Organization Head".
// Display strings are a projection only, never a comparison key.
func displayNameFor(name string) string {
	return titleCaser.String(strings.ReplaceAll(name, "_", " "))
}

func sameRole(a, b Role) bool {
	return a.Name == b.Name &&
		a.DisplayName == b.DisplayName &&
		a.HierarchyLevel == b.HierarchyLevel &&
		a.IsSystemRole == b.IsSystemRole
}
