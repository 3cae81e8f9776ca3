package catalog

import (
	"context"
	"fmt"

	"github.com/aegis-grc/aegis/internal/shared"
)

// System role names. These are seeded at startup, cannot be deleted, and
// anchor the hierarchy used for approval-chain escalation.
const (
	RoleEmployee         = "employee"
	RoleDepartmentHead   = "department_head"
	RoleOrganizationHead = "organization_head"
	RoleEYAdmin          = "ey_admin"
)

// SystemRoles returns the built-in role set in ascending hierarchy order.
func SystemRoles() []RegisterRoleInput {
	return []RegisterRoleInput{
		{Name: RoleEmployee, HierarchyLevel: 10, IsSystemRole: true},
		{Name: RoleDepartmentHead, HierarchyLevel: 20, IsSystemRole: true},
		{Name: RoleOrganizationHead, HierarchyLevel: 30, IsSystemRole: true},
		{Name: RoleEYAdmin, HierarchyLevel: 40, IsSystemRole: true},
	}
}

// Permissions are granted explicitly per role; a higher role never inherits
// a lower role's permissions.
var systemGrants = map[string][]string{
	RoleEmployee: {
		shared.PermPolicyView,
		shared.PermFrameworkView,
		shared.PermOrganizationView,
	},
	RoleDepartmentHead: {
		shared.PermPolicyView,
		shared.PermPolicyEdit,
		shared.PermFrameworkView,
		shared.PermOrganizationView,
		shared.PermApprovalsView,
		shared.PermApprovalsDecide,
		shared.PermAssignmentsView,
	},
	RoleOrganizationHead: {
		shared.PermPolicyView,
		shared.PermPolicyEdit,
		shared.PermFrameworkView,
		shared.PermFrameworkEdit,
		shared.PermOrganizationView,
		shared.PermOrganizationEdit,
		shared.PermApprovalsView,
		shared.PermApprovalsDecide,
		shared.PermAssignmentsView,
		shared.PermRolesView,
		shared.PermAuditView,
	},
	RoleEYAdmin: {
		shared.PermPolicyView,
		shared.PermPolicyEdit,
		shared.PermFrameworkView,
		shared.PermFrameworkEdit,
		shared.PermOrganizationView,
		shared.PermOrganizationEdit,
		shared.PermApprovalsView,
		shared.PermApprovalsDecide,
		shared.PermAssignmentsView,
		shared.PermAssignmentsEdit,
		shared.PermRolesView,
		shared.PermRolesEdit,
		shared.PermPermissionsView,
		shared.PermPermissionsEdit,
		shared.PermAuditView,
	},
}

// Seed registers the system roles, the engine permission set, and the
// default grants. Every operation is idempotent, so Seed is safe to run on
// every startup.
func (s *Service) Seed(ctx context.Context, seededBy int64) error {
	for _, role := range SystemRoles() {
		if _, err := s.RegisterRole(ctx, role); err != nil {
			return fmt.Errorf("catalog: seed role %s: %w", role.Name, err)
		}
	}
	scopes := append(shared.CoreScopes(), shared.ContentScopes()...)
	for _, scope := range scopes {
		resource, action, ok := splitPermissionName(scope)
		if !ok {
			return fmt.Errorf("catalog: seed: malformed permission name %q", scope)
		}
		if _, err := s.RegisterPermission(ctx, resource, action, ""); err != nil {
			return fmt.Errorf("catalog: seed permission %s: %w", scope, err)
		}
	}
	for roleName, perms := range systemGrants {
		for _, perm := range perms {
			if err := s.GrantPermissionToRole(ctx, roleName, perm, seededBy); err != nil {
				return fmt.Errorf("catalog: seed grant %s -> %s: %w", perm, roleName, err)
			}
		}
	}
	return nil
}

func splitPermissionName(name string) (resource, action string, ok bool) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:], i > 0 && i < len(name)-1
		}
	}
	return "", "", false
}
