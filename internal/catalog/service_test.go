package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-grc/aegis/internal/platform/httpx"
)

type memRepo struct {
	roles  map[string]Role
	perms  map[string]Permission
	grants map[int64]map[int64]struct{}
	nextID int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		roles:  make(map[string]Role),
		perms:  make(map[string]Permission),
		grants: make(map[int64]map[int64]struct{}),
	}
}

func (m *memRepo) CreateRole(ctx context.Context, role Role) (Role, error) {
	if _, ok := m.roles[role.Name]; ok {
		return Role{}, fmt.Errorf("duplicate role: %w", httpx.ErrConflict)
	}
	m.nextID++
	role.ID = m.nextID
	m.roles[role.Name] = role
	return role, nil
}

func (m *memRepo) GetRoleByName(ctx context.Context, name string) (Role, error) {
	role, ok := m.roles[name]
	if !ok {
		return Role{}, fmt.Errorf("role %s: %w", name, httpx.ErrNotFound)
	}
	return role, nil
}

func (m *memRepo) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRepo) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	if _, ok := m.perms[perm.Name]; ok {
		return Permission{}, fmt.Errorf("duplicate permission: %w", httpx.ErrConflict)
	}
	m.nextID++
	perm.ID = m.nextID
	m.perms[perm.Name] = perm
	return perm, nil
}

func (m *memRepo) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	perm, ok := m.perms[name]
	if !ok {
		return Permission{}, fmt.Errorf("permission %s: %w", name, httpx.ErrNotFound)
	}
	return perm, nil
}

func (m *memRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	return out, nil
}

func (m *memRepo) GrantPermission(ctx context.Context, roleID, permissionID, grantedBy int64) error {
	if m.grants[roleID] == nil {
		m.grants[roleID] = make(map[int64]struct{})
	}
	m.grants[roleID][permissionID] = struct{}{}
	return nil
}

func (m *memRepo) RolePermissions(ctx context.Context, roleName string) ([]Permission, error) {
	role, ok := m.roles[roleName]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", roleName, httpx.ErrNotFound)
	}
	var out []Permission
	for _, p := range m.perms {
		if _, ok := m.grants[role.ID][p.ID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestRegisterRoleNormalizesAndDefaults(t *testing.T) {
	svc := NewService(newMemRepo())

	role, err := svc.RegisterRole(context.Background(), RegisterRoleInput{
		Name:           "  Organization_Head ",
		HierarchyLevel: 30,
	})
	require.NoError(t, err)
	require.Equal(t, "organization_head", role.Name)
	require.Equal(t, "Organization Head", role.DisplayName)
	require.Equal(t, 30, role.HierarchyLevel)
}

func TestRegisterRoleDuplicateSemantics(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()

	first, err := svc.RegisterRole(ctx, RegisterRoleInput{Name: "auditor", HierarchyLevel: 15})
	require.NoError(t, err)

	// Exact duplicate is an idempotent no-op.
	again, err := svc.RegisterRole(ctx, RegisterRoleInput{Name: "auditor", HierarchyLevel: 15})
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	// Same name, different attributes.
	_, err = svc.RegisterRole(ctx, RegisterRoleInput{Name: "auditor", HierarchyLevel: 25})
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestRegisterRoleValidation(t *testing.T) {
	svc := NewService(newMemRepo())

	_, err := svc.RegisterRole(context.Background(), RegisterRoleInput{Name: " ", HierarchyLevel: 10})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.RegisterRole(context.Background(), RegisterRoleInput{Name: "x", HierarchyLevel: 0})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestRegisterPermissionIdempotent(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()

	perm, err := svc.RegisterPermission(ctx, "Policy", "Edit", "edit policies")
	require.NoError(t, err)
	require.Equal(t, "policy.edit", perm.Name)
	require.Equal(t, "policy", perm.Resource)
	require.Equal(t, "edit", perm.Action)

	again, err := svc.RegisterPermission(ctx, "policy", "edit", "edit policies")
	require.NoError(t, err)
	require.Equal(t, perm.ID, again.ID)

	_, err = svc.RegisterPermission(ctx, "policy", "edit", "something else entirely")
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestGrantPermissionToRole(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()

	_, err := svc.RegisterRole(ctx, RegisterRoleInput{Name: "employee", HierarchyLevel: 10})
	require.NoError(t, err)
	_, err = svc.RegisterPermission(ctx, "policy", "view", "")
	require.NoError(t, err)

	require.NoError(t, svc.GrantPermissionToRole(ctx, "employee", "policy.view", 1))
	// Duplicate grant stays silent.
	require.NoError(t, svc.GrantPermissionToRole(ctx, "employee", "policy.view", 1))

	names, err := svc.RolePermissionNames(ctx, "employee")
	require.NoError(t, err)
	require.Equal(t, []string{"policy.view"}, names)

	err = svc.GrantPermissionToRole(ctx, "employee", "policy.nothere", 1)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	err = svc.GrantPermissionToRole(ctx, "ghost", "policy.view", 1)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestHierarchyOrdering(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()
	require.NoError(t, svc.Seed(ctx, 0))

	rank, err := svc.HierarchyRank(ctx, RoleDepartmentHead)
	require.NoError(t, err)
	require.Equal(t, 20, rank)

	outranks, err := svc.CanEscalateTo(ctx, RoleOrganizationHead, RoleDepartmentHead)
	require.NoError(t, err)
	require.True(t, outranks)

	// Strict: a role does not outrank itself.
	outranks, err = svc.CanEscalateTo(ctx, RoleDepartmentHead, RoleDepartmentHead)
	require.NoError(t, err)
	require.False(t, outranks)

	outranks, err = svc.CanEscalateTo(ctx, RoleEmployee, RoleEYAdmin)
	require.NoError(t, err)
	require.False(t, outranks)
}

func TestSeedIsIdempotent(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()

	require.NoError(t, svc.Seed(ctx, 0))
	require.NoError(t, svc.Seed(ctx, 0))

	roles, err := svc.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 4)

	// Grants are explicit per role, not inherited down the hierarchy.
	employee, err := svc.RolePermissionNames(ctx, RoleEmployee)
	require.NoError(t, err)
	require.NotContains(t, employee, "roles.edit")

	admin, err := svc.RolePermissionNames(ctx, RoleEYAdmin)
	require.NoError(t, err)
	require.Contains(t, admin, "roles.edit")
}
