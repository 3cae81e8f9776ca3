package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-grc/aegis/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for the catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO role (name, display_name, hierarchy_level, is_system_role)
VALUES ($1, $2, $3, $4)
RETURNING id, name, display_name, hierarchy_level, is_system_role, created_at, updated_at`,
		role.Name, role.DisplayName, role.HierarchyLevel, role.IsSystemRole)
	created, err := scanRole(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, fmt.Errorf("catalog: role %q exists: %w", role.Name, httpx.ErrConflict)
		}
		return Role{}, err
	}
	return created, nil
}

// GetRoleByName fetches a role by its canonical name.
func (r *Repository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, display_name, hierarchy_level, is_system_role, created_at, updated_at
FROM role WHERE name = $1`, name)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("catalog: role %q: %w", name, httpx.ErrNotFound)
		}
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns all roles ordered by hierarchy level.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, display_name, hierarchy_level, is_system_role, created_at, updated_at
FROM role ORDER BY hierarchy_level, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// CreatePermission inserts a new permission.
func (r *Repository) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO permission (name, resource, action, description)
VALUES ($1, $2, $3, $4)
RETURNING id, name, resource, action, description`,
		perm.Name, perm.Resource, perm.Action, perm.Description)
	var created Permission
	if err := row.Scan(&created.ID, &created.Name, &created.Resource, &created.Action, &created.Description); err != nil {
		if isUniqueViolation(err) {
			return Permission{}, fmt.Errorf("catalog: permission %q exists: %w", perm.Name, httpx.ErrConflict)
		}
		return Permission{}, err
	}
	return created, nil
}

// GetPermissionByName fetches a permission by its "resource.action" name.
func (r *Repository) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, resource, action, description FROM permission WHERE name = $1`, name)
	var perm Permission
	if err := row.Scan(&perm.ID, &perm.Name, &perm.Resource, &perm.Action, &perm.Description); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, fmt.Errorf("catalog: permission %q: %w", name, httpx.ErrNotFound)
		}
		return Permission{}, err
	}
	return perm, nil
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, resource, action, description FROM permission ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Resource, &perm.Action, &perm.Description); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// GrantPermission attaches a permission to a role, idempotently.
func (r *Repository) GrantPermission(ctx context.Context, roleID, permissionID, grantedBy int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO role_permission (role_id, permission_id, granted_by, granted_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID, grantedBy)
	return err
}

// RolePermissions returns the permission set granted to a role.
func (r *Repository) RolePermissions(ctx context.Context, roleName string) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.name, p.resource, p.action, p.description
FROM permission p
JOIN role_permission rp ON rp.permission_id = p.id
JOIN role ro ON ro.id = rp.role_id
WHERE ro.name = $1
ORDER BY p.name`, roleName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Resource, &perm.Action, &perm.Description); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.HierarchyLevel, &role.IsSystemRole, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
